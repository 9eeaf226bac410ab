package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// DIMSE Status codes
const (
	StatusSuccess           = 0x0000
	StatusCancel            = 0xFE00
	StatusPending           = 0xFF00
	StatusMissingAttributes = 0xA900
	StatusFailure           = 0xC000
	StatusProcessingFailure = 0xC001
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	TransferSyntaxUID         string // Negotiated transfer syntax for associated dataset
}

// HasDataset reports whether the command announces an accompanying dataset.
// 0x0101 is the null dataset marker.
func (m *Message) HasDataset() bool {
	return m.CommandDataSetType != 0x0101
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CFindRQ:
		return CFindRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}

package types

// Upper Layer PDU types (PS3.8 table 9-11).
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// PDUTypeName returns the protocol name for a PDU type byte, for logs.
func PDUTypeName(t byte) string {
	switch t {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	default:
		return "UNKNOWN"
	}
}

// PDU is one framed Protocol Data Unit as read off the wire. Data
// excludes the 6-byte header.
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// AssociationContext carries the negotiated state of one association:
// the AE titles exchanged during setup, the peer's receive limit and
// the presentation contexts by ID.
type AssociationContext struct {
	CalledAETitle    string
	CallingAETitle   string
	MaxPDULength     uint32
	PresentationCtxs map[byte]*PresentationContext
}

// PresentationContext is one negotiated presentation context. Result 0
// means acceptance; TransferSyntax is only meaningful when accepted.
type PresentationContext struct {
	ID             byte
	Result         byte
	AbstractSyntax string
	TransferSyntax string
}

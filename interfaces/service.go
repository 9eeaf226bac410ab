// Package interfaces contains the contracts that tie the PDU, DIMSE and
// service layers together without import cycles.
package interfaces

import (
	"context"

	"github.com/clinimage/imagingd/dicom"
	"github.com/clinimage/imagingd/types"
)

// MessageContext carries per-association details into service handlers.
type MessageContext struct {
	PresentationContextID byte
	TransferSyntaxUID     string
	CallingAETitle        string
	CalledAETitle         string
	RemoteAddr            string
}

// ServiceHandler handles a single-response DIMSE operation such as
// C-STORE or C-ECHO. The returned dataset, if any, is encoded with the
// negotiated transfer syntax before it is sent.
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, *dicom.Dataset, error)
}

// StreamingServiceHandler handles multi-response DIMSE operations such
// as C-FIND, sending each response through the responder.
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta MessageContext, responder ResponseSender) error
}

// ResponseSender sends intermediate and final responses for streaming
// operations.
type ResponseSender interface {
	SendResponse(msg *types.Message, dataset *dicom.Dataset) error
}

// HandlerResolver selects the service handler for a SOP class. The
// selection happens per message, against the handler set the listener
// registered before negotiation.
type HandlerResolver interface {
	ResolveHandler(sopClassUID string) (ServiceHandler, bool)
}

// DIMSEHandler is how the PDU layer hands PDV fragments up to the DIMSE
// layer.
type DIMSEHandler interface {
	HandleDIMSEMessage(ctx context.Context, presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error
}

// PDULayer is how the DIMSE layer sends responses and inspects the
// negotiated association.
type PDULayer interface {
	SendDIMSEResponse(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, dataset []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
	Association() *types.AssociationContext
	RemoteAddr() string
}

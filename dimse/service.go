// Package dimse assembles PDV fragments into DIMSE messages and routes
// them to the service handler registered for the affected SOP class.
package dimse

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/dicom"
	"github.com/clinimage/imagingd/interfaces"
	"github.com/clinimage/imagingd/types"
)

// Service manages DIMSE message assembly and routing for one
// association.
type Service struct {
	resolver    interfaces.HandlerResolver
	commandData []byte
	datasetData []byte
	currentMsg  *types.Message
	logger      zerolog.Logger
}

// NewService creates a DIMSE service backed by a handler resolver.
func NewService(resolver interfaces.HandlerResolver, logger zerolog.Logger) *Service {
	return &Service{
		resolver: resolver,
		logger:   logger,
	}
}

// responseSender sends streaming responses through the PDU layer using
// the transfer syntax negotiated for the presentation context.
type responseSender struct {
	service       *Service
	presContextID byte
	pduLayer      interfaces.PDULayer
}

func (r *responseSender) SendResponse(msg *types.Message, dataset *dicom.Dataset) error {
	return r.service.sendResponse(msg, dataset, r.presContextID, r.pduLayer)
}

// HandleDIMSEMessage accumulates PDV fragments and dispatches the
// message once both command and dataset are complete.
func (d *Service) HandleDIMSEMessage(ctx context.Context, presContextID byte, msgCtrlHeader byte, data []byte, pduLayer interfaces.PDULayer) error {
	isCommand := (msgCtrlHeader & 0x01) != 0
	isLastFragment := (msgCtrlHeader & 0x02) != 0

	d.logger.Debug().
		Uint8("context_id", presContextID).
		Str("control_header", fmt.Sprintf("0x%02x", msgCtrlHeader)).
		Int("fragment_bytes", len(data)).
		Msg("received DIMSE fragment")

	if isCommand {
		d.commandData = append(d.commandData, data...)
		if !isLastFragment {
			return nil
		}

		msg, err := DecodeCommand(d.commandData)
		if err != nil {
			return fmt.Errorf("failed to decode DIMSE command: %w", err)
		}
		d.currentMsg = msg

		if !msg.HasDataset() {
			return d.processCompleteMessage(ctx, presContextID, pduLayer)
		}
		return nil
	}

	d.datasetData = append(d.datasetData, data...)
	if isLastFragment {
		return d.processCompleteMessage(ctx, presContextID, pduLayer)
	}
	return nil
}

// processCompleteMessage routes a fully assembled message to its
// handler and sends back whatever the handler produced.
func (d *Service) processCompleteMessage(ctx context.Context, presContextID byte, pduLayer interfaces.PDULayer) error {
	msg := d.currentMsg
	datasetData := d.datasetData
	d.reset()

	if msg == nil {
		return fmt.Errorf("no command received before dataset")
	}

	d.logger.Info().
		Str("command_field", fmt.Sprintf("0x%04x", msg.CommandField)).
		Uint16("message_id", msg.MessageID).
		Str("sop_class_uid", msg.AffectedSOPClassUID).
		Int("dataset_bytes", len(datasetData)).
		Msg("processing DIMSE message")

	if msg.CommandField == types.CCancelRQ {
		// The in-flight operation already completed or is checking its
		// context. Nothing to answer.
		d.logger.Info().
			Uint16("message_id", msg.MessageIDBeingRespondedTo).
			Msg("received C-CANCEL")
		return nil
	}

	handler, ok := d.resolver.ResolveHandler(msg.AffectedSOPClassUID)
	if !ok {
		d.logger.Warn().
			Str("sop_class_uid", msg.AffectedSOPClassUID).
			Msg("no handler registered for SOP class")
		return d.sendResponse(&types.Message{
			CommandField:              types.ResponseCommandFor(msg.CommandField),
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			CommandDataSetType:        0x0101,
			Status:                    types.StatusProcessingFailure,
		}, nil, presContextID, pduLayer)
	}

	meta := d.messageContext(presContextID, pduLayer)

	if streamingHandler, ok := handler.(interfaces.StreamingServiceHandler); ok {
		responder := &responseSender{
			service:       d,
			presContextID: presContextID,
			pduLayer:      pduLayer,
		}
		return streamingHandler.HandleDIMSEStreaming(ctx, msg, datasetData, meta, responder)
	}

	responseMsg, responseDataset, err := handler.HandleDIMSE(ctx, msg, datasetData, meta)
	if err != nil {
		return fmt.Errorf("service handler failed: %w", err)
	}

	return d.sendResponse(responseMsg, responseDataset, presContextID, pduLayer)
}

func (d *Service) messageContext(presContextID byte, pduLayer interfaces.PDULayer) interfaces.MessageContext {
	meta := interfaces.MessageContext{
		PresentationContextID: presContextID,
		RemoteAddr:            pduLayer.RemoteAddr(),
	}
	if ts, err := pduLayer.GetTransferSyntax(presContextID); err == nil {
		meta.TransferSyntaxUID = ts
	}
	if assoc := pduLayer.Association(); assoc != nil {
		meta.CallingAETitle = assoc.CallingAETitle
		meta.CalledAETitle = assoc.CalledAETitle
	}
	return meta
}

func (d *Service) sendResponse(msg *types.Message, dataset *dicom.Dataset, presContextID byte, pduLayer interfaces.PDULayer) error {
	commandData, err := EncodeCommand(msg)
	if err != nil {
		return fmt.Errorf("failed to encode response command: %w", err)
	}

	if dataset == nil {
		return pduLayer.SendDIMSEResponse(presContextID, commandData)
	}

	transferSyntax, err := pduLayer.GetTransferSyntax(presContextID)
	if err != nil {
		return err
	}
	datasetData, err := dicom.EncodeDatasetWithTransferSyntax(dataset, transferSyntax)
	if err != nil {
		return fmt.Errorf("failed to encode response dataset: %w", err)
	}

	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, datasetData)
}

func (d *Service) reset() {
	d.commandData = nil
	d.datasetData = nil
	d.currentMsg = nil
}

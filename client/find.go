package client

import (
	"fmt"

	"github.com/clinimage/imagingd/dicom"
	"github.com/clinimage/imagingd/dimse"
	"github.com/clinimage/imagingd/types"
)

// CFindRequest encapsulates the information required to perform a C-FIND query.
type CFindRequest struct {
	SOPClassUID string
	MessageID   uint16
	Priority    uint16
	Dataset     *dicom.Dataset
}

// CFindResponse represents a single C-FIND response from the SCP.
type CFindResponse struct {
	Status    uint16
	MessageID uint16
	Dataset   *dicom.Dataset
}

// SendCFind performs a DICOM C-FIND query and returns all responses in
// order. The default information model is the modality worklist.
func (a *Association) SendCFind(req *CFindRequest) ([]*CFindResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-find request cannot be nil")
	}

	if req.Dataset == nil {
		return nil, fmt.Errorf("c-find request requires a dataset")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.ModalityWorklistInformationModelFind
	}

	messageID := req.MessageID
	if messageID == 0 {
		messageID = 1
	}

	presContextID, err := a.GetPresentationContextID(sopClass)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           messageID,
		CommandDataSetType:  0x0000, // Dataset present
		Priority:            req.Priority,
		AffectedSOPClassUID: sopClass,
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-FIND command: %w", err)
	}

	transferSyntax, err := a.GetTransferSyntax(presContextID)
	if err != nil {
		return nil, err
	}
	datasetData, err := dicom.EncodeDatasetWithTransferSyntax(req.Dataset, transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-FIND identifier: %w", err)
	}

	if err := dimse.SendDIMSEMessage(a.conn, presContextID, a.maxPDULength, commandData, datasetData); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
	}

	var responses []*CFindResponse

	for {
		msg, data, err := dimse.ReceiveDIMSEMessage(a.conn)
		if err != nil {
			return nil, err
		}

		if msg.CommandField != types.CFindRSP {
			return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-FIND-RSP)", msg.CommandField)
		}

		var dataset *dicom.Dataset
		if len(data) > 0 {
			dataset, err = dicom.ParseDatasetWithTransferSyntax(data, transferSyntax)
			if err != nil {
				a.logger.Warn().
					Err(err).
					Uint16("message_id", msg.MessageIDBeingRespondedTo).
					Str("status", fmt.Sprintf("0x%04X", msg.Status)).
					Msg("failed to parse C-FIND response dataset")
			}
		}

		responses = append(responses, &CFindResponse{
			Status:    msg.Status,
			MessageID: msg.MessageIDBeingRespondedTo,
			Dataset:   dataset,
		})

		if msg.Status != types.StatusPending {
			break
		}
	}

	return responses, nil
}

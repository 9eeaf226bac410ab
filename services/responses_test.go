package services

import (
	"testing"

	"github.com/clinimage/imagingd/types"
)

func TestResponseBuilder_CEchoResponse(t *testing.T) {
	request := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           7,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}

	response := NewResponseBuilder(request).CEchoResponse(types.StatusSuccess)

	if response.CommandField != types.CEchoRSP {
		t.Errorf("CommandField = 0x%04X, want 0x%04X", response.CommandField, types.CEchoRSP)
	}
	if response.MessageIDBeingRespondedTo != 7 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 7", response.MessageIDBeingRespondedTo)
	}
	if response.AffectedSOPClassUID != types.VerificationSOPClass {
		t.Errorf("AffectedSOPClassUID = %s", response.AffectedSOPClassUID)
	}
	if response.HasDataset() {
		t.Error("C-ECHO-RSP should not carry a dataset")
	}
}

func TestResponseBuilder_CFindResponse(t *testing.T) {
	request := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           3,
		AffectedSOPClassUID: types.ModalityWorklistInformationModelFind,
	}

	tests := []struct {
		name       string
		status     uint16
		hasDataset bool
	}{
		{"pending with dataset", types.StatusPending, true},
		{"final success", types.StatusSuccess, false},
		{"cancelled", types.StatusCancel, false},
		{"failure", types.StatusFailure, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := NewResponseBuilder(request).CFindResponse(tt.status, tt.hasDataset)

			if response.CommandField != types.CFindRSP {
				t.Errorf("CommandField = 0x%04X, want 0x%04X", response.CommandField, types.CFindRSP)
			}
			if response.MessageIDBeingRespondedTo != 3 {
				t.Errorf("MessageIDBeingRespondedTo = %d, want 3", response.MessageIDBeingRespondedTo)
			}
			if response.AffectedSOPClassUID != types.ModalityWorklistInformationModelFind {
				t.Errorf("AffectedSOPClassUID = %s", response.AffectedSOPClassUID)
			}
			if response.Status != tt.status {
				t.Errorf("Status = 0x%04X, want 0x%04X", response.Status, tt.status)
			}
			if response.HasDataset() != tt.hasDataset {
				t.Errorf("HasDataset() = %v, want %v", response.HasDataset(), tt.hasDataset)
			}
		})
	}
}

func TestResponseBuilder_CStoreResponse(t *testing.T) {
	request := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              11,
		AffectedSOPClassUID:    types.UltrasoundImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4.5",
	}

	t.Run("uses request SOP instance when empty", func(t *testing.T) {
		response := NewResponseBuilder(request).CStoreResponse(types.StatusSuccess, "")

		if response.CommandField != types.CStoreRSP {
			t.Errorf("CommandField = 0x%04X, want 0x%04X", response.CommandField, types.CStoreRSP)
		}
		if response.AffectedSOPInstanceUID != "1.2.3.4.5" {
			t.Errorf("AffectedSOPInstanceUID = %s, want 1.2.3.4.5", response.AffectedSOPInstanceUID)
		}
		if response.HasDataset() {
			t.Error("C-STORE-RSP should not carry a dataset")
		}
	})

	t.Run("explicit SOP instance wins", func(t *testing.T) {
		response := NewResponseBuilder(request).CStoreResponse(types.StatusProcessingFailure, "9.8.7")

		if response.AffectedSOPInstanceUID != "9.8.7" {
			t.Errorf("AffectedSOPInstanceUID = %s, want 9.8.7", response.AffectedSOPInstanceUID)
		}
		if response.Status != types.StatusProcessingFailure {
			t.Errorf("Status = 0x%04X", response.Status)
		}
	})
}

func TestResponseHelpers(t *testing.T) {
	request := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           5,
		AffectedSOPClassUID: types.ModalityWorklistInformationModelFind,
	}

	if rsp := NewCFindPendingResponse(request); rsp.Status != types.StatusPending || !rsp.HasDataset() {
		t.Error("pending response should be pending with dataset")
	}
	if rsp := NewCFindSuccessResponse(request); rsp.Status != types.StatusSuccess || rsp.HasDataset() {
		t.Error("success response should be final without dataset")
	}
	if rsp := NewCFindCancelResponse(request); rsp.Status != types.StatusCancel || rsp.HasDataset() {
		t.Error("cancel response should acknowledge without dataset")
	}
	if rsp := NewCFindErrorResponse(request, types.StatusMissingAttributes); rsp.Status != types.StatusMissingAttributes {
		t.Error("error response should carry the given status")
	}

	echo := &types.Message{CommandField: types.CEchoRQ, MessageID: 1}
	if rsp := NewCEchoResponse(echo, types.StatusSuccess); rsp.CommandField != types.CEchoRSP {
		t.Error("NewCEchoResponse should build a C-ECHO-RSP")
	}

	store := &types.Message{CommandField: types.CStoreRQ, MessageID: 2, AffectedSOPInstanceUID: "1.2.3"}
	if rsp := NewCStoreResponse(store, types.StatusSuccess); rsp.AffectedSOPInstanceUID != "1.2.3" {
		t.Error("NewCStoreResponse should echo the SOP instance UID")
	}
}

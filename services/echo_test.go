package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/interfaces"
	"github.com/clinimage/imagingd/types"
)

func TestEchoService_HandleDIMSE(t *testing.T) {
	svc := NewEchoService(zerolog.Nop())

	request := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           42,
		AffectedSOPClassUID: types.VerificationSOPClass,
		CommandDataSetType:  0x0101,
	}

	meta := interfaces.MessageContext{
		CallingAETitle: "MODALITY",
		CalledAETitle:  "IMAGINGD",
	}

	response, dataset, err := svc.HandleDIMSE(context.Background(), request, nil, meta)
	if err != nil {
		t.Fatalf("HandleDIMSE() error = %v", err)
	}
	if dataset != nil {
		t.Error("C-ECHO response should carry no dataset")
	}

	if response.CommandField != types.CEchoRSP {
		t.Errorf("CommandField = 0x%04X, want 0x%04X", response.CommandField, types.CEchoRSP)
	}
	if response.MessageIDBeingRespondedTo != 42 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 42", response.MessageIDBeingRespondedTo)
	}
	if response.Status != types.StatusSuccess {
		t.Errorf("Status = 0x%04X, want success", response.Status)
	}
	if response.AffectedSOPClassUID != types.VerificationSOPClass {
		t.Errorf("AffectedSOPClassUID = %s, want verification", response.AffectedSOPClassUID)
	}
	if response.HasDataset() {
		t.Error("CommandDataSetType should indicate no dataset")
	}
}

func TestEchoService_HealthCheck(t *testing.T) {
	svc := NewEchoService(zerolog.Nop())
	if err := svc.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

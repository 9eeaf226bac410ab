// Package services provides reusable DICOM service implementations.
//
// This package contains the service registry that listeners use to
// declare what they serve, plus standard services with no backend
// dependencies such as C-ECHO verification.
package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/dicom"
	"github.com/clinimage/imagingd/interfaces"
	"github.com/clinimage/imagingd/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO is used to verify connectivity and application-level
// communication between two DICOM Application Entities. It is the DICOM
// equivalent of a "ping" operation: stateless, no dataset, always
// answered with success while the AE is operational.
type EchoService struct {
	logger zerolog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService(logger zerolog.Logger) *EchoService {
	return &EchoService{logger: logger}
}

// HandleDIMSE processes a C-ECHO request and returns a success response.
//
// According to DICOM PS3.4, C-ECHO has no dataset and simply returns a
// status indicating whether the AE is operational.
func (s *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	s.logger.Info().
		Uint16("message_id", msg.MessageID).
		Str("calling_ae", meta.CallingAETitle).
		Msg("C-ECHO request")

	return NewResponseBuilder(msg).CEchoResponse(types.StatusSuccess), nil, nil
}

// HealthCheck verifies that the echo service is operational.
//
// The echo service is stateless with no external dependencies, so this
// always returns healthy.
func (s *EchoService) HealthCheck(ctx context.Context) error {
	return nil
}

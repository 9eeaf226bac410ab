// Package worklist answers modality worklist C-FIND queries from
// published orders and owns order publication.
package worklist

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/dicom"
	"github.com/clinimage/imagingd/interfaces"
	"github.com/clinimage/imagingd/records"
	"github.com/clinimage/imagingd/services"
	"github.com/clinimage/imagingd/types"
)

// Responder serves the Modality Worklist Information Model FIND SOP
// class. One pending response per matching published order, then a
// final success.
type Responder struct {
	store  *records.Store
	logger zerolog.Logger
}

// NewResponder creates a worklist responder backed by the store.
func NewResponder(store *records.Store, logger zerolog.Logger) *Responder {
	return &Responder{store: store, logger: logger}
}

// HandleDIMSE satisfies the single-response interface; the worklist is
// always served through the streaming path.
func (r *Responder) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return services.NewCFindErrorResponse(msg, types.StatusProcessingFailure), nil, nil
}

// HandleDIMSEStreaming answers an MWL C-FIND.
//
// A malformed identifier is answered with zero matches and a final
// success, keeping the association alive. A repository failure is
// answered with a failure status.
func (r *Responder) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	filter, ok := r.parseIdentifier(data, meta.TransferSyntaxUID)
	if !ok {
		r.logger.Warn().
			Str("calling_ae", meta.CallingAETitle).
			Int("identifier_bytes", len(data)).
			Msg("malformed worklist identifier, answering zero matches")
		return responder.SendResponse(services.NewCFindSuccessResponse(msg), nil)
	}

	orders, err := r.store.Orders.ListPublished(ctx, filter)
	if err != nil {
		r.logger.Error().Err(err).Msg("worklist query failed")
		return responder.SendResponse(services.NewCFindErrorResponse(msg, types.StatusFailure), nil)
	}

	r.logger.Info().
		Str("calling_ae", meta.CallingAETitle).
		Int("matches", len(orders)).
		Str("date_from", filter.DateFrom).
		Str("date_to", filter.DateTo).
		Str("modality", filter.Modality).
		Msg("worklist query")

	for _, order := range orders {
		if ctx.Err() != nil {
			return responder.SendResponse(services.NewCFindCancelResponse(msg), nil)
		}
		ds := renderWorklistItem(order)
		if err := responder.SendResponse(services.NewCFindPendingResponse(msg), ds); err != nil {
			return err
		}
	}

	return responder.SendResponse(services.NewCFindSuccessResponse(msg), nil)
}

// parseIdentifier extracts the query filter from the C-FIND identifier
// dataset. Empty attributes are wildcards.
func (r *Responder) parseIdentifier(data []byte, transferSyntaxUID string) (records.OrderFilter, bool) {
	var filter records.OrderFilter
	if len(data) == 0 {
		return filter, true
	}

	ds, err := dicom.ParseDatasetWithTransferSyntax(data, transferSyntaxUID)
	if err != nil {
		return filter, false
	}

	filter.PatientID = ds.GetString(dicom.TagPatientID)
	filter.PatientName = stripWildcardOnly(ds.GetString(dicom.TagPatientName))
	filter.AccessionNumber = ds.GetString(dicom.TagAccessionNumber)

	for _, item := range ds.GetSequence(dicom.TagScheduledProcedureStepSequence) {
		filter.Modality = item.GetString(dicom.TagModality)
		filter.StationAETitle = item.GetString(dicom.TagScheduledStationAETitle)
		filter.DateFrom, filter.DateTo = parseDateRange(item.GetString(dicom.TagScheduledProcedureStepStartDate))
	}

	return filter, true
}

// stripWildcardOnly drops patterns that match everything so they don't
// constrain the query.
func stripWildcardOnly(value string) string {
	if value == "*" || value == "" {
		return ""
	}
	return value
}

// parseDateRange handles the DICOM DA range forms: exact, open-ended
// and closed ranges.
func parseDateRange(value string) (from, to string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	if idx := strings.IndexByte(value, '-'); idx != -1 {
		return value[:idx], value[idx+1:]
	}
	return value, value
}

// renderWorklistItem builds the MWL response dataset for one order.
func renderWorklistItem(order *records.Order) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddString(dicom.TagSpecificCharacterSet, "ISO_IR 100")
	ds.AddString(dicom.TagPatientName, order.PatientName)
	ds.AddString(dicom.TagPatientID, order.PatientID)
	ds.AddString(dicom.TagPatientBirthDate, order.PatientBirthDate)
	ds.AddString(dicom.TagPatientSex, order.PatientSex)
	ds.AddString(dicom.TagAccessionNumber, order.AccessionNumber)
	ds.AddString(dicom.TagStudyInstanceUID, studyUIDForOrder(order))
	ds.AddString(dicom.TagRequestedProcedureID, order.RequestedProcedureID)
	ds.AddString(dicom.TagRequestedProcedureDescription, order.ProcedureDescription)

	step := dicom.NewDataset()
	step.AddString(dicom.TagModality, order.Modality)
	step.AddString(dicom.TagScheduledStationAETitle, order.StationAETitle)
	step.AddString(dicom.TagScheduledProcedureStepStartDate, order.ScheduledDate)
	step.AddString(dicom.TagScheduledProcedureStepStartTime, order.ScheduledTime)
	step.AddString(dicom.TagScheduledPerformingPhysician, order.RequestingPhysician)
	step.AddString(dicom.TagScheduledProcedureStepDesc, order.ProcedureDescription)
	step.AddString(dicom.TagScheduledProcedureStepID, order.ScheduledStepID)
	step.AddString(dicom.TagScheduledProcedureStepStatus, "SCHEDULED")
	ds.AddSequence(dicom.TagScheduledProcedureStepSequence, []*dicom.Dataset{step})

	return ds
}

// Package matching links incoming images to studies, series and
// orders, enforcing the 1 order : 1 study : 1 report shape.
package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	derrors "github.com/clinimage/imagingd/errors"
	"github.com/clinimage/imagingd/records"
	"github.com/clinimage/imagingd/report"
)

// ImageMeta carries the attributes the engine needs from a received
// instance.
type ImageMeta struct {
	SOPInstanceUID    string
	SOPClassUID       string
	StudyInstanceUID  string
	SeriesInstanceUID string
	AccessionNumber   string
	PatientID         string
	PatientName       string
	StudyDate         string
	StudyTime         string
	StudyDescription  string
	Modality          string
	SeriesNumber      string
	SeriesDescription string
	BodyPart          string
	InstanceNumber    string
	TransferSyntaxUID string
	FilePath          string
	TranscodeFailed   bool
	SizeBytes         int64
}

// LinkResult reports what the engine resolved or created.
type LinkResult struct {
	Study   *records.Study
	Series  *records.Series
	Image   *records.Image
	Report  *records.Report
	Matched bool // an order was found for the accession
}

// Engine resolves or creates the records for one image inside a single
// transaction.
type Engine struct {
	store   *records.Store
	reports *report.Controller
	logger  zerolog.Logger
}

// NewEngine creates a matching engine backed by the store.
func NewEngine(store *records.Store, reports *report.Controller, logger zerolog.Logger) *Engine {
	return &Engine{store: store, reports: reports, logger: logger}
}

// Link resolves or creates the Study and Series for the image, inserts
// the Image row and ensures a draft Report exists for the Study. The
// whole operation runs in one transaction; concurrent deliveries for
// the same accession converge on one study row through the unique
// constraints.
func (e *Engine) Link(ctx context.Context, meta ImageMeta) (*LinkResult, error) {
	result := &LinkResult{}

	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		study, matched, err := e.resolveStudy(ctx, meta)
		if err != nil {
			return err
		}
		result.Study = study
		result.Matched = matched

		series, err := e.store.Series.CreateIfAbsent(ctx, &records.Series{
			SeriesInstanceUID: meta.SeriesInstanceUID,
			StudyID:           study.ID,
			Modality:          meta.Modality,
			SeriesNumber:      meta.SeriesNumber,
			Description:       meta.SeriesDescription,
			BodyPart:          meta.BodyPart,
		})
		if err != nil {
			return fmt.Errorf("resolve series: %w", err)
		}
		result.Series = series

		image := &records.Image{
			SOPInstanceUID:    meta.SOPInstanceUID,
			SOPClassUID:       meta.SOPClassUID,
			SeriesID:          series.ID,
			InstanceNumber:    meta.InstanceNumber,
			TransferSyntaxUID: meta.TransferSyntaxUID,
			FilePath:          meta.FilePath,
			TranscodeFailed:   meta.TranscodeFailed,
			SizeBytes:         meta.SizeBytes,
		}
		if err := e.store.Images.Create(ctx, image); err != nil {
			return fmt.Errorf("create image: %w", err)
		}
		result.Image = image

		draft, err := e.reports.EnsureDraft(ctx, study.ID)
		if err != nil {
			return err
		}
		result.Report = draft

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("sop_instance_uid", meta.SOPInstanceUID).
		Str("study_instance_uid", meta.StudyInstanceUID).
		Bool("matched", result.Matched).
		Msg("image linked")
	return result, nil
}

// resolveStudy finds or creates the study for the image. An accession
// number bound to a different study UID is a collision and rejected;
// an accession without a published order creates an unmatched study.
func (e *Engine) resolveStudy(ctx context.Context, meta ImageMeta) (*records.Study, bool, error) {
	if meta.AccessionNumber != "" {
		existing, err := e.store.Studies.GetByAccession(ctx, meta.AccessionNumber)
		switch {
		case err == nil:
			if existing.StudyInstanceUID != meta.StudyInstanceUID {
				return nil, false, derrors.NewConflictError(
					"accession number already bound to another study", meta.AccessionNumber)
			}
			return existing, !existing.Unmatched, nil
		case !errors.Is(err, derrors.ErrNotFound):
			return nil, false, fmt.Errorf("lookup study by accession: %w", err)
		}
	}

	study := &records.Study{
		StudyInstanceUID: meta.StudyInstanceUID,
		AccessionNumber:  meta.AccessionNumber,
		PatientID:        meta.PatientID,
		PatientName:      meta.PatientName,
		StudyDate:        meta.StudyDate,
		StudyTime:        meta.StudyTime,
		Description:      meta.StudyDescription,
	}

	matched := false
	if meta.AccessionNumber != "" {
		order, err := e.store.Orders.GetByAccession(ctx, meta.AccessionNumber)
		switch {
		case err == nil && order.Published():
			study.OrderID = &order.ID
			matched = true
		case err != nil && !errors.Is(err, derrors.ErrNotFound):
			return nil, false, fmt.Errorf("lookup order by accession: %w", err)
		}
	}
	study.Unmatched = !matched

	created, err := e.store.Studies.CreateIfAbsent(ctx, study)
	if err != nil {
		if errors.Is(err, derrors.ErrDuplicate) {
			// Lost a race on the accession unique constraint.
			return nil, false, derrors.NewConflictError(
				"accession number already bound to another study", meta.AccessionNumber)
		}
		return nil, false, fmt.Errorf("resolve study: %w", err)
	}

	if created.StudyInstanceUID == meta.StudyInstanceUID &&
		meta.AccessionNumber != "" && created.AccessionNumber != meta.AccessionNumber {
		// The UID row already existed under a different accession.
		return nil, false, derrors.NewConflictError(
			"study already bound to another accession", meta.StudyInstanceUID)
	}

	return created, matched && created.OrderID != nil, nil
}

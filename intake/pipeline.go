// Package intake receives images over C-STORE, persists them as
// Part 10 files and links them into the study records.
package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"

	dcm "github.com/clinimage/imagingd/dicom"
	derrors "github.com/clinimage/imagingd/errors"
	"github.com/clinimage/imagingd/interfaces"
	"github.com/clinimage/imagingd/jobs"
	"github.com/clinimage/imagingd/matching"
	"github.com/clinimage/imagingd/records"
	"github.com/clinimage/imagingd/services"
	"github.com/clinimage/imagingd/types"
)

// Config carries the intake limits and storage locations.
type Config struct {
	StoragePath     string
	MaxPayloadBytes int64
	MaxStorageBytes int64
}

// Pipeline handles C-STORE requests: validate, transcode when
// compressed, persist to disk, link into the records and acknowledge.
// The store response is not sent until the database transaction has
// committed.
type Pipeline struct {
	cfg    Config
	store  *records.Store
	engine *matching.Engine
	queue  *jobs.Queue
	thumbs *jobs.Thumbnailer
	logger zerolog.Logger
}

// NewPipeline creates an intake pipeline. queue and thumbs may be nil
// when thumbnail generation is disabled.
func NewPipeline(cfg Config, store *records.Store, engine *matching.Engine, queue *jobs.Queue, thumbs *jobs.Thumbnailer, logger zerolog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, store: store, engine: engine, queue: queue, thumbs: thumbs, logger: logger}
}

// HandleDIMSE processes one C-STORE request and returns the store
// response. Protocol errors are returned as statuses, never as
// dropped associations.
func (p *Pipeline) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dcm.Dataset, error) {
	logger := p.logger.With().
		Str("sop_instance_uid", msg.AffectedSOPInstanceUID).
		Str("calling_ae", meta.CallingAETitle).
		Logger()

	if p.cfg.MaxPayloadBytes > 0 && int64(len(data)) > p.cfg.MaxPayloadBytes {
		logger.Warn().Int("bytes", len(data)).Msg("payload exceeds size limit")
		return services.NewCStoreResponse(msg, types.StatusProcessingFailure), nil, nil
	}

	if p.cfg.MaxStorageBytes > 0 {
		used, err := p.store.Images.TotalSizeBytes(ctx)
		if err != nil {
			// Quota enforcement must not block intake on a lookup error.
			logger.Warn().Err(err).Msg("storage usage lookup failed")
		} else if used >= p.cfg.MaxStorageBytes {
			logger.Error().
				Int64("used_bytes", used).
				Int64("quota_bytes", p.cfg.MaxStorageBytes).
				Msg("storage quota exceeded")
			return services.NewCStoreResponse(msg, types.StatusProcessingFailure), nil, nil
		}
	}

	dataset, err := dcm.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
	if err != nil {
		logger.Warn().Err(err).Msg("unparseable dataset")
		return services.NewCStoreResponse(msg, types.StatusProcessingFailure), nil, nil
	}

	attrs := extractAttributes(msg, dataset)
	if missing := attrs.missing(); len(missing) > 0 {
		logger.Warn().Strs("missing", missing).Msg("instance missing required attributes")
		return services.NewCStoreResponse(msg, types.StatusMissingAttributes), nil, nil
	}

	part10 := dcm.WrapPart10(data, attrs.SOPClassUID, attrs.SOPInstanceUID, meta.TransferSyntaxUID)
	storedTS := meta.TransferSyntaxUID
	transcodeFailed := false
	if types.IsCompressed(meta.TransferSyntaxUID) {
		native, err := transcodeToNative(part10)
		if err != nil {
			logger.Warn().Err(err).Str("transfer_syntax", meta.TransferSyntaxUID).Msg("transcode failed, storing original")
			transcodeFailed = true
		} else {
			part10 = native
			storedTS = types.ExplicitVRLittleEndian
		}
	}

	filePath := p.instancePath(attrs)
	if err := writeFile(filePath, part10); err != nil {
		logger.Error().Err(err).Str("path", filePath).Msg("persist failed")
		return services.NewCStoreResponse(msg, types.StatusProcessingFailure), nil, nil
	}

	result, err := p.engine.Link(ctx, matching.ImageMeta{
		SOPInstanceUID:    attrs.SOPInstanceUID,
		SOPClassUID:       attrs.SOPClassUID,
		StudyInstanceUID:  attrs.StudyInstanceUID,
		SeriesInstanceUID: attrs.SeriesInstanceUID,
		AccessionNumber:   attrs.AccessionNumber,
		PatientID:         attrs.PatientID,
		PatientName:       attrs.PatientName,
		StudyDate:         attrs.StudyDate,
		StudyTime:         attrs.StudyTime,
		StudyDescription:  attrs.StudyDescription,
		Modality:          attrs.Modality,
		SeriesNumber:      attrs.SeriesNumber,
		SeriesDescription: attrs.SeriesDescription,
		BodyPart:          attrs.BodyPart,
		InstanceNumber:    attrs.InstanceNumber,
		TransferSyntaxUID: storedTS,
		FilePath:          filePath,
		TranscodeFailed:   transcodeFailed,
		SizeBytes:         int64(len(part10)),
	})
	if err != nil {
		if errors.Is(err, derrors.ErrDuplicate) {
			// Already stored; the file on disk is the same instance.
			logger.Debug().Msg("duplicate instance, acknowledging")
			return services.NewCStoreResponse(msg, types.StatusSuccess), nil, nil
		}
		os.Remove(filePath)
		logger.Error().Err(err).Msg("record linkage failed")
		return services.NewCStoreResponse(msg, types.StatusProcessingFailure), nil, nil
	}

	if p.queue != nil && p.thumbs != nil {
		p.queue.Enqueue(p.thumbs.Job(result.Image.ID, attrs.SOPInstanceUID, filePath))
	}

	logger.Info().
		Str("study_instance_uid", attrs.StudyInstanceUID).
		Bool("matched", result.Matched).
		Int("bytes", len(part10)).
		Msg("instance stored")
	return services.NewCStoreResponse(msg, types.StatusSuccess), nil, nil
}

// instanceAttributes is what intake needs out of the dataset.
type instanceAttributes struct {
	SOPInstanceUID    string
	SOPClassUID       string
	StudyInstanceUID  string
	SeriesInstanceUID string
	PatientID         string
	PatientName       string
	AccessionNumber   string
	StudyDate         string
	StudyTime         string
	StudyDescription  string
	Modality          string
	SeriesNumber      string
	SeriesDescription string
	BodyPart          string
	InstanceNumber    string
}

func extractAttributes(msg *types.Message, dataset *dcm.Dataset) instanceAttributes {
	attrs := instanceAttributes{
		SOPInstanceUID:    dataset.GetString(dcm.TagSOPInstanceUID),
		SOPClassUID:       dataset.GetString(dcm.TagSOPClassUID),
		StudyInstanceUID:  dataset.GetString(dcm.TagStudyInstanceUID),
		SeriesInstanceUID: dataset.GetString(dcm.TagSeriesInstanceUID),
		PatientID:         dataset.GetString(dcm.TagPatientID),
		PatientName:       dataset.GetString(dcm.TagPatientName),
		AccessionNumber:   dataset.GetString(dcm.TagAccessionNumber),
		StudyDate:         dataset.GetString(dcm.TagStudyDate),
		StudyTime:         dataset.GetString(dcm.TagStudyTime),
		StudyDescription:  dataset.GetString(dcm.TagStudyDescription),
		Modality:          dataset.GetString(dcm.TagModality),
		SeriesNumber:      dataset.GetString(dcm.TagSeriesNumber),
		SeriesDescription: dataset.GetString(dcm.TagSeriesDescription),
		BodyPart:          dataset.GetString(dcm.TagBodyPartExamined),
		InstanceNumber:    dataset.GetString(dcm.TagInstanceNumber),
	}
	if attrs.SOPInstanceUID == "" {
		attrs.SOPInstanceUID = msg.AffectedSOPInstanceUID
	}
	if attrs.SOPClassUID == "" {
		attrs.SOPClassUID = msg.AffectedSOPClassUID
	}
	return attrs
}

// missing names the mandatory attributes the instance lacks.
func (a instanceAttributes) missing() []string {
	var missing []string
	if a.SOPInstanceUID == "" {
		missing = append(missing, "SOPInstanceUID")
	}
	if a.StudyInstanceUID == "" {
		missing = append(missing, "StudyInstanceUID")
	}
	if a.SeriesInstanceUID == "" {
		missing = append(missing, "SeriesInstanceUID")
	}
	if a.PatientID == "" {
		missing = append(missing, "PatientID")
	}
	return missing
}

var unsafePathChars = regexp.MustCompile(`[^0-9A-Za-z.]`)

// instancePath derives the on-disk location for the instance. The
// path is recorded on the image row at link time and never re-derived.
func (p *Pipeline) instancePath(attrs instanceAttributes) string {
	dateDir := attrs.StudyDate
	if len(dateDir) != 8 || unsafePathChars.MatchString(dateDir) {
		dateDir = "undated"
	}
	name := unsafePathChars.ReplaceAllString(attrs.SOPInstanceUID, "_") + ".dcm"
	return filepath.Join(p.cfg.StoragePath, dateDir, name)
}

// writeFile persists the bytes, retrying once on failure.
func writeFile(path string, data []byte) error {
	write := func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		return os.WriteFile(path, data, 0o644)
	}
	if err := write(); err == nil {
		return nil
	}
	return write()
}

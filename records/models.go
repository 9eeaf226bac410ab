// Package records holds the persistent model of the imaging workflow:
// orders, studies, series, images, reports and the audit log, with a
// PostgreSQL implementation and an in-memory one for tests.
package records

import (
	"time"

	"github.com/google/uuid"
)

// ReportState is the lifecycle state of a report.
type ReportState string

const (
	ReportDraft     ReportState = "draft"
	ReportValidated ReportState = "validated"
	ReportArchived  ReportState = "archived"
)

// Order is a scheduled procedure. Orders become visible to modalities
// only once published, which is also when the accession number is
// assigned.
type Order struct {
	ID                   uuid.UUID
	PatientID            string
	PatientName          string
	PatientBirthDate     string // DICOM DA format YYYYMMDD
	PatientSex           string
	ProcedureDescription string
	Modality             string
	ScheduledDate        string // DICOM DA format YYYYMMDD
	ScheduledTime        string // DICOM TM format HHMMSS
	StationAETitle       string
	RequestingPhysician  string
	RequestedProcedureID string
	ScheduledStepID      string
	AccessionNumber      string // empty until published
	PublishedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Published reports whether the order has been released to modalities.
func (o *Order) Published() bool {
	return o.PublishedAt != nil
}

// Study groups the images received for one accession.
type Study struct {
	ID               uuid.UUID
	StudyInstanceUID string
	AccessionNumber  string // empty when the modality sent none
	PatientID        string
	PatientName      string
	StudyDate        string
	StudyTime        string
	Description      string
	Unmatched        bool // no published order for the accession
	OrderID          *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Series is one acquisition series within a study.
type Series struct {
	ID                uuid.UUID
	SeriesInstanceUID string
	StudyID           uuid.UUID
	Modality          string
	SeriesNumber      string
	Description       string
	BodyPart          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Image is one stored SOP instance. FilePath is recorded at write time
// and never re-derived.
type Image struct {
	ID                uuid.UUID
	SOPInstanceUID    string
	SOPClassUID       string
	SeriesID          uuid.UUID
	InstanceNumber    string
	TransferSyntaxUID string
	FilePath          string
	ThumbnailPath     string
	TranscodeFailed   bool
	SizeBytes         int64
	ReceivedAt        time.Time
}

// Report is one version of the report for a study. Corrections never
// mutate a validated row: they append a new row with a higher version
// and point the old row's SupersededBy at it.
type Report struct {
	ID           uuid.UUID
	StudyID      uuid.UUID
	Version      int
	SupersededBy *uuid.UUID
	State        ReportState
	ReportNumber string
	Physician    string
	Findings     string
	Conclusion   string
	ValidatedAt  *time.Time
	ValidatedBy  string
	ArchivedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether this row is the current version for its study.
func (r *Report) Active() bool {
	return r.SupersededBy == nil
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID         uuid.UUID
	EntityKind string
	EntityID   uuid.UUID
	Action     string
	Actor      string
	Detail     string
	At         time.Time
}

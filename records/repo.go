package records

import (
	"context"

	"github.com/google/uuid"
)

// OrderFilter narrows worklist queries. Zero values are wildcards.
type OrderFilter struct {
	DateFrom        string // inclusive, DICOM DA format
	DateTo          string // inclusive, DICOM DA format
	Modality        string
	PatientID       string
	PatientName     string
	AccessionNumber string
	StationAETitle  string
}

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByAccession(ctx context.Context, accession string) (*Order, error)
	ListPublished(ctx context.Context, filter OrderFilter) ([]*Order, error)
	// Publish assigns the accession number and publication time. It
	// fails with ErrDuplicate when the order is already published.
	Publish(ctx context.Context, id uuid.UUID, accession string) error
}

type StudyRepository interface {
	// CreateIfAbsent inserts the study unless one with the same
	// study_instance_uid exists, and returns the surviving row.
	CreateIfAbsent(ctx context.Context, s *Study) (*Study, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	GetByUID(ctx context.Context, studyInstanceUID string) (*Study, error)
	GetByAccession(ctx context.Context, accession string) (*Study, error)
	ListUnmatched(ctx context.Context) ([]*Study, error)
}

type SeriesRepository interface {
	CreateIfAbsent(ctx context.Context, s *Series) (*Series, error)
	GetByUID(ctx context.Context, seriesInstanceUID string) (*Series, error)
	ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*Series, error)
}

type ImageRepository interface {
	// Create inserts the image. A duplicate sop_instance_uid fails
	// with ErrDuplicate so intake can acknowledge idempotently.
	Create(ctx context.Context, img *Image) error
	GetBySOPInstanceUID(ctx context.Context, sopInstanceUID string) (*Image, error)
	ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]*Image, error)
	SetThumbnailPath(ctx context.Context, id uuid.UUID, path string) error
	// TotalSizeBytes sums the stored file sizes for quota enforcement.
	TotalSizeBytes(ctx context.Context) (int64, error)
}

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	// GetActiveByStudy returns the report row with superseded_by NULL.
	GetActiveByStudy(ctx context.Context, studyID uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListVersions(ctx context.Context, studyID uuid.UUID) ([]*Report, error)
}

type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByEntity(ctx context.Context, entityKind string, entityID uuid.UUID) ([]*AuditEntry, error)
}

// Store bundles the repositories with a transaction runner so the
// matching engine and the report controller can hold invariants inside
// one transaction.
type Store struct {
	Orders  OrderRepository
	Studies StudyRepository
	Series  SeriesRepository
	Images  ImageRepository
	Reports ReportRepository
	Audit   AuditRepository

	// WithinTx runs fn inside one transaction. Repository calls made
	// with the ctx passed to fn join that transaction.
	WithinTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

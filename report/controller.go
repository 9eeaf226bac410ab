// Package report drives the report lifecycle: draft, validated,
// archived, with corrections appended as new versions.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	derrors "github.com/clinimage/imagingd/errors"
	"github.com/clinimage/imagingd/records"
)

// ContentUpdate carries the editable fields of a report.
type ContentUpdate struct {
	Physician  string
	Findings   string
	Conclusion string
}

// Controller enforces the report state machine on top of the store.
type Controller struct {
	store  *records.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewController creates a report controller backed by the store.
func NewController(store *records.Store, logger zerolog.Logger) *Controller {
	return &Controller{store: store, logger: logger, now: time.Now}
}

// EnsureDraft returns the active report for the study, creating a
// draft when none exists. Safe to call from concurrent image intake;
// racing creators converge through the active-report unique index.
func (c *Controller) EnsureDraft(ctx context.Context, studyID uuid.UUID) (*records.Report, error) {
	existing, err := c.store.Reports.GetActiveByStudy(ctx, studyID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, derrors.ErrNotFound):
		return nil, fmt.Errorf("lookup active report: %w", err)
	}

	report := &records.Report{
		StudyID:      studyID,
		ReportNumber: NewReportNumber(c.now()),
		State:        records.ReportDraft,
		Version:      1,
	}
	if err := c.store.Reports.Create(ctx, report); err != nil {
		if errors.Is(err, derrors.ErrDuplicate) {
			return c.store.Reports.GetActiveByStudy(ctx, studyID)
		}
		return nil, fmt.Errorf("create draft report: %w", err)
	}

	if err := c.audit(ctx, report.ID, "draft_created", "system", ""); err != nil {
		return nil, err
	}
	return report, nil
}

// Get returns one report version by id.
func (c *Controller) Get(ctx context.Context, id uuid.UUID) (*records.Report, error) {
	return c.store.Reports.GetByID(ctx, id)
}

// GetActive returns the current version for a study.
func (c *Controller) GetActive(ctx context.Context, studyID uuid.UUID) (*records.Report, error) {
	return c.store.Reports.GetActiveByStudy(ctx, studyID)
}

// ListVersions returns all versions for a study, oldest first.
func (c *Controller) ListVersions(ctx context.Context, studyID uuid.UUID) ([]*records.Report, error) {
	return c.store.Reports.ListVersions(ctx, studyID)
}

// UpdateContent replaces the editable fields of a draft report. Any
// other state fails with a StateError; validated content changes only
// through Correct.
func (c *Controller) UpdateContent(ctx context.Context, id uuid.UUID, update ContentUpdate) (*records.Report, error) {
	var updated *records.Report
	err := c.store.WithinTx(ctx, func(ctx context.Context) error {
		report, err := c.store.Reports.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if report.State != records.ReportDraft {
			return derrors.NewStateError("report", string(report.State), string(records.ReportDraft))
		}
		report.Physician = update.Physician
		report.Findings = update.Findings
		report.Conclusion = update.Conclusion
		if err := c.store.Reports.Update(ctx, report); err != nil {
			return fmt.Errorf("update report: %w", err)
		}
		updated = report
		return c.audit(ctx, report.ID, "content_updated", "system", "")
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Validate moves a draft to validated. Physician, findings and
// conclusion are mandatory; missing fields fail with a
// ValidationError naming them.
func (c *Controller) Validate(ctx context.Context, id uuid.UUID, actor string) (*records.Report, error) {
	var validated *records.Report
	err := c.store.WithinTx(ctx, func(ctx context.Context) error {
		report, err := c.store.Reports.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if report.State != records.ReportDraft {
			return derrors.NewStateError("report", string(report.State), string(records.ReportValidated))
		}
		if missing := missingContent(report); len(missing) > 0 {
			return derrors.NewValidationError("report", missing)
		}

		now := c.now()
		report.State = records.ReportValidated
		report.ValidatedAt = &now
		report.ValidatedBy = actor
		if err := c.store.Reports.Update(ctx, report); err != nil {
			return fmt.Errorf("validate report: %w", err)
		}
		validated = report
		return c.audit(ctx, report.ID, "validated", actor, "")
	})
	if err != nil {
		return nil, err
	}
	return validated, nil
}

// Archive moves a validated report to archived.
func (c *Controller) Archive(ctx context.Context, id uuid.UUID, actor string) (*records.Report, error) {
	var archived *records.Report
	err := c.store.WithinTx(ctx, func(ctx context.Context) error {
		report, err := c.store.Reports.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if report.State != records.ReportValidated {
			return derrors.NewStateError("report", string(report.State), string(records.ReportArchived))
		}

		now := c.now()
		report.State = records.ReportArchived
		report.ArchivedAt = &now
		if err := c.store.Reports.Update(ctx, report); err != nil {
			return fmt.Errorf("archive report: %w", err)
		}
		archived = report
		return c.audit(ctx, report.ID, "archived", actor, "")
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

// Delete removes a draft report. Validated and archived reports are
// immutable records and fail with ErrLocked.
func (c *Controller) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	return c.store.WithinTx(ctx, func(ctx context.Context) error {
		report, err := c.store.Reports.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if report.State != records.ReportDraft {
			return derrors.ErrLocked
		}
		if err := c.store.Reports.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		return c.audit(ctx, id, "deleted", actor, "")
	})
}

// Correct appends a new draft version carrying the corrected content
// and marks the current version as superseded. Only validated or
// archived reports can be corrected; a draft is simply edited.
func (c *Controller) Correct(ctx context.Context, id uuid.UUID, actor string, update ContentUpdate) (*records.Report, error) {
	var next *records.Report
	err := c.store.WithinTx(ctx, func(ctx context.Context) error {
		current, err := c.store.Reports.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.State == records.ReportDraft {
			return derrors.NewStateError("report", string(current.State), "corrected")
		}
		if !current.Active() {
			return derrors.NewStateError("report", "superseded", "corrected")
		}

		replacement := &records.Report{
			StudyID:      current.StudyID,
			Version:      current.Version + 1,
			State:        records.ReportDraft,
			ReportNumber: NewReportNumber(c.now()),
			Physician:    update.Physician,
			Findings:     update.Findings,
			Conclusion:   update.Conclusion,
		}

		// The superseded pointer must land before the insert so the
		// active-report unique index stays satisfied.
		replacementID := uuid.New()
		replacement.ID = replacementID
		current.SupersededBy = &replacementID
		if err := c.store.Reports.Update(ctx, current); err != nil {
			return fmt.Errorf("supersede report: %w", err)
		}
		if err := c.store.Reports.Create(ctx, replacement); err != nil {
			return fmt.Errorf("create correction: %w", err)
		}

		next = replacement
		detail := fmt.Sprintf("supersedes version %d", current.Version)
		if err := c.audit(ctx, current.ID, "superseded", actor, detail); err != nil {
			return err
		}
		return c.audit(ctx, replacement.ID, "correction_created", actor, "")
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Controller) audit(ctx context.Context, reportID uuid.UUID, action, actor, detail string) error {
	if err := c.store.Audit.Append(ctx, &records.AuditEntry{
		EntityKind: "report",
		EntityID:   reportID,
		Action:     action,
		Actor:      actor,
		Detail:     detail,
	}); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// missingContent names the mandatory fields that are still empty.
func missingContent(r *records.Report) []string {
	var missing []string
	if strings.TrimSpace(r.Physician) == "" {
		missing = append(missing, "physician")
	}
	if strings.TrimSpace(r.Findings) == "" {
		missing = append(missing, "findings")
	}
	if strings.TrimSpace(r.Conclusion) == "" {
		missing = append(missing, "conclusion")
	}
	return missing
}

// NewReportNumber builds a human readable report identifier.
func NewReportNumber(now time.Time) string {
	return fmt.Sprintf("RPT-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

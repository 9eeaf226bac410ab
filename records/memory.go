package records

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	derrors "github.com/clinimage/imagingd/errors"
)

// NewMemoryStore builds a Store backed by process memory. It honors
// the same uniqueness rules as the PostgreSQL schema and is used by
// tests and by integration runs without a database.
func NewMemoryStore() *Store {
	m := &memStore{
		orders:  make(map[uuid.UUID]*Order),
		studies: make(map[uuid.UUID]*Study),
		series:  make(map[uuid.UUID]*Series),
		images:  make(map[uuid.UUID]*Image),
		reports: make(map[uuid.UUID]*Report),
	}
	return &Store{
		Orders:   (*memOrderRepo)(m),
		Studies:  (*memStudyRepo)(m),
		Series:   (*memSeriesRepo)(m),
		Images:   (*memImageRepo)(m),
		Reports:  (*memReportRepo)(m),
		Audit:    (*memAuditRepo)(m),
		WithinTx: m.withinTx,
	}
}

type memStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*Order
	studies map[uuid.UUID]*Study
	series  map[uuid.UUID]*Series
	images  map[uuid.UUID]*Image
	reports map[uuid.UUID]*Report
	audit   []*AuditEntry
}

// matchDICOMName applies DICOM attribute matching to a person name:
// * matches any run of characters, ? matches one character.
func matchDICOMName(pattern, value string) bool {
	var re strings.Builder
	re.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			re.WriteString(".*")
		case '?':
			re.WriteString(".")
		default:
			re.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re.WriteString("$")
	matched, err := regexp.MatchString(re.String(), value)
	return err == nil && matched
}

type memTxKey struct{}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// lock acquires the store lock unless the caller already holds it
// through withinTx.
func (m *memStore) lock(ctx context.Context) func() {
	if inMemTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// withinTx serializes writers and restores a snapshot when fn fails,
// so a failed operation leaves nothing partially committed.
func (m *memStore) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *memStore) clone() *memStore {
	c := &memStore{
		orders:  make(map[uuid.UUID]*Order, len(m.orders)),
		studies: make(map[uuid.UUID]*Study, len(m.studies)),
		series:  make(map[uuid.UUID]*Series, len(m.series)),
		images:  make(map[uuid.UUID]*Image, len(m.images)),
		reports: make(map[uuid.UUID]*Report, len(m.reports)),
		audit:   append([]*AuditEntry(nil), m.audit...),
	}
	for k, v := range m.orders {
		cp := *v
		c.orders[k] = &cp
	}
	for k, v := range m.studies {
		cp := *v
		c.studies[k] = &cp
	}
	for k, v := range m.series {
		cp := *v
		c.series[k] = &cp
	}
	for k, v := range m.images {
		cp := *v
		c.images[k] = &cp
	}
	for k, v := range m.reports {
		cp := *v
		c.reports[k] = &cp
	}
	return c
}

func (m *memStore) restore(s *memStore) {
	m.orders = s.orders
	m.studies = s.studies
	m.series = s.series
	m.images = s.images
	m.reports = s.reports
	m.audit = s.audit
}

// -- Orders --

type memOrderRepo memStore

func (m *memOrderRepo) Create(ctx context.Context, o *Order) error {
	defer (*memStore)(m).lock(ctx)()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	defer (*memStore)(m).lock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return nil, derrors.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetByAccession(ctx context.Context, accession string) (*Order, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, o := range m.orders {
		if o.AccessionNumber == accession && accession != "" {
			cp := *o
			return &cp, nil
		}
	}
	return nil, derrors.ErrNotFound
}

func (m *memOrderRepo) ListPublished(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	defer (*memStore)(m).lock(ctx)()
	var orders []*Order
	for _, o := range m.orders {
		if !o.Published() {
			continue
		}
		if filter.DateFrom != "" && o.ScheduledDate < filter.DateFrom {
			continue
		}
		if filter.DateTo != "" && o.ScheduledDate > filter.DateTo {
			continue
		}
		if filter.Modality != "" && o.Modality != filter.Modality {
			continue
		}
		if filter.PatientID != "" && o.PatientID != filter.PatientID {
			continue
		}
		if filter.AccessionNumber != "" && o.AccessionNumber != filter.AccessionNumber {
			continue
		}
		if filter.StationAETitle != "" && o.StationAETitle != filter.StationAETitle {
			continue
		}
		if filter.PatientName != "" && !matchDICOMName(filter.PatientName, o.PatientName) {
			continue
		}
		cp := *o
		orders = append(orders, &cp)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].ScheduledDate != orders[j].ScheduledDate {
			return orders[i].ScheduledDate < orders[j].ScheduledDate
		}
		return orders[i].ScheduledTime < orders[j].ScheduledTime
	})
	return orders, nil
}

func (m *memOrderRepo) Publish(ctx context.Context, id uuid.UUID, accession string) error {
	defer (*memStore)(m).lock(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return derrors.ErrNotFound
	}
	if o.Published() {
		return derrors.ErrDuplicate
	}
	for _, other := range m.orders {
		if other.AccessionNumber == accession {
			return derrors.ErrDuplicate
		}
	}
	now := time.Now()
	o.AccessionNumber = accession
	o.PublishedAt = &now
	o.UpdatedAt = now
	return nil
}

// -- Studies --

type memStudyRepo memStore

func (m *memStudyRepo) CreateIfAbsent(ctx context.Context, s *Study) (*Study, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, existing := range m.studies {
		if existing.StudyInstanceUID == s.StudyInstanceUID {
			cp := *existing
			return &cp, nil
		}
	}
	if s.AccessionNumber != "" {
		for _, existing := range m.studies {
			if existing.AccessionNumber == s.AccessionNumber {
				return nil, derrors.ErrDuplicate
			}
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	m.studies[s.ID] = &cp
	out := *s
	return &out, nil
}

func (m *memStudyRepo) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	defer (*memStore)(m).lock(ctx)()
	s, ok := m.studies[id]
	if !ok {
		return nil, derrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStudyRepo) GetByUID(ctx context.Context, studyInstanceUID string) (*Study, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, s := range m.studies {
		if s.StudyInstanceUID == studyInstanceUID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, derrors.ErrNotFound
}

func (m *memStudyRepo) GetByAccession(ctx context.Context, accession string) (*Study, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, s := range m.studies {
		if s.AccessionNumber == accession && accession != "" {
			cp := *s
			return &cp, nil
		}
	}
	return nil, derrors.ErrNotFound
}

func (m *memStudyRepo) ListUnmatched(ctx context.Context) ([]*Study, error) {
	defer (*memStore)(m).lock(ctx)()
	var studies []*Study
	for _, s := range m.studies {
		if s.Unmatched {
			cp := *s
			studies = append(studies, &cp)
		}
	}
	sort.Slice(studies, func(i, j int) bool {
		return studies[i].CreatedAt.Before(studies[j].CreatedAt)
	})
	return studies, nil
}

// -- Series --

type memSeriesRepo memStore

func (m *memSeriesRepo) CreateIfAbsent(ctx context.Context, s *Series) (*Series, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, existing := range m.series {
		if existing.SeriesInstanceUID == s.SeriesInstanceUID {
			cp := *existing
			return &cp, nil
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	m.series[s.ID] = &cp
	out := *s
	return &out, nil
}

func (m *memSeriesRepo) GetByUID(ctx context.Context, seriesInstanceUID string) (*Series, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, s := range m.series {
		if s.SeriesInstanceUID == seriesInstanceUID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, derrors.ErrNotFound
}

func (m *memSeriesRepo) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*Series, error) {
	defer (*memStore)(m).lock(ctx)()
	var series []*Series
	for _, s := range m.series {
		if s.StudyID == studyID {
			cp := *s
			series = append(series, &cp)
		}
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].SeriesNumber < series[j].SeriesNumber
	})
	return series, nil
}

// -- Images --

type memImageRepo memStore

func (m *memImageRepo) Create(ctx context.Context, img *Image) error {
	defer (*memStore)(m).lock(ctx)()
	for _, existing := range m.images {
		if existing.SOPInstanceUID == img.SOPInstanceUID {
			return derrors.ErrDuplicate
		}
	}
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	img.ReceivedAt = time.Now()
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func (m *memImageRepo) GetBySOPInstanceUID(ctx context.Context, sopInstanceUID string) (*Image, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, img := range m.images {
		if img.SOPInstanceUID == sopInstanceUID {
			cp := *img
			return &cp, nil
		}
	}
	return nil, derrors.ErrNotFound
}

func (m *memImageRepo) ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]*Image, error) {
	defer (*memStore)(m).lock(ctx)()
	var images []*Image
	for _, img := range m.images {
		if img.SeriesID == seriesID {
			cp := *img
			images = append(images, &cp)
		}
	}
	sort.Slice(images, func(i, j int) bool {
		return images[i].InstanceNumber < images[j].InstanceNumber
	})
	return images, nil
}

func (m *memImageRepo) SetThumbnailPath(ctx context.Context, id uuid.UUID, path string) error {
	defer (*memStore)(m).lock(ctx)()
	img, ok := m.images[id]
	if !ok {
		return derrors.ErrNotFound
	}
	img.ThumbnailPath = path
	return nil
}

func (m *memImageRepo) TotalSizeBytes(ctx context.Context) (int64, error) {
	defer (*memStore)(m).lock(ctx)()
	var total int64
	for _, img := range m.images {
		total += img.SizeBytes
	}
	return total, nil
}

// -- Reports --

type memReportRepo memStore

func (m *memReportRepo) Create(ctx context.Context, rep *Report) error {
	defer (*memStore)(m).lock(ctx)()
	for _, existing := range m.reports {
		if existing.StudyID == rep.StudyID && existing.SupersededBy == nil {
			return derrors.ErrDuplicate
		}
	}
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	now := time.Now()
	rep.CreatedAt = now
	rep.UpdatedAt = now
	cp := *rep
	m.reports[rep.ID] = &cp
	return nil
}

func (m *memReportRepo) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	defer (*memStore)(m).lock(ctx)()
	rep, ok := m.reports[id]
	if !ok {
		return nil, derrors.ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

func (m *memReportRepo) GetActiveByStudy(ctx context.Context, studyID uuid.UUID) (*Report, error) {
	defer (*memStore)(m).lock(ctx)()
	for _, rep := range m.reports {
		if rep.StudyID == studyID && rep.SupersededBy == nil {
			cp := *rep
			return &cp, nil
		}
	}
	return nil, derrors.ErrNotFound
}

func (m *memReportRepo) Update(ctx context.Context, rep *Report) error {
	defer (*memStore)(m).lock(ctx)()
	existing, ok := m.reports[rep.ID]
	if !ok {
		return derrors.ErrNotFound
	}
	rep.UpdatedAt = time.Now()
	cp := *rep
	cp.CreatedAt = existing.CreatedAt
	m.reports[rep.ID] = &cp
	return nil
}

func (m *memReportRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer (*memStore)(m).lock(ctx)()
	if _, ok := m.reports[id]; !ok {
		return derrors.ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

func (m *memReportRepo) ListVersions(ctx context.Context, studyID uuid.UUID) ([]*Report, error) {
	defer (*memStore)(m).lock(ctx)()
	var reports []*Report
	for _, rep := range m.reports {
		if rep.StudyID == studyID {
			cp := *rep
			reports = append(reports, &cp)
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Version < reports[j].Version
	})
	return reports, nil
}

// -- Audit --

type memAuditRepo memStore

func (m *memAuditRepo) Append(ctx context.Context, e *AuditEntry) error {
	defer (*memStore)(m).lock(ctx)()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	cp := *e
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *memAuditRepo) ListByEntity(ctx context.Context, entityKind string, entityID uuid.UUID) ([]*AuditEntry, error) {
	defer (*memStore)(m).lock(ctx)()
	var entries []*AuditEntry
	for _, e := range m.audit {
		if e.EntityKind == entityKind && e.EntityID == entityID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

package records

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	derrors "github.com/clinimage/imagingd/errors"
)

func publishedOrder(accession string) *Order {
	now := time.Now()
	return &Order{
		PatientID:       "PAT001",
		PatientName:     "DOE^JANE",
		Modality:        "US",
		ScheduledDate:   "20260115",
		ScheduledTime:   "093000",
		AccessionNumber: accession,
		PublishedAt:     &now,
	}
}

func TestMemoryStore_OrderPublish(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	order := &Order{
		PatientID:     "PAT001",
		PatientName:   "DOE^JANE",
		Modality:      "US",
		ScheduledDate: "20260115",
	}
	if err := store.Orders.Create(ctx, order); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.ID == uuid.Nil {
		t.Fatal("Create should assign an ID")
	}

	if err := store.Orders.Publish(ctx, order.ID, "ACC20260115AB12CD"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, err := store.Orders.GetByAccession(ctx, "ACC20260115AB12CD")
	if err != nil {
		t.Fatalf("GetByAccession() error = %v", err)
	}
	if !got.Published() {
		t.Error("published order should report Published()")
	}

	// Publishing again is rejected.
	if err := store.Orders.Publish(ctx, order.ID, "ACC20260115FFFFFF"); !errors.Is(err, derrors.ErrDuplicate) {
		t.Errorf("second Publish() error = %v, want ErrDuplicate", err)
	}

	// A second order cannot claim the same accession.
	other := &Order{PatientID: "PAT002", Modality: "US", ScheduledDate: "20260116"}
	if err := store.Orders.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Orders.Publish(ctx, other.ID, "ACC20260115AB12CD"); !errors.Is(err, derrors.ErrDuplicate) {
		t.Errorf("conflicting Publish() error = %v, want ErrDuplicate", err)
	}
}

func TestMemoryStore_ListPublishedFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	draft := &Order{PatientID: "PAT009", Modality: "US", ScheduledDate: "20260115"}
	if err := store.Orders.Create(ctx, draft); err != nil {
		t.Fatal(err)
	}

	a := publishedOrder("ACC1")
	a.ScheduledDate = "20260114"
	b := publishedOrder("ACC2")
	b.Modality = "CT"
	c := publishedOrder("ACC3")
	c.StationAETitle = "US_ROOM_2"
	for _, o := range []*Order{a, b, c} {
		if err := store.Orders.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.Orders.ListPublished(ctx, OrderFilter{})
	if err != nil {
		t.Fatalf("ListPublished() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered list = %d orders, want 3 (drafts excluded)", len(all))
	}
	if all[0].AccessionNumber != "ACC1" {
		t.Error("orders should sort by scheduled date")
	}

	byModality, err := store.Orders.ListPublished(ctx, OrderFilter{Modality: "CT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byModality) != 1 || byModality[0].AccessionNumber != "ACC2" {
		t.Errorf("modality filter returned %d orders", len(byModality))
	}

	byDate, err := store.Orders.ListPublished(ctx, OrderFilter{DateFrom: "20260115", DateTo: "20260115"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byDate) != 2 {
		t.Errorf("date range filter returned %d orders, want 2", len(byDate))
	}

	byStation, err := store.Orders.ListPublished(ctx, OrderFilter{StationAETitle: "US_ROOM_2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStation) != 1 || byStation[0].AccessionNumber != "ACC3" {
		t.Errorf("station filter returned %d orders", len(byStation))
	}
}

func TestMemoryStore_StudyCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	study := &Study{
		StudyInstanceUID: "1.2.3.4",
		AccessionNumber:  "ACC1",
		PatientID:        "PAT001",
	}
	created, err := store.Studies.CreateIfAbsent(ctx, study)
	if err != nil {
		t.Fatalf("CreateIfAbsent() error = %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("created study should have an ID")
	}

	// Same UID returns the existing row.
	again, err := store.Studies.CreateIfAbsent(ctx, &Study{StudyInstanceUID: "1.2.3.4"})
	if err != nil {
		t.Fatalf("second CreateIfAbsent() error = %v", err)
	}
	if again.ID != created.ID {
		t.Error("existing study should be returned for a known UID")
	}

	// Different UID claiming the same accession is a conflict.
	_, err = store.Studies.CreateIfAbsent(ctx, &Study{StudyInstanceUID: "9.8.7", AccessionNumber: "ACC1"})
	if !errors.Is(err, derrors.ErrDuplicate) {
		t.Errorf("accession collision error = %v, want ErrDuplicate", err)
	}

	// Two accession-less studies may coexist.
	if _, err := store.Studies.CreateIfAbsent(ctx, &Study{StudyInstanceUID: "5.5.5", Unmatched: true}); err != nil {
		t.Fatalf("unmatched study error = %v", err)
	}
	if _, err := store.Studies.CreateIfAbsent(ctx, &Study{StudyInstanceUID: "6.6.6", Unmatched: true}); err != nil {
		t.Fatalf("second unmatched study error = %v", err)
	}

	unmatched, err := store.Studies.ListUnmatched(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unmatched) != 2 {
		t.Errorf("ListUnmatched() = %d studies, want 2", len(unmatched))
	}
}

func TestMemoryStore_ImageUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seriesID := uuid.New()
	img := &Image{
		SOPInstanceUID: "1.2.3.4.5",
		SOPClassUID:    "1.2.840.10008.5.1.4.1.1.6.1",
		SeriesID:       seriesID,
		FilePath:       "/data/1.2.3.4.5.dcm",
	}
	if err := store.Images.Create(ctx, img); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := &Image{SOPInstanceUID: "1.2.3.4.5", SeriesID: seriesID}
	if err := store.Images.Create(ctx, dup); !errors.Is(err, derrors.ErrDuplicate) {
		t.Errorf("duplicate Create() error = %v, want ErrDuplicate", err)
	}

	if err := store.Images.SetThumbnailPath(ctx, img.ID, "/thumbs/1.2.3.4.5.jpg"); err != nil {
		t.Fatalf("SetThumbnailPath() error = %v", err)
	}
	got, err := store.Images.GetBySOPInstanceUID(ctx, "1.2.3.4.5")
	if err != nil {
		t.Fatal(err)
	}
	if got.ThumbnailPath != "/thumbs/1.2.3.4.5.jpg" {
		t.Errorf("ThumbnailPath = %s", got.ThumbnailPath)
	}
}

func TestMemoryStore_ImageTotalSizeBytes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	total, err := store.Images.TotalSizeBytes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("empty store total = %d, want 0", total)
	}

	seriesID := uuid.New()
	sizes := []int64{1000, 2500, 42}
	for i, size := range sizes {
		img := &Image{
			SOPInstanceUID: fmt.Sprintf("1.2.3.4.%d", i),
			SeriesID:       seriesID,
			SizeBytes:      size,
		}
		if err := store.Images.Create(ctx, img); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	total, err = store.Images.TotalSizeBytes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3542 {
		t.Errorf("total = %d, want 3542", total)
	}
}

func TestMemoryStore_ReportActiveUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	studyID := uuid.New()
	first := &Report{StudyID: studyID, Version: 1, State: ReportDraft, ReportNumber: "RPT-1"}
	if err := store.Reports.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// A second active report for the same study violates the partial
	// unique index.
	second := &Report{StudyID: studyID, Version: 2, State: ReportDraft, ReportNumber: "RPT-2"}
	if err := store.Reports.Create(ctx, second); !errors.Is(err, derrors.ErrDuplicate) {
		t.Fatalf("second active Create() error = %v, want ErrDuplicate", err)
	}

	// Once the first is superseded, the replacement may be inserted.
	replacementID := uuid.New()
	first.SupersededBy = &replacementID
	if err := store.Reports.Update(ctx, first); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	second.ID = replacementID
	if err := store.Reports.Create(ctx, second); err != nil {
		t.Fatalf("replacement Create() error = %v", err)
	}
	if second.ID != replacementID {
		t.Error("Create must honor a caller-assigned ID")
	}

	active, err := store.Reports.GetActiveByStudy(ctx, studyID)
	if err != nil {
		t.Fatalf("GetActiveByStudy() error = %v", err)
	}
	if active.ID != replacementID {
		t.Error("active report should be the replacement")
	}

	versions, err := store.Reports.ListVersions(ctx, studyID)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Errorf("ListVersions() returned wrong ordering: %d entries", len(versions))
	}
}

func TestMemoryStore_WithinTxRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := store.Studies.CreateIfAbsent(ctx, &Study{StudyInstanceUID: "1.2.3"}); err != nil {
			return err
		}
		if err := store.Images.Create(ctx, &Image{SOPInstanceUID: "1.2.3.1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want the callback error", err)
	}

	if _, err := store.Studies.GetByUID(ctx, "1.2.3"); !errors.Is(err, derrors.ErrNotFound) {
		t.Error("study should have been rolled back")
	}
	if _, err := store.Images.GetBySOPInstanceUID(ctx, "1.2.3.1"); !errors.Is(err, derrors.ErrNotFound) {
		t.Error("image should have been rolled back")
	}
}

func TestMemoryStore_WithinTxCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		_, err := store.Studies.CreateIfAbsent(ctx, &Study{StudyInstanceUID: "4.5.6"})
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}

	if _, err := store.Studies.GetByUID(ctx, "4.5.6"); err != nil {
		t.Errorf("committed study not found: %v", err)
	}
}

func TestMemoryStore_NestedWithinTx(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		return store.WithinTx(ctx, func(ctx context.Context) error {
			_, err := store.Studies.CreateIfAbsent(ctx, &Study{StudyInstanceUID: "7.8.9"})
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested WithinTx() error = %v", err)
	}
	if _, err := store.Studies.GetByUID(ctx, "7.8.9"); err != nil {
		t.Errorf("study from nested transaction not found: %v", err)
	}
}

func TestMemoryStore_AuditAppend(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entityID := uuid.New()
	for _, action := range []string{"draft_created", "validated"} {
		err := store.Audit.Append(ctx, &AuditEntry{
			EntityKind: "report",
			EntityID:   entityID,
			Action:     action,
			Actor:      "dr.jones",
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := store.Audit.ListByEntity(ctx, "report", entityID)
	if err != nil {
		t.Fatalf("ListByEntity() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != "draft_created" || entries[1].Action != "validated" {
		t.Error("entries should come back in append order")
	}
	if entries[0].At.IsZero() {
		t.Error("Append should stamp the entry time")
	}

	other, err := store.Audit.ListByEntity(ctx, "report", uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Error("unrelated entity should have no entries")
	}
}

func TestMemoryStore_PatientNameWildcards(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	jane := publishedOrder("ACC20260115AAAAAA")
	if err := store.Orders.Create(ctx, jane); err != nil {
		t.Fatal(err)
	}
	richard := publishedOrder("ACC20260115BBBBBB")
	richard.PatientName = "ROE^RICHARD"
	if err := store.Orders.Create(ctx, richard); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		pattern string
		want    int
	}{
		{"DOE^JANE", 1},
		{"DOE*", 1},
		{"*", 2},
		{"?OE*", 2},
		{"SMITH*", 0},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			orders, err := store.Orders.ListPublished(ctx, OrderFilter{PatientName: tt.pattern})
			if err != nil {
				t.Fatal(err)
			}
			if len(orders) != tt.want {
				t.Errorf("ListPublished(name=%q) returned %d orders, want %d", tt.pattern, len(orders), tt.want)
			}
		})
	}
}

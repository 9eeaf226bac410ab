package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/client"
	dcm "github.com/clinimage/imagingd/dicom"
	"github.com/clinimage/imagingd/intake"
	"github.com/clinimage/imagingd/matching"
	"github.com/clinimage/imagingd/records"
	"github.com/clinimage/imagingd/report"
	"github.com/clinimage/imagingd/services"
	"github.com/clinimage/imagingd/types"
	"github.com/clinimage/imagingd/worklist"
)

// startServer runs a full SCP on an ephemeral port and returns its
// address plus a stop function that waits for Serve to return.
func startServer(t *testing.T, registry *services.Registry) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := New("IMAGINGD", registry,
		WithIdleTimeout(5*time.Second),
		WithMaxPDULength(16384),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, listener)
	}()

	return listener.Addr().String(), func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}
}

func connect(t *testing.T, address string) *client.Association {
	t.Helper()
	assoc, err := client.Connect(address, client.Config{
		CallingAETitle: "MODALITY",
		CalledAETitle:  "IMAGINGD",
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return assoc
}

func TestServer_Echo(t *testing.T) {
	registry := services.NewRegistry(zerolog.Nop())
	registry.Register(types.VerificationSOPClass, services.NewEchoService(zerolog.Nop()))

	address, stop := startServer(t, registry)
	defer stop()

	assoc := connect(t, address)
	defer assoc.Close()

	rsp, err := assoc.SendCEcho(1)
	if err != nil {
		t.Fatalf("SendCEcho() error = %v", err)
	}
	if rsp.Status != types.StatusSuccess {
		t.Errorf("echo status = 0x%04X, want success", rsp.Status)
	}
}

func TestServer_WorklistQuery(t *testing.T) {
	store := records.NewMemoryStore()
	ctx := context.Background()

	order := &records.Order{
		PatientID:     "PAT001",
		PatientName:   "DOE^JANE",
		Modality:      "US",
		ScheduledDate: "20260115",
	}
	if err := store.Orders.Create(ctx, order); err != nil {
		t.Fatal(err)
	}
	if err := store.Orders.Publish(ctx, order.ID, "ACC20260115AAAAAA"); err != nil {
		t.Fatal(err)
	}

	registry := services.NewRegistry(zerolog.Nop())
	registry.Register(types.ModalityWorklistInformationModelFind, worklist.NewResponder(store, zerolog.Nop()))

	address, stop := startServer(t, registry)
	defer stop()

	assoc := connect(t, address)
	defer assoc.Close()

	identifier := dcm.NewDataset()
	identifier.AddString(dcm.TagPatientName, "*")
	step := dcm.NewDataset()
	step.AddString(dcm.TagModality, "US")
	identifier.AddSequence(dcm.TagScheduledProcedureStepSequence, []*dcm.Dataset{step})

	responses, err := assoc.SendCFind(&client.CFindRequest{
		SOPClassUID: types.ModalityWorklistInformationModelFind,
		MessageID:   1,
		Dataset:     identifier,
	})
	if err != nil {
		t.Fatalf("SendCFind() error = %v", err)
	}

	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 1 pending + 1 final", len(responses))
	}
	match := responses[0]
	if match.Status != types.StatusPending {
		t.Errorf("first response status = 0x%04X, want pending", match.Status)
	}
	if match.Dataset == nil {
		t.Fatal("pending response carries no identifier")
	}
	if got := match.Dataset.GetString(dcm.TagAccessionNumber); got != "ACC20260115AAAAAA" {
		t.Errorf("accession = %s", got)
	}
	if responses[1].Status != types.StatusSuccess {
		t.Errorf("final status = 0x%04X, want success", responses[1].Status)
	}
}

func TestServer_StoreInstance(t *testing.T) {
	dir := t.TempDir()
	store := records.NewMemoryStore()
	reports := report.NewController(store, zerolog.Nop())
	engine := matching.NewEngine(store, reports, zerolog.Nop())
	pipeline := intake.NewPipeline(intake.Config{StoragePath: dir}, store, engine, nil, nil, zerolog.Nop())

	registry := services.NewRegistry(zerolog.Nop())
	registry.Register(types.UltrasoundImageStorage, pipeline)

	address, stop := startServer(t, registry)
	defer stop()

	assoc := connect(t, address)
	defer assoc.Close()

	sopUID := "1.2.3.200.1.1"
	ds := dcm.NewDataset()
	ds.AddString(dcm.TagSOPClassUID, types.UltrasoundImageStorage)
	ds.AddString(dcm.TagSOPInstanceUID, sopUID)
	ds.AddString(dcm.TagStudyInstanceUID, "1.2.3.200")
	ds.AddString(dcm.TagSeriesInstanceUID, "1.2.3.200.1")
	ds.AddString(dcm.TagPatientID, "PAT001")
	ds.AddString(dcm.TagStudyDate, "20260115")
	ds.AddString(dcm.TagModality, "US")

	presContextID, err := assoc.GetPresentationContextID(types.UltrasoundImageStorage)
	if err != nil {
		t.Fatalf("no presentation context for storage: %v", err)
	}
	transferSyntax, err := assoc.GetTransferSyntax(presContextID)
	if err != nil {
		t.Fatal(err)
	}
	data, err := dcm.EncodeDatasetWithTransferSyntax(ds, transferSyntax)
	if err != nil {
		t.Fatal(err)
	}

	rsp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    types.UltrasoundImageStorage,
		SOPInstanceUID: sopUID,
		MessageID:      1,
		Data:           data,
	})
	if err != nil {
		t.Fatalf("SendCStore() error = %v", err)
	}
	if rsp.Status != types.StatusSuccess {
		t.Fatalf("store status = 0x%04X, want success", rsp.Status)
	}

	// The instance lands on disk and in the records.
	if _, err := os.Stat(filepath.Join(dir, "20260115", sopUID+".dcm")); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
	image, err := store.Images.GetBySOPInstanceUID(context.Background(), sopUID)
	if err != nil {
		t.Fatalf("image row missing: %v", err)
	}
	if image.SOPClassUID != types.UltrasoundImageStorage {
		t.Errorf("image SOP class = %s", image.SOPClassUID)
	}
	study, err := store.Studies.GetByUID(context.Background(), "1.2.3.200")
	if err != nil {
		t.Fatalf("study row missing: %v", err)
	}
	if !study.Unmatched {
		t.Error("study without an order should be unmatched")
	}
	if _, err := store.Reports.GetActiveByStudy(context.Background(), study.ID); err != nil {
		t.Errorf("draft report missing: %v", err)
	}
}

// TestServer_FullWorkflow walks the whole clinical cycle over the wire:
// publish an order, query the worklist, store an image against the
// accession, re-deliver it, then drive the report to validated.
func TestServer_FullWorkflow(t *testing.T) {
	dir := t.TempDir()
	store := records.NewMemoryStore()
	reports := report.NewController(store, zerolog.Nop())
	engine := matching.NewEngine(store, reports, zerolog.Nop())
	pipeline := intake.NewPipeline(intake.Config{StoragePath: dir}, store, engine, nil, nil, zerolog.Nop())
	publisher := worklist.NewPublisher(store, zerolog.Nop())
	ctx := context.Background()

	registry := services.NewRegistry(zerolog.Nop())
	registry.Register(types.ModalityWorklistInformationModelFind, worklist.NewResponder(store, zerolog.Nop()))
	registry.Register(types.UltrasoundImageStorage, pipeline)

	address, stop := startServer(t, registry)
	defer stop()

	// Publish the order.
	order := &records.Order{
		PatientID:     "PAT001",
		PatientName:   "DOE^JANE",
		Modality:      "US",
		ScheduledDate: "20260115",
	}
	if err := store.Orders.Create(ctx, order); err != nil {
		t.Fatal(err)
	}
	accession, err := publisher.Publish(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}

	assoc := connect(t, address)
	defer assoc.Close()

	// The modality queries the worklist and finds the accession.
	identifier := dcm.NewDataset()
	identifier.AddString(dcm.TagPatientID, "PAT001")
	responses, err := assoc.SendCFind(&client.CFindRequest{MessageID: 1, Dataset: identifier})
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 2 || responses[0].Status != types.StatusPending {
		t.Fatalf("worklist query returned %d responses", len(responses))
	}
	if got := responses[0].Dataset.GetString(dcm.TagAccessionNumber); got != accession {
		t.Fatalf("worklist accession = %s, want %s", got, accession)
	}
	studyUID := responses[0].Dataset.GetString(dcm.TagStudyInstanceUID)
	if studyUID == "" {
		t.Fatal("worklist entry lacks a study UID")
	}

	// Store an image against the accession, twice.
	sopUID := "1.2.3.300.1.1"
	ds := dcm.NewDataset()
	ds.AddString(dcm.TagSOPClassUID, types.UltrasoundImageStorage)
	ds.AddString(dcm.TagSOPInstanceUID, sopUID)
	ds.AddString(dcm.TagStudyInstanceUID, studyUID)
	ds.AddString(dcm.TagSeriesInstanceUID, studyUID+".1")
	ds.AddString(dcm.TagAccessionNumber, accession)
	ds.AddString(dcm.TagPatientID, "PAT001")
	ds.AddString(dcm.TagStudyDate, "20260115")
	ds.AddString(dcm.TagModality, "US")

	presContextID, err := assoc.GetPresentationContextID(types.UltrasoundImageStorage)
	if err != nil {
		t.Fatal(err)
	}
	transferSyntax, err := assoc.GetTransferSyntax(presContextID)
	if err != nil {
		t.Fatal(err)
	}
	data, err := dcm.EncodeDatasetWithTransferSyntax(ds, transferSyntax)
	if err != nil {
		t.Fatal(err)
	}
	storeReq := &client.CStoreRequest{
		SOPClassUID:    types.UltrasoundImageStorage,
		SOPInstanceUID: sopUID,
		MessageID:      2,
		Data:           data,
	}
	for i := 0; i < 2; i++ {
		rsp, err := assoc.SendCStore(storeReq)
		if err != nil {
			t.Fatalf("store %d: %v", i+1, err)
		}
		if rsp.Status != types.StatusSuccess {
			t.Fatalf("store %d status = 0x%04X", i+1, rsp.Status)
		}
	}

	// Matched study, single draft report.
	study, err := store.Studies.GetByAccession(ctx, accession)
	if err != nil {
		t.Fatal(err)
	}
	if study.Unmatched {
		t.Error("study should be matched to the published order")
	}
	draft, err := reports.GetActive(ctx, study.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Validation fails while mandatory content is missing.
	if _, err := reports.Validate(ctx, draft.ID, "dr.smith"); err == nil {
		t.Fatal("Validate() on an empty draft should fail")
	}
	if _, err := reports.UpdateContent(ctx, draft.ID, report.ContentUpdate{
		Physician:  "DR^SMITH",
		Findings:   "Normal study.",
		Conclusion: "No abnormality detected.",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := reports.Validate(ctx, draft.ID, "dr.smith"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// A validated report can no longer be deleted.
	if err := reports.Delete(ctx, draft.ID, "admin"); err == nil {
		t.Error("Delete() after validation should fail")
	}
}

func TestServer_RejectsMissingRegistry(t *testing.T) {
	srv := New("IMAGINGD", nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	if err := srv.Serve(context.Background(), listener); err == nil {
		t.Error("Serve() without a registry should fail")
	}
}

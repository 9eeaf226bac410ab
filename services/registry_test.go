package services

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/dicom"
	"github.com/clinimage/imagingd/interfaces"
	"github.com/clinimage/imagingd/types"
)

type stubHandler struct {
	name string
}

func (h *stubHandler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	echo := &stubHandler{name: "echo"}
	store := &stubHandler{name: "store"}

	registry.Register(types.VerificationSOPClass, echo)
	registry.Register(types.UltrasoundImageStorage, store)

	handler, ok := registry.ResolveHandler(types.VerificationSOPClass)
	if !ok {
		t.Fatal("expected verification handler to resolve")
	}
	if handler.(*stubHandler).name != "echo" {
		t.Error("resolved wrong handler for verification")
	}

	handler, ok = registry.ResolveHandler(types.UltrasoundImageStorage)
	if !ok || handler.(*stubHandler).name != "store" {
		t.Error("resolved wrong handler for ultrasound storage")
	}

	if _, ok := registry.ResolveHandler(types.CTImageStorage); ok {
		t.Error("unregistered SOP class should not resolve")
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	registry.Register(types.VerificationSOPClass, &stubHandler{name: "first"})
	registry.Register(types.VerificationSOPClass, &stubHandler{name: "second"})

	handler, ok := registry.ResolveHandler(types.VerificationSOPClass)
	if !ok {
		t.Fatal("expected handler to resolve")
	}
	if handler.(*stubHandler).name != "second" {
		t.Error("re-registration should replace the previous handler")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	registry.Register(types.VerificationSOPClass, &stubHandler{})
	registry.Unregister(types.VerificationSOPClass)

	if _, ok := registry.ResolveHandler(types.VerificationSOPClass); ok {
		t.Error("unregistered handler should not resolve")
	}

	// Unregistering an unknown UID is a no-op.
	registry.Unregister("1.2.3.4")
}

func TestRegistry_SupportsAbstractSyntax(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	registry.Register(types.ModalityWorklistInformationModelFind, &stubHandler{})

	if !registry.SupportsAbstractSyntax(types.ModalityWorklistInformationModelFind) {
		t.Error("registered abstract syntax should be supported")
	}
	if registry.SupportsAbstractSyntax(types.CTImageStorage) {
		t.Error("unregistered abstract syntax should be rejected")
	}
}

func TestRegistry_RegisteredSOPClasses(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	registry.Register(types.VerificationSOPClass, &stubHandler{})
	registry.Register(types.UltrasoundImageStorage, &stubHandler{})
	registry.Register(types.CTImageStorage, &stubHandler{})

	got := registry.RegisteredSOPClasses()
	sort.Strings(got)

	want := []string{
		types.VerificationSOPClass,
		types.UltrasoundImageStorage,
		types.CTImageStorage,
	}
	sort.Strings(want)

	if len(got) != len(want) {
		t.Fatalf("got %d SOP classes, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("SOP class[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	registry.Register(types.VerificationSOPClass, &stubHandler{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				registry.ResolveHandler(types.VerificationSOPClass)
				registry.SupportsAbstractSyntax(types.VerificationSOPClass)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				registry.Register(types.UltrasoundImageStorage, &stubHandler{})
				registry.Unregister(types.UltrasoundImageStorage)
			}
		}()
	}
	wg.Wait()
}

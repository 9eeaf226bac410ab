package services

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinimage/imagingd/interfaces"
)

// Registry maps SOP classes to their service handlers.
//
// Each listener owns a registry describing what it serves: the worklist
// listener registers verification and the modality worklist information
// model, the intake listener registers verification and the storage SOP
// classes. The registry doubles as the abstract syntax predicate for
// association negotiation and as the handler resolver for message
// dispatch.
//
// Example usage:
//
//	registry := services.NewRegistry(logger)
//	registry.Register(types.VerificationSOPClass, echoService)
//	registry.Register(types.ModalityWorklistInformationModelFind, worklistService)
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]interfaces.ServiceHandler
	logger   zerolog.Logger
}

// NewRegistry creates an empty service registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]interfaces.ServiceHandler),
		logger:   logger,
	}
}

// Register registers a service handler for a SOP class UID.
//
// Only one handler can be registered per SOP class; registering again
// with the same UID replaces the previous handler.
func (r *Registry) Register(sopClassUID string, handler interfaces.ServiceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[sopClassUID] = handler
	r.logger.Debug().Str("sop_class_uid", sopClassUID).Msg("service handler registered")
}

// Unregister removes the handler for a SOP class UID.
func (r *Registry) Unregister(sopClassUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, sopClassUID)
}

// ResolveHandler returns the handler registered for the SOP class, if
// any. Implements interfaces.HandlerResolver.
func (r *Registry) ResolveHandler(sopClassUID string) (interfaces.ServiceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[sopClassUID]
	return handler, ok
}

// SupportsAbstractSyntax reports whether the registry has a handler for
// the abstract syntax. Used as the presentation context predicate
// during association negotiation.
func (r *Registry) SupportsAbstractSyntax(uid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[uid]
	return ok
}

// RegisteredSOPClasses returns the SOP class UIDs that have handlers.
func (r *Registry) RegisteredSOPClasses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uids := make([]string, 0, len(r.handlers))
	for uid := range r.handlers {
		uids = append(uids, uid)
	}
	return uids
}

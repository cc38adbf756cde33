package jobs

import (
	"context"
	"fmt"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/queue"
)

// Handler executes one job kind. Handlers must be idempotent: a job can be
// delivered again after a worker crash or a retry of a partial failure.
type Handler interface {
	Kind() enums.JobKind
	Handle(ctx context.Context, job *queue.Job) error
}

// Registry routes dequeued jobs to their handler by kind.
type Registry struct {
	handlers map[enums.JobKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[enums.JobKind]Handler{}}
}

// Register adds a handler. Registering the same kind twice is a wiring bug.
func (r *Registry) Register(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler")
	}
	kind := handler.Kind()
	if !kind.IsValid() {
		return fmt.Errorf("handler declares unknown job kind %q", kind)
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler for %q already registered", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// Resolve returns the handler for a kind.
func (r *Registry) Resolve(kind enums.JobKind) (Handler, bool) {
	handler, ok := r.handlers[kind]
	return handler, ok
}

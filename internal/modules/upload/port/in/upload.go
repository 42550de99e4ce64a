package in

import (
	"context"

	"github.com/google/uuid"

	"pocus/internal/modules/upload/domain"
	"pocus/internal/modules/upload/dto"
)

// Engine owns the upload task table. Observers only ever get copies.
type Engine interface {
	// Enqueue fails synchronously with ErrSourceUnavailable or ErrAuthRequired.
	// Every later failure is reported on the event stream.
	Enqueue(ctx context.Context, input dto.EnqueueInput) (domain.Handle, error)
	Cancel(ctx context.Context, taskID uuid.UUID)
	// ResumePersisted re-attaches journaled tasks and returns how many it started.
	ResumePersisted(ctx context.Context) (int, error)
	Events() <-chan domain.Event
	Snapshot(taskID uuid.UUID) (domain.Task, bool)
	Tasks(studyID uuid.UUID) []domain.Task
	Close() error
}

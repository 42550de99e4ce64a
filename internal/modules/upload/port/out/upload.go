package out

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"pocus/internal/modules/upload/domain"
)

// ErrOffsetMismatch is returned by Patch when the server holds a different offset.
var ErrOffsetMismatch = errors.New("upload offset mismatch")

// Transport speaks a resumable chunked upload protocol. Rejections that cannot
// succeed on retry are wrapped with retry.Permanent.
type Transport interface {
	Create(ctx context.Context, task domain.Task) (uploadURL string, err error)
	Offset(ctx context.Context, task domain.Task) (int64, error)
	Patch(ctx context.Context, task domain.Task, offset int64, chunk []byte) (int64, error)
	Terminate(ctx context.Context, task domain.Task) error
}

// TaskJournal durably records unfinished tasks so they survive a restart.
type TaskJournal interface {
	Save(ctx context.Context, task domain.Task) error
	Delete(ctx context.Context, taskID uuid.UUID) error
	Pending(ctx context.Context) ([]domain.Task, error)
	Close() error
}

type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// SourceOpener acquires a file for reading. Every acquired Source must be closed.
type SourceOpener interface {
	Open(path string) (Source, error)
}

package usecase

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pocus/internal/modules/upload/domain"
	"pocus/internal/modules/upload/dto"
	uploadin "pocus/internal/modules/upload/port/in"
	"pocus/internal/modules/upload/service"
	apperrors "pocus/internal/platform/errors"
)

const fallbackContentType = "application/octet-stream"

type Interactor struct {
	engine *service.Engine
}

func NewInteractor(engine *service.Engine) uploadin.Engine {
	return &Interactor{engine: engine}
}

func (i *Interactor) Enqueue(ctx context.Context, input dto.EnqueueInput) (domain.Handle, error) {
	if strings.TrimSpace(input.Token) == "" {
		return domain.Handle{}, apperrors.ErrAuthRequired
	}
	if input.StudyID == uuid.Nil || input.InstitutionID == uuid.Nil {
		return domain.Handle{}, fmt.Errorf("%w: study and institution are required", apperrors.ErrInvalidInput)
	}
	path := strings.TrimSpace(input.SourcePath)
	if path == "" {
		return domain.Handle{}, fmt.Errorf("%w: no source file", apperrors.ErrSourceUnavailable)
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = guessContentType(path)
	}
	opts := input.Options
	defaults := domain.DefaultOptions()
	if opts.CacheControl == "" {
		opts.CacheControl = defaults.CacheControl
	}
	if opts.Metadata == nil {
		opts.Metadata = defaults.Metadata
	}
	return i.engine.Enqueue(ctx, path, input.StudyID, input.InstitutionID, contentType, input.Token, opts)
}

func (i *Interactor) Cancel(ctx context.Context, taskID uuid.UUID) {
	i.engine.Cancel(ctx, taskID)
}

func (i *Interactor) ResumePersisted(ctx context.Context) (int, error) {
	return i.engine.ResumePersisted(ctx)
}

func (i *Interactor) Events() <-chan domain.Event {
	return i.engine.Events()
}

func (i *Interactor) Snapshot(taskID uuid.UUID) (domain.Task, bool) {
	return i.engine.Snapshot(taskID)
}

func (i *Interactor) Tasks(studyID uuid.UUID) []domain.Task {
	return i.engine.Tasks(studyID)
}

func (i *Interactor) Close() error {
	return i.engine.Close()
}

func guessContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mov":
		return "video/quicktime"
	case ".mp4":
		return "video/mp4"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if semi := strings.IndexByte(ct, ';'); semi >= 0 {
			ct = ct[:semi]
		}
		return ct
	}
	return fallbackContentType
}

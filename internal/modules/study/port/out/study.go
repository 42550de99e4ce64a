package out

import (
	"context"

	"github.com/google/uuid"

	"pocus/internal/modules/study/domain"
)

// StudyAPI reports failures as they happen; retrying is the caller's decision.
// Every write returns the server's post-write representation.
type StudyAPI interface {
	ListStudies(ctx context.Context, institutionID uuid.UUID, statuses []domain.Status) ([]domain.Study, error)
	CreateStudy(ctx context.Context, study domain.NewStudy) (domain.Study, error)
	UpdateStatus(ctx context.Context, studyID uuid.UUID, change domain.StatusChange) (domain.Study, error)
	UpdateNotes(ctx context.Context, studyID uuid.UUID, notes *string) (domain.Study, error)
	InsertMedia(ctx context.Context, media domain.NewMedia) (domain.Media, error)
	InsertFeedback(ctx context.Context, feedback domain.NewFeedback) (domain.Feedback, error)
	UpsertSignoff(ctx context.Context, signoff domain.SignoffUpsert) (domain.Signoff, error)
	ListMedia(ctx context.Context, studyID uuid.UUID) ([]domain.Media, error)
	ListFeedback(ctx context.Context, studyID uuid.UUID) ([]domain.Feedback, error)
	// GetSignoff returns nil without error when the study has no signoff yet.
	GetSignoff(ctx context.Context, studyID uuid.UUID) (*domain.Signoff, error)
}

package in

import (
	"context"

	"github.com/google/uuid"

	"pocus/internal/modules/study/domain"
	"pocus/internal/modules/study/dto"
)

// Usecase validates status edges and inputs before any network call.
type Usecase interface {
	List(ctx context.Context, institutionID uuid.UUID, statuses []domain.Status) ([]domain.Study, error)
	CreateDraft(ctx context.Context, input dto.CreateDraftInput) (domain.Study, error)
	Submit(ctx context.Context, study domain.Study) (domain.Study, error)
	Review(ctx context.Context, input dto.ReviewInput) (dto.ReviewOutput, error)
	Finalize(ctx context.Context, study domain.Study) (domain.Study, error)
	ChangeStatus(ctx context.Context, study domain.Study, to domain.Status) (domain.Study, error)
	SaveNotes(ctx context.Context, studyID uuid.UUID, notes string) (domain.Study, error)
	AttachMedia(ctx context.Context, input dto.AttachMediaInput) (domain.Media, error)
	LoadDetail(ctx context.Context, study domain.Study) (domain.Detail, error)
}

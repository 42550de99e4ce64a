package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pocus/internal/modules/study/domain"
	"pocus/internal/modules/study/dto"
	studyin "pocus/internal/modules/study/port/in"
	"pocus/internal/modules/study/service"
	apperrors "pocus/internal/platform/errors"
)

type Interactor struct {
	svc *service.StudyService
}

func NewInteractor(svc *service.StudyService) studyin.Usecase {
	return &Interactor{svc: svc}
}

func (i *Interactor) List(ctx context.Context, institutionID uuid.UUID, statuses []domain.Status) ([]domain.Study, error) {
	if institutionID == uuid.Nil {
		return nil, fmt.Errorf("%w: institution id is required", apperrors.ErrInvalidInput)
	}
	return i.svc.List(ctx, institutionID, statuses)
}

func (i *Interactor) CreateDraft(ctx context.Context, input dto.CreateDraftInput) (domain.Study, error) {
	if strings.TrimSpace(input.ExamType) == "" {
		return domain.Study{}, fmt.Errorf("%w: exam type is required", apperrors.ErrInvalidInput)
	}
	if input.InstitutionID == uuid.Nil || input.CreatedBy == uuid.Nil {
		return domain.Study{}, fmt.Errorf("%w: institution and creator are required", apperrors.ErrInvalidInput)
	}
	return i.svc.CreateDraft(ctx, input.InstitutionID, input.CreatedBy, input.ExamType, input.Notes)
}

func (i *Interactor) Submit(ctx context.Context, study domain.Study) (domain.Study, error) {
	return i.svc.Transition(ctx, study, domain.StatusSubmitted)
}

func (i *Interactor) Review(ctx context.Context, input dto.ReviewInput) (dto.ReviewOutput, error) {
	decision, err := domain.ParseDecision(input.Decision)
	if err != nil {
		return dto.ReviewOutput{}, err
	}
	if !domain.ValidRating(input.Rating) {
		return dto.ReviewOutput{}, fmt.Errorf("%w: rating must be between %d and %d", apperrors.ErrInvalidInput, domain.MinRating, domain.MaxRating)
	}
	if input.ReviewerID == uuid.Nil {
		return dto.ReviewOutput{}, fmt.Errorf("%w: reviewer is required", apperrors.ErrInvalidInput)
	}
	study, feedback, signoff, err := i.svc.Review(ctx, input.Study, input.ReviewerID, decision, input.Rating, input.Comments)
	if err != nil {
		return dto.ReviewOutput{}, err
	}
	return dto.ReviewOutput{Study: study, Feedback: feedback, Signoff: signoff}, nil
}

func (i *Interactor) Finalize(ctx context.Context, study domain.Study) (domain.Study, error) {
	return i.svc.Transition(ctx, study, domain.StatusSignedOff)
}

func (i *Interactor) ChangeStatus(ctx context.Context, study domain.Study, to domain.Status) (domain.Study, error) {
	if _, err := domain.ParseStatus(string(to)); err != nil {
		return domain.Study{}, err
	}
	return i.svc.Transition(ctx, study, to)
}

func (i *Interactor) SaveNotes(ctx context.Context, studyID uuid.UUID, notes string) (domain.Study, error) {
	if studyID == uuid.Nil {
		return domain.Study{}, fmt.Errorf("%w: study id is required", apperrors.ErrInvalidInput)
	}
	return i.svc.SaveNotes(ctx, studyID, notes)
}

func (i *Interactor) AttachMedia(ctx context.Context, input dto.AttachMediaInput) (domain.Media, error) {
	if input.StudyID == uuid.Nil || strings.TrimSpace(input.StoragePath) == "" {
		return domain.Media{}, fmt.Errorf("%w: study and storage path are required", apperrors.ErrInvalidInput)
	}
	media := domain.NewMedia{
		ID:          input.ID,
		StudyID:     input.StudyID,
		Kind:        domain.KindForContentType(input.ContentType),
		StoragePath: input.StoragePath,
		ContentType: input.ContentType,
		DurationSec: input.DurationSec,
		Width:       input.Width,
		Height:      input.Height,
		Status:      domain.MediaClean,
	}
	if input.SHA256 != "" {
		sum := input.SHA256
		media.SHA256 = &sum
	}
	return i.svc.AttachMedia(ctx, media)
}

func (i *Interactor) LoadDetail(ctx context.Context, study domain.Study) (domain.Detail, error) {
	if study.ID == uuid.Nil {
		return domain.Detail{}, fmt.Errorf("%w: study id is required", apperrors.ErrInvalidInput)
	}
	return i.svc.LoadDetail(ctx, study)
}

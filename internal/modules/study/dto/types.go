package dto

import (
	"github.com/google/uuid"

	"pocus/internal/modules/study/domain"
)

type CreateDraftInput struct {
	InstitutionID uuid.UUID
	CreatedBy     uuid.UUID
	ExamType      string
	Notes         string
}

type ReviewInput struct {
	Study      domain.Study
	ReviewerID uuid.UUID
	Decision   string
	Rating     *int
	Comments   string
}

type ReviewOutput struct {
	Study    domain.Study
	Feedback domain.Feedback
	Signoff  domain.Signoff
}

type AttachMediaInput struct {
	// ID is optional. Callers that need idempotent inserts pass a stable id.
	ID          uuid.UUID
	StudyID     uuid.UUID
	StoragePath string
	ContentType string
	DurationSec *float64
	Width       *int
	Height      *int
	SHA256      string
}

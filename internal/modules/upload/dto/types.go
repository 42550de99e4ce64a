package dto

import (
	"github.com/google/uuid"

	"pocus/internal/modules/upload/domain"
)

type EnqueueInput struct {
	SourcePath    string
	StudyID       uuid.UUID
	InstitutionID uuid.UUID
	// ContentType is guessed from the file extension when empty.
	ContentType string
	Token       string
	Options     domain.Options
}

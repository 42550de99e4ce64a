package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "pocus/internal/platform/errors"
)

type Feedback struct {
	ID         uuid.UUID `json:"id"`
	StudyID    uuid.UUID `json:"study_id"`
	ReviewerID uuid.UUID `json:"reviewer_id"`
	Rating     *int      `json:"rating"`
	Comments   *string   `json:"comments"`
	CreatedAt  time.Time `json:"created_at"`
}

type NewFeedback struct {
	ID         uuid.UUID `json:"id"`
	StudyID    uuid.UUID `json:"study_id"`
	ReviewerID uuid.UUID `json:"reviewer_id"`
	Rating     *int      `json:"rating,omitempty"`
	Comments   *string   `json:"comments,omitempty"`
}

type SignoffStatus string

const (
	SignoffPending   SignoffStatus = "pending"
	SignoffApproved  SignoffStatus = "approved"
	SignoffRevisions SignoffStatus = "revisions"
)

// Signoff is one per study; the latest decision wins.
type Signoff struct {
	ID          uuid.UUID     `json:"id"`
	StudyID     uuid.UUID     `json:"study_id"`
	AttendingID uuid.UUID     `json:"attending_id"`
	Status      SignoffStatus `json:"status"`
	SignedAt    *time.Time    `json:"signed_at"`
}

type SignoffUpsert struct {
	ID          uuid.UUID     `json:"id"`
	StudyID     uuid.UUID     `json:"study_id"`
	AttendingID uuid.UUID     `json:"attending_id"`
	Status      SignoffStatus `json:"status"`
	SignedAt    *time.Time    `json:"signed_at,omitempty"`
}

// Decision is an attending's verdict on a submitted study.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevise  Decision = "revise"
)

func ParseDecision(raw string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(raw))) {
	case DecisionApprove, "approved":
		return DecisionApprove, nil
	case DecisionRevise, "revisions", "needs_revision":
		return DecisionRevise, nil
	default:
		return "", fmt.Errorf("%w: decision must be approve or revise, got %q", apperrors.ErrInvalidInput, raw)
	}
}

func (d Decision) SignoffStatus() SignoffStatus {
	if d == DecisionApprove {
		return SignoffApproved
	}
	return SignoffRevisions
}

func (d Decision) TargetStatus() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusNeedsRevision
}

const (
	MinRating = 1
	MaxRating = 5
)

func ValidRating(rating *int) bool {
	return rating == nil || (*rating >= MinRating && *rating <= MaxRating)
}

// Detail is the aggregate shown for an open study.
type Detail struct {
	Study    Study
	Media    []Media
	Feedback []Feedback
	Signoff  *Signoff
}

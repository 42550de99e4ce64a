package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "pocus/internal/platform/errors"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusReviewable    Status = "reviewable"
	StatusNeedsRevision Status = "needs_revision"
	StatusApproved      Status = "approved"
	StatusSignedOff     Status = "signed_off"
)

var transitions = map[Status][]Status{
	StatusDraft:         {StatusSubmitted},
	StatusSubmitted:     {StatusReviewable, StatusApproved, StatusNeedsRevision},
	StatusReviewable:    {StatusApproved, StatusNeedsRevision},
	StatusNeedsRevision: {StatusSubmitted, StatusApproved},
	StatusApproved:      {StatusSignedOff},
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusDraft, StatusSubmitted, StatusReviewable, StatusNeedsRevision, StatusApproved, StatusSignedOff}
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusDraft, StatusSubmitted, StatusReviewable, StatusNeedsRevision, StatusApproved, StatusSignedOff:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown study status %q", apperrors.ErrInvalidInput, raw)
	}
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Study struct {
	ID            uuid.UUID  `json:"id"`
	InstitutionID uuid.UUID  `json:"institution_id"`
	CreatedBy     uuid.UUID  `json:"created_by"`
	ExamType      string     `json:"exam_type"`
	Status        Status     `json:"status"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	Notes         *string    `json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StatusChange is the write sent for a transition. SubmittedAt is nil when the
// column must be left untouched.
type StatusChange struct {
	Status      Status
	SubmittedAt *time.Time
}

// Transition validates an edge of the status graph and computes the write for it.
// submitted_at is stamped once, on the first submission, and carried over afterwards.
func (s Study) Transition(to Status, now time.Time) (StatusChange, error) {
	if !CanTransition(s.Status, to) {
		return StatusChange{}, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, s.Status, to)
	}
	change := StatusChange{Status: to, SubmittedAt: s.SubmittedAt}
	if to == StatusSubmitted && s.SubmittedAt == nil {
		stamp := now.UTC()
		change.SubmittedAt = &stamp
	}
	return change, nil
}

// CanSubmit reports whether the submit action is legal from the current status.
func (s Study) CanSubmit() bool {
	return CanTransition(s.Status, StatusSubmitted)
}

// SortKey orders the review queue: submission time, falling back to creation.
func (s Study) SortKey() time.Time {
	if s.SubmittedAt != nil {
		return *s.SubmittedAt
	}
	return s.CreatedAt
}

type NewStudy struct {
	ID            uuid.UUID `json:"id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	CreatedBy     uuid.UUID `json:"created_by"`
	ExamType      string    `json:"exam_type"`
	Status        Status    `json:"status"`
	Notes         *string   `json:"notes,omitempty"`
}

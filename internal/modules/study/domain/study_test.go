package domain

import (
	"errors"
	"testing"
	"time"

	apperrors "pocus/internal/platform/errors"
)

var allStatuses = []Status{StatusDraft, StatusSubmitted, StatusReviewable, StatusNeedsRevision, StatusApproved, StatusSignedOff}

func TestTransitionGraph(t *testing.T) {
	t.Parallel()
	legal := map[[2]Status]bool{
		{StatusDraft, StatusSubmitted}:          true,
		{StatusSubmitted, StatusReviewable}:     true,
		{StatusSubmitted, StatusApproved}:       true,
		{StatusReviewable, StatusApproved}:      true,
		{StatusNeedsRevision, StatusApproved}:   true,
		{StatusSubmitted, StatusNeedsRevision}:  true,
		{StatusReviewable, StatusNeedsRevision}: true,
		{StatusApproved, StatusSignedOff}:       true,
		{StatusNeedsRevision, StatusSubmitted}:  true,
	}
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := legal[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			study := Study{Status: from}
			_, err := study.Transition(to, now)
			if want && err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
			}
			if !want && !errors.Is(err, apperrors.ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			if study.Status != from {
				t.Fatalf("transition must not mutate the study")
			}
		}
	}
}

func TestSubmittedAtIsStampedOnceAndCarried(t *testing.T) {
	t.Parallel()
	first := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	change, err := Study{Status: StatusDraft}.Transition(StatusSubmitted, first)
	if err != nil || change.SubmittedAt == nil || !change.SubmittedAt.Equal(first) {
		t.Fatalf("expected submitted_at stamped at first submit, got %+v %v", change, err)
	}

	resubmit, err := Study{Status: StatusNeedsRevision, SubmittedAt: change.SubmittedAt}.Transition(StatusSubmitted, later)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !resubmit.SubmittedAt.Equal(first) {
		t.Fatalf("resubmission must keep the original submitted_at, got %s", resubmit.SubmittedAt)
	}

	revise, err := Study{Status: StatusSubmitted, SubmittedAt: change.SubmittedAt}.Transition(StatusNeedsRevision, later)
	if err != nil || !revise.SubmittedAt.Equal(first) {
		t.Fatalf("review must carry submitted_at, got %+v %v", revise, err)
	}
}

func TestCanSubmit(t *testing.T) {
	t.Parallel()
	for _, status := range allStatuses {
		want := status == StatusDraft || status == StatusNeedsRevision
		if got := (Study{Status: status}).CanSubmit(); got != want {
			t.Fatalf("CanSubmit(%s) = %v", status, got)
		}
	}
}

func TestKindForContentTypeAndDecision(t *testing.T) {
	t.Parallel()
	if KindForContentType("Video/QuickTime") != KindVideo || KindForContentType("image/png") != KindImage || KindForContentType("application/dicom") != KindOther {
		t.Fatalf("unexpected kind mapping")
	}
	decision, err := ParseDecision("Revise")
	if err != nil || decision.TargetStatus() != StatusNeedsRevision || decision.SignoffStatus() != SignoffRevisions {
		t.Fatalf("unexpected decision %q %v", decision, err)
	}
	if _, err := ParseDecision("maybe"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid decision, got %v", err)
	}
	bad := 6
	if ValidRating(&bad) || !ValidRating(nil) {
		t.Fatalf("unexpected rating validation")
	}
}

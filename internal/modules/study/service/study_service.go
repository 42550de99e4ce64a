package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pocus/internal/modules/study/domain"
	studyout "pocus/internal/modules/study/port/out"
	"pocus/internal/platform/clock"
	"pocus/internal/platform/id"
)

type StudyService struct {
	clock clock.Clock
	ids   id.Generator
	api   studyout.StudyAPI
}

func NewStudyService(clock clock.Clock, ids id.Generator, api studyout.StudyAPI) *StudyService {
	return &StudyService{clock: clock, ids: ids, api: api}
}

func (s *StudyService) List(ctx context.Context, institutionID uuid.UUID, statuses []domain.Status) ([]domain.Study, error) {
	return s.api.ListStudies(ctx, institutionID, statuses)
}

func (s *StudyService) CreateDraft(ctx context.Context, institutionID, createdBy uuid.UUID, examType, notes string) (domain.Study, error) {
	return s.api.CreateStudy(ctx, domain.NewStudy{
		ID:            s.ids.New(),
		InstitutionID: institutionID,
		CreatedBy:     createdBy,
		ExamType:      strings.TrimSpace(examType),
		Status:        domain.StatusDraft,
		Notes:         optional(notes),
	})
}

// Transition writes a validated edge. An illegal edge fails before the request is sent.
func (s *StudyService) Transition(ctx context.Context, study domain.Study, to domain.Status) (domain.Study, error) {
	change, err := study.Transition(to, s.clock.Now())
	if err != nil {
		return domain.Study{}, err
	}
	return s.api.UpdateStatus(ctx, study.ID, change)
}

// Review records feedback, then the signoff, then moves the study. The edge is
// checked up front so a rejected review writes nothing.
func (s *StudyService) Review(ctx context.Context, study domain.Study, reviewerID uuid.UUID, decision domain.Decision, rating *int, comments string) (domain.Study, domain.Feedback, domain.Signoff, error) {
	change, err := study.Transition(decision.TargetStatus(), s.clock.Now())
	if err != nil {
		return domain.Study{}, domain.Feedback{}, domain.Signoff{}, err
	}
	feedback, err := s.api.InsertFeedback(ctx, domain.NewFeedback{
		ID:         s.ids.New(),
		StudyID:    study.ID,
		ReviewerID: reviewerID,
		Rating:     rating,
		Comments:   optional(comments),
	})
	if err != nil {
		return domain.Study{}, domain.Feedback{}, domain.Signoff{}, err
	}
	signedAt := s.clock.Now().UTC()
	signoff, err := s.api.UpsertSignoff(ctx, domain.SignoffUpsert{
		ID:          s.ids.New(),
		StudyID:     study.ID,
		AttendingID: reviewerID,
		Status:      decision.SignoffStatus(),
		SignedAt:    &signedAt,
	})
	if err != nil {
		return domain.Study{}, domain.Feedback{}, domain.Signoff{}, err
	}
	updated, err := s.api.UpdateStatus(ctx, study.ID, change)
	if err != nil {
		return domain.Study{}, domain.Feedback{}, domain.Signoff{}, err
	}
	return updated, feedback, signoff, nil
}

func (s *StudyService) SaveNotes(ctx context.Context, studyID uuid.UUID, notes string) (domain.Study, error) {
	return s.api.UpdateNotes(ctx, studyID, optional(notes))
}

func (s *StudyService) AttachMedia(ctx context.Context, media domain.NewMedia) (domain.Media, error) {
	if media.ID == uuid.Nil {
		media.ID = s.ids.New()
	}
	return s.api.InsertMedia(ctx, media)
}

// LoadDetail fetches media, feedback and signoff concurrently.
func (s *StudyService) LoadDetail(ctx context.Context, study domain.Study) (domain.Detail, error) {
	detail := domain.Detail{Study: study}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		media, err := s.api.ListMedia(gctx, study.ID)
		detail.Media = media
		return err
	})
	g.Go(func() error {
		feedback, err := s.api.ListFeedback(gctx, study.ID)
		detail.Feedback = feedback
		return err
	})
	g.Go(func() error {
		signoff, err := s.api.GetSignoff(gctx, study.ID)
		detail.Signoff = signoff
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Detail{}, err
	}
	return detail, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

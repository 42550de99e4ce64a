package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	authdomain "pocus/internal/modules/auth/domain"
	memberdomain "pocus/internal/modules/membership/domain"
	studydomain "pocus/internal/modules/study/domain"
	uploaddomain "pocus/internal/modules/upload/domain"
	apperrors "pocus/internal/platform/errors"
)

// InstitutionKey is the preference key holding the last selected institution id.
const InstitutionKey = "pocus.selectedInstitution"

type Phase string

const (
	PhaseLoading              Phase = "loading"
	PhaseLogin                Phase = "login"
	PhaseCodeEntry            Phase = "code_entry"
	PhaseSelectingInstitution Phase = "selecting_institution"
	PhaseDashboard            Phase = "dashboard"
)

type Filter string

const (
	FilterDrafts     Filter = "drafts"
	FilterQueue      Filter = "queue"
	FilterReviewable Filter = "reviewable"
	FilterCompleted  Filter = "completed"
	FilterAll        Filter = "all"
)

func ParseFilter(raw string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case FilterDrafts, FilterQueue, FilterReviewable, FilterCompleted, FilterAll:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown filter %q", apperrors.ErrInvalidInput, raw)
	}
}

// Banner is a dismissible message. Seq grows with every banner raised.
type Banner struct {
	Seq  uint64
	Text string
}

// ActiveSession exists only in the dashboard phase.
type ActiveSession struct {
	User       authdomain.User
	Membership memberdomain.Membership
}

// State is everything an observer can see. Values handed out are clones.
// User is set from sign-in on; Session only once an institution is active.
type State struct {
	Phase       Phase
	Email       string
	User        authdomain.User
	Session     *ActiveSession
	Memberships []memberdomain.Membership
	Studies     []studydomain.Study
	Filter      Filter
	Detail      *studydomain.Detail
	Banner      *Banner
	BannerSeq   uint64
	Uploads     map[uuid.UUID]uploaddomain.Task
	Persisted   map[uuid.UUID]bool
}

func Initial() State {
	return State{
		Phase:     PhaseLoading,
		Filter:    FilterQueue,
		Uploads:   map[uuid.UUID]uploaddomain.Task{},
		Persisted: map[uuid.UUID]bool{},
	}
}

func (s *State) Raise(text string) {
	s.BannerSeq++
	s.Banner = &Banner{Seq: s.BannerSeq, Text: text}
}

// ClearSession drops every session-scoped field. Upload bookkeeping survives.
func (s *State) ClearSession() {
	s.Email = ""
	s.User = authdomain.User{}
	s.Session = nil
	s.Memberships = nil
	s.Studies = nil
	s.Detail = nil
}

// Visible returns the studies matching the filter, newest first.
func (s State) Visible() []studydomain.Study {
	if s.Session == nil {
		return nil
	}
	out := make([]studydomain.Study, 0, len(s.Studies))
	for _, study := range s.Studies {
		if s.matches(study) {
			out = append(out, study)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s State) matches(study studydomain.Study) bool {
	switch s.Filter {
	case FilterDrafts:
		return study.Status == studydomain.StatusDraft && study.CreatedBy == s.Session.User.ID
	case FilterQueue:
		return study.Status == studydomain.StatusSubmitted || study.Status == studydomain.StatusNeedsRevision
	case FilterReviewable:
		return study.Status == studydomain.StatusReviewable
	case FilterCompleted:
		return study.Status == studydomain.StatusApproved || study.Status == studydomain.StatusSignedOff
	default:
		return true
	}
}

// ReviewQueue lists studies awaiting an attending, most recently submitted first.
func (s State) ReviewQueue() []studydomain.Study {
	if s.Session == nil {
		return nil
	}
	out := make([]studydomain.Study, 0, len(s.Studies))
	for _, study := range s.Studies {
		switch study.Status {
		case studydomain.StatusSubmitted, studydomain.StatusReviewable, studydomain.StatusNeedsRevision:
			out = append(out, study)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortKey().After(out[j].SortKey()) })
	return out
}

func (s State) CanSubmit() bool {
	return s.Detail != nil && s.Detail.Study.CanSubmit()
}

func (s State) CanReview() bool {
	return s.Session != nil && s.Session.Membership.Role.CanReview()
}

func (s State) FindStudy(id uuid.UUID) (studydomain.Study, bool) {
	for _, study := range s.Studies {
		if study.ID == id {
			return study, true
		}
	}
	if s.Detail != nil && s.Detail.Study.ID == id {
		return s.Detail.Study, true
	}
	return studydomain.Study{}, false
}

// PutStudy replaces the study with the same id or appends it. A known
// submitted_at is never cleared by a row that lacks one.
func (s *State) PutStudy(study studydomain.Study) {
	if s.Detail != nil && s.Detail.Study.ID == study.ID {
		study = keepSubmittedAt(s.Detail.Study, study)
		s.Detail.Study = study
	}
	for i := range s.Studies {
		if s.Studies[i].ID == study.ID {
			s.Studies[i] = keepSubmittedAt(s.Studies[i], study)
			return
		}
	}
	s.Studies = append(s.Studies, study)
}

func keepSubmittedAt(prev, next studydomain.Study) studydomain.Study {
	if next.SubmittedAt == nil && prev.SubmittedAt != nil {
		stamp := *prev.SubmittedAt
		next.SubmittedAt = &stamp
	}
	return next
}

// UploadsFor returns the tracked tasks of one study, oldest first. uuid.Nil selects all.
func (s State) UploadsFor(studyID uuid.UUID) []uploaddomain.Task {
	out := []uploaddomain.Task{}
	for _, task := range s.Uploads {
		if studyID == uuid.Nil || task.StudyID == studyID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s State) Clone() State {
	c := s
	if s.Session != nil {
		session := *s.Session
		c.Session = &session
	}
	if s.Banner != nil {
		banner := *s.Banner
		c.Banner = &banner
	}
	c.Memberships = append([]memberdomain.Membership(nil), s.Memberships...)
	c.Studies = append([]studydomain.Study(nil), s.Studies...)
	if s.Detail != nil {
		detail := *s.Detail
		detail.Media = append([]studydomain.Media(nil), s.Detail.Media...)
		detail.Feedback = append([]studydomain.Feedback(nil), s.Detail.Feedback...)
		if s.Detail.Signoff != nil {
			signoff := *s.Detail.Signoff
			detail.Signoff = &signoff
		}
		c.Detail = &detail
	}
	c.Uploads = make(map[uuid.UUID]uploaddomain.Task, len(s.Uploads))
	for k, v := range s.Uploads {
		c.Uploads[k] = v
	}
	c.Persisted = make(map[uuid.UUID]bool, len(s.Persisted))
	for k, v := range s.Persisted {
		c.Persisted[k] = v
	}
	return c
}

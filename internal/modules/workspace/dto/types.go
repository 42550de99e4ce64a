package dto

import (
	"github.com/google/uuid"

	memberdomain "pocus/internal/modules/membership/domain"
	studydomain "pocus/internal/modules/study/domain"
	uploaddomain "pocus/internal/modules/upload/domain"
	"pocus/internal/modules/workspace/domain"
)

type CreateStudyInput struct {
	ExamType string
	Notes    string
}

type ReviewInput struct {
	StudyID  uuid.UUID
	Decision string
	Rating   *int
	Comments string
}

type UploadInput struct {
	StudyID     uuid.UUID
	SourcePath  string
	ContentType string
}

type UploadView struct {
	Task      uploaddomain.Task
	Persisted bool
}

// Snapshot is a read-only projection of the workspace for observers.
type Snapshot struct {
	Phase         string
	Email         string
	UserID        uuid.UUID
	Membership    *memberdomain.Membership
	Memberships   []memberdomain.Membership
	Filter        string
	Studies       []studydomain.Study
	ReviewQueue   []studydomain.Study
	Detail        *studydomain.Detail
	CanSubmit     bool
	CanReview     bool
	Banner        string
	BannerSeq     uint64
	Uploads       []UploadView
	SessionActive bool
	// Metrics is set for administrators.
	Metrics       *domain.ProgramMetrics
}

func NewSnapshot(s domain.State) Snapshot {
	c := s.Clone()
	out := Snapshot{
		Phase:       string(c.Phase),
		Email:       c.Email,
		Memberships: c.Memberships,
		Filter:      string(c.Filter),
		Studies:     c.Visible(),
		ReviewQueue: c.ReviewQueue(),
		Detail:      c.Detail,
		CanSubmit:   c.CanSubmit(),
		CanReview:   c.CanReview(),
	}
	if c.Session != nil {
		membership := c.Session.Membership
		out.Membership = &membership
		out.UserID = c.Session.User.ID
		out.SessionActive = true
	}
	if metrics, ok := c.Metrics(); ok {
		out.Metrics = &metrics
	}
	if c.Banner != nil {
		out.Banner = c.Banner.Text
		out.BannerSeq = c.Banner.Seq
	}
	for _, task := range c.UploadsFor(uuid.Nil) {
		out.Uploads = append(out.Uploads, UploadView{Task: task, Persisted: c.Persisted[task.ID]})
	}
	return out
}

// Upload finds a tracked task by id.
func (s Snapshot) Upload(taskID uuid.UUID) (UploadView, bool) {
	for _, view := range s.Uploads {
		if view.Task.ID == taskID {
			return view, true
		}
	}
	return UploadView{}, false
}

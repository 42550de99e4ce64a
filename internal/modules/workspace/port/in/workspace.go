package in

import (
	"context"

	"github.com/google/uuid"

	studydomain "pocus/internal/modules/study/domain"
	uploaddomain "pocus/internal/modules/upload/domain"
	"pocus/internal/modules/workspace/dto"
)

// Usecase drives the session from sign-in to the dashboard. Repository failures
// are raised as a banner and also returned; the local mirror only changes on success.
type Usecase interface {
	Bootstrap(ctx context.Context) error
	RequestCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, code string) error
	SelectInstitution(ctx context.Context, institutionID uuid.UUID) error
	// SignOut always ends in the login phase. Remote failures are only logged.
	SignOut(ctx context.Context) error

	RefreshStudies(ctx context.Context) error
	CreateStudy(ctx context.Context, input dto.CreateStudyInput) (studydomain.Study, error)
	OpenStudy(ctx context.Context, studyID uuid.UUID) error
	CloseStudy()
	SubmitStudy(ctx context.Context, studyID uuid.UUID) error
	ReviewStudy(ctx context.Context, input dto.ReviewInput) error
	FinalizeStudy(ctx context.Context, studyID uuid.UUID) error
	SaveNotes(ctx context.Context, studyID uuid.UUID, notes string) error
	SetFilter(filter string) error

	EnqueueUpload(ctx context.Context, input dto.UploadInput) (uuid.UUID, error)
	CancelUpload(ctx context.Context, taskID uuid.UUID)
	ResumeUploads(ctx context.Context) (int, error)
	// HandleUploadEvent applies one engine event. Run feeds it from the engine's stream.
	HandleUploadEvent(ctx context.Context, event uploaddomain.Event)
	Run(ctx context.Context) error

	DismissBanner()
	Snapshot() dto.Snapshot
	// Subscribe yields the latest snapshot after every change until ctx ends.
	Subscribe(ctx context.Context) <-chan dto.Snapshot
}

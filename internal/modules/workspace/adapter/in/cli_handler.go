package in

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"pocus/internal/modules/workspace/dto"
	workspacein "pocus/internal/modules/workspace/port/in"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/slug"
)

// CLIHandler adapts command-line arguments to the workspace usecase.
type CLIHandler struct {
	usecase workspacein.Usecase
}

func NewCLIHandler(usecase workspacein.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Bootstrap(ctx context.Context) (dto.Snapshot, error) {
	err := h.usecase.Bootstrap(ctx)
	return h.usecase.Snapshot(), err
}

func (h CLIHandler) RequestCode(ctx context.Context, email string) error {
	return h.usecase.RequestCode(ctx, email)
}

func (h CLIHandler) VerifyCode(ctx context.Context, code string) (dto.Snapshot, error) {
	err := h.usecase.VerifyCode(ctx, code)
	return h.usecase.Snapshot(), err
}

// SelectInstitution accepts an institution id, its slug, or its display name.
func (h CLIHandler) SelectInstitution(ctx context.Context, ref string) (dto.Snapshot, error) {
	snap := h.usecase.Snapshot()
	ref = strings.TrimSpace(ref)
	wanted := slug.Make(ref)
	for _, m := range snap.Memberships {
		if m.InstitutionID.String() == ref || m.Institution.Slug == wanted || slug.Make(m.Institution.Name) == wanted {
			err := h.usecase.SelectInstitution(ctx, m.InstitutionID)
			return h.usecase.Snapshot(), err
		}
	}
	return snap, fmt.Errorf("%w: no membership matches %q", apperrors.ErrInvalidInput, ref)
}

func (h CLIHandler) SignOut(ctx context.Context) error {
	return h.usecase.SignOut(ctx)
}

func (h CLIHandler) ListStudies(ctx context.Context, filter string) (dto.Snapshot, error) {
	if filter != "" {
		if err := h.usecase.SetFilter(filter); err != nil {
			return dto.Snapshot{}, err
		}
	}
	err := h.usecase.RefreshStudies(ctx)
	return h.usecase.Snapshot(), err
}

func (h CLIHandler) CreateStudy(ctx context.Context, examType, notes string) (dto.Snapshot, error) {
	_, err := h.usecase.CreateStudy(ctx, dto.CreateStudyInput{ExamType: examType, Notes: notes})
	return h.usecase.Snapshot(), err
}

func (h CLIHandler) ShowStudy(ctx context.Context, studyID string) (dto.Snapshot, error) {
	id, err := parseID(studyID)
	if err != nil {
		return dto.Snapshot{}, err
	}
	err = h.usecase.OpenStudy(ctx, id)
	return h.usecase.Snapshot(), err
}

func (h CLIHandler) SubmitStudy(ctx context.Context, studyID string) (dto.Snapshot, error) {
	id, err := parseID(studyID)
	if err != nil {
		return dto.Snapshot{}, err
	}
	err = h.usecase.SubmitStudy(ctx, id)
	return h.usecase.Snapshot(), err
}

// ReviewStudy takes an optional rating; an empty string means no rating.
func (h CLIHandler) ReviewStudy(ctx context.Context, studyID, decision, rating, comments string) (dto.Snapshot, error) {
	id, err := parseID(studyID)
	if err != nil {
		return dto.Snapshot{}, err
	}
	input := dto.ReviewInput{StudyID: id, Decision: decision, Comments: comments}
	if strings.TrimSpace(rating) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(rating))
		if err != nil {
			return dto.Snapshot{}, fmt.Errorf("%w: rating must be a number", apperrors.ErrInvalidInput)
		}
		input.Rating = &n
	}
	err = h.usecase.ReviewStudy(ctx, input)
	return h.usecase.Snapshot(), err
}

func (h CLIHandler) FinalizeStudy(ctx context.Context, studyID string) (dto.Snapshot, error) {
	id, err := parseID(studyID)
	if err != nil {
		return dto.Snapshot{}, err
	}
	err = h.usecase.FinalizeStudy(ctx, id)
	return h.usecase.Snapshot(), err
}

func (h CLIHandler) SaveNotes(ctx context.Context, studyID, notes string) (dto.Snapshot, error) {
	id, err := parseID(studyID)
	if err != nil {
		return dto.Snapshot{}, err
	}
	err = h.usecase.SaveNotes(ctx, id, notes)
	return h.usecase.Snapshot(), err
}

func (h CLIHandler) Upload(ctx context.Context, studyID, path, contentType string) (uuid.UUID, error) {
	id, err := parseID(studyID)
	if err != nil {
		return uuid.Nil, err
	}
	return h.usecase.EnqueueUpload(ctx, dto.UploadInput{StudyID: id, SourcePath: path, ContentType: contentType})
}

func (h CLIHandler) CancelUpload(ctx context.Context, taskID string) error {
	id, err := parseID(taskID)
	if err != nil {
		return err
	}
	h.usecase.CancelUpload(ctx, id)
	return nil
}

func (h CLIHandler) ResumeUploads(ctx context.Context) (int, error) {
	return h.usecase.ResumeUploads(ctx)
}

// Run consumes upload events until ctx ends.
func (h CLIHandler) Run(ctx context.Context) error {
	return h.usecase.Run(ctx)
}

func (h CLIHandler) Watch(ctx context.Context) <-chan dto.Snapshot {
	return h.usecase.Subscribe(ctx)
}

func (h CLIHandler) Snapshot() dto.Snapshot {
	return h.usecase.Snapshot()
}

func (h CLIHandler) SetFilter(filter string) error {
	return h.usecase.SetFilter(filter)
}

func (h CLIHandler) CloseStudy() {
	h.usecase.CloseStudy()
}

func (h CLIHandler) DismissBanner() {
	h.usecase.DismissBanner()
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not an id", apperrors.ErrInvalidInput, raw)
	}
	return id, nil
}

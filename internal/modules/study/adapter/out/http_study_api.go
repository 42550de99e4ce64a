package out

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"pocus/internal/modules/study/domain"
	studyout "pocus/internal/modules/study/port/out"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/rest"
)

const (
	preferRepresentation = "return=representation"
	preferMerge          = "resolution=merge-duplicates,return=representation"
)

// HTTPStudyAPI talks to the table endpoints under /rest/v1.
type HTTPStudyAPI struct {
	client *rest.Client
}

func NewHTTPStudyAPI(client *rest.Client) studyout.StudyAPI {
	return &HTTPStudyAPI{client: client}
}

func (a *HTTPStudyAPI) ListStudies(ctx context.Context, institutionID uuid.UUID, statuses []domain.Status) ([]domain.Study, error) {
	query := url.Values{
		"select":         {"*"},
		"institution_id": {eq(institutionID)},
		"order":          {"created_at.desc"},
	}
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, status := range statuses {
			names = append(names, string(status))
		}
		query.Set("status", "in.("+strings.Join(names, ",")+")")
	}
	rows := []domain.Study{}
	if err := a.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: "/rest/v1/studies", Query: query}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (a *HTTPStudyAPI) CreateStudy(ctx context.Context, study domain.NewStudy) (domain.Study, error) {
	return writeOne[domain.Study](ctx, a.client, http.MethodPost, "/rest/v1/studies", nil, study, preferRepresentation)
}

type statusPayload struct {
	Status      domain.Status `json:"status"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
}

func (a *HTTPStudyAPI) UpdateStatus(ctx context.Context, studyID uuid.UUID, change domain.StatusChange) (domain.Study, error) {
	body := statusPayload{Status: change.Status, SubmittedAt: change.SubmittedAt}
	return writeOne[domain.Study](ctx, a.client, http.MethodPatch, "/rest/v1/studies", url.Values{"id": {eq(studyID)}}, body, preferRepresentation)
}

func (a *HTTPStudyAPI) UpdateNotes(ctx context.Context, studyID uuid.UUID, notes *string) (domain.Study, error) {
	body := map[string]*string{"notes": notes}
	return writeOne[domain.Study](ctx, a.client, http.MethodPatch, "/rest/v1/studies", url.Values{"id": {eq(studyID)}}, body, preferRepresentation)
}

func (a *HTTPStudyAPI) InsertMedia(ctx context.Context, media domain.NewMedia) (domain.Media, error) {
	return writeOne[domain.Media](ctx, a.client, http.MethodPost, "/rest/v1/media", nil, media, preferRepresentation)
}

func (a *HTTPStudyAPI) InsertFeedback(ctx context.Context, feedback domain.NewFeedback) (domain.Feedback, error) {
	return writeOne[domain.Feedback](ctx, a.client, http.MethodPost, "/rest/v1/feedback", nil, feedback, preferRepresentation)
}

func (a *HTTPStudyAPI) UpsertSignoff(ctx context.Context, signoff domain.SignoffUpsert) (domain.Signoff, error) {
	return writeOne[domain.Signoff](ctx, a.client, http.MethodPost, "/rest/v1/signoffs", url.Values{"on_conflict": {"study_id"}}, signoff, preferMerge)
}

func (a *HTTPStudyAPI) ListMedia(ctx context.Context, studyID uuid.UUID) ([]domain.Media, error) {
	rows := []domain.Media{}
	err := a.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: "/rest/v1/media", Query: byStudy(studyID, "created_at.desc")}, &rows)
	return rows, err
}

func (a *HTTPStudyAPI) ListFeedback(ctx context.Context, studyID uuid.UUID) ([]domain.Feedback, error) {
	rows := []domain.Feedback{}
	err := a.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: "/rest/v1/feedback", Query: byStudy(studyID, "created_at.desc")}, &rows)
	return rows, err
}

func (a *HTTPStudyAPI) GetSignoff(ctx context.Context, studyID uuid.UUID) (*domain.Signoff, error) {
	query := byStudy(studyID, "")
	query.Set("limit", "1")
	rows := []domain.Signoff{}
	if err := a.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: "/rest/v1/signoffs", Query: query}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// writeOne sends a write that must affect exactly one row and decodes that row.
func writeOne[T any](ctx context.Context, client *rest.Client, method, path string, query url.Values, body any, prefer string) (T, error) {
	var zero T
	rows := []T{}
	err := client.Do(ctx, rest.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
		Header: map[string]string{"Prefer": prefer},
	}, &rows)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%w: %s %s returned no row", apperrors.ErrNotFound, method, path)
	}
	return rows[0], nil
}

func byStudy(studyID uuid.UUID, order string) url.Values {
	query := url.Values{"select": {"*"}, "study_id": {eq(studyID)}}
	if order != "" {
		query.Set("order", order)
	}
	return query
}

func eq(id uuid.UUID) string {
	return "eq." + id.String()
}

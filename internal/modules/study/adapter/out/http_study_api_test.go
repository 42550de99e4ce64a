package out_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	studyout "pocus/internal/modules/study/adapter/out"
	"pocus/internal/modules/study/domain"
	"pocus/internal/platform/rest"
)

func TestUpdateStatusOmitsUnsetSubmittedAt(t *testing.T) {
	t.Parallel()
	studyID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Query().Get("id") != "eq."+studyID.String() {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("expected representation preference, got %q", r.Header.Get("Prefer"))
		}
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["submitted_at"]; ok {
			t.Errorf("submitted_at must be omitted when unset: %v", body)
		}
		_, _ = w.Write([]byte(`[{"id":"` + studyID.String() + `","status":"reviewable","exam_type":"FAST","created_at":"2026-04-01T08:00:00Z"}]`))
	}))
	defer srv.Close()

	api := studyout.NewHTTPStudyAPI(rest.New(srv.URL, "anon", nil))
	got, err := api.UpdateStatus(context.Background(), studyID, domain.StatusChange{Status: domain.StatusReviewable})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got.Status != domain.StatusReviewable || !got.CreatedAt.Equal(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected study %+v", got)
	}
}

func TestListStudiesFiltersByStatusesAndGetSignoffHandlesEmpty(t *testing.T) {
	t.Parallel()
	institution := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/studies":
			if r.URL.Query().Get("status") != "in.(submitted,needs_revision)" {
				t.Errorf("unexpected status filter %q", r.URL.Query().Get("status"))
			}
			if r.URL.Query().Get("institution_id") != "eq."+institution.String() {
				t.Errorf("unexpected institution filter")
			}
			_, _ = w.Write([]byte(`[]`))
		case "/rest/v1/signoffs":
			_, _ = w.Write([]byte(`[]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	api := studyout.NewHTTPStudyAPI(rest.New(srv.URL, "anon", nil))
	studies, err := api.ListStudies(context.Background(), institution, []domain.Status{domain.StatusSubmitted, domain.StatusNeedsRevision})
	if err != nil || len(studies) != 0 {
		t.Fatalf("unexpected list %v %v", studies, err)
	}
	signoff, err := api.GetSignoff(context.Background(), uuid.New())
	if err != nil || signoff != nil {
		t.Fatalf("expected no signoff, got %+v %v", signoff, err)
	}
}

package out_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	authout "pocus/internal/modules/auth/adapter/out"
	"pocus/internal/modules/auth/domain"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/rest"
)

func TestVerifyOTPDecodesSession(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != "email" || body["email"] != "a@b.org" || body["token"] != "123456" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_at":1780000000,"user":{"id":"6f1c5a8e-8a55-4b0e-9d1c-2c1f0b7a9e11","email":"a@b.org"}}`))
	}))
	defer srv.Close()

	api := authout.NewHTTPAuthAPI(rest.New(srv.URL, "anon", nil))
	session, err := api.VerifyOTP(context.Background(), "a@b.org", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if session.AccessToken != "at" || session.RefreshToken != "rt" || session.User.ID.String() != "6f1c5a8e-8a55-4b0e-9d1c-2c1f0b7a9e11" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.ExpiresAt.Unix() != 1780000000 {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}
}

func TestVerifyOTPMapsRejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "expired", status: http.StatusForbidden, body: `{"error_code":"otp_expired","msg":"Token has expired or is invalid"}`, want: apperrors.ErrExpiredCode},
		{name: "invalid", status: http.StatusBadRequest, body: `{"error_code":"validation_failed"}`, want: apperrors.ErrInvalidCode},
		{name: "missing session", status: http.StatusOK, body: `{}`, want: apperrors.ErrMissingSession},
		{name: "server down", status: http.StatusBadGateway, body: ``, want: apperrors.ErrTransport},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := authout.NewHTTPAuthAPI(rest.New(srv.URL, "anon", nil)).VerifyOTP(context.Background(), "a@b.org", "1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSignOutSendsSessionToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	if err := authout.NewHTTPAuthAPI(rest.New(srv.URL, "anon", nil)).SignOut(context.Background(), "user-token"); err != nil {
		t.Fatalf("sign out: %v", err)
	}
}

func TestFileSessionStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store := authout.NewFileSessionStore(filepath.Join(t.TempDir(), "nested", "session.json"))
	if _, err := store.Load(context.Background()); !errors.Is(err, apperrors.ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
	if err := store.Save(context.Background(), domain.Session{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil || got.AccessToken != "a" {
		t.Fatalf("unexpected load %+v %v", got, err)
	}
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("second clear must be a no-op: %v", err)
	}
}

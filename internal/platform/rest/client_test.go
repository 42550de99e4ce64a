package rest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/rest"
)

func TestDoSendsKeysAndDecodes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("id") != "eq.7" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	client := rest.New(srv.URL, "anon", func(context.Context) (string, error) { return "user-token", nil })
	out := struct {
		Name string `json:"name"`
	}{}
	err := client.Do(context.Background(), rest.Request{Method: http.MethodGet, Path: "/rest/v1/x", Query: map[string][]string{"id": {"eq.7"}}}, &out)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if out.Name != "ok" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestAnonymousRequestUsesAPIKeyAsBearer(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer anon" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := rest.New(srv.URL, "anon", func(context.Context) (string, error) {
		return "", errors.New("token must not be requested")
	})
	if err := client.Do(context.Background(), rest.Request{Method: http.MethodPost, Path: "/auth", Anonymous: true}, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
}

func TestErrorStatusesMapToSentinels(t *testing.T) {
	t.Parallel()
	cases := map[int]error{
		http.StatusNotFound:            apperrors.ErrNotFound,
		http.StatusConflict:            apperrors.ErrConflict,
		http.StatusServiceUnavailable:  apperrors.ErrTransport,
		http.StatusUnprocessableEntity: apperrors.ErrInvalidInput,
	}
	for status, want := range cases {
		status, want := status, want
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error_code":"some_code","msg":"nope"}`))
			}))
			defer srv.Close()
			err := rest.New(srv.URL, "", nil).Do(context.Background(), rest.Request{Method: http.MethodGet, Path: "/"}, nil)
			if !errors.Is(err, want) {
				t.Fatalf("expected %v, got %v", want, err)
			}
			var apiErr *rest.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != "some_code" || apiErr.Message != "nope" {
				t.Fatalf("expected decoded api error, got %#v", err)
			}
		})
	}
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	err := rest.New(url, "", nil).Do(context.Background(), rest.Request{Method: http.MethodGet, Path: "/"}, nil)
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

package out

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"pocus/internal/modules/auth/domain"
	authout "pocus/internal/modules/auth/port/out"
	apperrors "pocus/internal/platform/errors"
	"pocus/internal/platform/rest"
)

type HTTPAuthAPI struct {
	client *rest.Client
}

func NewHTTPAuthAPI(client *rest.Client) authout.AuthAPI {
	return &HTTPAuthAPI{client: client}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
	} `json:"user"`
}

func (r tokenResponse) session(fallbackEmail string) domain.Session {
	session := domain.Session{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	switch {
	case r.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	case r.ExpiresIn > 0:
		session.ExpiresAt = time.Now().UTC().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if r.User != nil {
		session.User = domain.User{ID: r.User.ID, Email: r.User.Email}
	}
	if session.User.Email == "" {
		session.User.Email = fallbackEmail
	}
	return session
}

func (a *HTTPAuthAPI) SendOTP(ctx context.Context, email string) error {
	return a.client.Do(ctx, rest.Request{
		Method:    http.MethodPost,
		Path:      "/auth/v1/otp",
		Body:      map[string]any{"email": email, "create_user": false},
		Anonymous: true,
	}, nil)
}

func (a *HTTPAuthAPI) VerifyOTP(ctx context.Context, email, code string) (domain.Session, error) {
	resp := tokenResponse{}
	err := a.client.Do(ctx, rest.Request{
		Method:    http.MethodPost,
		Path:      "/auth/v1/verify",
		Body:      map[string]string{"type": "email", "email": email, "token": code},
		Anonymous: true,
	}, &resp)
	if err != nil {
		return domain.Session{}, verifyError(err)
	}
	if resp.AccessToken == "" || resp.User == nil {
		return domain.Session{}, apperrors.ErrMissingSession
	}
	return resp.session(email), nil
}

func (a *HTTPAuthAPI) Refresh(ctx context.Context, refreshToken string) (domain.Session, error) {
	resp := tokenResponse{}
	err := a.client.Do(ctx, rest.Request{
		Method:    http.MethodPost,
		Path:      "/auth/v1/token",
		Query:     url.Values{"grant_type": {"refresh_token"}},
		Body:      map[string]string{"refresh_token": refreshToken},
		Anonymous: true,
	}, &resp)
	if err != nil {
		return domain.Session{}, err
	}
	return resp.session(""), nil
}

func (a *HTTPAuthAPI) SignOut(ctx context.Context, accessToken string) error {
	return a.client.Do(ctx, rest.Request{
		Method:    http.MethodPost,
		Path:      "/auth/v1/logout",
		Header:    map[string]string{"Authorization": "Bearer " + accessToken},
		Anonymous: true,
	}, nil)
}

func verifyError(err error) error {
	var apiErr *rest.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Code == "otp_expired" {
		return apperrors.ErrExpiredCode
	}
	if apiErr.Status >= 400 && apiErr.Status < 500 {
		return apperrors.ErrInvalidCode
	}
	return err
}

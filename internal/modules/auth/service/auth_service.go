package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"pocus/internal/modules/auth/domain"
	authout "pocus/internal/modules/auth/port/out"
	"pocus/internal/platform/clock"
	apperrors "pocus/internal/platform/errors"
)

type AuthService struct {
	clock  clock.Clock
	api    authout.AuthAPI
	store  authout.SessionStore
	logger hclog.Logger

	mu     sync.Mutex
	cached *domain.Session
	// refreshes collapses concurrent refreshes of one token; the backend
	// rotates refresh tokens, so a second use would be rejected.
	refreshes singleflight.Group
}

func NewAuthService(clock clock.Clock, api authout.AuthAPI, store authout.SessionStore, logger hclog.Logger) *AuthService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &AuthService{clock: clock, api: api, store: store, logger: logger.Named("auth")}
}

func (s *AuthService) RequestCode(ctx context.Context, email string) (string, error) {
	normalized := domain.NormalizeEmail(email)
	if !domain.PlausibleEmail(normalized) {
		return "", fmt.Errorf("%w: %q is not an email address", apperrors.ErrInvalidInput, email)
	}
	if err := s.api.SendOTP(ctx, normalized); err != nil {
		return "", err
	}
	s.logger.Debug("verification code requested", "email", normalized)
	return normalized, nil
}

func (s *AuthService) Verify(ctx context.Context, email, code string) (domain.Session, error) {
	session, err := s.api.VerifyOTP(ctx, email, code)
	if err != nil {
		return domain.Session{}, err
	}
	if session.AccessToken == "" {
		return domain.Session{}, apperrors.ErrMissingSession
	}
	session = withExpiry(session)
	if err := s.adopt(ctx, session); err != nil {
		return domain.Session{}, err
	}
	s.logger.Info("signed in", "user_id", session.User.ID)
	return session, nil
}

// Current returns the cached session, loading it from the store on first use,
// and makes at most one refresh attempt when it is no longer usable.
func (s *AuthService) Current(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()

	if cached == nil {
		stored, err := s.store.Load(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrNoSession) {
				return domain.Session{}, apperrors.ErrNoSession
			}
			return domain.Session{}, err
		}
		cached = &stored
	}
	if cached.Usable(s.clock.Now()) {
		s.mu.Lock()
		s.cached = cached
		s.mu.Unlock()
		return *cached, nil
	}
	if cached.RefreshToken == "" {
		return domain.Session{}, apperrors.ErrNoSession
	}

	stale := *cached
	v, err, _ := s.refreshes.Do(stale.RefreshToken, func() (any, error) {
		return s.refresh(ctx, stale)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return v.(domain.Session), nil
}

func (s *AuthService) refresh(ctx context.Context, stale domain.Session) (domain.Session, error) {
	// A refresh that finished just before this one started already rotated the token.
	s.mu.Lock()
	latest := s.cached
	s.mu.Unlock()
	if latest != nil && latest.RefreshToken != stale.RefreshToken && latest.Usable(s.clock.Now()) {
		return *latest, nil
	}

	refreshed, err := s.api.Refresh(ctx, stale.RefreshToken)
	if err != nil {
		s.logger.Warn("session refresh failed", "error", err)
		return domain.Session{}, apperrors.ErrNoSession
	}
	if refreshed.AccessToken == "" {
		return domain.Session{}, apperrors.ErrNoSession
	}
	if refreshed.User.ID == uuid.Nil {
		refreshed.User = stale.User
	}
	refreshed = withExpiry(refreshed)
	if err := s.adopt(ctx, refreshed); err != nil {
		return domain.Session{}, err
	}
	return refreshed, nil
}

// SignOut tears the local session down first; the remote call is best effort.
func (s *AuthService) SignOut(ctx context.Context) error {
	s.mu.Lock()
	cached := s.cached
	s.cached = nil
	s.mu.Unlock()

	if cached == nil {
		if stored, err := s.store.Load(ctx); err == nil {
			cached = &stored
		}
	}
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	if cached != nil && cached.AccessToken != "" {
		if err := s.api.SignOut(ctx, cached.AccessToken); err != nil {
			s.logger.Warn("remote sign-out failed", "error", err)
		}
	}
	return nil
}

func (s *AuthService) adopt(ctx context.Context, session domain.Session) error {
	if err := s.store.Save(ctx, session); err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = &session
	s.mu.Unlock()
	return nil
}

func withExpiry(session domain.Session) domain.Session {
	if !session.ExpiresAt.IsZero() {
		return session
	}
	session.ExpiresAt = TokenExpiry(session.AccessToken)
	return session
}

// TokenExpiry reads the exp claim of a JWT access token without verifying it.
// The transport is authenticated, so the claim is only used for local scheduling.
func TokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.UTC()
}

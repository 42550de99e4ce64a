package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pocus/internal/modules/auth/domain"
	apperrors "pocus/internal/platform/errors"
)

func TestTokenExpiryReadsExpClaim(t *testing.T) {
	t.Parallel()
	exp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := TokenExpiry(token); !got.Equal(exp) {
		t.Fatalf("expected %s, got %s", exp, got)
	}
	if got := TokenExpiry("opaque"); !got.IsZero() {
		t.Fatalf("opaque token must have unknown expiry, got %s", got)
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) Sleep(context.Context, time.Duration) error { return nil }

type memSessionStore struct {
	mu      sync.Mutex
	session *domain.Session
}

func (m *memSessionStore) Save(_ context.Context, session domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &session
	return nil
}

func (m *memSessionStore) Load(context.Context) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.Session{}, apperrors.ErrNoSession
	}
	return *m.session, nil
}

func (m *memSessionStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// rotatingAPI accepts each refresh token once, like the backend.
type rotatingAPI struct {
	mu        sync.Mutex
	current   string
	refreshes int
	entered   chan struct{}
	gate      chan struct{}
}

func (a *rotatingAPI) SendOTP(context.Context, string) error { return nil }
func (a *rotatingAPI) VerifyOTP(context.Context, string, string) (domain.Session, error) {
	return domain.Session{}, apperrors.ErrInvalidCode
}
func (a *rotatingAPI) SignOut(context.Context, string) error { return nil }

func (a *rotatingAPI) Refresh(_ context.Context, token string) (domain.Session, error) {
	select {
	case a.entered <- struct{}{}:
	default:
	}
	<-a.gate
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	if token != a.current {
		return domain.Session{}, apperrors.ErrNoSession
	}
	a.current = fmt.Sprintf("refresh-%d", a.refreshes+1)
	return domain.Session{AccessToken: fmt.Sprintf("access-%d", a.refreshes+1), RefreshToken: a.current}, nil
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := &memSessionStore{session: &domain.Session{
		User:         domain.User{ID: uuid.New()},
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(-time.Minute),
	}}
	api := &rotatingAPI{current: "refresh-1", entered: make(chan struct{}, 1), gate: make(chan struct{})}
	svc := NewAuthService(fixedClock{now: now}, api, store, nil)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	tokens := make(chan string, callers)
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := svc.Current(context.Background())
			errs <- err
			tokens <- session.AccessToken
		}()
	}
	<-api.entered
	time.Sleep(20 * time.Millisecond)
	close(api.gate)
	wg.Wait()
	close(errs)
	close(tokens)

	for err := range errs {
		if err != nil {
			t.Fatalf("current: %v", err)
		}
	}
	for token := range tokens {
		if token != "access-2" {
			t.Fatalf("expected the refreshed token, got %q", token)
		}
	}
	if api.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", api.refreshes)
	}
}

package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExpirySkew treats a token as expired slightly before the server does.
const ExpirySkew = 30 * time.Second

var plausibleEmail = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Session is replaced wholesale on sign-in, refresh and sign-out.
type Session struct {
	User         User      `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Usable reports whether the session can authorize requests at now.
// An unknown expiry is trusted until the server says otherwise.
func (s Session) Usable(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(ExpirySkew).Before(s.ExpiresAt)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func PlausibleEmail(email string) bool {
	return plausibleEmail.MatchString(email)
}

package out

import (
	"context"

	"pocus/internal/modules/auth/domain"
)

// AuthAPI is the backend's one-time-code sign-in surface.
type AuthAPI interface {
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (domain.Session, error)
	Refresh(ctx context.Context, refreshToken string) (domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

type SessionStore interface {
	Save(ctx context.Context, session domain.Session) error
	// Load returns apperrors.ErrNoSession when nothing is stored.
	Load(ctx context.Context) (domain.Session, error)
	Clear(ctx context.Context) error
}

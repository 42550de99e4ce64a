package in

import (
	"context"

	"pocus/internal/modules/auth/domain"
	"pocus/internal/modules/auth/dto"
)

type Usecase interface {
	RequestCode(ctx context.Context, input dto.RequestCodeInput) (dto.RequestCodeOutput, error)
	VerifyCode(ctx context.Context, input dto.VerifyCodeInput) (domain.Session, error)
	// CurrentSession returns apperrors.ErrNoSession when nothing usable is cached and one refresh failed.
	CurrentSession(ctx context.Context) (domain.Session, error)
	AccessToken(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
}

package usecase

import (
	"context"
	"fmt"
	"strings"

	"pocus/internal/modules/auth/domain"
	"pocus/internal/modules/auth/dto"
	authin "pocus/internal/modules/auth/port/in"
	"pocus/internal/modules/auth/service"
	apperrors "pocus/internal/platform/errors"
)

type Interactor struct {
	svc *service.AuthService
}

func NewInteractor(svc *service.AuthService) authin.Usecase {
	return &Interactor{svc: svc}
}

func (i *Interactor) RequestCode(ctx context.Context, input dto.RequestCodeInput) (dto.RequestCodeOutput, error) {
	email, err := i.svc.RequestCode(ctx, input.Email)
	if err != nil {
		return dto.RequestCodeOutput{}, err
	}
	return dto.RequestCodeOutput{Email: email}, nil
}

func (i *Interactor) VerifyCode(ctx context.Context, input dto.VerifyCodeInput) (domain.Session, error) {
	email := domain.NormalizeEmail(input.Email)
	if !domain.PlausibleEmail(email) {
		return domain.Session{}, fmt.Errorf("%w: email is required", apperrors.ErrInvalidInput)
	}
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return domain.Session{}, fmt.Errorf("%w: verification code is required", apperrors.ErrInvalidInput)
	}
	return i.svc.Verify(ctx, email, code)
}

func (i *Interactor) CurrentSession(ctx context.Context) (domain.Session, error) {
	return i.svc.Current(ctx)
}

func (i *Interactor) AccessToken(ctx context.Context) (string, error) {
	session, err := i.svc.Current(ctx)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

func (i *Interactor) SignOut(ctx context.Context) error {
	return i.svc.SignOut(ctx)
}

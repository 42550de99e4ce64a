package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pocus/internal/modules/membership/domain"
	membershipin "pocus/internal/modules/membership/port/in"
	"pocus/internal/modules/membership/service"
	apperrors "pocus/internal/platform/errors"
)

type Interactor struct {
	svc *service.MembershipService
}

func NewInteractor(svc *service.MembershipService) membershipin.Usecase {
	return &Interactor{svc: svc}
}

func (i *Interactor) FetchMemberships(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrInvalidInput)
	}
	return i.svc.Fetch(ctx, userID)
}

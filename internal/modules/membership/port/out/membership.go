package out

import (
	"context"

	"github.com/google/uuid"

	"pocus/internal/modules/membership/domain"
)

type MembershipAPI interface {
	ListMemberships(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error)
}

package in

import (
	"context"

	"github.com/google/uuid"

	"pocus/internal/modules/membership/domain"
)

type Usecase interface {
	// FetchMemberships returns an empty slice, not an error, for a user without memberships.
	FetchMemberships(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error)
}

package service

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"pocus/internal/modules/membership/domain"
	membershipout "pocus/internal/modules/membership/port/out"
)

type MembershipService struct {
	api membershipout.MembershipAPI
}

func NewMembershipService(api membershipout.MembershipAPI) *MembershipService {
	return &MembershipService{api: api}
}

func (s *MembershipService) Fetch(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error) {
	rows, err := s.api.ListMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Membership, 0, len(rows))
	seen := map[uuid.UUID]struct{}{}
	for _, m := range rows {
		if m.Institution.ID == uuid.Nil {
			continue
		}
		if _, dup := seen[m.InstitutionID]; dup {
			continue
		}
		seen[m.InstitutionID] = struct{}{}
		m.Role = domain.ParseRole(string(m.Role))
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Institution.Name < out[j].Institution.Name
	})
	return out, nil
}

package domain

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleFellow        Role = "fellow"
	RoleAttending     Role = "attending"
	RoleAdministrator Role = "administrator"
)

// ParseRole accepts the legacy "admin" spelling. Unknown roles get the least privileged role.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "attending":
		return RoleAttending
	case "administrator", "admin":
		return RoleAdministrator
	default:
		return RoleFellow
	}
}

func (r Role) CanReview() bool {
	return r == RoleAttending || r == RoleAdministrator
}

type Institution struct {
	ID       uuid.UUID       `json:"id"`
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// Membership is immutable once fetched.
type Membership struct {
	UserID        uuid.UUID   `json:"user_id"`
	InstitutionID uuid.UUID   `json:"institution_id"`
	Role          Role        `json:"role"`
	Institution   Institution `json:"institution"`
}

func Find(memberships []Membership, institutionID uuid.UUID) (Membership, bool) {
	for _, m := range memberships {
		if m.InstitutionID == institutionID {
			return m, true
		}
	}
	return Membership{}, false
}

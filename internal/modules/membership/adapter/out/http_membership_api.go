package out

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"pocus/internal/modules/membership/domain"
	membershipout "pocus/internal/modules/membership/port/out"
	"pocus/internal/platform/rest"
)

const membershipSelect = "user_id,institution_id,role,institutions(id,slug,name,settings)"

type HTTPMembershipAPI struct {
	client *rest.Client
}

func NewHTTPMembershipAPI(client *rest.Client) membershipout.MembershipAPI {
	return &HTTPMembershipAPI{client: client}
}

type membershipRow struct {
	UserID        uuid.UUID `json:"user_id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	Role          string    `json:"role"`
	Institution   *struct {
		ID       uuid.UUID       `json:"id"`
		Slug     string          `json:"slug"`
		Name     string          `json:"name"`
		Settings json.RawMessage `json:"settings"`
	} `json:"institutions"`
}

func (a *HTTPMembershipAPI) ListMemberships(ctx context.Context, userID uuid.UUID) ([]domain.Membership, error) {
	rows := []membershipRow{}
	err := a.client.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   "/rest/v1/memberships",
		Query: url.Values{
			"select":  {membershipSelect},
			"user_id": {"eq." + userID.String()},
		},
	}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Membership, 0, len(rows))
	for _, row := range rows {
		if row.Institution == nil {
			continue
		}
		out = append(out, domain.Membership{
			UserID:        row.UserID,
			InstitutionID: row.InstitutionID,
			Role:          domain.Role(row.Role),
			Institution: domain.Institution{
				ID:       row.Institution.ID,
				Slug:     row.Institution.Slug,
				Name:     row.Institution.Name,
				Settings: row.Institution.Settings,
			},
		})
	}
	return out, nil
}

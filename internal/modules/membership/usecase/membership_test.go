package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"pocus/internal/modules/membership/domain"
	"pocus/internal/modules/membership/service"
	"pocus/internal/modules/membership/usecase"
	apperrors "pocus/internal/platform/errors"
)

type fakeAPI struct {
	rows []domain.Membership
	err  error
}

func (f fakeAPI) ListMemberships(context.Context, uuid.UUID) ([]domain.Membership, error) {
	return f.rows, f.err
}

func membership(name, role string) domain.Membership {
	inst := uuid.New()
	return domain.Membership{
		InstitutionID: inst,
		Role:          domain.Role(role),
		Institution:   domain.Institution{ID: inst, Name: name, Slug: name},
	}
}

func TestFetchNormalizesRolesAndDropsOrphans(t *testing.T) {
	t.Parallel()
	orphan := domain.Membership{InstitutionID: uuid.New(), Role: "fellow"}
	api := fakeAPI{rows: []domain.Membership{membership("zeta", "admin"), orphan, membership("alpha", "resident")}}
	uc := usecase.NewInteractor(service.NewMembershipService(api))

	got, err := uc.FetchMemberships(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(got))
	}
	if got[0].Institution.Name != "alpha" || got[0].Role != domain.RoleFellow {
		t.Fatalf("unexpected first membership %+v", got[0])
	}
	if got[1].Role != domain.RoleAdministrator || !got[1].Role.CanReview() {
		t.Fatalf("expected admin to normalize to administrator, got %+v", got[1])
	}
}

func TestFetchEmptyIsNotAnError(t *testing.T) {
	t.Parallel()
	uc := usecase.NewInteractor(service.NewMembershipService(fakeAPI{}))
	got, err := uc.FetchMemberships(context.Background(), uuid.New())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v %v", got, err)
	}
}

func TestFetchRequiresUserAndPropagatesTransport(t *testing.T) {
	t.Parallel()
	uc := usecase.NewInteractor(service.NewMembershipService(fakeAPI{err: apperrors.ErrTransport}))
	if _, err := uc.FetchMemberships(context.Background(), uuid.Nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := uc.FetchMemberships(context.Background(), uuid.New()); !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

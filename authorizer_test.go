package authz

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/giantswarm/github-authz/membership"
	"github.com/giantswarm/github-authz/providers"
	"github.com/giantswarm/github-authz/providers/mock"
)

func newTestAuthorizer() *Authorizer {
	return NewAuthorizer(membership.NewEvaluator(discardLogger(), nil), discardLogger())
}

func TestAuthorizer_UserListBeforeMembership(t *testing.T) {
	client := mock.NewMockClient().WithOrganizations(map[string][]string{"org1": {"alice"}})
	src := membership.NewPersonalAccessTokenSource(client)

	roles := []RoleDefinition{
		{Name: "admin", Rule: RoleRule{Users: []string{"bob"}}},
		{Name: "viewer", Rule: RoleRule{Organizations: []string{"org1"}}},
	}

	got := newTestAuthorizer().Authorize(context.Background(), src, providers.Identity{Username: "bob"}, roles)

	if !slices.Equal(got, []string{"admin"}) {
		t.Errorf("Authorize() = %v, want [admin]", got)
	}
	if client.GetCallCount("OrganizationHasMember") != 1 {
		t.Errorf("calls = %v, want the viewer organization checked", client.CallLog())
	}
}

func TestAuthorizer_NoRolesNoCalls(t *testing.T) {
	client := mock.NewMockClient()

	got := newTestAuthorizer().Authorize(context.Background(), membership.NewPersonalAccessTokenSource(client), providers.Identity{Username: "bob"}, nil)

	if got == nil || len(got) != 0 {
		t.Errorf("Authorize() = %#v, want empty slice", got)
	}
	if client.TotalCalls() != 0 {
		t.Errorf("calls = %v, want none", client.CallLog())
	}
}

func TestAuthorizer_ShortCircuitsPerRole(t *testing.T) {
	client := mock.NewMockClient().
		WithOrganizations(map[string][]string{"org1": {"bob"}, "org2": nil}).
		WithTeams(map[string]map[string][]string{"org2": {"devs": {"bob"}}})
	src := membership.NewPersonalAccessTokenSource(client)

	roles := []RoleDefinition{
		{Name: "member", Rule: RoleRule{
			Organizations: []string{"org1"},
			Teams:         map[string][]string{"org2": {"devs"}},
		}},
		{Name: "dev", Rule: RoleRule{Teams: map[string][]string{"org2": {"devs"}}}},
		{Name: "member", Rule: RoleRule{Users: []string{"bob"}}},
	}

	got := newTestAuthorizer().Authorize(context.Background(), src, providers.Identity{Username: "bob"}, roles)

	if !slices.Equal(got, []string{"member", "dev"}) {
		t.Errorf("Authorize() = %v, want [member dev]", got)
	}
	if n := client.GetCallCount("TeamHasMember"); n != 1 {
		t.Errorf("TeamHasMember calls = %d, want 1 (only for dev)", n)
	}
}

func TestAuthorizer_UnavailableMembershipDenies(t *testing.T) {
	client := mock.NewMockClient()
	client.GetOrganizationFunc = func(context.Context, string) (providers.Organization, error) {
		return providers.Organization{}, &providers.TransportError{Op: "get organization", Err: errors.New("timeout")}
	}

	roles := []RoleDefinition{
		{Name: "viewer", Rule: RoleRule{
			Organizations: []string{"org1"},
			Teams:         map[string][]string{"org1": {"team"}},
		}},
	}

	got := newTestAuthorizer().Authorize(context.Background(), membership.NewPersonalAccessTokenSource(client), providers.Identity{Username: "bob"}, roles)
	if len(got) != 0 {
		t.Errorf("Authorize() = %v, want no roles", got)
	}
}

func TestAuthorizer_UserListIgnoresCase(t *testing.T) {
	client := mock.NewMockClient()
	roles := []RoleDefinition{{Name: "admin", Rule: RoleRule{Users: []string{"Bob"}}}}

	got := newTestAuthorizer().Authorize(context.Background(), membership.NewPersonalAccessTokenSource(client), providers.Identity{Username: "bob"}, roles)

	if !slices.Equal(got, []string{"admin"}) {
		t.Errorf("Authorize() = %v, want [admin]", got)
	}
	if client.TotalCalls() != 0 {
		t.Errorf("calls = %v, want none", client.CallLog())
	}
}

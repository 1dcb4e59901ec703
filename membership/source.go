package membership

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/giantswarm/github-authz/providers"
)

// Source names, used in logs and metric attributes.
const (
	SourcePersonalAccessToken = "personal_access_token"
	SourceUserAccessToken     = "user_access_token"
)

// ErrNoClient is returned by SourceFor when no client can answer membership queries.
var ErrNoClient = errors.New("no GitHub client available for membership checks")

// Source answers organization and team membership questions for one request.
// Organization and team names are passed lowercased. A Source may memoize
// lookups, so build a new one per request.
type Source interface {
	// Name identifies the credential the source queries with.
	Name() string

	// OrganizationHasMember reports whether identity belongs to org.
	OrganizationHasMember(ctx context.Context, identity providers.Identity, org string) (bool, error)

	// TeamHasMember reports whether identity is a member of team in org.
	// team matches the team name or slug.
	TeamHasMember(ctx context.Context, identity providers.Identity, org, team string) (bool, error)
}

// SourceFor picks the membership source for a request. The user's own token
// is used only when the configuration asks for it and a user client exists;
// otherwise the server client is used.
func SourceFor(using providers.AuthorizeUsing, server, user providers.Client) (Source, error) {
	if using == providers.AuthorizeUsingUserAccessToken && user != nil {
		return NewUserTokenSource(user), nil
	}
	if server != nil {
		return NewPersonalAccessTokenSource(server), nil
	}
	return nil, ErrNoClient
}

// PersonalAccessTokenSource queries organizations and teams with the
// server-held personal access token.
type PersonalAccessTokenSource struct {
	client providers.Client

	mu    sync.Mutex
	teams map[string]map[string]providers.Team
}

// NewPersonalAccessTokenSource creates a source over the server client.
func NewPersonalAccessTokenSource(client providers.Client) *PersonalAccessTokenSource {
	return &PersonalAccessTokenSource{
		client: client,
		teams:  make(map[string]map[string]providers.Team),
	}
}

// Name implements Source.
func (s *PersonalAccessTokenSource) Name() string {
	return SourcePersonalAccessToken
}

// OrganizationHasMember implements Source.
func (s *PersonalAccessTokenSource) OrganizationHasMember(ctx context.Context, identity providers.Identity, org string) (bool, error) {
	organization, err := s.client.GetOrganization(ctx, org)
	if err != nil {
		return false, err
	}
	return s.client.OrganizationHasMember(ctx, organization, identity)
}

// TeamHasMember implements Source.
func (s *PersonalAccessTokenSource) TeamHasMember(ctx context.Context, identity providers.Identity, org, team string) (bool, error) {
	teams, err := s.orgTeams(ctx, org)
	if err != nil {
		return false, err
	}

	t, ok := findTeam(teams, team)
	if !ok {
		return false, nil
	}
	return s.client.TeamHasMember(ctx, t, identity)
}

func (s *PersonalAccessTokenSource) orgTeams(ctx context.Context, org string) (map[string]providers.Team, error) {
	s.mu.Lock()
	teams, ok := s.teams[org]
	s.mu.Unlock()
	if ok {
		return teams, nil
	}

	organization, err := s.client.GetOrganization(ctx, org)
	if err != nil {
		return nil, err
	}
	teams, err = s.client.GetTeams(ctx, organization)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.teams[org] = teams
	s.mu.Unlock()
	return teams, nil
}

// UserTokenSource answers from the organizations and teams the user's own
// token can list. It needs the read:org scope.
type UserTokenSource struct {
	client providers.Client

	mu    sync.Mutex
	orgs  map[string]providers.Organization
	teams map[string][]providers.Team
}

// NewUserTokenSource creates a source over a client authenticated as the user.
func NewUserTokenSource(client providers.Client) *UserTokenSource {
	return &UserTokenSource{client: client}
}

// Name implements Source.
func (s *UserTokenSource) Name() string {
	return SourceUserAccessToken
}

// OrganizationHasMember implements Source. The identity is implied by the token.
func (s *UserTokenSource) OrganizationHasMember(ctx context.Context, _ providers.Identity, org string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orgs == nil {
		orgs, err := s.client.MyOrganizations(ctx)
		if err != nil {
			return false, err
		}
		s.orgs = orgs
	}

	_, ok := s.orgs[org]
	return ok, nil
}

// TeamHasMember implements Source. The identity is implied by the token.
func (s *UserTokenSource) TeamHasMember(ctx context.Context, _ providers.Identity, org, team string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.teams == nil {
		teams, err := s.client.MyTeams(ctx)
		if err != nil {
			return false, err
		}
		s.teams = teams
	}

	for _, t := range s.teams[org] {
		if teamMatches(t, team) {
			return true, nil
		}
	}
	return false, nil
}

func findTeam(teams map[string]providers.Team, name string) (providers.Team, bool) {
	if t, ok := teams[name]; ok {
		return t, true
	}
	for _, t := range teams {
		if teamMatches(t, name) {
			return t, true
		}
	}
	return providers.Team{}, false
}

func teamMatches(t providers.Team, name string) bool {
	return strings.EqualFold(t.Name, name) || strings.EqualFold(t.Slug, name)
}

// Package mock provides a mock implementation of the providers.Client interface for testing.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/giantswarm/github-authz/providers"
)

// Compile-time check that MockClient implements the providers.Client interface.
var _ providers.Client = (*MockClient)(nil)

// MockClient is a mock implementation of the providers.Client interface for testing.
// Unset Func fields fall back to the defaults installed by NewMockClient.
type MockClient struct {
	GetUserFunc               func(ctx context.Context, username string) (providers.Identity, error)
	GetMyselfFunc             func(ctx context.Context) (providers.Identity, error)
	GetOrganizationFunc       func(ctx context.Context, name string) (providers.Organization, error)
	OrganizationHasMemberFunc func(ctx context.Context, org providers.Organization, identity providers.Identity) (bool, error)
	MyOrganizationsFunc       func(ctx context.Context) (map[string]providers.Organization, error)
	GetTeamsFunc              func(ctx context.Context, org providers.Organization) (map[string]providers.Team, error)
	TeamHasMemberFunc         func(ctx context.Context, team providers.Team, identity providers.Identity) (bool, error)
	MyTeamsFunc               func(ctx context.Context) (map[string][]providers.Team, error)
	SearchUsersFunc           func(ctx context.Context, query string, maxResults int) ([]providers.Identity, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// Calls records "Method:argument" for every call, in order.
	Calls []string

	// mu protects CallCounts and Calls from concurrent access
	mu sync.RWMutex
}

// NewMockClient creates a mock client that knows the user "mock-user", no
// organizations and no teams.
func NewMockClient() *MockClient {
	return &MockClient{
		CallCounts: make(map[string]int),
		GetUserFunc: func(_ context.Context, username string) (providers.Identity, error) {
			if !strings.EqualFold(username, "mock-user") {
				return providers.Identity{}, &providers.NotFoundError{Kind: "user", Name: username}
			}
			return providers.NewIdentity("mock-user", "Mock User", "mock@example.com"), nil
		},
		GetMyselfFunc: func(context.Context) (providers.Identity, error) {
			return providers.NewIdentity("mock-user", "Mock User", "mock@example.com"), nil
		},
		GetOrganizationFunc: func(_ context.Context, name string) (providers.Organization, error) {
			return providers.Organization{}, &providers.NotFoundError{Kind: "organization", Name: name}
		},
		OrganizationHasMemberFunc: func(context.Context, providers.Organization, providers.Identity) (bool, error) {
			return false, nil
		},
		MyOrganizationsFunc: func(context.Context) (map[string]providers.Organization, error) {
			return map[string]providers.Organization{}, nil
		},
		GetTeamsFunc: func(context.Context, providers.Organization) (map[string]providers.Team, error) {
			return map[string]providers.Team{}, nil
		},
		TeamHasMemberFunc: func(context.Context, providers.Team, providers.Identity) (bool, error) {
			return false, nil
		},
		MyTeamsFunc: func(context.Context) (map[string][]providers.Team, error) {
			return map[string][]providers.Team{}, nil
		},
		SearchUsersFunc: func(context.Context, string, int) ([]providers.Identity, error) {
			return nil, nil
		},
	}
}

func (m *MockClient) recordCall(method, arg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
	m.Calls = append(m.Calls, method+":"+arg)
}

// GetUser implements providers.Client
func (m *MockClient) GetUser(ctx context.Context, username string) (providers.Identity, error) {
	m.recordCall("GetUser", username)
	return m.GetUserFunc(ctx, username)
}

// GetMyself implements providers.Client
func (m *MockClient) GetMyself(ctx context.Context) (providers.Identity, error) {
	m.recordCall("GetMyself", "")
	return m.GetMyselfFunc(ctx)
}

// GetOrganization implements providers.Client
func (m *MockClient) GetOrganization(ctx context.Context, name string) (providers.Organization, error) {
	m.recordCall("GetOrganization", name)
	return m.GetOrganizationFunc(ctx, name)
}

// OrganizationHasMember implements providers.Client
func (m *MockClient) OrganizationHasMember(ctx context.Context, org providers.Organization, identity providers.Identity) (bool, error) {
	m.recordCall("OrganizationHasMember", org.Login)
	return m.OrganizationHasMemberFunc(ctx, org, identity)
}

// MyOrganizations implements providers.Client
func (m *MockClient) MyOrganizations(ctx context.Context) (map[string]providers.Organization, error) {
	m.recordCall("MyOrganizations", "")
	return m.MyOrganizationsFunc(ctx)
}

// GetTeams implements providers.Client
func (m *MockClient) GetTeams(ctx context.Context, org providers.Organization) (map[string]providers.Team, error) {
	m.recordCall("GetTeams", org.Login)
	return m.GetTeamsFunc(ctx, org)
}

// TeamHasMember implements providers.Client
func (m *MockClient) TeamHasMember(ctx context.Context, team providers.Team, identity providers.Identity) (bool, error) {
	m.recordCall("TeamHasMember", team.Organization+"/"+team.Name)
	return m.TeamHasMemberFunc(ctx, team, identity)
}

// MyTeams implements providers.Client
func (m *MockClient) MyTeams(ctx context.Context) (map[string][]providers.Team, error) {
	m.recordCall("MyTeams", "")
	return m.MyTeamsFunc(ctx)
}

// SearchUsers implements providers.Client
func (m *MockClient) SearchUsers(ctx context.Context, query string, maxResults int) ([]providers.Identity, error) {
	m.recordCall("SearchUsers", query)
	return m.SearchUsersFunc(ctx, query, maxResults)
}

// GetCallCount returns how many times method was called.
func (m *MockClient) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// TotalCalls returns the number of calls made to any method.
func (m *MockClient) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Calls)
}

// CallLog returns a copy of the recorded calls.
func (m *MockClient) CallLog() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Calls...)
}

// ResetCallCounts resets all call counters
func (m *MockClient) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
	m.Calls = nil
}

// WithOrganizations configures the client so that each organization exists and
// has the given members. Logins compare case-insensitively.
func (m *MockClient) WithOrganizations(members map[string][]string) *MockClient {
	m.GetOrganizationFunc = func(_ context.Context, name string) (providers.Organization, error) {
		for org := range members {
			if strings.EqualFold(org, name) {
				return providers.Organization{Login: org}, nil
			}
		}
		return providers.Organization{}, &providers.NotFoundError{Kind: "organization", Name: name}
	}
	m.OrganizationHasMemberFunc = func(_ context.Context, org providers.Organization, identity providers.Identity) (bool, error) {
		return containsFold(members[org.Login], identity.Username), nil
	}
	return m
}

// WithTeams configures GetTeams and TeamHasMember from org -> team name -> members.
func (m *MockClient) WithTeams(teams map[string]map[string][]string) *MockClient {
	m.GetTeamsFunc = func(_ context.Context, org providers.Organization) (map[string]providers.Team, error) {
		for name, orgTeams := range teams {
			if !strings.EqualFold(name, org.Login) {
				continue
			}
			out := make(map[string]providers.Team, len(orgTeams))
			for team := range orgTeams {
				out[strings.ToLower(team)] = providers.Team{
					Name:         team,
					Slug:         strings.ToLower(team),
					Organization: org.Login,
				}
			}
			return out, nil
		}
		return nil, &providers.NotFoundError{Kind: "organization", Name: org.Login}
	}
	m.TeamHasMemberFunc = func(_ context.Context, team providers.Team, identity providers.Identity) (bool, error) {
		for name, orgTeams := range teams {
			if strings.EqualFold(name, team.Organization) {
				return containsFold(orgTeams[team.Name], identity.Username), nil
			}
		}
		return false, nil
	}
	return m
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

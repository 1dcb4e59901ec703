package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/github-authz/internal/testutil"
	"github.com/giantswarm/github-authz/providers"
	"github.com/giantswarm/github-authz/providers/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthConfig(id string) AuthConfig {
	return AuthConfig{
		ID: id,
		Configuration: providers.NewProviderConfiguration(providers.ProviderConfiguration{
			ClientID:            "client-id",
			ClientSecret:        "client-secret",
			PersonalAccessToken: "server-token",
		}),
	}
}

// testClients hands out mock clients per auth config client id.
type testClients struct {
	mu      sync.Mutex
	server  map[string]*mock.MockClient
	user    *mock.MockClient
	builds  int
	failFor string
}

func newTestClients() *testClients {
	return &testClients{
		server: map[string]*mock.MockClient{"client-id": mock.NewMockClient()},
		user:   mock.NewMockClient(),
	}
}

func (c *testClients) serverFactory(_ context.Context, cfg ProviderConfiguration) (providers.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builds++
	if cfg.ClientID == c.failFor {
		return nil, errors.New("cannot build client")
	}
	client, ok := c.server[cfg.ClientID]
	if !ok {
		client = mock.NewMockClient()
		c.server[cfg.ClientID] = client
	}
	return client, nil
}

func (c *testClients) userFactory(context.Context, ProviderConfiguration, *OAuthToken) (providers.Client, error) {
	return c.user, nil
}

func newTestService(t *testing.T, clients *testClients) *Service {
	t.Helper()

	svc, err := NewService(ServiceConfig{
		Logger:              discardLogger(),
		ServerClientFactory: clients.serverFactory,
		UserClientFactory:   clients.userFactory,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestService_BuildAuthorizationRequest(t *testing.T) {
	svc := newTestService(t, newTestClients())

	authURL, session, err := svc.BuildAuthorizationRequest(context.Background(), testAuthConfig("github"), "call-back-url")
	if err != nil {
		t.Fatalf("BuildAuthorizationRequest() error = %v", err)
	}

	prefix := "https://github.com/login/oauth/authorize?client_id=client-id&redirect_uri=call-back-url&response_type=code&scope=user%3Aemail&state="
	if !strings.HasPrefix(authURL, prefix) {
		t.Errorf("URL = %q, want prefix %q", authURL, prefix)
	}
	if session.State == "" || len(session.CodeVerifier) != 43 {
		t.Errorf("session = %+v", session)
	}
}

func TestService_ExchangeToken_StateChecks(t *testing.T) {
	fake := testutil.NewFakeGitHub(t)
	svc := newTestService(t, newTestClients())

	authCfg := testAuthConfig("ghe")
	authCfg.Configuration.AuthenticateWith = providers.AuthenticateWithGitHubEnterprise
	authCfg.Configuration.EnterpriseURL = fake.URL()

	session := &AuthSession{State: "expected-state", CodeVerifier: "verifier"}

	t.Run("mismatch", func(t *testing.T) {
		_, err := svc.ExchangeToken(context.Background(), authCfg, "code", session, "other-state")
		if !errors.Is(err, ErrStateMismatch) {
			t.Errorf("error = %v, want ErrStateMismatch", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := svc.ExchangeToken(context.Background(), authCfg, "code", session, "")
		if !errors.Is(err, ErrStateMissing) {
			t.Errorf("error = %v, want ErrStateMissing", err)
		}
	})

	if n := fake.RequestCount("POST /login/oauth/access_token"); n != 0 {
		t.Errorf("token requests = %d, want none after failed state checks", n)
	}

	t.Run("match", func(t *testing.T) {
		fake.AddAuthorizationCode("code-1", "user-token", "verifier", "user:email")
		token, err := svc.ExchangeToken(context.Background(), authCfg, "code-1", session, "expected-state")
		if err != nil {
			t.Fatalf("ExchangeToken() error = %v", err)
		}
		if token.AccessToken != "user-token" {
			t.Errorf("AccessToken = %q", token.AccessToken)
		}
	})

	t.Run("nil session skips validation", func(t *testing.T) {
		fake.AddAuthorizationCode("code-2", "user-token", "", "user:email")
		if _, err := svc.ExchangeToken(context.Background(), authCfg, "code-2", nil, "anything"); err != nil {
			t.Errorf("ExchangeToken() error = %v", err)
		}
	})
}

func TestService_Authenticate(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		members     map[string][]string
		wantOutcome Outcome
		wantRoles   []string
	}{
		{
			name:        "no restriction",
			wantOutcome: OutcomeAuthenticated,
			wantRoles:   []string{"admin"},
		},
		{
			name:        "member of allowed organization",
			allowed:     []string{"acme", "giantswarm"},
			members:     map[string][]string{"giantswarm": {"mock-user"}},
			wantOutcome: OutcomeAuthenticated,
			wantRoles:   []string{"admin"},
		},
		{
			name:        "not a member",
			allowed:     []string{"acme"},
			members:     map[string][]string{"acme": {"someone-else"}},
			wantOutcome: OutcomeNotAMember,
			wantRoles:   []string{},
		},
	}

	roles := []RoleDefinition{{Name: "admin", Rule: RoleRule{Users: []string{"mock-user"}}}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clients := newTestClients()
			clients.server["client-id"].WithOrganizations(tt.members)
			svc := newTestService(t, clients)

			authCfg := testAuthConfig("github")
			authCfg.Configuration.AllowedOrganizations = tt.allowed

			result, err := svc.Authenticate(context.Background(), authCfg, &OAuthToken{AccessToken: "user-token"}, roles)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if result.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", result.Outcome, tt.wantOutcome)
			}
			if result.Identity.Username != "mock-user" {
				t.Errorf("Username = %q", result.Identity.Username)
			}
			if !slices.Equal(result.Roles, tt.wantRoles) {
				t.Errorf("Roles = %v, want %v", result.Roles, tt.wantRoles)
			}
			if clients.user.GetCallCount("GetMyself") != 1 {
				t.Errorf("user client calls = %v, want one GetMyself", clients.user.CallLog())
			}
		})
	}
}

func TestService_Authenticate_Failures(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		svc := newTestService(t, newTestClients())
		_, err := svc.Authenticate(context.Background(), testAuthConfig("github"), nil, nil)
		if !providers.IsAuthenticationError(err) {
			t.Errorf("error = %v, want authentication error", err)
		}
	})

	t.Run("identity lookup fails", func(t *testing.T) {
		clients := newTestClients()
		clients.user.GetMyselfFunc = func(context.Context) (providers.Identity, error) {
			return providers.Identity{}, &providers.TransportError{Op: "get authenticated user", Err: errors.New("timeout")}
		}
		svc := newTestService(t, clients)

		_, err := svc.Authenticate(context.Background(), testAuthConfig("github"), &OAuthToken{AccessToken: "t"}, nil)
		if !providers.IsTransportError(err) {
			t.Errorf("error = %v, want transport error", err)
		}
	})

	t.Run("membership unavailable fails closed", func(t *testing.T) {
		clients := newTestClients()
		clients.server["client-id"].GetOrganizationFunc = func(context.Context, string) (providers.Organization, error) {
			return providers.Organization{}, &providers.TransportError{Op: "get organization", Err: errors.New("timeout")}
		}
		svc := newTestService(t, clients)

		authCfg := testAuthConfig("github")
		authCfg.Configuration.AllowedOrganizations = []string{"acme"}

		result, err := svc.Authenticate(context.Background(), authCfg, &OAuthToken{AccessToken: "t"}, nil)
		if !errors.Is(err, ErrMembershipUnavailable) {
			t.Errorf("error = %v, want ErrMembershipUnavailable", err)
		}
		if result != nil {
			t.Errorf("result = %+v, want nil", result)
		}
	})
}

func TestService_Authenticate_UserAccessToken(t *testing.T) {
	clients := newTestClients()
	clients.user.MyOrganizationsFunc = func(context.Context) (map[string]providers.Organization, error) {
		return map[string]providers.Organization{"acme": {Login: "Acme"}}, nil
	}
	svc := newTestService(t, clients)

	authCfg := testAuthConfig("github")
	authCfg.Configuration.AuthorizeUsing = providers.AuthorizeUsingUserAccessToken
	authCfg.Configuration.AllowedOrganizations = []string{"acme"}

	roles := []RoleDefinition{{Name: "acme-member", Rule: RoleRule{Organizations: []string{"acme"}}}}

	result, err := svc.Authenticate(context.Background(), authCfg, &OAuthToken{AccessToken: "t"}, roles)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !result.Authenticated() || !slices.Equal(result.Roles, []string{"acme-member"}) {
		t.Errorf("result = %+v", result)
	}
	if clients.user.GetCallCount("MyOrganizations") != 1 {
		t.Errorf("MyOrganizations calls = %d, want 1", clients.user.GetCallCount("MyOrganizations"))
	}
	if clients.builds != 0 {
		t.Errorf("server client builds = %d, want 0", clients.builds)
	}
}

func TestService_Authorize(t *testing.T) {
	clients := newTestClients()
	clients.server["client-id"].WithOrganizations(map[string][]string{"org1": {"bob"}})
	svc := newTestService(t, clients)

	roles := []RoleDefinition{
		{Name: "viewer", Rule: RoleRule{Organizations: []string{"org1"}}},
		{Name: "elsewhere", AuthConfigID: "other", Rule: RoleRule{Users: []string{"bob"}}},
	}

	got, err := svc.Authorize(context.Background(), testAuthConfig("github"), providers.Identity{Username: "bob"}, roles, nil)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if !slices.Equal(got, []string{"viewer"}) {
		t.Errorf("Authorize() = %v, want [viewer]", got)
	}
}

func TestService_GetRoles(t *testing.T) {
	t.Run("no roles makes no calls", func(t *testing.T) {
		clients := newTestClients()
		svc := newTestService(t, clients)

		got, err := svc.GetRoles(context.Background(), testAuthConfig("github"), "bob", nil)
		if err != nil || len(got) != 0 {
			t.Errorf("GetRoles() = %v, %v; want empty, nil", got, err)
		}
		if clients.builds != 0 || clients.server["client-id"].TotalCalls() != 0 {
			t.Error("GetRoles() with no roles contacted GitHub")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		svc := newTestService(t, newTestClients())
		roles := []RoleDefinition{{Name: "admin", Rule: RoleRule{Users: []string{"ghost"}}}}

		_, err := svc.GetRoles(context.Background(), testAuthConfig("github"), "ghost", roles)
		if !providers.IsNotFound(err) {
			t.Errorf("error = %v, want not found", err)
		}
	})

	t.Run("roles for user", func(t *testing.T) {
		clients := newTestClients()
		clients.server["client-id"].
			WithOrganizations(map[string][]string{"acme": nil}).
			WithTeams(map[string]map[string][]string{"acme": {"ops": {"mock-user"}}})
		svc := newTestService(t, clients)

		roles := []RoleDefinition{
			{Name: "ops", Rule: RoleRule{Teams: map[string][]string{"acme": {"ops"}}}},
			{Name: "admin", Rule: RoleRule{Users: []string{"root"}}},
		}

		got, err := svc.GetRoles(context.Background(), testAuthConfig("github"), "mock-user", roles)
		if err != nil {
			t.Fatalf("GetRoles() error = %v", err)
		}
		if !slices.Equal(got, []string{"ops"}) {
			t.Errorf("GetRoles() = %v, want [ops]", got)
		}
	})
}

func TestService_ValidateUser(t *testing.T) {
	svc := newTestService(t, newTestClients())

	if err := svc.ValidateUser(context.Background(), testAuthConfig("github"), "mock-user"); err != nil {
		t.Errorf("ValidateUser(mock-user) = %v, want nil", err)
	}

	err := svc.ValidateUser(context.Background(), testAuthConfig("github"), "ghost")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) || notFound.Name != "ghost" {
		t.Errorf("ValidateUser(ghost) = %v, want NotFoundError", err)
	}
}

func TestService_SearchUsers(t *testing.T) {
	clients := newTestClients()
	clients.failFor = "broken"
	clients.server["client-id"].SearchUsersFunc = func(_ context.Context, _ string, max int) ([]providers.Identity, error) {
		return []providers.Identity{{Username: "alice"}, {Username: "alfred"}}[:min(max, 2)], nil
	}
	clients.server["ghe-client"] = mock.NewMockClient()
	clients.server["ghe-client"].SearchUsersFunc = func(context.Context, string, int) ([]providers.Identity, error) {
		return []providers.Identity{{Username: "Alice"}, {Username: "albert"}}, nil
	}
	svc := newTestService(t, clients)

	broken := testAuthConfig("broken")
	broken.Configuration.ClientID = "broken"
	ghe := testAuthConfig("ghe")
	ghe.Configuration.ClientID = "ghe-client"

	tests := []struct {
		name    string
		configs []AuthConfig
		max     int
		want    []string
	}{
		{name: "no configs", configs: nil, max: 10, want: nil},
		{name: "failing config skipped", configs: []AuthConfig{broken, testAuthConfig("github")}, max: 10, want: []string{"alice", "alfred"}},
		{name: "deduplicated across configs", configs: []AuthConfig{testAuthConfig("github"), ghe}, max: 10, want: []string{"alice", "alfred", "albert"}},
		{name: "capped", configs: []AuthConfig{testAuthConfig("github"), ghe}, max: 1, want: []string{"alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := svc.SearchUsers(context.Background(), tt.configs, "al", tt.max)
			if err != nil {
				t.Fatalf("SearchUsers() error = %v", err)
			}
			var got []string
			for _, u := range users {
				got = append(got, u.Username)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("SearchUsers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_SearchUsers_CancelledContext(t *testing.T) {
	svc, err := NewService(ServiceConfig{
		Logger:              discardLogger(),
		ServerClientFactory: newTestClients().serverFactory,
		SearchRate:          0.001,
		SearchBurst:         1,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer func() { _ = svc.Close(context.Background()) }()

	if _, err := svc.SearchUsers(context.Background(), []AuthConfig{testAuthConfig("github")}, "al", 5); err != nil {
		t.Fatalf("first SearchUsers() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.SearchUsers(ctx, []AuthConfig{testAuthConfig("github")}, "al", 5); err == nil {
		t.Error("SearchUsers() with exhausted budget and cancelled context = nil error")
	}
}

func TestService_VerifyConnection(t *testing.T) {
	svc := newTestService(t, newTestClients())

	if err := svc.VerifyConnection(context.Background(), testAuthConfig("github")); err != nil {
		t.Errorf("VerifyConnection() = %v, want nil", err)
	}

	invalid := testAuthConfig("github")
	invalid.Configuration.PersonalAccessToken = ""
	if err := svc.VerifyConnection(context.Background(), invalid); !providers.IsConfigurationError(err) {
		t.Errorf("VerifyConnection() = %v, want configuration error", err)
	}
}

func TestService_ClientCacheReused(t *testing.T) {
	clients := newTestClients()
	svc := newTestService(t, clients)

	for range 3 {
		if err := svc.ValidateUser(context.Background(), testAuthConfig("github"), "mock-user"); err != nil {
			t.Fatalf("ValidateUser() error = %v", err)
		}
	}

	if clients.builds != 1 {
		t.Errorf("client builds = %d, want 1", clients.builds)
	}
	if svc.ClientCache().Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", svc.ClientCache().Len())
	}
}

func TestService_BlankUsernameIsNotFound(t *testing.T) {
	clients := newTestClients()
	clients.server["client-id"].GetUserFunc = func(context.Context, string) (providers.Identity, error) {
		return providers.NewIdentity("server-bot", "Server Bot", ""), nil
	}
	svc := newTestService(t, clients)
	roles := []RoleDefinition{{Name: "admin", Rule: RoleRule{Users: []string{"server-bot"}}}}

	for _, username := range []string{"", "   "} {
		if err := svc.ValidateUser(context.Background(), testAuthConfig("github"), username); !providers.IsNotFound(err) {
			t.Errorf("ValidateUser(%q) = %v, want not found", username, err)
		}

		got, err := svc.GetRoles(context.Background(), testAuthConfig("github"), username, roles)
		if !providers.IsNotFound(err) {
			t.Errorf("GetRoles(%q) error = %v, want not found", username, err)
		}
		if len(got) != 0 {
			t.Errorf("GetRoles(%q) = %v, want no roles", username, got)
		}
	}

	if n := clients.server["client-id"].TotalCalls(); n != 0 {
		t.Errorf("GitHub calls = %v, want none", clients.server["client-id"].CallLog())
	}
}

func TestService_SearchUsers_SkipsThrottledAuthConfig(t *testing.T) {
	clients := newTestClients()
	clients.server["client-id"].SearchUsersFunc = func(context.Context, string, int) ([]providers.Identity, error) {
		return []providers.Identity{{Username: "alice"}}, nil
	}
	clients.server["ghe-client"] = mock.NewMockClient()
	clients.server["ghe-client"].SearchUsersFunc = func(context.Context, string, int) ([]providers.Identity, error) {
		return []providers.Identity{{Username: "albert"}}, nil
	}

	svc, err := NewService(ServiceConfig{
		Logger:              discardLogger(),
		ServerClientFactory: clients.serverFactory,
		SearchRate:          0.001,
		SearchBurst:         1,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer func() { _ = svc.Close(context.Background()) }()

	github := testAuthConfig("github")
	ghe := testAuthConfig("ghe")
	ghe.Configuration.ClientID = "ghe-client"

	if _, err := svc.SearchUsers(context.Background(), []AuthConfig{github}, "al", 5); err != nil {
		t.Fatalf("first SearchUsers() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	users, err := svc.SearchUsers(ctx, []AuthConfig{github, ghe}, "al", 5)
	if err != nil {
		t.Fatalf("SearchUsers() error = %v, want the throttled auth config skipped", err)
	}
	if len(users) != 1 || users[0].Username != "albert" {
		t.Errorf("SearchUsers() = %v, want [albert]", users)
	}
}

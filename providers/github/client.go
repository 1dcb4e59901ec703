package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v73/github"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/github-authz/instrumentation"
	"github.com/giantswarm/github-authz/providers"
)

// Compile-time check that APIClient implements the providers.Client interface.
var _ providers.Client = (*APIClient)(nil)

// maxPerPage is the largest page size GitHub accepts.
const maxPerPage = 100

// CallObserver is notified after every GitHub API call.
type CallObserver interface {
	RecordProviderCall(ctx context.Context, operation string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RecordProviderCall(context.Context, string, time.Duration, error) {}

// ClientOptions configures an APIClient.
type ClientOptions struct {
	Options

	// Observer receives per-call metrics. Optional.
	Observer CallObserver

	// Tracer creates a span per call. Defaults to a no-op tracer.
	Tracer trace.Tracer
}

// APIClient implements providers.Client on top of go-github, authenticated
// with either the server's personal access token or a user's OAuth token.
type APIClient struct {
	client         *gh.Client
	requestTimeout time.Duration
	logger         *slog.Logger
	observer       CallObserver
	tracer         trace.Tracer
}

// NewAPIClient creates a client for the GitHub instance selected by cfg.
func NewAPIClient(cfg providers.ProviderConfiguration, accessToken string, opts ClientOptions) (*APIClient, error) {
	if accessToken == "" {
		return nil, providers.NewConfigurationError(providers.PropertyPersonalAccessToken, "access token must not be blank.")
	}

	opts.Options = opts.Options.withDefaults()
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, opts.HTTPClient)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	httpClient.Timeout = opts.HTTPClient.Timeout

	client := gh.NewClient(httpClient)
	if cfg.IsEnterprise() {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL(), cfg.BaseURL())
		if err != nil {
			return nil, providers.NewConfigurationError(providers.PropertyEnterpriseURL, fmt.Sprintf("invalid GitHub Enterprise URL: %v", err))
		}
	}

	return &APIClient{
		client:         client,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
		observer:       opts.Observer,
		tracer:         opts.Tracer,
	}, nil
}

// ServerClientFactory returns a providers.ClientFactory building clients
// authenticated with the configuration's personal access token.
func ServerClientFactory(opts ClientOptions) providers.ClientFactory {
	return func(_ context.Context, cfg providers.ProviderConfiguration) (providers.Client, error) {
		return NewAPIClient(cfg, cfg.PersonalAccessToken, opts)
	}
}

// call wraps a GitHub request with the default timeout, a span and the observer.
func (c *APIClient) call(ctx context.Context, op, target string, fn func(ctx context.Context) error) error {
	ctx, cancel := ensureContextTimeout(ctx, c.requestTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "github."+op)
	defer span.End()
	instrumentation.AddProviderAttributes(span, op, target)

	start := time.Now()
	err := fn(ctx)
	c.observer.RecordProviderCall(ctx, op, time.Since(start), err)

	if err != nil {
		instrumentation.RecordError(span, err)
		c.logger.Debug("GitHub API call failed", "operation", op, "target", target, "error", err)
		return err
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// classify maps a go-github failure onto the provider error taxonomy. A 404 is
// a NotFoundError when kind is set and a 401 is an AuthenticationError; rate
// limits and everything else mean GitHub could not answer.
func classify(op string, resp *gh.Response, err error, kind, name string) error {
	var rateLimitErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateLimitErr) || errors.As(err, &abuseErr) {
		return &providers.TransportError{Op: op, Err: err}
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return providers.NewAuthenticationError("GitHub rejected the credentials", err)
		case kind != "" && resp.StatusCode == http.StatusNotFound:
			return &providers.NotFoundError{Kind: kind, Name: name}
		}
	}
	return &providers.TransportError{Op: op, Err: err}
}

func identityFromUser(u *gh.User) providers.Identity {
	return providers.NewIdentity(u.GetLogin(), u.GetName(), u.GetEmail())
}

// GetUser fetches a user by login.
func (c *APIClient) GetUser(ctx context.Context, username string) (providers.Identity, error) {
	// An empty login would make go-github fetch the authenticated user.
	if strings.TrimSpace(username) == "" {
		return providers.Identity{}, &providers.NotFoundError{Kind: "user", Name: username}
	}

	var identity providers.Identity
	err := c.call(ctx, "get_user", username, func(ctx context.Context) error {
		user, resp, err := c.client.Users.Get(ctx, username)
		if err != nil {
			return classify("get user", resp, err, "user", username)
		}
		identity = identityFromUser(user)
		return nil
	})
	return identity, err
}

// GetMyself fetches the authenticated user.
func (c *APIClient) GetMyself(ctx context.Context) (providers.Identity, error) {
	var identity providers.Identity
	err := c.call(ctx, "get_myself", "", func(ctx context.Context) error {
		user, resp, err := c.client.Users.Get(ctx, "")
		if err != nil {
			return classify("get authenticated user", resp, err, "", "")
		}
		identity = identityFromUser(user)
		return nil
	})
	return identity, err
}

// GetOrganization fetches an organization by login.
func (c *APIClient) GetOrganization(ctx context.Context, name string) (providers.Organization, error) {
	var org providers.Organization
	err := c.call(ctx, "get_organization", name, func(ctx context.Context) error {
		o, resp, err := c.client.Organizations.Get(ctx, name)
		if err != nil {
			return classify("get organization", resp, err, "organization", name)
		}
		org = providers.Organization{Login: o.GetLogin()}
		return nil
	})
	return org, err
}

// OrganizationHasMember reports whether the user belongs to org. GitHub answers
// 404 for non-members, which go-github turns into false.
func (c *APIClient) OrganizationHasMember(ctx context.Context, org providers.Organization, identity providers.Identity) (bool, error) {
	var member bool
	err := c.call(ctx, "organization_has_member", org.Login, func(ctx context.Context) error {
		ok, resp, err := c.client.Organizations.IsMember(ctx, org.Login, identity.Username)
		if err != nil {
			return classify("check organization membership", resp, err, "", "")
		}
		member = ok
		return nil
	})
	return member, err
}

// MyOrganizations lists the organizations of the authenticated user.
func (c *APIClient) MyOrganizations(ctx context.Context) (map[string]providers.Organization, error) {
	orgs := make(map[string]providers.Organization)
	err := c.call(ctx, "my_organizations", "", func(ctx context.Context) error {
		opts := &gh.ListOptions{PerPage: maxPerPage}
		for {
			page, resp, err := c.client.Organizations.List(ctx, "", opts)
			if err != nil {
				return classify("list organizations", resp, err, "", "")
			}
			for _, o := range page {
				orgs[strings.ToLower(o.GetLogin())] = providers.Organization{Login: o.GetLogin()}
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	return orgs, err
}

// GetTeams lists the teams of org keyed by lowercase team name.
func (c *APIClient) GetTeams(ctx context.Context, org providers.Organization) (map[string]providers.Team, error) {
	teams := make(map[string]providers.Team)
	err := c.call(ctx, "get_teams", org.Login, func(ctx context.Context) error {
		opts := &gh.ListOptions{PerPage: maxPerPage}
		for {
			page, resp, err := c.client.Teams.ListTeams(ctx, org.Login, opts)
			if err != nil {
				return classify("list teams", resp, err, "organization", org.Login)
			}
			for _, t := range page {
				teams[strings.ToLower(t.GetName())] = providers.Team{
					ID:           t.GetID(),
					Name:         t.GetName(),
					Slug:         t.GetSlug(),
					Organization: org.Login,
				}
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	return teams, err
}

// TeamHasMember reports whether the user is an active member of team.
// Pending invitations do not count.
func (c *APIClient) TeamHasMember(ctx context.Context, team providers.Team, identity providers.Identity) (bool, error) {
	var member bool
	err := c.call(ctx, "team_has_member", team.Organization+"/"+team.Slug, func(ctx context.Context) error {
		membership, resp, err := c.client.Teams.GetTeamMembershipBySlug(ctx, team.Organization, team.Slug, identity.Username)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return nil
			}
			return classify("check team membership", resp, err, "", "")
		}
		member = membership.GetState() == "active"
		return nil
	})
	return member, err
}

// MyTeams lists the teams of the authenticated user grouped by lowercase organization login.
func (c *APIClient) MyTeams(ctx context.Context) (map[string][]providers.Team, error) {
	teams := make(map[string][]providers.Team)
	err := c.call(ctx, "my_teams", "", func(ctx context.Context) error {
		opts := &gh.ListOptions{PerPage: maxPerPage}
		for {
			page, resp, err := c.client.Teams.ListUserTeams(ctx, opts)
			if err != nil {
				return classify("list user teams", resp, err, "", "")
			}
			for _, t := range page {
				orgLogin := t.GetOrganization().GetLogin()
				key := strings.ToLower(orgLogin)
				teams[key] = append(teams[key], providers.Team{
					ID:           t.GetID(),
					Name:         t.GetName(),
					Slug:         t.GetSlug(),
					Organization: orgLogin,
				})
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	return teams, err
}

// SearchUsers returns at most maxResults users matching query.
func (c *APIClient) SearchUsers(ctx context.Context, query string, maxResults int) ([]providers.Identity, error) {
	if maxResults <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	var identities []providers.Identity
	err := c.call(ctx, "search_users", "", func(ctx context.Context) error {
		opts := &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: min(maxResults, maxPerPage)}}
		for {
			result, resp, err := c.client.Search.Users(ctx, query, opts)
			if err != nil {
				return classify("search users", resp, err, "", "")
			}
			for _, u := range result.Users {
				identities = append(identities, identityFromUser(u))
				if len(identities) >= maxResults {
					return nil
				}
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	return identities, err
}

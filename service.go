package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/github-authz/instrumentation"
	"github.com/giantswarm/github-authz/internal/util"
	"github.com/giantswarm/github-authz/membership"
	"github.com/giantswarm/github-authz/providers"
	"github.com/giantswarm/github-authz/providers/github"
	"github.com/giantswarm/github-authz/security"
)

// Service defaults.
const (
	// DefaultSearchResults caps SearchUsers when no maximum is given.
	DefaultSearchResults = 10

	// DefaultSearchRate is the user search budget per auth config, in requests per second.
	DefaultSearchRate = 5.0

	// DefaultSearchBurst is the user search burst per auth config.
	DefaultSearchBurst = 10

	logPrefixLength = 8
)

// UserClientFactory builds a client authenticated with a user's OAuth token.
type UserClientFactory func(ctx context.Context, cfg ProviderConfiguration, token *OAuthToken) (providers.Client, error)

// ServiceConfig configures a Service. Every field is optional.
type ServiceConfig struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient is used for every call to GitHub (default: http.DefaultClient).
	HTTPClient *http.Client

	// RequestTimeout bounds GitHub calls whose context has no deadline (default: 30s).
	RequestTimeout time.Duration

	// Instrumentation provides metrics and tracing. When nil a disabled
	// (no-op) instrumentation is created.
	Instrumentation *instrumentation.Instrumentation

	// Auditor receives security events (default: enabled, using Logger).
	Auditor *security.Auditor

	// ClientCache holds the server clients per auth config (default: a new cache).
	ClientCache *providers.ClientCache

	// ServerClientFactory builds clients authenticated with the configuration's
	// personal access token (default: go-github clients).
	ServerClientFactory providers.ClientFactory

	// UserClientFactory builds clients authenticated with a user's token
	// (default: go-github clients).
	UserClientFactory UserClientFactory

	// SearchRate and SearchBurst limit user searches per auth config.
	SearchRate  float64
	SearchBurst int
}

// Service runs the GitHub login and role authorization flow for any number
// of auth configs. It is safe for concurrent use.
type Service struct {
	logger        *slog.Logger
	auditor       *security.Auditor
	inst          *instrumentation.Instrumentation
	ownsInst      bool
	metrics       *instrumentation.Metrics
	tracer        trace.Tracer
	cache         *providers.ClientCache
	authenticator *github.Authenticator
	serverFactory providers.ClientFactory
	userFactory   UserClientFactory
	evaluator     *membership.Evaluator
	authorizer    *Authorizer
	searchLimiter *security.RateLimiter
}

// NewService creates a Service, applying defaults to cfg.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auditor == nil {
		cfg.Auditor = security.NewAuditor(cfg.Logger, true)
	}
	if cfg.SearchRate <= 0 {
		cfg.SearchRate = DefaultSearchRate
	}
	if cfg.SearchBurst <= 0 {
		cfg.SearchBurst = DefaultSearchBurst
	}

	s := &Service{
		logger:  cfg.Logger,
		auditor: cfg.Auditor,
		inst:    cfg.Instrumentation,
	}

	if s.inst == nil {
		inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create instrumentation: %w", err)
		}
		s.inst = inst
		s.ownsInst = true
	}
	s.metrics = s.inst.Metrics()
	s.tracer = s.inst.Tracer("authz")

	s.cache = cfg.ClientCache
	if s.cache == nil {
		s.cache = providers.NewClientCache(cfg.Logger)
	}
	s.cache.SetObserver(s.metrics)
	if err := s.inst.RegisterClientCacheSize(func() int64 { return int64(s.cache.Len()) }); err != nil {
		return nil, fmt.Errorf("failed to register client cache size: %w", err)
	}

	clientOpts := github.ClientOptions{
		Options: github.Options{
			HTTPClient:     cfg.HTTPClient,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         cfg.Logger,
		},
		Observer: s.metrics,
		Tracer:   s.inst.Tracer("provider"),
	}

	s.authenticator = github.NewAuthenticator(clientOpts.Options)

	s.serverFactory = cfg.ServerClientFactory
	if s.serverFactory == nil {
		s.serverFactory = github.ServerClientFactory(clientOpts)
	}

	s.userFactory = cfg.UserClientFactory
	if s.userFactory == nil {
		s.userFactory = func(_ context.Context, pc ProviderConfiguration, token *OAuthToken) (providers.Client, error) {
			return github.NewAPIClient(pc, token.AccessToken, clientOpts)
		}
	}

	s.evaluator = membership.NewEvaluator(cfg.Logger, s.metrics)
	s.authorizer = NewAuthorizer(s.evaluator, cfg.Logger)
	s.searchLimiter = security.NewRateLimiter(cfg.SearchRate, cfg.SearchBurst, 0, cfg.Logger)

	return s, nil
}

// Close stops background work. Instrumentation passed in through
// ServiceConfig is left for the caller to shut down.
func (s *Service) Close(ctx context.Context) error {
	s.searchLimiter.Stop()
	if s.ownsInst {
		return s.inst.Shutdown(ctx)
	}
	return nil
}

// ClientCache returns the cache of server clients.
func (s *Service) ClientCache() *providers.ClientCache {
	return s.cache
}

func (s *Service) startSpan(ctx context.Context, name string, authCfg AuthConfig) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	instrumentation.AddAuthAttributes(span, authCfg.ID, "")
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

// BuildAuthorizationRequest returns the GitHub URL to redirect the user to and
// the session the caller must keep until the callback.
func (s *Service) BuildAuthorizationRequest(ctx context.Context, authCfg AuthConfig, callbackURL string) (authURL string, session AuthSession, err error) {
	ctx, span := s.startSpan(ctx, "authz.build_authorization_request", authCfg)
	defer func() { endSpan(span, err) }()

	authURL, session, err = github.AuthorizationRequest(authCfg.Configuration, callbackURL)
	if err != nil {
		s.logger.Error("Failed to build GitHub authorization request",
			"auth_config_id", authCfg.ID,
			"error", err)
		return "", AuthSession{}, err
	}

	s.metrics.RecordAuthorizationRequest(ctx, authCfg.ID)
	s.auditor.LogLoginStarted(authCfg.ID, clientIPFrom(ctx))
	s.logger.Debug("Built GitHub authorization request",
		"auth_config_id", authCfg.ID,
		"scope", authCfg.Configuration.Scope(),
		"state_prefix", util.SafeTruncate(session.State, logPrefixLength))

	return authURL, session, nil
}

// ExchangeToken checks redirectState against session and trades code for a
// token. A nil session skips the state check.
func (s *Service) ExchangeToken(ctx context.Context, authCfg AuthConfig, code string, session *AuthSession, redirectState string) (token *OAuthToken, err error) {
	ctx, span := s.startSpan(ctx, "authz.exchange_token", authCfg)
	defer func() { endSpan(span, err) }()

	if session == nil {
		s.logger.Warn("No stored session, skipping OAuth state validation", "auth_config_id", authCfg.ID)
		s.auditor.LogEvent(security.Event{
			Type:         security.EventStateValidationSkipped,
			AuthConfigID: authCfg.ID,
			IPAddress:    clientIPFrom(ctx),
		})
	}

	if err := github.ValidateState(session, redirectState); err != nil {
		reason := "missing"
		if errors.Is(err, ErrStateMismatch) {
			reason = "mismatch"
			s.auditor.LogStateMismatch(authCfg.ID, clientIPFrom(ctx))
		}
		s.metrics.RecordStateValidationFailure(ctx, reason)
		s.logger.Warn("OAuth state validation failed",
			"auth_config_id", authCfg.ID,
			"reason", reason,
			"state_prefix", util.SafeTruncate(redirectState, logPrefixLength))
		return nil, err
	}

	token, err = s.authenticator.ExchangeCode(ctx, authCfg.Configuration, code, session)
	s.metrics.RecordTokenExchange(ctx, authCfg.ID, err)
	if err != nil {
		if providers.IsAuthenticationError(err) {
			s.auditor.LogEvent(security.Event{
				Type:         security.EventTokenExchangeFailed,
				AuthConfigID: authCfg.ID,
				IPAddress:    clientIPFrom(ctx),
			})
		}
		return nil, err
	}

	s.logger.Debug("Exchanged authorization code",
		"auth_config_id", authCfg.ID,
		"code_prefix", util.SafeTruncate(code, logPrefixLength),
		"scope", token.Scope)

	return token, nil
}

// Authenticate resolves the user behind token, enforces the configuration's
// allowed organizations and assigns roles. A user outside the allowed
// organizations gets an OutcomeNotAMember result; failures are returned as errors.
func (s *Service) Authenticate(ctx context.Context, authCfg AuthConfig, token *OAuthToken, roles []RoleDefinition) (result *AuthResult, err error) {
	ctx, span := s.startSpan(ctx, "authz.authenticate", authCfg)
	defer func() { endSpan(span, err) }()

	defer func() {
		outcome := instrumentation.OutcomeFailed
		if err == nil {
			outcome = string(result.Outcome)
		}
		s.metrics.RecordAuthentication(ctx, authCfg.ID, outcome)
	}()

	if token == nil || token.AccessToken == "" {
		return nil, providers.NewAuthenticationError("access token missing", nil)
	}

	userClient, err := s.userFactory(ctx, authCfg.Configuration, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create user client: %w", err)
	}

	identity, err := ResolveIdentity(ctx, userClient)
	if err != nil {
		s.auditor.LogAuthFailure("", authCfg.ID, clientIPFrom(ctx), "identity resolution failed")
		return nil, err
	}
	instrumentation.AddAuthAttributes(span, authCfg.ID, identity.Username)

	allowed := authCfg.Configuration.AllowedOrganizations
	roles = RolesFor(roles, authCfg.ID)
	if len(allowed) == 0 && len(roles) == 0 {
		s.auditor.LogAuthenticated(identity.Username, authCfg.ID, clientIPFrom(ctx))
		return &AuthResult{Outcome: OutcomeAuthenticated, Identity: identity, Roles: []string{}}, nil
	}

	src, err := s.sourceFor(ctx, authCfg, userClient)
	if err != nil {
		return nil, err
	}

	if len(allowed) > 0 {
		member, err := s.evaluator.IsMemberOfAnyOrganization(ctx, src, identity, allowed)
		if err != nil {
			s.auditor.LogAuthFailure(identity.Username, authCfg.ID, clientIPFrom(ctx), "membership unavailable")
			return nil, err
		}
		if !member {
			s.logger.Info("User is not a member of any allowed organization",
				"auth_config_id", authCfg.ID,
				"username", identity.Username,
				"allowed_organizations", allowed)
			s.auditor.LogNotAMember(identity.Username, authCfg.ID, allowed)
			return &AuthResult{Outcome: OutcomeNotAMember, Identity: identity, Roles: []string{}}, nil
		}
	}

	assigned := s.authorize(ctx, authCfg, src, identity, roles)
	s.auditor.LogAuthenticated(identity.Username, authCfg.ID, clientIPFrom(ctx))

	return &AuthResult{Outcome: OutcomeAuthenticated, Identity: identity, Roles: assigned}, nil
}

// Authorize assigns roles to identity. With a user token and a configuration
// using user access tokens, memberships are read with the user's token;
// otherwise with the personal access token.
func (s *Service) Authorize(ctx context.Context, authCfg AuthConfig, identity Identity, roles []RoleDefinition, userToken *OAuthToken) (assigned []string, err error) {
	ctx, span := s.startSpan(ctx, "authz.authorize", authCfg)
	defer func() { endSpan(span, err) }()

	roles = RolesFor(roles, authCfg.ID)
	if len(roles) == 0 {
		return []string{}, nil
	}

	var userClient providers.Client
	if userToken != nil && !authCfg.Configuration.UsesPersonalAccessToken() {
		userClient, err = s.userFactory(ctx, authCfg.Configuration, userToken)
		if err != nil {
			return nil, fmt.Errorf("failed to create user client: %w", err)
		}
	}

	src, err := s.sourceFor(ctx, authCfg, userClient)
	if err != nil {
		return nil, err
	}

	return s.authorize(ctx, authCfg, src, identity, roles), nil
}

// GetRoles looks username up with the personal access token and assigns roles.
// It fails with a *NotFoundError when the user does not exist.
func (s *Service) GetRoles(ctx context.Context, authCfg AuthConfig, username string, roles []RoleDefinition) (assigned []string, err error) {
	ctx, span := s.startSpan(ctx, "authz.get_roles", authCfg)
	defer func() { endSpan(span, err) }()

	roles = RolesFor(roles, authCfg.ID)
	if len(roles) == 0 {
		s.logger.Debug("No roles configured, nothing to do", "auth_config_id", authCfg.ID)
		return []string{}, nil
	}

	if strings.TrimSpace(username) == "" {
		return nil, &NotFoundError{Kind: "user", Name: username}
	}

	client, err := s.serverClient(ctx, authCfg)
	if err != nil {
		return nil, err
	}

	identity, err := client.GetUser(ctx, username)
	if err != nil {
		s.logger.Warn("Failed to look up user", "auth_config_id", authCfg.ID, "username", username, "error", err)
		return nil, err
	}

	return s.authorize(ctx, authCfg, membership.NewPersonalAccessTokenSource(client), identity, roles), nil
}

// ValidateUser checks that username exists in GitHub. It returns a *NotFoundError when it does not.
func (s *Service) ValidateUser(ctx context.Context, authCfg AuthConfig, username string) (err error) {
	ctx, span := s.startSpan(ctx, "authz.validate_user", authCfg)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(username) == "" {
		return &NotFoundError{Kind: "user", Name: username}
	}

	client, err := s.serverClient(ctx, authCfg)
	if err != nil {
		return err
	}

	_, err = client.GetUser(ctx, username)
	return err
}

// SearchUsers searches every auth config for users matching term until
// maxResults identities are found (DefaultSearchResults when maxResults <= 0).
// Failures of one auth config, including an exhausted search budget, are
// logged and skipped; a cancelled ctx ends the search with an error.
func (s *Service) SearchUsers(ctx context.Context, authConfigs []AuthConfig, term string, maxResults int) ([]Identity, error) {
	if maxResults <= 0 {
		maxResults = DefaultSearchResults
	}

	seen := make(map[string]bool)
	users := []Identity{}

	for _, authCfg := range authConfigs {
		remaining := maxResults - len(users)
		if remaining <= 0 {
			break
		}

		if err := s.searchLimiter.Wait(ctx, authCfg.ID); err != nil {
			if ctx.Err() != nil {
				return users, err
			}
			s.metrics.RecordRateLimitExceeded(ctx, "user_search")
			s.auditor.LogRateLimitExceeded(authCfg.ID, clientIPFrom(ctx))
			s.logger.Warn("User search rate limit exceeded, skipping auth config",
				"auth_config_id", authCfg.ID,
				"error", err)
			continue
		}

		found, err := s.searchOne(ctx, authCfg, term, remaining)
		if err != nil {
			s.logger.Error("Error while searching users",
				"auth_config_id", authCfg.ID,
				"error", err)
			continue
		}

		for _, identity := range found {
			key := strings.ToLower(identity.Username)
			if seen[key] || len(users) >= maxResults {
				continue
			}
			seen[key] = true
			users = append(users, identity)
		}
	}

	return users, nil
}

func (s *Service) searchOne(ctx context.Context, authCfg AuthConfig, term string, maxResults int) (found []Identity, err error) {
	ctx, span := s.startSpan(ctx, "authz.search_users", authCfg)
	defer func() { endSpan(span, err) }()

	s.logger.Info("Looking up users",
		"search_term", term,
		"auth_config_id", authCfg.ID)

	client, err := s.serverClient(ctx, authCfg)
	if err != nil {
		return nil, err
	}
	return client.SearchUsers(ctx, term, maxResults)
}

// VerifyConnection validates the configuration and checks that its personal
// access token can talk to GitHub.
func (s *Service) VerifyConnection(ctx context.Context, authCfg AuthConfig) (err error) {
	ctx, span := s.startSpan(ctx, "authz.verify_connection", authCfg)
	defer func() { endSpan(span, err) }()

	if err := authCfg.Configuration.Validate(); err != nil {
		return err
	}

	client, err := s.serverClient(ctx, authCfg)
	if err != nil {
		return err
	}

	identity, err := ResolveIdentity(ctx, client)
	if err != nil {
		return err
	}

	s.logger.Info("Verified GitHub connection",
		"auth_config_id", authCfg.ID,
		"username", identity.Username,
		"base_url", authCfg.Configuration.BaseURL())
	return nil
}

func (s *Service) serverClient(ctx context.Context, authCfg AuthConfig) (providers.Client, error) {
	return s.cache.Get(ctx, authCfg.ID, authCfg.Configuration, s.serverFactory)
}

// sourceFor picks the membership source; the server client is only built
// when the source needs it.
func (s *Service) sourceFor(ctx context.Context, authCfg AuthConfig, userClient providers.Client) (membership.Source, error) {
	var server providers.Client
	if authCfg.Configuration.UsesPersonalAccessToken() || userClient == nil {
		var err error
		server, err = s.serverClient(ctx, authCfg)
		if err != nil {
			return nil, err
		}
	}
	return membership.SourceFor(authCfg.Configuration.AuthorizeUsing, server, userClient)
}

func (s *Service) authorize(ctx context.Context, authCfg AuthConfig, src membership.Source, identity Identity, roles []RoleDefinition) []string {
	roles = RolesFor(roles, authCfg.ID)
	if len(roles) == 0 {
		return []string{}
	}

	assigned := s.authorizer.Authorize(ctx, src, identity, roles)

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(instrumentation.AttrRoleCount, len(assigned)))
	s.metrics.RecordRolesAssigned(ctx, authCfg.ID, len(assigned))
	s.auditor.LogRolesAssigned(identity.Username, authCfg.ID, assigned)
	s.logger.Debug("Assigned roles",
		"auth_config_id", authCfg.ID,
		"username", identity.Username,
		"roles", assigned)

	return assigned
}

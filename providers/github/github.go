package github

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/github-authz/providers"
	"github.com/giantswarm/github-authz/security"
)

// OAuth endpoint paths, relative to ProviderConfiguration.BaseURL.
const (
	authorizePath   = "/login/oauth/authorize"
	accessTokenPath = "/login/oauth/access_token"
)

// DefaultRequestTimeout applies to GitHub calls whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// AuthorizationRequest builds the URL the user is redirected to and the session
// artifacts the caller must keep until the callback. No network I/O.
func AuthorizationRequest(cfg providers.ProviderConfiguration, callbackURL string) (string, providers.AuthSession, error) {
	if cfg.ClientID == "" {
		return "", providers.AuthSession{}, providers.NewConfigurationError(providers.PropertyClientID, "ClientId must not be blank.")
	}
	if cfg.IsEnterprise() && cfg.EnterpriseURL == "" {
		return "", providers.AuthSession{}, providers.NewConfigurationError(providers.PropertyEnterpriseURL, "GitHubEnterpriseUrl must not be blank.")
	}

	state := security.GenerateState()
	proofKey := security.GenerateProofKey()

	// Parameter order is fixed; url.Values.Encode would sort the keys.
	var b strings.Builder
	b.WriteString(cfg.BaseURL())
	b.WriteString(authorizePath)
	b.WriteString("?client_id=")
	b.WriteString(url.QueryEscape(cfg.ClientID))
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(callbackURL))
	b.WriteString("&response_type=code")
	b.WriteString("&scope=")
	b.WriteString(url.QueryEscape(cfg.Scope()))
	b.WriteString("&state=")
	b.WriteString(url.QueryEscape(state))
	b.WriteString("&code_challenge_method=")
	b.WriteString(security.PKCEMethodS256)
	b.WriteString("&code_challenge=")
	b.WriteString(proofKey.Challenge)

	return b.String(), providers.AuthSession{
		State:        state,
		CodeVerifier: proofKey.Verifier,
	}, nil
}

// ValidateState compares the state returned by GitHub with the stored session.
// A nil session means the caller never stored one and validation is skipped.
func ValidateState(session *providers.AuthSession, redirectState string) error {
	if session == nil {
		return nil
	}
	if redirectState == "" || session.State == "" {
		return providers.ErrStateMissing
	}
	if subtle.ConstantTimeCompare([]byte(redirectState), []byte(session.State)) != 1 {
		return providers.ErrStateMismatch
	}
	return nil
}

// Authenticator exchanges authorization codes at GitHub's token endpoint.
type Authenticator struct {
	httpClient     *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger
}

// Options configures an Authenticator or APIClient.
type Options struct {
	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout bounds calls whose context has no deadline (default: 30s).
	RequestTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(opts Options) *Authenticator {
	opts = opts.withDefaults()

	// GitHub answers form-encoded unless asked for JSON.
	base := opts.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client := *opts.HTTPClient
	client.Transport = &acceptJSONTransport{base: base}

	return &Authenticator{
		httpClient:     &client,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
	}
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
func ensureContextTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// ExchangeCode trades an authorization code for an access token, sending the
// session's PKCE verifier. Rejections are *providers.AuthenticationError and
// network failures *providers.TransportError.
func (a *Authenticator) ExchangeCode(ctx context.Context, cfg providers.ProviderConfiguration, code string, session *providers.AuthSession) (*providers.OAuthToken, error) {
	if err := cfg.ValidateForOAuth(); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, providers.NewAuthenticationError("authorization code missing", nil)
	}

	ctx, cancel := ensureContextTimeout(ctx, a.requestTimeout)
	defer cancel()

	var verifier string
	if session != nil {
		verifier = session.CodeVerifier
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.BaseURL() + authorizePath,
			TokenURL:  cfg.BaseURL() + accessTokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token, err := providers.ExchangeCodeWithPKCE(ctx, config, a.httpClient, code, verifier)
	if err != nil {
		a.logger.Warn("GitHub token exchange failed",
			"base_url", cfg.BaseURL(),
			"pkce", verifier != "",
			"error", err)
		return nil, err
	}

	scope, _ := token.Extra("scope").(string)
	return &providers.OAuthToken{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Scope:       scope,
	}, nil
}

type acceptJSONTransport struct {
	base http.RoundTripper
}

func (t *acceptJSONTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(req)
}

package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"

	"github.com/giantswarm/github-authz/internal/util"
)

// PublicGitHubURL is the base URL of github.com.
const PublicGitHubURL = "https://github.com"

// Scopes requested during authorization.
const (
	// ScopeUserEmail is enough when membership is checked with the server's personal access token.
	ScopeUserEmail = "user:email"

	// ScopeUserEmailReadOrg lets the user's own token list its organizations and teams.
	ScopeUserEmailReadOrg = "user:email read:org"
)

// AuthenticateWith selects the GitHub instance users authenticate against.
type AuthenticateWith string

const (
	// AuthenticateWithGitHub targets github.com.
	AuthenticateWithGitHub AuthenticateWith = "GitHub"

	// AuthenticateWithGitHubEnterprise targets the instance at ProviderConfiguration.EnterpriseURL.
	AuthenticateWithGitHubEnterprise AuthenticateWith = "GitHubEnterprise"
)

// AuthorizeUsing selects whose credential is used for organization and team lookups.
type AuthorizeUsing string

const (
	// AuthorizeUsingPersonalAccessToken queries GitHub with the server-held personal access token.
	AuthorizeUsingPersonalAccessToken AuthorizeUsing = "PersonalAccessToken"

	// AuthorizeUsingUserAccessToken queries GitHub with the token of the user logging in.
	AuthorizeUsingUserAccessToken AuthorizeUsing = "UserAccessToken"
)

// Property keys used by hosts to hand over a ProviderConfiguration.
const (
	PropertyClientID             = "ClientId"
	PropertyClientSecret         = "ClientSecret"
	PropertyAuthenticateWith     = "AuthenticateWith"
	PropertyEnterpriseURL        = "GitHubEnterpriseUrl"
	PropertyAllowedOrganizations = "AllowedOrganizations"
	PropertyAuthorizeUsing       = "AuthorizeUsing"
	PropertyPersonalAccessToken  = "PersonalAccessToken"
)

// ProviderConfiguration describes one GitHub OAuth App and the credentials
// used to query GitHub on the server's behalf. Treat it as immutable once loaded.
type ProviderConfiguration struct {
	// ClientID is the GitHub OAuth App client ID.
	ClientID string

	// ClientSecret is the GitHub OAuth App client secret.
	ClientSecret string

	// PersonalAccessToken is the server-held token for user and membership lookups.
	PersonalAccessToken string

	// AuthenticateWith selects public GitHub or GitHub Enterprise (default: GitHub).
	AuthenticateWith AuthenticateWith

	// EnterpriseURL is the GitHub Enterprise base URL. Only used with AuthenticateWithGitHubEnterprise.
	EnterpriseURL string

	// AllowedOrganizations restricts login to members of these organizations.
	// Lowercase, sorted and de-duplicated; empty means no restriction at login.
	AllowedOrganizations []string

	// AuthorizeUsing selects the membership lookup credential (default: personal access token).
	AuthorizeUsing AuthorizeUsing
}

// ParseProviderConfiguration builds a configuration from a host property map.
// Unknown keys are ignored; call Validate to check required fields.
func ParseProviderConfiguration(properties map[string]string) ProviderConfiguration {
	return NewProviderConfiguration(ProviderConfiguration{
		ClientID:             strings.TrimSpace(properties[PropertyClientID]),
		ClientSecret:         strings.TrimSpace(properties[PropertyClientSecret]),
		PersonalAccessToken:  strings.TrimSpace(properties[PropertyPersonalAccessToken]),
		AuthenticateWith:     AuthenticateWith(strings.TrimSpace(properties[PropertyAuthenticateWith])),
		EnterpriseURL:        strings.TrimSpace(properties[PropertyEnterpriseURL]),
		AllowedOrganizations: util.SplitCommaList(properties[PropertyAllowedOrganizations]),
		AuthorizeUsing:       AuthorizeUsing(strings.TrimSpace(properties[PropertyAuthorizeUsing])),
	})
}

// NewProviderConfiguration applies defaults and normalizes a configuration.
func NewProviderConfiguration(cfg ProviderConfiguration) ProviderConfiguration {
	switch {
	case strings.EqualFold(string(cfg.AuthenticateWith), string(AuthenticateWithGitHubEnterprise)),
		strings.EqualFold(string(cfg.AuthenticateWith), "github_enterprise"):
		cfg.AuthenticateWith = AuthenticateWithGitHubEnterprise
	default:
		cfg.AuthenticateWith = AuthenticateWithGitHub
	}

	if strings.EqualFold(string(cfg.AuthorizeUsing), string(AuthorizeUsingUserAccessToken)) {
		cfg.AuthorizeUsing = AuthorizeUsingUserAccessToken
	} else {
		cfg.AuthorizeUsing = AuthorizeUsingPersonalAccessToken
	}

	cfg.AllowedOrganizations = util.LowerSet(cfg.AllowedOrganizations)
	return cfg
}

// IsEnterprise reports whether the configuration targets GitHub Enterprise.
func (c ProviderConfiguration) IsEnterprise() bool {
	return c.AuthenticateWith == AuthenticateWithGitHubEnterprise
}

// UsesPersonalAccessToken reports whether membership is checked with the server's token.
func (c ProviderConfiguration) UsesPersonalAccessToken() bool {
	return c.AuthorizeUsing != AuthorizeUsingUserAccessToken
}

// BaseURL returns the authoritative web endpoint without a trailing slash.
func (c ProviderConfiguration) BaseURL() string {
	if c.IsEnterprise() {
		return util.NormalizeURL(c.EnterpriseURL)
	}
	return PublicGitHubURL
}

// Scope returns the OAuth scope requested from the user.
func (c ProviderConfiguration) Scope() string {
	if c.UsesPersonalAccessToken() {
		return ScopeUserEmail
	}
	return ScopeUserEmailReadOrg
}

// ValidateForOAuth checks the fields needed for the authorization redirect and token exchange.
func (c ProviderConfiguration) ValidateForOAuth() error {
	errs := &ConfigurationError{}
	c.validateOAuth(errs)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate checks every field, reporting all problems at once.
func (c ProviderConfiguration) Validate() error {
	errs := &ConfigurationError{}
	c.validateOAuth(errs)

	if c.PersonalAccessToken == "" {
		errs.Add(PropertyPersonalAccessToken, "PersonalAccessToken must not be blank.")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c ProviderConfiguration) validateOAuth(errs *ConfigurationError) {
	if c.ClientID == "" {
		errs.Add(PropertyClientID, "ClientId must not be blank.")
	}
	if c.ClientSecret == "" {
		errs.Add(PropertyClientSecret, "ClientSecret must not be blank.")
	}
	if c.IsEnterprise() {
		if c.EnterpriseURL == "" {
			errs.Add(PropertyEnterpriseURL, "GitHubEnterpriseUrl must not be blank.")
		} else if u, err := url.Parse(c.EnterpriseURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs.Add(PropertyEnterpriseURL, "GitHubEnterpriseUrl must be an absolute http(s) URL.")
		}
	}
}

// Equal reports structural equality.
func (c ProviderConfiguration) Equal(other ProviderConfiguration) bool {
	return c.ClientID == other.ClientID &&
		c.ClientSecret == other.ClientSecret &&
		c.PersonalAccessToken == other.PersonalAccessToken &&
		c.AuthenticateWith == other.AuthenticateWith &&
		c.EnterpriseURL == other.EnterpriseURL &&
		c.AuthorizeUsing == other.AuthorizeUsing &&
		slices.Equal(c.AllowedOrganizations, other.AllowedOrganizations)
}

// Fingerprint returns a short digest of the configuration that is safe to log.
// Equal configurations have equal fingerprints.
func (c ProviderConfiguration) Fingerprint() string {
	h := sha256.New()
	for _, field := range []string{
		c.ClientID,
		c.ClientSecret,
		c.PersonalAccessToken,
		string(c.AuthenticateWith),
		c.EnterpriseURL,
		string(c.AuthorizeUsing),
		strings.Join(c.AllowedOrganizations, ","),
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

package authz

import (
	"github.com/giantswarm/github-authz/providers"
)

// Types shared with the providers package.
type (
	ProviderConfiguration = providers.ProviderConfiguration
	AuthSession           = providers.AuthSession
	OAuthToken            = providers.OAuthToken
	Identity              = providers.Identity
)

// AuthConfig pairs the host's auth config id with its GitHub configuration.
// The id keys the client cache and scopes role definitions.
type AuthConfig struct {
	ID            string
	Configuration ProviderConfiguration
}

// Outcome is the result of an authentication attempt that reached GitHub.
type Outcome string

const (
	// OutcomeAuthenticated means the user may log in; Roles holds the assigned roles.
	OutcomeAuthenticated Outcome = "authenticated"

	// OutcomeNotAMember means the user belongs to none of the allowed organizations.
	OutcomeNotAMember Outcome = "not_a_member"
)

// AuthResult is the outcome of Service.Authenticate.
type AuthResult struct {
	Outcome  Outcome  `json:"outcome"`
	Identity Identity `json:"user"`
	Roles    []string `json:"roles"`
}

// Authenticated reports whether the user may log in.
func (r *AuthResult) Authenticated() bool {
	return r != nil && r.Outcome == OutcomeAuthenticated
}

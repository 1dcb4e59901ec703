package providers

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
)

// Client is the subset of the GitHub API the authorization core depends on.
// Lookups of absent users, organizations and teams return a *NotFoundError;
// network failures return a *TransportError.
type Client interface {
	// GetUser fetches a user by login.
	GetUser(ctx context.Context, username string) (Identity, error)

	// GetMyself fetches the user the client is authenticated as.
	GetMyself(ctx context.Context) (Identity, error)

	// GetOrganization fetches an organization by login.
	GetOrganization(ctx context.Context, name string) (Organization, error)

	// OrganizationHasMember reports whether the user is a member of org.
	OrganizationHasMember(ctx context.Context, org Organization, identity Identity) (bool, error)

	// MyOrganizations lists the organizations of the authenticated user, keyed by lowercase login.
	MyOrganizations(ctx context.Context) (map[string]Organization, error)

	// GetTeams lists the teams of org, keyed by lowercase team name.
	GetTeams(ctx context.Context, org Organization) (map[string]Team, error)

	// TeamHasMember reports whether the user is an active member of team.
	TeamHasMember(ctx context.Context, team Team, identity Identity) (bool, error)

	// MyTeams lists the teams of the authenticated user grouped by lowercase organization login.
	MyTeams(ctx context.Context) (map[string][]Team, error)

	// SearchUsers searches users, returning at most maxResults identities.
	SearchUsers(ctx context.Context, query string, maxResults int) ([]Identity, error)
}

// Identity is a GitHub user as seen by the authorization core.
type Identity struct {
	// Username is the GitHub login, case preserved.
	Username string `json:"username"`

	// DisplayName is the profile name, possibly empty.
	DisplayName string `json:"display_name"`

	// Email is the lowercased public email, empty when hidden.
	Email string `json:"email,omitempty"`
}

// NewIdentity creates an Identity, normalizing the email address.
func NewIdentity(username, displayName, email string) Identity {
	return Identity{
		Username:    username,
		DisplayName: displayName,
		Email:       strings.ToLower(strings.TrimSpace(email)),
	}
}

// Organization identifies a GitHub organization.
type Organization struct {
	// Login is the organization login as returned by GitHub.
	Login string
}

// Team identifies a team inside an organization.
type Team struct {
	ID           int64
	Name         string
	Slug         string
	Organization string
}

// AuthSession holds the artifacts of one authorization attempt. The caller
// stores it between the redirect and the callback; nothing is kept server side.
type AuthSession struct {
	State        string `json:"oauth2_state"`
	CodeVerifier string `json:"oauth2_code_verifier_encoded"`
}

// OAuthToken is the result of a successful code exchange.
type OAuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// OAuth2Token converts the token for use with an oauth2.TokenSource.
func (t *OAuthToken) OAuth2Token() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   tokenType,
	}
}

// Package github talks to GitHub and GitHub Enterprise for the login flow.
//
// It covers two concerns:
//   - the OAuth2 Authorization Code flow with PKCE: AuthorizationRequest builds
//     the redirect URL and session, ValidateState checks the callback, and
//     Authenticator.ExchangeCode trades the code for a token
//   - APIClient, a providers.Client over go-github used for identity, organization,
//     team and user search lookups
//
// GitHub OAuth App tokens do not expire and cannot be refreshed, so no refresh
// or revocation support exists here.
//
// # Endpoints
//
// For public GitHub the web endpoints live at https://github.com and the API at
// https://api.github.com. For GitHub Enterprise both derive from the configured
// enterprise URL (API under /api/v3).
//
// # Example Usage
//
//	authURL, session, err := github.AuthorizationRequest(cfg, "https://ci.example.com/callback")
//	if err != nil {
//	    return err
//	}
//	// store session, redirect to authURL ...
//
//	if err := github.ValidateState(&session, r.URL.Query().Get("state")); err != nil {
//	    return err
//	}
//	token, err := github.NewAuthenticator(github.Options{}).ExchangeCode(ctx, cfg, code, &session)
package github

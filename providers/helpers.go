package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// OAuth2ConfigExchanger is an interface for the Exchange method of oauth2.Config.
// This allows us to create shared helper functions that work with any provider's config.
type OAuth2ConfigExchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// ExchangeCodeWithPKCE exchanges an authorization code, sending the PKCE verifier
// when one is given, and classifies the failure:
//   - rejected by the token endpoint (non-2xx or an OAuth error body): *AuthenticationError
//   - network failure: *TransportError
//   - anything else, e.g. a response without access_token: *AuthenticationError
func ExchangeCodeWithPKCE(ctx context.Context, config OAuth2ConfigExchanger, httpClient *http.Client, code, verifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption

	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	// Use custom HTTP client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	token, err := config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	return token, nil
}

func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && (retrieveErr.Response.StatusCode < 200 || retrieveErr.Response.StatusCode > 299) {
			return NewAuthenticationError(fmt.Sprintf("token exchange failed: %s", retrieveErr.Response.Status), err)
		}
		if retrieveErr.ErrorCode != "" {
			return NewAuthenticationError(fmt.Sprintf("token exchange rejected: %s", retrieveErr.ErrorCode), err)
		}
		return NewAuthenticationError("token exchange rejected", err)
	}

	if IsNetworkError(err) {
		return &TransportError{Op: "token exchange", Err: err}
	}

	return NewAuthenticationError("token exchange failed", err)
}

// IsNetworkError reports whether err originates from the transport rather than from an HTTP response.
func IsNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

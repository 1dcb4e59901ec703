package authz

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/github-authz/membership"
	"github.com/giantswarm/github-authz/providers"
)

// Error types of the login and authorization flow.
type (
	ConfigurationError  = providers.ConfigurationError
	AuthenticationError = providers.AuthenticationError
	TransportError      = providers.TransportError
	NotFoundError       = providers.NotFoundError
)

// Sentinel errors, comparable with errors.Is.
var (
	ErrStateMissing          = providers.ErrStateMissing
	ErrStateMismatch         = providers.ErrStateMismatch
	ErrNotAMember            = providers.ErrNotAMember
	ErrMembershipUnavailable = membership.ErrMembershipUnavailable

	// ErrNoAuthConfig is returned when an operation needs at least one auth config.
	ErrNoAuthConfig = errors.New("no authorization configuration found")
)

// Error codes written by Handler.
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeAccessDenied      = "access_denied"
	ErrorCodeAuthFailed        = "authentication_failed"
	ErrorCodeUpstreamError     = "upstream_error"
	ErrorCodeServerError       = "server_error"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// HandlerError is an error response of the HTTP login flow.
type HandlerError struct {
	Code        string // error code (e.g., "access_denied")
	Description string // human-readable description, safe to show to end users
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewHandlerError creates a new handler error
func NewHandlerError(code, description string, status int) *HandlerError {
	return &HandlerError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// handlerErrorFor maps a flow error onto the response shown to the user.
// Provider internals never reach the description.
func handlerErrorFor(err error) *HandlerError {
	var handlerErr *HandlerError
	var authErr *providers.AuthenticationError

	switch {
	case errors.As(err, &handlerErr):
		return handlerErr
	case errors.Is(err, ErrNotAMember):
		return NewHandlerError(ErrorCodeAccessDenied, "You are not a member of an organization allowed to log in.", http.StatusForbidden)
	case errors.As(err, &authErr):
		return NewHandlerError(ErrorCodeAuthFailed, "GitHub authentication failed: "+authErr.Reason+".", http.StatusUnauthorized)
	case providers.IsConfigurationError(err):
		return NewHandlerError(ErrorCodeServerError, "The GitHub login is not configured correctly.", http.StatusInternalServerError)
	case providers.IsTransportError(err), providers.IsNotFound(err), errors.Is(err, ErrMembershipUnavailable):
		return NewHandlerError(ErrorCodeUpstreamError, "GitHub could not be reached. Please try again.", http.StatusBadGateway)
	default:
		return NewHandlerError(ErrorCodeServerError, "Login failed.", http.StatusInternalServerError)
	}
}

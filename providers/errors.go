package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the state round trip and the login decision.
var (
	// ErrStateMissing is returned when the redirect or the stored session lacks the state parameter.
	ErrStateMissing = &AuthenticationError{Reason: "oauth2 state is missing"}

	// ErrStateMismatch is returned when the redirected state differs from the state stored in the session.
	ErrStateMismatch = &AuthenticationError{Reason: "redirected oauth2 state did not match the state stored in session"}

	// ErrNotAMember is returned when the user belongs to none of the allowed organizations.
	ErrNotAMember = &AuthenticationError{Reason: "user is not a member of any allowed organization"}
)

// ConfigurationError reports missing or structurally invalid configuration.
// Fields maps the offending property key to a human readable message.
type ConfigurationError struct {
	Fields map[string]string
}

// NewConfigurationError creates a configuration error for a single field.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Fields: map[string]string{field: message}}
}

// Add records another invalid field.
func (e *ConfigurationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// HasErrors reports whether any field was recorded.
func (e *ConfigurationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// AuthenticationError reports a failed authentication. Reason is safe to show to end users.
type AuthenticationError struct {
	Reason string
	Err    error
}

// NewAuthenticationError creates an authentication error wrapping an optional cause.
func NewAuthenticationError(reason string, err error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Err: err}
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is matches sentinel authentication errors by reason so wrapped copies still compare equal.
func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	if !ok {
		return false
	}
	return e == t || (t.Err == nil && e.Reason == t.Reason)
}

// TransportError reports a network level failure talking to the provider.
// Callers may retry; nothing in this module retries on its own.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("github %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFoundError reports that a user, organization or team does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q does not exist in GitHub", e.Kind, e.Name)
}

// IsAuthenticationError reports whether err is (or wraps) an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

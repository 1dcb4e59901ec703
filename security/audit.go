// Package security provides the security primitives of the GitHub login flow:
// PKCE and state generation, session sealing, rate limiting and audit logging.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events with hashed usernames.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event is one security audit record.
type Event struct {
	Type         string
	Username     string
	AuthConfigID string
	IPAddress    string
	Details      map[string]any
	Timestamp    time.Time
}

// LogEvent logs a security event. The username is hashed, never written in clear.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_hash", hashForLogging(event.Username),
		"auth_config_id", event.AuthConfigID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginStarted logs a redirect to GitHub.
func (a *Auditor) LogLoginStarted(authConfigID, ipAddress string) {
	a.LogEvent(Event{
		Type:         EventLoginStarted,
		AuthConfigID: authConfigID,
		IPAddress:    ipAddress,
	})
}

// LogAuthenticated logs a completed login.
func (a *Auditor) LogAuthenticated(username, authConfigID, ipAddress string) {
	a.LogEvent(Event{
		Type:         EventAuthenticated,
		Username:     username,
		AuthConfigID: authConfigID,
		IPAddress:    ipAddress,
	})
}

// LogAuthFailure logs a failed login.
func (a *Auditor) LogAuthFailure(username, authConfigID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:         EventAuthFailure,
		Username:     username,
		AuthConfigID: authConfigID,
		IPAddress:    ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogStateMismatch logs a callback whose state did not match, a possible CSRF attempt.
func (a *Auditor) LogStateMismatch(authConfigID, ipAddress string) {
	a.LogEvent(Event{
		Type:         EventStateMismatch,
		AuthConfigID: authConfigID,
		IPAddress:    ipAddress,
	})
}

// LogNotAMember logs a user rejected by the organization allow-list.
func (a *Auditor) LogNotAMember(username, authConfigID string, allowedOrganizations []string) {
	a.LogEvent(Event{
		Type:         EventNotAMember,
		Username:     username,
		AuthConfigID: authConfigID,
		Details: map[string]any{
			"allowed_organizations": allowedOrganizations,
		},
	})
}

// LogRolesAssigned logs the roles resolved for a user.
func (a *Auditor) LogRolesAssigned(username, authConfigID string, roles []string) {
	a.LogEvent(Event{
		Type:         EventRolesAssigned,
		Username:     username,
		AuthConfigID: authConfigID,
		Details: map[string]any{
			"roles": roles,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(identifier, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"identifier": identifier,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

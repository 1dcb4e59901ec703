package security

// Event types written by the Auditor.
const (
	// EventLoginStarted is logged when a user is redirected to GitHub.
	EventLoginStarted = "login_started"

	// EventAuthenticated is logged when a user completed the callback and is allowed in.
	EventAuthenticated = "authenticated"

	// EventAuthFailure is logged when the callback cannot be completed.
	EventAuthFailure = "auth_failure"

	// EventStateMismatch is logged when the callback state does not match the stored session.
	EventStateMismatch = "state_mismatch"

	// EventStateValidationSkipped is logged when a callback arrives without a stored session.
	EventStateValidationSkipped = "state_validation_skipped"

	// EventTokenExchangeFailed is logged when GitHub rejects the authorization code.
	EventTokenExchangeFailed = "token_exchange_failed" //nolint:gosec // G101: event name, not a credential

	// EventNotAMember is logged when a user is not in any allowed organization.
	EventNotAMember = "not_a_member"

	// EventRolesAssigned is logged when roles are resolved for a user.
	EventRolesAssigned = "roles_assigned"

	// EventRateLimitExceeded is logged when a caller exceeds its request budget.
	EventRateLimitExceeded = "rate_limit_exceeded"
)

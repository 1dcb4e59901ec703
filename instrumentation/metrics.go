package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/giantswarm/github-authz/providers"
)

// Metric attribute values.
const (
	ResultSuccess        = "success"
	ResultRejected       = "rejected"
	ResultTransportError = "transport_error"
	ResultMember         = "member"
	ResultNotMember      = "not_member"
	ResultError          = "error"

	OutcomeAuthenticated = "authenticated"
	OutcomeNotAMember    = "not_a_member"
	OutcomeFailed        = "failed"
)

// Metrics holds the metric instruments of the login and authorization flow.
type Metrics struct {
	AuthorizationRequests   metric.Int64Counter
	TokenExchanges          metric.Int64Counter
	StateValidationFailures metric.Int64Counter
	Authentications         metric.Int64Counter
	MembershipChecks        metric.Int64Counter
	RolesAssigned           metric.Int64Counter
	RateLimitExceeded       metric.Int64Counter

	ProviderAPICalls    metric.Int64Counter
	ProviderAPIDuration metric.Float64Histogram
	ProviderAPIErrors   metric.Int64Counter

	ClientCacheLookups metric.Int64Counter
	ClientCacheSize    metric.Int64ObservableGauge
}

type counterSpec struct {
	target *metric.Int64Counter
	name   string
	desc   string
	unit   string
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.AuthorizationRequests, "github_authz.authorization.requests", "Authorization redirects built", "{request}"},
		{&m.TokenExchanges, "github_authz.token.exchanges", "Authorization code exchanges by result", "{exchange}"},
		{&m.StateValidationFailures, "github_authz.state.validation_failures", "Callbacks rejected by state validation", "{callback}"},
		{&m.Authentications, "github_authz.authentications", "Authentication attempts by outcome", "{attempt}"},
		{&m.MembershipChecks, "github_authz.membership.checks", "Organization and team membership checks", "{check}"},
		{&m.RolesAssigned, "github_authz.roles.assigned", "Roles assigned to users", "{role}"},
		{&m.RateLimitExceeded, "github_authz.rate_limit.exceeded", "Requests rejected by a rate limiter", "{request}"},
		{&m.ProviderAPICalls, "github_authz.provider.api.calls", "GitHub API calls", "{call}"},
		{&m.ProviderAPIErrors, "github_authz.provider.api.errors", "Failed GitHub API calls", "{call}"},
		{&m.ClientCacheLookups, "github_authz.client_cache.lookups", "GitHub client cache lookups", "{lookup}"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	m.ProviderAPIDuration, err = meter.Float64Histogram(
		"github_authz.provider.api.duration",
		metric.WithDescription("GitHub API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.ClientCacheSize, err = meter.Int64ObservableGauge(
		"github_authz.client_cache.size",
		metric.WithDescription("Number of cached GitHub clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client_cache.size gauge: %w", err)
	}

	return m, nil
}

// RecordAuthorizationRequest records a redirect to GitHub.
func (m *Metrics) RecordAuthorizationRequest(ctx context.Context, authConfigID string) {
	m.AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth_config_id", authConfigID),
	))
}

// RecordTokenExchange records a code exchange; err selects the result attribute.
func (m *Metrics) RecordTokenExchange(ctx context.Context, authConfigID string, err error) {
	result := ResultSuccess
	switch {
	case providers.IsTransportError(err):
		result = ResultTransportError
	case err != nil:
		result = ResultRejected
	}

	m.TokenExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth_config_id", authConfigID),
		attribute.String("result", result),
	))
}

// RecordStateValidationFailure records a callback rejected for a missing or mismatched state.
func (m *Metrics) RecordStateValidationFailure(ctx context.Context, reason string) {
	m.StateValidationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordAuthentication records the outcome of an authentication.
func (m *Metrics) RecordAuthentication(ctx context.Context, authConfigID, outcome string) {
	m.Authentications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth_config_id", authConfigID),
		attribute.String("outcome", outcome),
	))
}

// RecordMembershipCheck records one organization or team check.
func (m *Metrics) RecordMembershipCheck(ctx context.Context, kind, source, result string) {
	m.MembershipChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("source", source),
		attribute.String("result", result),
	))
}

// RecordRolesAssigned records how many roles a user received.
func (m *Metrics) RecordRolesAssigned(ctx context.Context, authConfigID string, count int) {
	m.RolesAssigned.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("auth_config_id", authConfigID),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiter string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter", limiter),
	))
}

// RecordProviderCall records a GitHub API call.
func (m *Metrics) RecordProviderCall(ctx context.Context, operation string, duration time.Duration, err error) {
	op := attribute.String("operation", operation)

	m.ProviderAPICalls.Add(ctx, 1, metric.WithAttributes(op))
	m.ProviderAPIDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(op))

	if err != nil {
		errorType := "other"
		switch {
		case providers.IsNotFound(err):
			errorType = "not_found"
		case providers.IsTransportError(err):
			errorType = "transport"
		case providers.IsAuthenticationError(err):
			errorType = "unauthorized"
		}
		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(op, attribute.String("error_type", errorType)))
	}
}

// RecordClientCacheLookup records a client cache hit or miss.
func (m *Metrics) RecordClientCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ClientCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Never put tokens, codes, verifiers or client secrets in spans.
const (
	AttrAuthConfigID      = "github_authz.auth_config_id"
	AttrUsername          = "github_authz.username"
	AttrRoleCount         = "github_authz.role_count"
	AttrOutcome           = "github_authz.outcome"
	AttrMembershipKind    = "github_authz.membership.kind"
	AttrMembershipSource  = "github_authz.membership.source"
	AttrProviderOperation = "provider.operation"
	AttrProviderTarget    = "provider.target"
	AttrClientIP          = "security.client_ip"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanError marks a span as failed with a message (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddAuthAttributes adds the auth config and, when known, the GitHub login.
func AddAuthAttributes(span trace.Span, authConfigID, username string) {
	if authConfigID != "" {
		SetSpanAttributes(span, attribute.String(AttrAuthConfigID, authConfigID))
	}
	if username != "" {
		SetSpanAttributes(span, attribute.String(AttrUsername, username))
	}
}

// AddProviderAttributes describes a GitHub API call.
func AddProviderAttributes(span trace.Span, operation, target string) {
	SetSpanAttributes(span, attribute.String(AttrProviderOperation, operation))
	if target != "" {
		SetSpanAttributes(span, attribute.String(AttrProviderTarget, target))
	}
}

// AddClientIPAttribute adds the caller address.
func AddClientIPAttribute(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}

// Package instrumentation provides OpenTelemetry metrics and tracing for the
// GitHub login and authorization flow.
//
// When Config.Enabled is false every instrument is backed by no-op providers.
// When enabled, SDK providers are created; pass a MetricReader (for example a
// Prometheus exporter) and a SpanExporter to ship the data somewhere.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:  "github-login",
//		Enabled:      true,
//		MetricReader: reader,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Metrics
//
//   - github_authz.authorization.requests, github_authz.token.exchanges
//   - github_authz.state.validation_failures, github_authz.authentications
//   - github_authz.membership.checks, github_authz.roles.assigned
//   - github_authz.provider.api.{calls,duration,errors}
//   - github_authz.client_cache.{lookups,size}
//   - github_authz.rate_limit.exceeded
//
// Metrics implements providers.CacheObserver and the GitHub client's call
// observer, so it can be handed to both directly.
package instrumentation

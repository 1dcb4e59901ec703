// Package providers defines the contract between the authorization core and a
// GitHub API client, together with the identity, session and token types that
// flow through an authentication exchange.
//
// It contains:
//   - Client: the GitHub API surface used for identity and membership lookups
//   - ProviderConfiguration: one GitHub OAuth App plus its server-side credentials
//   - ClientCache: per auth config memoization of server-side clients
//   - the error taxonomy (ConfigurationError, AuthenticationError, TransportError, NotFoundError)
//
// Implementations are provided in subpackages:
//   - providers/github: GitHub and GitHub Enterprise over go-github
//   - providers/mock: scripted Client for tests
//
// Example usage:
//
//	cfg := providers.ParseProviderConfiguration(map[string]string{
//	    providers.PropertyClientID:            "client-id",
//	    providers.PropertyClientSecret:        "client-secret",
//	    providers.PropertyPersonalAccessToken: "ghp_xxx",
//	})
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	cache := providers.NewClientCache(logger)
//	client, err := cache.Get(ctx, "github-main", cfg, github.NewServerClient)
package providers

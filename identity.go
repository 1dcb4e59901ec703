package authz

import (
	"context"
	"fmt"

	"github.com/giantswarm/github-authz/providers"
)

// ResolveIdentity asks GitHub who the client is authenticated as. It makes
// exactly one call and no membership lookups.
func ResolveIdentity(ctx context.Context, client providers.Client) (Identity, error) {
	identity, err := client.GetMyself(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to resolve GitHub identity: %w", err)
	}
	return identity, nil
}

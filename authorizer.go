package authz

import (
	"context"
	"log/slog"
	"slices"

	"github.com/giantswarm/github-authz/membership"
)

// Authorizer assigns roles to an identity.
type Authorizer struct {
	evaluator *membership.Evaluator
	logger    *slog.Logger
}

// NewAuthorizer creates an Authorizer over evaluator.
func NewAuthorizer(evaluator *membership.Evaluator, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = membership.NewEvaluator(logger, nil)
	}
	return &Authorizer{
		evaluator: evaluator,
		logger:    logger,
	}
}

// Authorize returns the names of the roles granted to identity, in role order
// and without duplicates. For each role the user list is checked first, then
// organizations, then teams; the first match grants the role. Roles that could
// not be evaluated are not granted. No roles means no GitHub calls.
func (a *Authorizer) Authorize(ctx context.Context, src membership.Source, identity Identity, roles []RoleDefinition) []string {
	assigned := []string{}

	for _, role := range roles {
		if slices.Contains(assigned, role.Name) {
			continue
		}
		if a.grants(ctx, src, identity, role) {
			assigned = append(assigned, role.Name)
		}
	}

	return assigned
}

func (a *Authorizer) grants(ctx context.Context, src membership.Source, identity Identity, role RoleDefinition) bool {
	if role.Rule.AllowsUser(identity.Username) {
		a.logger.Debug("Role granted by user list", "role", role.Name, "username", identity.Username)
		return true
	}

	member, err := a.evaluator.IsMemberOfAnyOrganization(ctx, src, identity, role.Rule.Organizations)
	if err != nil {
		a.logger.Warn("Could not check organization membership for role",
			"role", role.Name,
			"username", identity.Username,
			"error", err)
	}
	if member {
		a.logger.Debug("Role granted by organization membership", "role", role.Name, "username", identity.Username)
		return true
	}

	member, err = a.evaluator.IsMemberOfAnyTeam(ctx, src, identity, role.Rule.Teams)
	if err != nil {
		a.logger.Warn("Could not check team membership for role",
			"role", role.Name,
			"username", identity.Username,
			"error", err)
	}
	if member {
		a.logger.Debug("Role granted by team membership", "role", role.Name, "username", identity.Username)
	}
	return member
}

package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/giantswarm/github-authz/instrumentation"
	"github.com/giantswarm/github-authz/providers"
)

// ErrMembershipUnavailable is wrapped by the error returned when no lookup of
// an evaluation could be completed.
var ErrMembershipUnavailable = errors.New("membership could not be determined")

// Membership check kinds.
const (
	KindOrganization = "organization"
	KindTeam         = "team"
)

// Evaluator runs short-circuiting "member of at least one" checks against a Source.
type Evaluator struct {
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewEvaluator creates an Evaluator. metrics may be nil.
func NewEvaluator(logger *slog.Logger, metrics *instrumentation.Metrics) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger:  logger,
		metrics: metrics,
	}
}

// evaluation counts lookups that finished, with or without membership, and those that failed.
type evaluation struct {
	completed int
	failed    int
	lastErr   error
}

func (e *evaluation) result(what string) error {
	if e.completed == 0 && e.failed > 0 {
		return fmt.Errorf("%w: all %d %s lookups failed: %w", ErrMembershipUnavailable, e.failed, what, e.lastErr)
	}
	return nil
}

// IsMemberOfAnyOrganization reports whether identity belongs to one of
// organizations, checked in the given order. An empty list is false without
// any lookup.
func (e *Evaluator) IsMemberOfAnyOrganization(ctx context.Context, src Source, identity providers.Identity, organizations []string) (bool, error) {
	if len(organizations) == 0 {
		return false, nil
	}

	var eval evaluation
	for _, org := range organizations {
		org = strings.ToLower(strings.TrimSpace(org))
		if org == "" {
			continue
		}

		member, err := src.OrganizationHasMember(ctx, identity, org)
		if e.settle(ctx, &eval, src, KindOrganization, identity, org, member, err) {
			e.logger.Debug("User is a member of an allowed organization",
				"username", identity.Username,
				"organization", org,
				"source", src.Name())
			return true, nil
		}
	}

	return false, eval.result(KindOrganization)
}

// IsMemberOfAnyTeam reports whether identity is a member of one of the teams
// listed per organization. Organizations are visited in lexical order and
// teams in the given order. An empty mapping is false without any lookup.
func (e *Evaluator) IsMemberOfAnyTeam(ctx context.Context, src Source, identity providers.Identity, teams map[string][]string) (bool, error) {
	if len(teams) == 0 {
		return false, nil
	}

	orgs := make([]string, 0, len(teams))
	for org := range teams {
		orgs = append(orgs, org)
	}
	slices.Sort(orgs)

	var eval evaluation
	for _, org := range orgs {
		lowerOrg := strings.ToLower(strings.TrimSpace(org))
		for _, team := range teams[org] {
			team = strings.ToLower(strings.TrimSpace(team))
			if lowerOrg == "" || team == "" {
				continue
			}

			member, err := src.TeamHasMember(ctx, identity, lowerOrg, team)
			if e.settle(ctx, &eval, src, KindTeam, identity, lowerOrg+":"+team, member, err) {
				e.logger.Debug("User is a member of an allowed team",
					"username", identity.Username,
					"organization", lowerOrg,
					"team", team,
					"source", src.Name())
				return true, nil
			}
		}
	}

	return false, eval.result(KindTeam)
}

// settle accounts for one lookup and reports whether it found membership.
func (e *Evaluator) settle(ctx context.Context, eval *evaluation, src Source, kind string, identity providers.Identity, target string, member bool, err error) bool {
	switch {
	case err == nil:
		eval.completed++
	case providers.IsNotFound(err):
		eval.completed++
		member = false
		e.logger.Debug("Allowed "+kind+" does not exist",
			"target", target,
			"source", src.Name())
	default:
		eval.failed++
		eval.lastErr = err
		e.logger.Warn("Membership lookup failed, treating as no match",
			"kind", kind,
			"target", target,
			"username", identity.Username,
			"source", src.Name(),
			"error", err)
		e.record(ctx, kind, src.Name(), instrumentation.ResultError)
		return false
	}

	result := instrumentation.ResultNotMember
	if member {
		result = instrumentation.ResultMember
	}
	e.record(ctx, kind, src.Name(), result)
	return member
}

func (e *Evaluator) record(ctx context.Context, kind, source, result string) {
	if e.metrics != nil {
		e.metrics.RecordMembershipCheck(ctx, kind, source, result)
	}
}

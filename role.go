package authz

import (
	"fmt"
	"slices"
	"strings"

	"github.com/giantswarm/github-authz/internal/util"
)

// Role property keys used by hosts to hand over a RoleRule.
const (
	RolePropertyUsers         = "Users"
	RolePropertyOrganizations = "Organizations"
	RolePropertyTeams         = "Teams"
)

// RoleDefinition is an application role and the rule granting it.
type RoleDefinition struct {
	// Name is the role name reported back to the host.
	Name string

	// AuthConfigID optionally ties the role to one auth config. Empty applies to all.
	AuthConfigID string

	// Rule decides who gets the role.
	Rule RoleRule
}

// RoleRule grants a role by username, organization or team. All names are lowercase.
type RoleRule struct {
	Users         []string
	Organizations []string

	// Teams maps an organization to allowed team names or slugs.
	Teams map[string][]string
}

// TeamsParseError reports a Teams line not in "organization:team-1,team-2" form.
type TeamsParseError struct {
	Line string
}

// Error implements the error interface
func (e *TeamsParseError) Error() string {
	return fmt.Sprintf("invalid teams line %q: it should be in <organization>:<team-1>,<team-2> format", e.Line)
}

// ParseRoleRule builds a rule from host properties: comma separated Users and
// Organizations, and one "organization:team-1,team-2" line per organization in Teams.
// A line repeating an organization adds to its teams.
func ParseRoleRule(properties map[string]string) (RoleRule, error) {
	rule := RoleRule{
		Users:         util.LowerAll(util.SplitCommaList(properties[RolePropertyUsers])),
		Organizations: util.LowerAll(util.SplitCommaList(properties[RolePropertyOrganizations])),
	}

	for _, line := range util.SplitLines(properties[RolePropertyTeams]) {
		org, teams, ok := strings.Cut(strings.ToLower(line), ":")
		org = strings.TrimSpace(org)
		if !ok || org == "" {
			return RoleRule{}, &TeamsParseError{Line: line}
		}

		names := util.SplitCommaList(teams)
		if len(names) == 0 {
			return RoleRule{}, &TeamsParseError{Line: line}
		}

		if rule.Teams == nil {
			rule.Teams = make(map[string][]string)
		}
		rule.Teams[org] = append(rule.Teams[org], names...)
	}

	return rule, nil
}

// IsEmpty reports whether the rule grants the role to nobody.
func (r RoleRule) IsEmpty() bool {
	return len(r.Users) == 0 && len(r.Organizations) == 0 && len(r.Teams) == 0
}

// Validate checks that at least one of users, organizations or teams is set.
func (r RoleRule) Validate() error {
	if r.IsEmpty() {
		errs := &ConfigurationError{}
		errs.Add(RolePropertyUsers, "At least one of Users, Organizations or Teams must be specified.")
		return errs
	}
	return nil
}

// AllowsUser reports whether username is on the rule's user list, ignoring case.
func (r RoleRule) AllowsUser(username string) bool {
	return slices.ContainsFunc(r.Users, func(u string) bool {
		return strings.EqualFold(u, username)
	})
}

// RolesFor returns the roles that apply to authConfigID: those tied to it and
// those tied to no auth config.
func RolesFor(roles []RoleDefinition, authConfigID string) []RoleDefinition {
	var out []RoleDefinition
	for _, role := range roles {
		if role.AuthConfigID == "" || role.AuthConfigID == authConfigID {
			out = append(out, role)
		}
	}
	return out
}

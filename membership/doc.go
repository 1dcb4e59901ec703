// Package membership decides whether a GitHub user belongs to at least one
// allowed organization, or to at least one allowed team of an organization.
//
// The questions are asked through a Source. PersonalAccessTokenSource uses the
// server's token and looks organizations and teams up by name;
// UserTokenSource lists what the user's own token can see. SourceFor selects
// one per request from the auth config.
//
// Lookups stop at the first match. A lookup that fails is logged and counts
// as "no match" for that organization or team; when every lookup failed the
// Evaluator returns false together with an error wrapping
// ErrMembershipUnavailable. It never grants membership on failure.
package membership

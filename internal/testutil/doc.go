// Package testutil provides an in-process fake GitHub for tests: the OAuth
// token endpoint plus the REST routes used for identity and membership lookups.
package testutil

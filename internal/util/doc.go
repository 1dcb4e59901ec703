// Package util provides common utility functions used across the github-authz module.
//
// This package contains helper functions for string manipulation and for the
// list formats hosts use in their configuration properties. These utilities are
// used internally by multiple packages to keep parsing behaviour consistent.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - NormalizeURL: Strips trailing slashes from base URLs
//   - SplitCommaList / SplitLines: Parse comma and newline separated properties
//   - LowerSet / LowerAll: Case-fold name lists for case-insensitive matching
package util

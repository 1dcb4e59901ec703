// Package util provides common utility functions used across the github-authz module.
// These utilities handle string manipulation and normalisation of the comma- and
// newline-separated values that hosts hand over as plain configuration properties.
package util

import (
	"regexp"
	"slices"
	"strings"
)

var (
	commaSeparator = regexp.MustCompile(`\s*,\s*`)
	lineSeparator  = regexp.MustCompile(`\s*[\r\n]+\s*`)
)

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. Used when logging tokens, where only a prefix
// should ever be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
//	SafeTruncate("test", -1)                   // Returns: ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so path segments can be appended.
//
// Example:
//
//	NormalizeURL("https://github.example.com/")   // Returns: "https://github.example.com"
//	NormalizeURL("https://github.example.com")    // Returns: "https://github.example.com"
//	NormalizeURL("https://github.example.com///") // Returns: "https://github.example.com"
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// SplitCommaList splits a comma separated value, trimming whitespace around
// every element. Blank input yields nil and empty elements are dropped.
//
// Example:
//
//	SplitCommaList(" org-a , org-b,,org-c ") // Returns: []string{"org-a", "org-b", "org-c"}
func SplitCommaList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var out []string
	for _, part := range commaSeparator.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SplitLines splits a multi-line value into trimmed, non-blank lines.
func SplitLines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var out []string
	for _, line := range lineSeparator.Split(s, -1) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// LowerSet lowercases every element and returns them sorted without duplicates.
func LowerSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// LowerAll lowercases every element, preserving order and duplicates.
func LowerAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

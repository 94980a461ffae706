// Package strings normalizes the role lists carried by policies, workflow
// steps and tokens.
package strings

import (
	"strings"
)

// NormalizeRoles trims each role, drops blanks and keeps the first
// occurrence of every name. Matching stays case-sensitive because step
// assignment compares roles verbatim.
//
//	NormalizeRoles([]string{" supervisor ", "director", "supervisor", ""})
//	// []string{"supervisor", "director"}
func NormalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return roles
	}

	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SplitList parses a comma-separated list such as KAFKA_BROKERS and
// normalizes it the same way.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return NormalizeRoles(strings.Split(s, ","))
}

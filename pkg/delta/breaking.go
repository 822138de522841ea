package delta

import "strings"

// visibilityRank orders visibilities from least to most restrictive.
// Moving to a higher rank is breaking. Unknown visibilities rank as
// restrictive so that drifting away from public is never silent.
func visibilityRank(visibility string) int {
	switch strings.ToLower(visibility) {
	case "public", "":
		return 0
	case "protected":
		return 1
	case "private":
		return 2
	default:
		return 2
	}
}

// isWidenedType reports whether a type change is a textual union widening:
// the new type contains the old one as a substring and adds union
// alternatives. A conservative syntactic approximation of type widening;
// anything else counts as breaking.
func isWidenedType(before, after string) bool {
	if before == "" || after == "" {
		return false
	}
	if !strings.Contains(after, before) {
		return false
	}
	return strings.Contains(after, "|") && len(after) > len(before)
}

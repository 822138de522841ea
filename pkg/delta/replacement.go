package delta

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var useInsteadRe = regexp.MustCompile("(?i)\\buse\\s+`?([A-Za-z_][\\w.]*)`?\\s+instead")

// SuggestReplacement proposes a successor for a removed symbol by
// case-insensitive substring containment between base names (last path
// segment). The best length ratio wins, ties break lexicographically.
// Advisory only: consumers must not treat it as authoritative.
func SuggestReplacement(removed string, candidates []string) string {
	base := strings.ToLower(baseName(removed))
	// Very short names match everything and suggest nothing.
	if len(base) < 3 {
		return ""
	}

	best := ""
	bestScore := 0.0
	for _, cand := range candidates {
		if cand == removed {
			continue
		}
		cb := strings.ToLower(baseName(cand))
		if len(cb) < 3 {
			continue
		}
		shorter, longer := base, cb
		if len(shorter) > len(longer) {
			shorter, longer = longer, shorter
		}
		if !strings.Contains(longer, shorter) {
			continue
		}
		score := float64(len(shorter)) / float64(len(longer))
		if score > bestScore || (score == bestScore && best != "" && cand < best) {
			best = cand
			bestScore = score
		}
	}
	return best
}

// ReplacementFromMessage pulls a successor hint out of a deprecation
// message. An explicit replacement field on the IR always wins before
// this is consulted. HTML messages yield the text of their first link;
// plain text falls back to a "use X instead" phrase.
func ReplacementFromMessage(message string) string {
	if message == "" {
		return ""
	}
	if strings.Contains(message, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(message)); err == nil {
			if text := strings.TrimSpace(doc.Find("a").First().Text()); text != "" {
				return text
			}
		}
	}
	if m := useInsteadRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

func baseName(qualifiedName string) string {
	if i := strings.LastIndex(qualifiedName, "."); i >= 0 {
		return qualifiedName[i+1:]
	}
	return qualifiedName
}

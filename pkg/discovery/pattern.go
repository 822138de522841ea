// Package discovery enumerates the released versions of a package worth
// tracking: it matches repository tags against a naming pattern, parses
// semantic versions, applies a minor-version retention policy and resolves
// each kept tag to its commit.
package discovery

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// scopedSeparators are tried in order when extracting a version from a tag
// matched by a scoped pattern: npm tags use "@", Python release tags "==",
// and some monorepos "-".
var scopedSeparators = []string{"@", "==", "-"}

// TagPattern describes how a package's release tags are named. The
// trailing "*" stands for the version component: "v*" matches "v1.2.3",
// "pkg-v*" matches "pkg-v1.2.3", and the scoped form "@scope/pkg@*"
// matches "@scope/pkg@1.2.3" plus the "==" and "-" separator variants.
type TagPattern struct {
	raw    string
	prefix string // literal part before the *
	name   string // package name for scoped patterns, "" otherwise
}

// ParsePattern validates and compiles a tag pattern.
func ParsePattern(raw string) (*TagPattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("tag pattern is empty")
	}
	if !strings.HasSuffix(raw, "*") {
		return nil, fmt.Errorf("tag pattern %q must end with *", raw)
	}

	p := &TagPattern{raw: raw, prefix: strings.TrimSuffix(raw, "*")}
	if strings.HasPrefix(raw, "@") && strings.Contains(raw, "/") {
		name := p.prefix
		for _, sep := range scopedSeparators {
			if strings.HasSuffix(name, sep) {
				name = strings.TrimSuffix(name, sep)
				break
			}
		}
		p.name = name
	}
	return p, nil
}

// String returns the original pattern text.
func (p *TagPattern) String() string { return p.raw }

// RefPrefix returns the literal tag prefix to use when listing refs. For
// scoped patterns this is the bare package name, so that tags using any of
// the separator variants are listed.
func (p *TagPattern) RefPrefix() string {
	if p.name != "" {
		return p.name
	}
	return p.prefix
}

// Extract pulls a semantic version out of a tag name. Tags that do not
// match the pattern and pre-release versions yield ok=false; both are
// expected inputs that discovery skips silently.
func (p *TagPattern) Extract(tag string) (*semver.Version, bool) {
	if p.name != "" {
		for _, sep := range scopedSeparators {
			rest, found := strings.CutPrefix(tag, p.name+sep)
			if !found {
				continue
			}
			if v, err := semver.NewVersion(rest); err == nil {
				return acceptRelease(v)
			}
		}
		return nil, false
	}

	rest, found := strings.CutPrefix(tag, p.prefix)
	if !found {
		return nil, false
	}
	v, err := semver.NewVersion(rest)
	if err != nil {
		return nil, false
	}
	return acceptRelease(v)
}

func acceptRelease(v *semver.Version) (*semver.Version, bool) {
	if v.Prerelease() != "" {
		return nil, false
	}
	return v, true
}

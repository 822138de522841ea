package discovery

import (
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
)

// DiscoveredVersion is one release worth tracking. Version holds the
// normalized semantic version, Tag the raw ref name it was extracted from.
type DiscoveredVersion struct {
	Version     string    `json:"version"`
	Tag         string    `json:"tag"`
	CommitSHA   string    `json:"commitSha"`
	ReleaseDate time.Time `json:"releaseDate"`
}

type parsedVersion struct {
	dv     DiscoveredVersion
	semver *semver.Version
}

// FilterToMinorVersions keeps only the newest patch release within each
// {major.minor} line, newest first. Applying it to its own output changes
// nothing.
func FilterToMinorVersions(versions []DiscoveredVersion) []DiscoveredVersion {
	newest := map[string]parsedVersion{}
	for _, p := range parseAll(versions) {
		key := minorKey(p.semver)
		if cur, ok := newest[key]; !ok || p.semver.GreaterThan(cur.semver) {
			newest[key] = p
		}
	}

	out := make([]parsedVersion, 0, len(newest))
	for _, p := range newest {
		out = append(out, p)
	}
	sortParsedDescending(out)
	return unwrap(out)
}

// FilterToFirstAndLastMinorVersions keeps the newest and oldest patch
// release within each {major.minor} line, except the 0.0 line where only
// the newest survives. Useful when callers want to diff across a whole
// minor line without carrying every patch in between.
func FilterToFirstAndLastMinorVersions(versions []DiscoveredVersion) []DiscoveredVersion {
	type bounds struct{ newest, oldest parsedVersion }
	byMinor := map[string]*bounds{}
	for _, p := range parseAll(versions) {
		key := minorKey(p.semver)
		b, ok := byMinor[key]
		if !ok {
			byMinor[key] = &bounds{newest: p, oldest: p}
			continue
		}
		if p.semver.GreaterThan(b.newest.semver) {
			b.newest = p
		}
		if p.semver.LessThan(b.oldest.semver) {
			b.oldest = p
		}
	}

	var out []parsedVersion
	for key, b := range byMinor {
		out = append(out, b.newest)
		if key != "0.0" && !b.newest.semver.Equal(b.oldest.semver) {
			out = append(out, b.oldest)
		}
	}
	sortParsedDescending(out)
	return unwrap(out)
}

func minorKey(v *semver.Version) string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// parseAll drops entries whose Version does not parse instead of failing:
// discovery only ever records parseable versions, but the filters are also
// exported for callers with their own lists.
func parseAll(versions []DiscoveredVersion) []parsedVersion {
	out := make([]parsedVersion, 0, len(versions))
	for _, dv := range versions {
		v, err := semver.NewVersion(dv.Version)
		if err != nil {
			continue
		}
		out = append(out, parsedVersion{dv: dv, semver: v})
	}
	return out
}

func sortParsedDescending(versions []parsedVersion) {
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].semver.Equal(versions[j].semver) {
			return versions[i].dv.Tag < versions[j].dv.Tag
		}
		return versions[i].semver.GreaterThan(versions[j].semver)
	})
}

func unwrap(versions []parsedVersion) []DiscoveredVersion {
	out := make([]DiscoveredVersion, 0, len(versions))
	for _, p := range versions {
		out = append(out, p.dv)
	}
	return out
}

// SortDescending orders versions newest first. Entries that do not parse
// as semantic versions sort last, by tag name.
func SortDescending(versions []DiscoveredVersion) {
	sort.Slice(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i].Version)
		vj, errj := semver.NewVersion(versions[j].Version)
		switch {
		case erri != nil && errj != nil:
			return versions[i].Tag < versions[j].Tag
		case erri != nil:
			return false
		case errj != nil:
			return true
		case vi.Equal(vj):
			return versions[i].Tag < versions[j].Tag
		default:
			return vi.GreaterThan(vj)
		}
	})
}

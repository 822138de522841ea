// Package changelog assembles and stores per-package version changelogs:
// append-only sequences of structured deltas plus a single mutable
// latest-version index. The Assembler orchestrates discovery, extraction
// and diffing; Source/Store implementations live in pkg/storage and
// pkg/published.
package changelog

import (
	"strings"
	"time"

	"github.com/refpages/apidelta/pkg/delta"
)

// PackageRef is one tracked package as configured. Host names a git
// hosting service ("github", "gitlab") or a local repository path.
type PackageRef struct {
	ID            string   `mapstructure:"id" json:"id"`
	DisplayName   string   `mapstructure:"name" json:"name,omitempty"`
	Host          string   `mapstructure:"host" json:"host,omitempty"`
	Repo          string   `mapstructure:"repo" json:"repo"`
	Pattern       string   `mapstructure:"pattern" json:"pattern"`
	MaxVersions   int      `mapstructure:"max_versions" json:"maxVersions,omitempty"`
	AlwaysInclude []string `mapstructure:"always_include" json:"alwaysInclude,omitempty"`
	MinVersion    string   `mapstructure:"min_version" json:"minVersion,omitempty"`
}

// OwnerRepo splits the owner/name form of Repo.
func (p PackageRef) OwnerRepo() (string, string) {
	owner, name, _ := strings.Cut(p.Repo, "/")
	return owner, name
}

// Name returns the display name, falling back to the package id.
func (p PackageRef) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// PackageChangelog is the append-only delta sequence for one package,
// oldest first. Once a delta is recorded at a position it never changes;
// new versions only ever append.
type PackageChangelog struct {
	PackageID string                `json:"packageId"`
	Deltas    []*delta.VersionDelta `json:"deltas"`
}

// Versions lists the documented versions in stored order.
func (c *PackageChangelog) Versions() []string {
	out := make([]string, 0, len(c.Deltas))
	for _, d := range c.Deltas {
		out = append(out, d.Version)
	}
	return out
}

// Delta returns the stored delta for a version, or nil.
func (c *PackageChangelog) Delta(version string) *delta.VersionDelta {
	for _, d := range c.Deltas {
		if d.Version == version {
			return d
		}
	}
	return nil
}

// LatestPointer names the newest tracked version of a package.
type LatestPointer struct {
	Version string `json:"version"`
	SHA     string `json:"sha,omitempty"`
}

// PackageVersionIndex is the one mutable document per package: the
// latest-version pointer plus provenance for the build that last wrote it.
type PackageVersionIndex struct {
	PackageID string        `json:"packageId"`
	Latest    LatestPointer `json:"latest"`
	BuildID   string        `json:"buildId"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/refpages/apidelta/pkg/githost"
)

const defaultConcurrency = 8

// Options controls one discovery run for a package.
type Options struct {
	// Pattern is the tag-naming pattern, e.g. "v*" or "@scope/pkg@*".
	Pattern string
	// MaxVersions bounds the result size. Zero or negative means unbounded.
	MaxVersions int
	// AlwaysInclude names versions that are kept even when the retention
	// policy or the MaxVersions cutoff would drop them, typically versions
	// a changelog already documents.
	AlwaysInclude []string
	// MinVersion drops anything older before the retention policy runs.
	MinVersion string
	// Concurrency caps parallel commit resolution. Defaults to 8.
	Concurrency int
}

// Discover enumerates the released versions of owner/repo that match
// opts.Pattern, keeps the newest patch release per minor line plus any
// explicitly requested versions, and resolves each survivor to its commit
// SHA and date. The result is ordered newest first; no matching tags is
// not an error and yields an empty list.
func Discover(ctx context.Context, host githost.Host, owner, repo string, opts Options) ([]DiscoveredVersion, error) {
	pattern, err := ParsePattern(opts.Pattern)
	if err != nil {
		return nil, err
	}

	var minVersion *semver.Version
	if opts.MinVersion != "" {
		minVersion, err = semver.NewVersion(opts.MinVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid min version %q: %w", opts.MinVersion, err)
		}
	}

	tags, err := host.ListTags(ctx, owner, repo, pattern.RefPrefix())
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	// Host listing order is unspecified; sort by name so that duplicate
	// versions (say, both "1.0.0" and "v1.0.0" tags) resolve the same way
	// on every run.
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })

	candidates := []DiscoveredVersion{}
	refByVersion := map[string]githost.TagRef{}
	for _, tag := range tags {
		v, ok := pattern.Extract(tag.Name)
		if !ok {
			continue
		}
		if minVersion != nil && v.LessThan(minVersion) {
			continue
		}
		key := v.String()
		if _, dup := refByVersion[key]; dup {
			continue
		}
		refByVersion[key] = tag
		candidates = append(candidates, DiscoveredVersion{Version: key, Tag: tag.Name})
	}
	if len(candidates) == 0 {
		return []DiscoveredVersion{}, nil
	}

	kept := FilterToMinorVersions(candidates)
	kept = restoreRequested(kept, candidates, opts.AlwaysInclude)
	kept = truncate(kept, opts.MaxVersions, opts.AlwaysInclude)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	// Resolution order does not affect the output: results land in a
	// version-keyed map and the final ordering is explicit.
	resolved := make(map[string]*githost.CommitInfo, len(kept))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, dv := range kept {
		dv := dv
		g.Go(func() error {
			info, err := githost.ResolveCommit(gctx, host, owner, repo, refByVersion[dv.Version])
			if err != nil {
				return fmt.Errorf("resolving tag %s: %w", dv.Tag, err)
			}
			mu.Lock()
			resolved[dv.Version] = info
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]DiscoveredVersion, 0, len(kept))
	for _, dv := range kept {
		info := resolved[dv.Version]
		dv.CommitSHA = info.SHA
		dv.ReleaseDate = info.Date
		out = append(out, dv)
	}
	SortDescending(out)
	return out, nil
}

// restoreRequested re-adds requested versions the retention policy dropped.
func restoreRequested(kept, candidates []DiscoveredVersion, requested []string) []DiscoveredVersion {
	if len(requested) == 0 {
		return kept
	}
	want := normalizeRequested(requested)
	have := map[string]bool{}
	for _, dv := range kept {
		have[dv.Version] = true
	}
	for _, dv := range candidates {
		if want[dv.Version] && !have[dv.Version] {
			kept = append(kept, dv)
			have[dv.Version] = true
		}
	}
	SortDescending(kept)
	return kept
}

// truncate bounds the list to max entries, keeping requested versions even
// past the cutoff. The input is newest first, so the cutoff drops the
// oldest entries.
func truncate(versions []DiscoveredVersion, max int, requested []string) []DiscoveredVersion {
	if max <= 0 || len(versions) <= max {
		return versions
	}
	want := normalizeRequested(requested)
	out := versions[:max:max]
	for _, dv := range versions[max:] {
		if want[dv.Version] {
			out = append(out, dv)
		}
	}
	return out
}

// normalizeRequested maps requested version strings through the semver
// normalizer so "v1.2.0" and "1.2.0" name the same version. Entries that
// do not parse are ignored.
func normalizeRequested(requested []string) map[string]bool {
	want := make(map[string]bool, len(requested))
	for _, raw := range requested {
		if v, err := semver.NewVersion(raw); err == nil {
			want[v.String()] = true
		}
	}
	return want
}

package changelog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/refpages/apidelta/pkg/delta"
	"github.com/refpages/apidelta/pkg/discovery"
	"github.com/refpages/apidelta/pkg/githost"
	"github.com/refpages/apidelta/pkg/ir"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Assembler builds package changelogs: it discovers released versions,
// extracts their API descriptions and appends the resulting deltas to the
// stored changelog.
type Assembler struct {
	Extractor Extractor
	Store     Store  // optional; nil means nothing is persisted
	Source    Source // prior state to extend; defaults to Store
	Log       Logger // optional; nil = no logging

	// FetchAttempts bounds prior-state fetch retries. Defaults to 3.
	FetchAttempts int
	// FetchBackoff is the base of the exponential backoff between fetch
	// attempts. Defaults to 500ms.
	FetchBackoff time.Duration
}

// BuildOptions controls one build run.
type BuildOptions struct {
	// Full recomputes every discovered version from scratch instead of
	// extending the stored changelog. Stored state still widens discovery
	// so documented versions are never dropped, but it is not treated as
	// already built. Meant for materializing a fresh store; diverging from
	// already-stored history fails at Save time.
	Full bool
	// DiscoveryConcurrency caps parallel tag resolution. Defaults to 8.
	DiscoveryConcurrency int
}

// BuildResult reports what one package build did.
type BuildResult struct {
	PackageID string
	Changelog *PackageChangelog
	Index     *PackageVersionIndex
	NewDeltas []*delta.VersionDelta // deltas this run appended
	FullBuild bool                  // built without usable prior state
	Saved     bool
	Errors    []error // non-fatal per-version failures
	Err       error   // set by BuildAll when the whole package failed
}

type knownVersion struct {
	sha  string
	date time.Time
}

// Build extends the changelog of one package: discover versions on host,
// extract the ones not documented yet, diff each against its predecessor
// and persist the appended sequence plus the refreshed latest-version
// index. Per-version extraction failures are skipped and reported in
// BuildResult.Errors; discovery and persistence failures abort the build.
func (a *Assembler) Build(ctx context.Context, pkg PackageRef, host githost.Host, opts BuildOptions) (*BuildResult, error) {
	log := a.Log
	if log == nil {
		log = nopLogger{}
	}
	if a.Extractor == nil {
		return nil, fmt.Errorf("assembler has no extractor")
	}
	if host == nil {
		return nil, fmt.Errorf("package %s has no git host", pkg.ID)
	}

	result := &BuildResult{PackageID: pkg.ID}

	prior, priorIdx, noPrior := a.fetchPrior(ctx, pkg.ID, log)
	result.FullBuild = noPrior || opts.Full

	// Documented versions survive discovery cutoffs: the retention policy
	// never silently drops a version the changelog already carries.
	include := append([]string{}, pkg.AlwaysInclude...)
	if prior != nil {
		include = append(include, prior.Versions()...)
	}

	owner, repo := pkg.OwnerRepo()
	discovered, err := discovery.Discover(ctx, host, owner, repo, discovery.Options{
		Pattern:       pkg.Pattern,
		MaxVersions:   pkg.MaxVersions,
		AlwaysInclude: include,
		MinVersion:    pkg.MinVersion,
		Concurrency:   opts.DiscoveryConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("discovering versions for %s: %w", pkg.ID, err)
	}
	log.Debugf("Discovered %d versions for %s", len(discovered), pkg.ID)

	known := map[string]knownVersion{}
	if prior != nil && !opts.Full {
		for _, d := range prior.Deltas {
			known[d.Version] = knownVersion{sha: d.SHA, date: d.ReleaseDate}
		}
	}

	var pending []discovery.DiscoveredVersion
	for _, dv := range discovered {
		if _, ok := known[dv.Version]; !ok {
			pending = append(pending, dv)
		}
	}
	// Oldest release first, so each delta's predecessor is already known
	// by the time it is computed.
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].ReleaseDate.Equal(pending[j].ReleaseDate) {
			return pending[i].ReleaseDate.Before(pending[j].ReleaseDate)
		}
		vi, erri := semver.NewVersion(pending[i].Version)
		vj, errj := semver.NewVersion(pending[j].Version)
		if erri != nil || errj != nil {
			return pending[i].Version < pending[j].Version
		}
		return vi.LessThan(vj)
	})

	irDocs := map[string]*ir.MinimalIR{}
	var newDeltas []*delta.VersionDelta
	for _, dv := range pending {
		doc, err := a.extractAt(ctx, pkg, dv)
		if err != nil {
			log.Warnf("Skipping %s@%s: %v", pkg.ID, dv.Version, err)
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", dv.Version, err))
			continue
		}

		predVersion := predecessorOf(known, dv.Version)
		older, err := a.olderDocument(ctx, pkg, predVersion, known, irDocs)
		if err != nil {
			log.Warnf("Skipping %s@%s: predecessor %s: %v", pkg.ID, dv.Version, predVersion, err)
			result.Errors = append(result.Errors, fmt.Errorf("%s: predecessor %s: %w", dv.Version, predVersion, err))
			continue
		}

		d := delta.Compute(older, doc)
		newDeltas = append(newDeltas, d)
		irDocs[dv.Version] = doc
		known[dv.Version] = knownVersion{sha: dv.CommitSHA, date: dv.ReleaseDate}
		log.Debugf("Delta %s@%s: %d added, %d removed, %d modified, %d breaking",
			pkg.ID, dv.Version, len(d.Added), len(d.Removed), len(d.Modified), d.BreakingCount())
	}

	cl := &PackageChangelog{PackageID: pkg.ID}
	if prior != nil && !opts.Full {
		cl.Deltas = append(cl.Deltas, prior.Deltas...)
	}
	cl.Deltas = append(cl.Deltas, newDeltas...)
	result.Changelog = cl
	result.NewDeltas = newDeltas

	if len(cl.Deltas) == 0 {
		log.Infof("No versions discovered for %s", pkg.ID)
		return result, nil
	}

	if len(newDeltas) == 0 && priorIdx != nil {
		result.Index = priorIdx
		return result, nil
	}

	idx := &PackageVersionIndex{
		PackageID: pkg.ID,
		Latest:    newestPointer(cl),
		BuildID:   uuid.NewString(),
		UpdatedAt: time.Now().UTC(),
	}
	result.Index = idx

	if a.Store != nil {
		if err := a.Store.Save(ctx, cl, idx); err != nil {
			return nil, fmt.Errorf("saving changelog for %s: %w", pkg.ID, err)
		}
		result.Saved = true
	}
	return result, nil
}

// fetchPrior loads stored state, retrying transient failures with
// exponential backoff. ErrNotFound is terminal: it means first build.
// Exhausting the retries degrades to a full rebuild instead of aborting;
// the store is append-only, so the worst case is recomputing deltas that
// already exist.
func (a *Assembler) fetchPrior(ctx context.Context, packageID string, log Logger) (*PackageChangelog, *PackageVersionIndex, bool) {
	src := a.Source
	if src == nil {
		src = a.Store
	}
	if src == nil {
		return nil, nil, true
	}

	attempts := a.FetchAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := a.FetchBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff << (attempt - 1))
		}
		cl, idx, err := src.Fetch(ctx, packageID)
		if err == nil {
			return cl, idx, false
		}
		if errors.Is(err, ErrNotFound) {
			return nil, nil, true
		}
		lastErr = err
		log.Debugf("Fetch attempt %d for %s failed: %v", attempt+1, packageID, err)
	}
	log.Warnf("Could not fetch stored changelog for %s, rebuilding from scratch: %v", packageID, lastErr)
	return nil, nil, true
}

// extractAt runs the extractor and stamps the document header with
// discovery's version, commit and date spelling, so deltas agree with the
// tag listing no matter how the artifact spells them.
func (a *Assembler) extractAt(ctx context.Context, pkg PackageRef, v discovery.DiscoveredVersion) (*ir.MinimalIR, error) {
	doc, err := a.Extractor.Extract(ctx, pkg, v)
	if err != nil {
		return nil, err
	}
	doc.Version = v.Version
	doc.SHA = v.CommitSHA
	doc.ReleaseDate = v.ReleaseDate
	return doc, nil
}

// olderDocument returns the IR of the predecessor version, re-extracting
// stored predecessors that were not built this run. An empty predecessor
// means a first version, which diffs against nothing.
func (a *Assembler) olderDocument(ctx context.Context, pkg PackageRef, predVersion string, known map[string]knownVersion, irDocs map[string]*ir.MinimalIR) (*ir.MinimalIR, error) {
	if predVersion == "" {
		return nil, nil
	}
	if doc, ok := irDocs[predVersion]; ok {
		return doc, nil
	}
	info := known[predVersion]
	doc, err := a.extractAt(ctx, pkg, discovery.DiscoveredVersion{
		Version:     predVersion,
		CommitSHA:   info.sha,
		ReleaseDate: info.date,
	})
	if err != nil {
		return nil, err
	}
	irDocs[predVersion] = doc
	return doc, nil
}

// predecessorOf picks the newest known version strictly older than
// version. Versions are unique map keys, so the answer is unambiguous.
func predecessorOf(known map[string]knownVersion, version string) string {
	target, err := semver.NewVersion(version)
	if err != nil {
		return ""
	}
	var best *semver.Version
	bestVersion := ""
	for kv := range known {
		cand, err := semver.NewVersion(kv)
		if err != nil {
			continue
		}
		if cand.LessThan(target) && (best == nil || cand.GreaterThan(best)) {
			best, bestVersion = cand, kv
		}
	}
	return bestVersion
}

// newestPointer finds the highest semantic version in the changelog.
func newestPointer(cl *PackageChangelog) LatestPointer {
	var best *semver.Version
	var pointer LatestPointer
	for _, d := range cl.Deltas {
		v, err := semver.NewVersion(d.Version)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			pointer = LatestPointer{Version: d.Version, SHA: d.SHA}
		}
	}
	return pointer
}

// BuildJob pairs a package with the host its tags live on.
type BuildJob struct {
	Pkg  PackageRef
	Host githost.Host
}

// BuildAllConfig holds everything BuildAll needs for one run.
type BuildAllConfig struct {
	Jobs        []BuildJob
	Options     BuildOptions
	Concurrency int // defaults to 2 if <= 0

	// OnPackageDone is called per package as its build finishes (from
	// worker goroutines). Enables the CLI to stream results. Nil = no
	// callback.
	OnPackageDone func(pkg PackageRef, result *BuildResult)
}

// BuildAll builds every configured package through a worker pool. The
// default concurrency is deliberately low: builds are write-heavy and the
// store runs behind a single-writer lock. Results come back sorted by
// package id; per-package failures land in BuildResult.Err instead of
// aborting the other packages.
func (a *Assembler) BuildAll(ctx context.Context, cfg BuildAllConfig) []*BuildResult {
	if len(cfg.Jobs) == 0 {
		return []*BuildResult{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	jobChan := make(chan BuildJob, len(cfg.Jobs))

	var mu sync.Mutex
	results := make([]*BuildResult, 0, len(cfg.Jobs))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				result, err := a.Build(ctx, job.Pkg, job.Host, cfg.Options)
				if err != nil {
					result = &BuildResult{PackageID: job.Pkg.ID, Err: err}
				}

				mu.Lock()
				results = append(results, result)
				mu.Unlock()

				if cfg.OnPackageDone != nil {
					cfg.OnPackageDone(job.Pkg, result)
				}
			}
		}()
	}

	for _, job := range cfg.Jobs {
		jobChan <- job
	}
	close(jobChan)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].PackageID < results[j].PackageID })
	return results
}

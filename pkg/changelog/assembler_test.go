package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refpages/apidelta/pkg/delta"
	"github.com/refpages/apidelta/pkg/discovery"
	"github.com/refpages/apidelta/pkg/githost"
	"github.com/refpages/apidelta/pkg/ir"
)

type fakeHost struct {
	tags    []githost.TagRef
	commits map[string]*githost.CommitInfo
}

func (f *fakeHost) ListTags(_ context.Context, _, _, prefix string) ([]githost.TagRef, error) {
	var out []githost.TagRef
	for _, tag := range f.tags {
		if strings.HasPrefix(tag.Name, prefix) {
			out = append(out, tag)
		}
	}
	return out, nil
}

func (f *fakeHost) GetTag(context.Context, string, string, string) (*githost.TagObject, error) {
	return nil, githost.ErrNotFound
}

func (f *fakeHost) GetCommit(_ context.Context, _, _, sha string) (*githost.CommitInfo, error) {
	info, ok := f.commits[sha]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return info, nil
}

type fakeExtractor struct {
	symbols map[string][]ir.SymbolRecord
	fail    map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeExtractor) Extract(_ context.Context, _ PackageRef, v discovery.DiscoveredVersion) (*ir.MinimalIR, error) {
	f.mu.Lock()
	f.calls = append(f.calls, v.Version)
	f.mu.Unlock()

	if err, ok := f.fail[v.Version]; ok {
		return nil, err
	}
	syms, ok := f.symbols[v.Version]
	if !ok {
		return nil, fmt.Errorf("no description for version %s", v.Version)
	}
	return &ir.MinimalIR{Version: v.Version, Symbols: syms}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	cl        *PackageChangelog
	idx       *PackageVersionIndex
	fetchErrs int // fail this many fetches before succeeding
	saves     int
}

func (f *fakeStore) Fetch(_ context.Context, packageID string) (*PackageChangelog, *PackageVersionIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErrs > 0 {
		f.fetchErrs--
		return nil, nil, fmt.Errorf("store unavailable")
	}
	if f.cl == nil {
		return nil, nil, ErrNotFound
	}
	return f.cl, f.idx, nil
}

func (f *fakeStore) Save(_ context.Context, cl *PackageChangelog, idx *PackageVersionIndex) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cl, f.idx = cl, idx
	f.saves++
	return nil
}

func sym(qualifiedName string) ir.SymbolRecord {
	name := qualifiedName
	if i := strings.LastIndex(qualifiedName, "."); i >= 0 {
		name = qualifiedName[i+1:]
	}
	return ir.SymbolRecord{Kind: "function", Name: name, QualifiedName: qualifiedName}
}

func releaseDay(d int) time.Time {
	return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC)
}

func twoVersionHost() *fakeHost {
	return &fakeHost{
		tags: []githost.TagRef{
			{Name: "v1.0.0", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.1.0", SHA: "bbb", ObjectType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"aaa": {SHA: "aaa", Date: releaseDay(1)},
			"bbb": {SHA: "bbb", Date: releaseDay(2)},
		},
	}
}

func testPkg() PackageRef {
	return PackageRef{ID: "widgets", Repo: "acme/widgets", Pattern: "v*"}
}

func TestBuildFirstTime(t *testing.T) {
	extractor := &fakeExtractor{symbols: map[string][]ir.SymbolRecord{
		"1.0.0": {sym("widgets.alpha")},
		"1.1.0": {sym("widgets.alpha"), sym("widgets.beta")},
	}}
	store := &fakeStore{}
	a := &Assembler{Extractor: extractor, Store: store}

	result, err := a.Build(context.Background(), testPkg(), twoVersionHost(), BuildOptions{})
	require.NoError(t, err)

	assert.True(t, result.FullBuild)
	assert.True(t, result.Saved)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Changelog.Deltas, 2)

	first, second := result.Changelog.Deltas[0], result.Changelog.Deltas[1]
	assert.Equal(t, "1.0.0", first.Version)
	assert.Empty(t, first.PreviousVersion)
	require.Len(t, first.Added, 1)
	assert.Equal(t, "widgets.alpha", first.Added[0].QualifiedName)

	assert.Equal(t, "1.1.0", second.Version)
	assert.Equal(t, "1.0.0", second.PreviousVersion)
	assert.Equal(t, "bbb", second.SHA)
	require.Len(t, second.Added, 1)
	assert.Equal(t, "widgets.beta", second.Added[0].QualifiedName)

	require.NotNil(t, result.Index)
	assert.Equal(t, LatestPointer{Version: "1.1.0", SHA: "bbb"}, result.Index.Latest)
	assert.NotEmpty(t, result.Index.BuildID)
	assert.Equal(t, 1, store.saves)
}

func TestBuildIncremental(t *testing.T) {
	extractor := &fakeExtractor{symbols: map[string][]ir.SymbolRecord{
		"1.0.0": {sym("widgets.alpha")},
		"1.1.0": {sym("widgets.alpha"), sym("widgets.beta")},
	}}
	stored := &delta.VersionDelta{Version: "1.0.0", SHA: "aaa", ReleaseDate: releaseDay(1)}
	store := &fakeStore{
		cl:  &PackageChangelog{PackageID: "widgets", Deltas: []*delta.VersionDelta{stored}},
		idx: &PackageVersionIndex{PackageID: "widgets", Latest: LatestPointer{Version: "1.0.0", SHA: "aaa"}, BuildID: "prior"},
	}
	a := &Assembler{Extractor: extractor, Store: store}

	result, err := a.Build(context.Background(), testPkg(), twoVersionHost(), BuildOptions{})
	require.NoError(t, err)

	assert.False(t, result.FullBuild)
	require.Len(t, result.NewDeltas, 1)
	assert.Equal(t, "1.1.0", result.NewDeltas[0].Version)
	assert.Equal(t, "1.0.0", result.NewDeltas[0].PreviousVersion)

	// Stored deltas are carried over untouched.
	require.Len(t, result.Changelog.Deltas, 2)
	assert.Same(t, stored, result.Changelog.Deltas[0])

	// The predecessor was re-extracted to diff against.
	assert.Contains(t, extractor.calls, "1.0.0")
	assert.NotEqual(t, "prior", result.Index.BuildID)
	assert.True(t, result.Saved)
}

func TestBuildNothingNew(t *testing.T) {
	extractor := &fakeExtractor{symbols: map[string][]ir.SymbolRecord{}}
	priorIdx := &PackageVersionIndex{PackageID: "widgets", Latest: LatestPointer{Version: "1.1.0", SHA: "bbb"}, BuildID: "prior"}
	store := &fakeStore{
		cl: &PackageChangelog{PackageID: "widgets", Deltas: []*delta.VersionDelta{
			{Version: "1.0.0", SHA: "aaa", ReleaseDate: releaseDay(1)},
			{Version: "1.1.0", SHA: "bbb", ReleaseDate: releaseDay(2)},
		}},
		idx: priorIdx,
	}
	a := &Assembler{Extractor: extractor, Store: store}

	result, err := a.Build(context.Background(), testPkg(), twoVersionHost(), BuildOptions{})
	require.NoError(t, err)

	assert.Empty(t, result.NewDeltas)
	assert.False(t, result.Saved)
	assert.Same(t, priorIdx, result.Index)
	assert.Empty(t, extractor.calls)
	assert.Equal(t, 0, store.saves)
}

func TestBuildSkipsFailedExtractions(t *testing.T) {
	extractor := &fakeExtractor{
		symbols: map[string][]ir.SymbolRecord{
			"1.0.0": {sym("widgets.alpha")},
		},
		fail: map[string]error{"1.1.0": fmt.Errorf("extractor crashed")},
	}
	store := &fakeStore{}
	a := &Assembler{Extractor: extractor, Store: store}

	result, err := a.Build(context.Background(), testPkg(), twoVersionHost(), BuildOptions{})
	require.NoError(t, err)

	require.Len(t, result.Changelog.Deltas, 1)
	assert.Equal(t, "1.0.0", result.Changelog.Deltas[0].Version)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "1.1.0")
	assert.True(t, result.Saved)
	assert.Equal(t, LatestPointer{Version: "1.0.0", SHA: "aaa"}, result.Index.Latest)
}

func TestBuildDegradesToFullOnFetchFailure(t *testing.T) {
	extractor := &fakeExtractor{symbols: map[string][]ir.SymbolRecord{
		"1.0.0": {sym("widgets.alpha")},
		"1.1.0": {sym("widgets.alpha")},
	}}
	store := &fakeStore{fetchErrs: 10}
	a := &Assembler{Extractor: extractor, Store: store, FetchAttempts: 2, FetchBackoff: time.Millisecond}

	result, err := a.Build(context.Background(), testPkg(), twoVersionHost(), BuildOptions{})
	require.NoError(t, err)

	assert.True(t, result.FullBuild)
	assert.Len(t, result.Changelog.Deltas, 2)
	assert.True(t, result.Saved)
}

func TestBuildBackfillsOlderVersionAtEnd(t *testing.T) {
	extractor := &fakeExtractor{symbols: map[string][]ir.SymbolRecord{
		"1.0.9": {sym("widgets.alpha")},
		"1.1.0": {sym("widgets.alpha"), sym("widgets.beta")},
	}}
	store := &fakeStore{
		cl: &PackageChangelog{PackageID: "widgets", Deltas: []*delta.VersionDelta{
			{Version: "1.1.0", SHA: "bbb", ReleaseDate: releaseDay(2)},
		}},
		idx: &PackageVersionIndex{PackageID: "widgets", Latest: LatestPointer{Version: "1.1.0", SHA: "bbb"}, BuildID: "prior"},
	}
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "v1.0.9", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.1.0", SHA: "bbb", ObjectType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"aaa": {SHA: "aaa", Date: releaseDay(1)},
			"bbb": {SHA: "bbb", Date: releaseDay(2)},
		},
	}
	a := &Assembler{Extractor: extractor, Store: store}

	result, err := a.Build(context.Background(), testPkg(), host, BuildOptions{})
	require.NoError(t, err)

	// The older version appends at the end; stored positions never move.
	require.Len(t, result.Changelog.Deltas, 2)
	assert.Equal(t, "1.1.0", result.Changelog.Deltas[0].Version)
	assert.Equal(t, "1.0.9", result.Changelog.Deltas[1].Version)
	// Nothing older than 1.0.9 is known, so it diffs against empty.
	assert.Empty(t, result.Changelog.Deltas[1].PreviousVersion)
	// The index still points at the highest version.
	assert.Equal(t, LatestPointer{Version: "1.1.0", SHA: "bbb"}, result.Index.Latest)
}

func TestBuildDeterministic(t *testing.T) {
	extractor := &fakeExtractor{symbols: map[string][]ir.SymbolRecord{
		"1.0.0": {sym("widgets.alpha"), sym("widgets.beta")},
		"1.1.0": {sym("widgets.beta"), sym("widgets.gamma")},
	}}

	build := func() []byte {
		a := &Assembler{Extractor: extractor, Store: &fakeStore{}}
		result, err := a.Build(context.Background(), testPkg(), twoVersionHost(), BuildOptions{})
		require.NoError(t, err)
		data, err := json.Marshal(result.Changelog)
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, string(build()), string(build()))
}

func TestBuildRequiresHostAndExtractor(t *testing.T) {
	a := &Assembler{Extractor: &fakeExtractor{}}
	_, err := a.Build(context.Background(), testPkg(), nil, BuildOptions{})
	require.Error(t, err)

	a = &Assembler{}
	_, err = a.Build(context.Background(), testPkg(), twoVersionHost(), BuildOptions{})
	require.Error(t, err)
}

func TestBuildAll(t *testing.T) {
	extractor := &fakeExtractor{symbols: map[string][]ir.SymbolRecord{
		"1.0.0": {sym("widgets.alpha")},
		"1.1.0": {sym("widgets.alpha")},
	}}
	a := &Assembler{Extractor: extractor, Store: &fakeStore{}}

	var mu sync.Mutex
	done := map[string]bool{}

	results := a.BuildAll(context.Background(), BuildAllConfig{
		Jobs: []BuildJob{
			{Pkg: PackageRef{ID: "widgets", Repo: "acme/widgets", Pattern: "v*"}, Host: twoVersionHost()},
			{Pkg: PackageRef{ID: "broken", Repo: "acme/broken", Pattern: "v*"}}, // no host
		},
		Concurrency: 2,
		OnPackageDone: func(pkg PackageRef, result *BuildResult) {
			mu.Lock()
			done[pkg.ID] = true
			mu.Unlock()
		},
	})

	require.Len(t, results, 2)
	assert.Equal(t, map[string]bool{"widgets": true, "broken": true}, done)

	// Sorted by package id: broken first.
	assert.Equal(t, "broken", results[0].PackageID)
	require.Error(t, results[0].Err)
	assert.Equal(t, "widgets", results[1].PackageID)
	assert.NoError(t, results[1].Err)
	assert.True(t, results[1].Saved)
}

func TestFetchPriorNeverRetriesNotFound(t *testing.T) {
	store := &fakeStore{}
	a := &Assembler{Store: store, FetchAttempts: 5, FetchBackoff: time.Millisecond}

	start := time.Now()
	cl, idx, full := a.fetchPrior(context.Background(), "widgets", nopLogger{})
	assert.Nil(t, cl)
	assert.Nil(t, idx)
	assert.True(t, full)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPredecessorOf(t *testing.T) {
	known := map[string]knownVersion{
		"1.0.0": {}, "1.0.5": {}, "1.2.0": {},
	}
	tests := map[string]struct {
		version string
		want    string
	}{
		"between minors": {version: "1.1.0", want: "1.0.5"},
		"above all":      {version: "2.0.0", want: "1.2.0"},
		"below all":      {version: "0.9.0", want: ""},
		"unparsable":     {version: "latest", want: ""},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, predecessorOf(known, tc.version))
		})
	}
}

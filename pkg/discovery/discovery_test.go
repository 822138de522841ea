package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refpages/apidelta/pkg/githost"
)

type fakeHost struct {
	tags    []githost.TagRef
	tagObjs map[string]*githost.TagObject
	commits map[string]*githost.CommitInfo
	listErr error
}

func (f *fakeHost) ListTags(_ context.Context, _, _, prefix string) ([]githost.TagRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []githost.TagRef
	for _, tag := range f.tags {
		if strings.HasPrefix(tag.Name, prefix) {
			out = append(out, tag)
		}
	}
	return out, nil
}

func (f *fakeHost) GetTag(_ context.Context, _, _, ref string) (*githost.TagObject, error) {
	tag, ok := f.tagObjs[ref]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return tag, nil
}

func (f *fakeHost) GetCommit(_ context.Context, _, _, sha string) (*githost.CommitInfo, error) {
	info, ok := f.commits[sha]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return info, nil
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func TestDiscoverScopedPackage(t *testing.T) {
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "@scope/pkg@1.0.0", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
			{Name: "@scope/pkg@1.0.1", SHA: "bbb", ObjectType: githost.ObjectTypeCommit},
			{Name: "@scope/pkg@1.1.0", SHA: "ccc", ObjectType: githost.ObjectTypeCommit},
			{Name: "@scope/pkg@2.0.0-rc.1", SHA: "ddd", ObjectType: githost.ObjectTypeCommit},
			{Name: "@scope/other@9.9.9", SHA: "eee", ObjectType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"aaa": {SHA: "aaa", Date: day(1)},
			"bbb": {SHA: "bbb", Date: day(2)},
			"ccc": {SHA: "ccc", Date: day(3)},
		},
	}

	got, err := Discover(context.Background(), host, "scope", "pkg", Options{Pattern: "@scope/pkg@*"})
	require.NoError(t, err)

	want := []DiscoveredVersion{
		{Version: "1.1.0", Tag: "@scope/pkg@1.1.0", CommitSHA: "ccc", ReleaseDate: day(3)},
		{Version: "1.0.1", Tag: "@scope/pkg@1.0.1", CommitSHA: "bbb", ReleaseDate: day(2)},
	}
	assert.Equal(t, want, got)
}

func TestDiscoverDereferencesAnnotatedTags(t *testing.T) {
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "v1.0.0", SHA: "tagsha", ObjectType: githost.ObjectTypeTag},
		},
		tagObjs: map[string]*githost.TagObject{
			"tagsha": {SHA: "tagsha", TargetSHA: "commitsha", TargetType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"commitsha": {SHA: "commitsha", Date: day(7)},
		},
	}

	got, err := Discover(context.Background(), host, "o", "r", Options{Pattern: "v*"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "commitsha", got[0].CommitSHA)
	assert.Equal(t, day(7), got[0].ReleaseDate)
}

func TestDiscoverMinVersion(t *testing.T) {
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "v0.9.0", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.0.0", SHA: "bbb", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.1.0", SHA: "ccc", ObjectType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"bbb": {SHA: "bbb", Date: day(1)},
			"ccc": {SHA: "ccc", Date: day(2)},
		},
	}

	got, err := Discover(context.Background(), host, "o", "r", Options{Pattern: "v*", MinVersion: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0", "1.0.0"}, versionStrings(got))

	_, err = Discover(context.Background(), host, "o", "r", Options{Pattern: "v*", MinVersion: "latest"})
	require.Error(t, err)
}

func TestDiscoverAlwaysIncludeSurvivesCutoffs(t *testing.T) {
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "v1.0.0", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.0.1", SHA: "bbb", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.1.0", SHA: "ccc", ObjectType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"aaa": {SHA: "aaa", Date: day(1)},
			"bbb": {SHA: "bbb", Date: day(2)},
			"ccc": {SHA: "ccc", Date: day(3)},
		},
	}

	// 1.0.0 loses to 1.0.1 in retention and sits past the MaxVersions
	// cutoff, but stays because a changelog already documents it.
	got, err := Discover(context.Background(), host, "o", "r", Options{
		Pattern:       "v*",
		MaxVersions:   1,
		AlwaysInclude: []string{"v1.0.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0", "1.0.0"}, versionStrings(got))
}

func TestDiscoverMaxVersions(t *testing.T) {
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "v1.0.0", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.1.0", SHA: "bbb", ObjectType: githost.ObjectTypeCommit},
			{Name: "v1.2.0", SHA: "ccc", ObjectType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"bbb": {SHA: "bbb", Date: day(2)},
			"ccc": {SHA: "ccc", Date: day(3)},
		},
	}

	got, err := Discover(context.Background(), host, "o", "r", Options{Pattern: "v*", MaxVersions: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.0", "1.1.0"}, versionStrings(got))
}

func TestDiscoverNoMatchingTags(t *testing.T) {
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "nightly-2024-05-01", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
		},
	}

	got, err := Discover(context.Background(), host, "o", "r", Options{Pattern: "v*"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiscoverDuplicateVersionTags(t *testing.T) {
	// Both tags name version 1.0.0; the lexicographically first tag wins
	// on every run.
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "v1.0.0", SHA: "bbb", ObjectType: githost.ObjectTypeCommit},
			{Name: "1.0.0", SHA: "aaa", ObjectType: githost.ObjectTypeCommit},
		},
		commits: map[string]*githost.CommitInfo{
			"aaa": {SHA: "aaa", Date: day(1)},
		},
	}

	got, err := Discover(context.Background(), host, "o", "r", Options{Pattern: "*"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.0.0", got[0].Tag)
	assert.Equal(t, "aaa", got[0].CommitSHA)
}

func TestDiscoverRateLimitPassthrough(t *testing.T) {
	host := &fakeHost{
		listErr: &githost.RateLimitError{Host: "github", Remaining: 0, Reset: day(1)},
	}

	_, err := Discover(context.Background(), host, "o", "r", Options{Pattern: "v*"})
	require.Error(t, err)

	var rate *githost.RateLimitError
	require.True(t, errors.As(err, &rate))
	assert.Equal(t, "github", rate.Host)
}

func TestDiscoverResolveFailure(t *testing.T) {
	host := &fakeHost{
		tags: []githost.TagRef{
			{Name: "v1.0.0", SHA: "missing", ObjectType: githost.ObjectTypeCommit},
		},
	}

	_, err := Discover(context.Background(), host, "o", "r", Options{Pattern: "v*"})
	require.ErrorIs(t, err, githost.ErrNotFound)
}

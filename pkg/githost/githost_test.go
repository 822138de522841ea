package githost

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitFromHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "0")
	header.Set("X-RateLimit-Reset", "1700000000")

	err := RateLimitFromHeaders("github", header, "X-RateLimit-Remaining", "X-RateLimit-Reset")
	assert.Equal(t, 0, err.Remaining)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), err.Reset)
	assert.Contains(t, err.Error(), "rate limited")

	t.Run("missing headers leave zero values", func(t *testing.T) {
		err := RateLimitFromHeaders("gitlab", http.Header{}, "RateLimit-Remaining", "RateLimit-Reset")
		assert.True(t, err.Reset.IsZero())
		assert.Contains(t, err.Error(), "gitlab")
	})
}

// chainHost serves a fixed tag-object chain for ResolveCommit tests.
type chainHost struct {
	tags    map[string]*TagObject
	commits map[string]*CommitInfo
}

func (h *chainHost) ListTags(ctx context.Context, owner, repo, prefix string) ([]TagRef, error) {
	return nil, nil
}

func (h *chainHost) GetTag(ctx context.Context, owner, repo, ref string) (*TagObject, error) {
	if tag, ok := h.tags[ref]; ok {
		return tag, nil
	}
	return nil, ErrNotFound
}

func (h *chainHost) GetCommit(ctx context.Context, owner, repo, sha string) (*CommitInfo, error) {
	if commit, ok := h.commits[sha]; ok {
		return commit, nil
	}
	return nil, ErrNotFound
}

func TestResolveCommit(t *testing.T) {
	date := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	host := &chainHost{
		tags: map[string]*TagObject{
			"tag1": {SHA: "tag1", TargetSHA: "tag2", TargetType: ObjectTypeTag},
			"tag2": {SHA: "tag2", TargetSHA: "commit1", TargetType: ObjectTypeCommit},
		},
		commits: map[string]*CommitInfo{
			"commit1": {SHA: "commit1", Date: date},
		},
	}

	t.Run("lightweight tag resolves directly", func(t *testing.T) {
		info, err := ResolveCommit(context.Background(), host, "o", "r", TagRef{Name: "v1", SHA: "commit1", ObjectType: ObjectTypeCommit})
		require.NoError(t, err)
		assert.Equal(t, "commit1", info.SHA)
	})

	t.Run("nested annotated tags are followed", func(t *testing.T) {
		info, err := ResolveCommit(context.Background(), host, "o", "r", TagRef{Name: "v1", SHA: "tag1", ObjectType: ObjectTypeTag})
		require.NoError(t, err)
		assert.Equal(t, "commit1", info.SHA)
		assert.Equal(t, date, info.Date)
	})

	t.Run("dangling tag object", func(t *testing.T) {
		_, err := ResolveCommit(context.Background(), host, "o", "r", TagRef{Name: "v9", SHA: "missing", ObjectType: ObjectTypeTag})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// Package githost defines the read-only query surface the engine needs from
// a git hosting service: tag enumeration, annotated-tag dereferencing and
// commit metadata. Implementations live in subpackages (github, gitlab,
// gitrepo) and must keep the error taxonomy intact: rate limiting is
// reported as *RateLimitError, missing objects as ErrNotFound, and transport
// failures pass through wrapped.
package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrNotFound marks a missing repository, ref or object. It is a valid
// terminal state for callers, never a transient failure to retry.
var ErrNotFound = errors.New("githost: not found")

// RateLimitError reports host-side throttling. It carries enough context
// for the caller to decide whether to wait for the reset or abort.
type RateLimitError struct {
	Host      string
	Remaining int
	Reset     time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("%s: rate limited (%d requests remaining)", e.Host, e.Remaining)
	}
	return fmt.Sprintf("%s: rate limited (%d requests remaining, resets %s)", e.Host, e.Remaining, e.Reset.UTC().Format(time.RFC3339))
}

// RateLimitFromHeaders builds a RateLimitError from the header pair REST
// hosts expose: remaining quota plus a reset time in epoch seconds.
func RateLimitFromHeaders(host string, header http.Header, remainingKey, resetKey string) *RateLimitError {
	e := &RateLimitError{Host: host}
	if v := header.Get(remainingKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			e.Remaining = n
		}
	}
	if v := header.Get(resetKey); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil && epoch > 0 {
			e.Reset = time.Unix(epoch, 0).UTC()
		}
	}
	return e
}

// Tag object types as reported by tag listings.
const (
	ObjectTypeCommit = "commit"
	ObjectTypeTag    = "tag"
)

// TagRef is one entry from a tag listing. ObjectType distinguishes
// lightweight tags, which point straight at a commit, from annotated ones,
// which must be dereferenced before their commit date can be read.
type TagRef struct {
	Name       string
	SHA        string
	ObjectType string
}

// TagObject is a dereferenced annotated tag.
type TagObject struct {
	SHA        string
	TargetSHA  string
	TargetType string
	Message    string
}

// CommitInfo carries the commit metadata version discovery needs.
type CommitInfo struct {
	SHA  string
	Date time.Time
}

// Host is the query interface against a git hosting service. For hosts
// backed by a local clone the owner/repo pair is ignored. The ref passed
// to GetTag is host specific: the tag object SHA on GitHub, the tag name
// on GitLab.
type Host interface {
	// ListTags returns all tags whose name starts with prefix. An empty
	// prefix lists every tag. A repository with no matching tags yields
	// an empty slice and a nil error.
	ListTags(ctx context.Context, owner, repo, prefix string) ([]TagRef, error)
	GetTag(ctx context.Context, owner, repo, ref string) (*TagObject, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (*CommitInfo, error)
}

// ResolveCommit follows a tag ref to the commit it names. Annotated tags
// are dereferenced first, following nested tag objects; lightweight tags
// already point at the commit.
func ResolveCommit(ctx context.Context, h Host, owner, repo string, ref TagRef) (*CommitInfo, error) {
	sha := ref.SHA
	objectType := ref.ObjectType
	for depth := 0; objectType == ObjectTypeTag; depth++ {
		if depth > 3 {
			return nil, fmt.Errorf("tag %s: annotated tag chain too deep", ref.Name)
		}
		tag, err := h.GetTag(ctx, owner, repo, sha)
		if err != nil {
			return nil, fmt.Errorf("dereferencing tag %s: %w", ref.Name, err)
		}
		sha = tag.TargetSHA
		objectType = tag.TargetType
	}
	info, err := h.GetCommit(ctx, owner, repo, sha)
	if err != nil {
		return nil, fmt.Errorf("reading commit for tag %s: %w", ref.Name, err)
	}
	return info, nil
}

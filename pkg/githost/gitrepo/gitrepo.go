// Package gitrepo implements the githost.Host interface on top of a local
// clone using go-git. It needs no network access or credentials, which
// suits CI environments where the repository is already checked out.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/refpages/apidelta/pkg/githost"
)

// Repo serves host queries from a clone on disk. The owner/repo arguments
// of the Host methods are ignored: the path given to Open names the
// repository.
type Repo struct {
	repo *git.Repository
	path string
}

// Open opens the clone at path, traversing up to find the .git directory.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("gitrepo: %s: %w", path, githost.ErrNotFound)
		}
		return nil, fmt.Errorf("gitrepo: opening %s: %w", path, err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// ListTags enumerates local tags with the given name prefix, sorted by
// name so output does not depend on ref store iteration order.
func (r *Repo) ListTags(ctx context.Context, owner, repoName, prefix string) ([]githost.TagRef, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: listing tags in %s: %w", r.path, err)
	}

	tags := []githost.TagRef{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}
		objectType := githost.ObjectTypeCommit
		if _, tagErr := r.repo.TagObject(ref.Hash()); tagErr == nil {
			objectType = githost.ObjectTypeTag
		}
		tags = append(tags, githost.TagRef{
			Name:       name,
			SHA:        ref.Hash().String(),
			ObjectType: objectType,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: iterating tags in %s: %w", r.path, err)
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

// GetTag reads an annotated tag object by SHA.
func (r *Repo) GetTag(ctx context.Context, owner, repoName, ref string) (*githost.TagObject, error) {
	tag, err := r.repo.TagObject(plumbing.NewHash(ref))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("gitrepo: tag object %s: %w", ref, githost.ErrNotFound)
		}
		return nil, fmt.Errorf("gitrepo: reading tag object %s: %w", ref, err)
	}
	return &githost.TagObject{
		SHA:        tag.Hash.String(),
		TargetSHA:  tag.Target.String(),
		TargetType: tag.TargetType.String(),
		Message:    tag.Message,
	}, nil
}

// GetCommit reads one commit. The date is the committer date.
func (r *Repo) GetCommit(ctx context.Context, owner, repoName, sha string) (*githost.CommitInfo, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("gitrepo: commit %s: %w", sha, githost.ErrNotFound)
		}
		return nil, fmt.Errorf("gitrepo: reading commit %s: %w", sha, err)
	}
	return &githost.CommitInfo{
		SHA:  commit.Hash.String(),
		Date: commit.Committer.When.UTC(),
	}, nil
}

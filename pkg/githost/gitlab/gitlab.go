// Package gitlab implements the githost.Host interface against the GitLab
// REST v4 API.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/refpages/apidelta/pkg/githost"
)

const defaultBaseURL = "https://gitlab.com"

// Client queries the GitLab REST API. Projects are addressed by their
// owner/repo path, URL-encoded into a single project id.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
}

// NewClient builds a GitLab client. proxy may be empty.
func NewClient(token, proxy string) *Client {
	return &Client{
		http:    githost.NewHTTPClient(proxy),
		baseURL: defaultBaseURL,
		token:   token,
	}
}

// WithBaseURL points the client at a self-hosted GitLab instance or a test
// server and returns the client for chaining.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}

// ListTags enumerates tags whose name starts with prefix. The tags API
// dereferences annotated tags on the server side, so every returned ref
// already points at a commit.
func (c *Client) ListTags(ctx context.Context, owner, repo, prefix string) ([]githost.TagRef, error) {
	base := fmt.Sprintf("%s/api/v4/projects/%s/repository/tags?per_page=100&order_by=name&search=%s",
		c.baseURL, projectID(owner, repo), url.QueryEscape("^"+prefix))

	tags := []githost.TagRef{}
	page := "1"
	for page != "" {
		res, err := c.get(ctx, base+"&page="+page)
		if err != nil {
			return nil, err
		}

		for _, item := range gjson.Parse(res.Body).Array() {
			tags = append(tags, githost.TagRef{
				Name:       item.Get("name").String(),
				SHA:        item.Get("commit.id").String(),
				ObjectType: githost.ObjectTypeCommit,
			})
		}

		page = res.Header.Get("X-Next-Page")
	}
	return tags, nil
}

// GetTag looks up one tag. GitLab addresses tags by name rather than by
// object SHA, so ref is the tag name here. Like ListTags, the response is
// already dereferenced to the target commit.
func (c *Client) GetTag(ctx context.Context, owner, repo, ref string) (*githost.TagObject, error) {
	res, err := c.get(ctx, fmt.Sprintf("%s/api/v4/projects/%s/repository/tags/%s",
		c.baseURL, projectID(owner, repo), url.PathEscape(ref)))
	if err != nil {
		return nil, err
	}

	body := gjson.Parse(res.Body)
	return &githost.TagObject{
		SHA:        body.Get("target").String(),
		TargetSHA:  body.Get("commit.id").String(),
		TargetType: githost.ObjectTypeCommit,
		Message:    body.Get("message").String(),
	}, nil
}

// GetCommit fetches one commit.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*githost.CommitInfo, error) {
	res, err := c.get(ctx, fmt.Sprintf("%s/api/v4/projects/%s/repository/commits/%s",
		c.baseURL, projectID(owner, repo), sha))
	if err != nil {
		return nil, err
	}

	body := gjson.Parse(res.Body)
	info := &githost.CommitInfo{SHA: body.Get("id").String()}
	if raw := body.Get("committed_date").String(); raw != "" {
		date, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("commit %s has unparsable date %q: %w", sha, raw, err)
		}
		info.Date = date.UTC()
	}
	return info, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*githost.Response, error) {
	req := &githost.Request{Method: http.MethodGet, URL: rawURL}
	if c.token != "" {
		req.Headers = append(req.Headers, githost.Header{Name: "PRIVATE-TOKEN", Value: c.token})
	}

	res, err := githost.Do(ctx, c.http, req)
	if err != nil {
		return nil, fmt.Errorf("gitlab request failed: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("gitlab: %s: %w", rawURL, githost.ErrNotFound)
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, githost.RateLimitFromHeaders("gitlab", res.Header, "RateLimit-Remaining", "RateLimit-Reset")
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("gitlab: unexpected status %d for %s", res.StatusCode, rawURL)
	}
	return res, nil
}

func projectID(owner, repo string) string {
	return url.PathEscape(owner + "/" + repo)
}

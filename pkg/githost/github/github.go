// Package github implements the githost.Host interface against the GitHub
// REST v3 API.
package github

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

const defaultBaseURL = "https://api.github.com"

// Client queries the GitHub REST API. The zero token is valid and uses the
// unauthenticated quota, which rate-limits quickly on real repositories.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
}

// NewClient builds a GitHub client. proxy may be empty.
func NewClient(token, proxy string) *Client {
	return &Client{
		http:    githost.NewHTTPClient(proxy),
		baseURL: defaultBaseURL,
		token:   token,
	}
}

// WithBaseURL points the client at a GitHub Enterprise instance or a test
// server and returns the client for chaining.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}

// ListTags enumerates tags whose name starts with prefix, following
// pagination to the end.
func (c *Client) ListTags(ctx context.Context, owner, repo, prefix string) ([]githost.TagRef, error) {
	currentURL := fmt.Sprintf("%s/repos/%s/%s/git/matching-refs/tags/%s?per_page=100",
		c.baseURL, owner, repo, escapeRefPrefix(prefix))

	tags := []githost.TagRef{}
	for currentURL != "" {
		res, err := c.get(ctx, currentURL)
		if err != nil {
			return nil, err
		}

		for _, item := range gjson.Parse(res.Body).Array() {
			tags = append(tags, githost.TagRef{
				Name:       strings.TrimPrefix(item.Get("ref").String(), "refs/tags/"),
				SHA:        item.Get("object.sha").String(),
				ObjectType: item.Get("object.type").String(),
			})
		}

		currentURL = nextPageURL(res.Header)
	}
	return tags, nil
}

// GetTag dereferences an annotated tag object by its SHA.
func (c *Client) GetTag(ctx context.Context, owner, repo, ref string) (*githost.TagObject, error) {
	res, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/git/tags/%s", c.baseURL, owner, repo, ref))
	if err != nil {
		return nil, err
	}

	body := gjson.Parse(res.Body)
	return &githost.TagObject{
		SHA:        body.Get("sha").String(),
		TargetSHA:  body.Get("object.sha").String(),
		TargetType: body.Get("object.type").String(),
		Message:    body.Get("message").String(),
	}, nil
}

// GetCommit fetches one commit. The date is the committer date, which is
// what release tooling stamps on tagged commits.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*githost.CommitInfo, error) {
	res, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/git/commits/%s", c.baseURL, owner, repo, sha))
	if err != nil {
		return nil, err
	}

	body := gjson.Parse(res.Body)
	info := &githost.CommitInfo{SHA: body.Get("sha").String()}
	if raw := body.Get("committer.date").String(); raw != "" {
		date, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("commit %s has unparsable date %q: %w", sha, raw, err)
		}
		info.Date = date.UTC()
	}
	return info, nil
}

// get performs one API call and maps the GitHub status conventions onto
// the githost error taxonomy.
func (c *Client) get(ctx context.Context, rawURL string) (*githost.Response, error) {
	req := &githost.Request{Method: http.MethodGet, URL: rawURL}
	if c.token != "" {
		req.Headers = append(req.Headers, githost.Header{Name: "Authorization", Value: "Bearer " + c.token})
	}
	req.Headers = append(req.Headers, githost.Header{Name: "X-GitHub-Api-Version", Value: "2022-11-28"})

	res, err := githost.Do(ctx, c.http, req)
	if err != nil {
		return nil, fmt.Errorf("github request failed: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("github: %s: %w", rawURL, githost.ErrNotFound)
	case res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode == http.StatusForbidden && res.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, githost.RateLimitFromHeaders("github", res.Header, "X-RateLimit-Remaining", "X-RateLimit-Reset")
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("github: unexpected status %d for %s", res.StatusCode, rawURL)
	}
	return res, nil
}

// escapeRefPrefix escapes a ref prefix for use as a URL path suffix while
// keeping the slashes that are part of the ref name itself.
func escapeRefPrefix(prefix string) string {
	parts := strings.Split(prefix, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// nextPageURL extracts the rel="next" target from a Link header. Empty
// when the current page is the last one.
func nextPageURL(header http.Header) string {
	for _, link := range strings.Split(header.Get("Link"), ",") {
		segments := strings.Split(strings.TrimSpace(link), ";")
		if len(segments) < 2 {
			continue
		}
		for _, seg := range segments[1:] {
			if strings.TrimSpace(seg) == `rel="next"` {
				return strings.Trim(strings.TrimSpace(segments[0]), "<>")
			}
		}
	}
	return ""
}

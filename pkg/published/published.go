// Package published reads already-published changelog state from the docs
// site: {base}/{packageID}/changelog.json plus {base}/{packageID}/latest.json.
// It implements changelog.Source only; the published site is read-only by
// definition. Building against it lets CI extend changelogs without
// carrying a local database between runs.
package published

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/refpages/apidelta/pkg/changelog"
	"github.com/refpages/apidelta/pkg/githost"
)

// Client fetches published changelog state over HTTP.
type Client struct {
	BaseURL string
	http    *retryablehttp.Client
}

func NewClient(baseURL, proxy string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    githost.NewHTTPClient(proxy),
	}
}

// Fetch implements changelog.Source. A package the site does not serve
// yields changelog.ErrNotFound.
func (c *Client) Fetch(ctx context.Context, packageID string) (*changelog.PackageChangelog, *changelog.PackageVersionIndex, error) {
	body, err := c.get(ctx, packageID, "changelog.json")
	if err != nil {
		return nil, nil, err
	}

	// The site serves either the raw store document or an envelope that
	// nests it under "changelog" next to site metadata.
	payload := body
	if wrapped := gjson.GetBytes(body, "changelog"); wrapped.Exists() {
		payload = []byte(wrapped.Raw)
	}
	cl := &changelog.PackageChangelog{}
	if err := json.Unmarshal(payload, cl); err != nil {
		return nil, nil, fmt.Errorf("published changelog for %s is corrupt: %w", packageID, err)
	}
	if cl.PackageID == "" {
		cl.PackageID = packageID
	}

	idxBody, err := c.get(ctx, packageID, "latest.json")
	if err != nil {
		// A missing pointer next to an existing changelog is tolerable:
		// the next build writes a fresh one.
		if errors.Is(err, changelog.ErrNotFound) {
			return cl, nil, nil
		}
		return nil, nil, err
	}
	idx := &changelog.PackageVersionIndex{}
	if err := json.Unmarshal(idxBody, idx); err != nil {
		return nil, nil, fmt.Errorf("published index for %s is corrupt: %w", packageID, err)
	}
	if idx.PackageID == "" {
		idx.PackageID = packageID
	}
	return cl, idx, nil
}

func (c *Client) get(ctx context.Context, packageID, file string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", c.BaseURL, packageID, file)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "apidelta/2")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", changelog.ErrNotFound, url)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return body, nil
}

package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/cockroachdb/errors"

	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
)

var resultPattern = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)

// Search returns the IDs of the videos on the first result page, in order.
func (c *Client) Search(ctx context.Context, terms string) ([]string, error) {
	searchURL := fmt.Sprintf("%s/results?search_query=%s", c.cfg.BaseURL, url.QueryEscape(terms))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "youtube search")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Wrap(resolver.ErrRateLimited, "youtube search")
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf("youtube search failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read search results")
	}
	ids := extractVideoIDs(string(body))
	if len(ids) == 0 {
		return nil, errors.Wrapf(resolver.ErrNotFound, "youtube search %q", terms)
	}
	return ids, nil
}

func extractVideoIDs(page string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range resultPattern.FindAllStringSubmatch(page, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	return ids
}

// SearchFirst returns the watch link of the best search match.
func (c *Client) SearchFirst(ctx context.Context, terms string) (string, error) {
	ids, err := c.Search(ctx, terms)
	if err != nil {
		return "", err
	}
	return WatchURL(ids[0]), nil
}

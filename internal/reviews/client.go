// Package reviews consumes a hosted review platform's comment API. The
// annotation store only needs (author, created_at, body) tuples per
// resource; pagination stays inside the client.
package reviews

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Comment is one review comment as supplied by the platform, oldest-first.
type Comment struct {
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Body      string    `json:"body"`
}

// Client lists the comments attached to a review resource (e.g. a pull
// request identified by the commit it reviews).
type Client interface {
	ListComments(ctx context.Context, resourceID string) ([]Comment, error)
}

// HTTPClient implements Client against a JSON comment API:
// GET {base}/resources/{id}/comments?page=N&per_page=M returning an array,
// with an empty or short page ending the listing.
type HTTPClient struct {
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
}

// NewHTTPClient creates a client for the platform at baseURL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		token:    token,
		pageSize: 100,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// ListComments pages through the resource's comments and returns them in
// the platform's order (oldest first).
func (c *HTTPClient) ListComments(ctx context.Context, resourceID string) ([]Comment, error) {
	var all []Comment
	for page := 1; ; page++ {
		batch, err := c.page(ctx, resourceID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < c.pageSize {
			return all, nil
		}
	}
}

func (c *HTTPClient) page(ctx context.Context, resourceID string, page int) ([]Comment, error) {
	u := fmt.Sprintf("%s/resources/%s/comments?page=%d&per_page=%d",
		c.baseURL, url.PathEscape(resourceID), page, c.pageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("reviews: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reviews: list comments for %s: %w", resourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reviews: list comments for %s: unexpected status %d", resourceID, resp.StatusCode)
	}

	var batch []Comment
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("reviews: decode comments: %w", err)
	}
	return batch, nil
}

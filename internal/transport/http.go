// Package transport implements syncer.Remote over HTTP against a peer
// replica's API. Transient failures (network errors, 5xx) are retried here
// with backoff, per the engine's contract that transport errors reaching it
// are terminal.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/wire"
)

const (
	maxAttempts    = 3
	initialBackoff = 250 * time.Millisecond
)

// HTTPRemote talks to one peer replica.
type HTTPRemote struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRemote creates a remote for the replica at baseURL
// (e.g. "https://peer.example.com"). token may be empty when the peer runs
// with auth disabled.
func NewHTTPRemote(name, baseURL, token string) *HTTPRemote {
	return &HTTPRemote{
		name:    name,
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies the remote in tips and logs.
func (r *HTTPRemote) Name() string {
	return r.name
}

// Heads lists the remote's current heads for a namespace.
func (r *HTTPRemote) Heads(ctx context.Context, namespace string) ([]wire.Head, error) {
	var resp struct {
		Heads []wire.Head `json:"heads"`
	}
	path := fmt.Sprintf("/api/peer/%s/heads", url.PathEscape(namespace))
	if err := r.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Heads, nil
}

// Entry fetches one entry by id.
func (r *HTTPRemote) Entry(ctx context.Context, id string) (wire.Entry, error) {
	var e wire.Entry
	if err := r.getJSON(ctx, "/api/peer/entries/"+url.PathEscape(id), &e); err != nil {
		return wire.Entry{}, err
	}
	return e, nil
}

// Payload fetches one payload by id.
func (r *HTTPRemote) Payload(ctx context.Context, id string) (wire.Payload, error) {
	var p wire.Payload
	if err := r.getJSON(ctx, "/api/peer/payloads/"+url.PathEscape(id), &p); err != nil {
		return wire.Payload{}, err
	}
	return p, nil
}

// UpdateHead compare-and-sets the remote head for one target. A 409 from
// the peer maps to apperr.ErrPushRejected.
func (r *HTTPRemote) UpdateHead(ctx context.Context, namespace, target string, req wire.PushRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("transport: encode push request: %w", err)
	}
	path := fmt.Sprintf("/api/peer/%s/heads/%s", url.PathEscape(namespace), url.PathEscape(target))

	resp, err := r.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return apperr.ErrPushRejected
	case resp.StatusCode >= 300:
		return fmt.Errorf("transport: push %s/%s: unexpected status %d", namespace, target, resp.StatusCode)
	}
	return nil
}

func (r *HTTPRemote) getJSON(ctx context.Context, path string, out any) error {
	resp, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("transport: %s: %w", path, apperr.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode %s: %w", path, err)
	}
	return nil
}

// do issues a request, retrying network errors and 5xx responses with
// doubling backoff. Mutating requests are safe to retry: the peer endpoints
// are idempotent (content-addressed writes and compare-and-set heads).
func (r *HTTPRemote) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("transport: build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("transport: %s: status %d", path, resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("transport: %s %s after %d attempts: %w", method, path, maxAttempts, lastErr)
}

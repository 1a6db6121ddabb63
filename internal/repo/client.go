package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBlobSize = 10 << 20

// Client reads repositories over the provider's sync XRPC endpoints.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for baseURL. A ws:// or wss:// firehose address
// is accepted and mapped to its http(s) equivalent.
func NewClient(baseURL string, timeout time.Duration) *Client {
	switch {
	case strings.HasPrefix(baseURL, "wss://"):
		baseURL = "https://" + strings.TrimPrefix(baseURL, "wss://")
	case strings.HasPrefix(baseURL, "ws://"):
		baseURL = "http://" + strings.TrimPrefix(baseURL, "ws://")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.client = client
}

func (c *Client) Snapshot(ctx context.Context, did, commit string) (*Snapshot, error) {
	q := url.Values{"did": {did}}
	if commit != "" {
		q.Set("commit", commit)
	}
	var snap Snapshot
	if err := c.getJSON(ctx, "com.atproto.sync.getRepoSnapshot", q, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Head(ctx context.Context, did string) (*Head, error) {
	var head Head
	if err := c.getJSON(ctx, "com.atproto.sync.getLatestCommit", url.Values{"did": {did}}, &head); err != nil {
		return nil, err
	}
	return &head, nil
}

func (c *Client) Blob(ctx context.Context, did, cid string) ([]byte, error) {
	resp, err := c.get(ctx, "com.atproto.sync.getBlob", url.Values{"did": {did}, "cid": {cid}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", cid, err)
	}
	if len(data) > maxBlobSize {
		return nil, fmt.Errorf("blob %s exceeds %d bytes", cid, maxBlobSize)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, method string, q url.Values, out any) error {
	resp, err := c.get(ctx, method, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, method string, q url.Values) (*http.Response, error) {
	target := c.baseURL + "/xrpc/" + method + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", method, ErrNotFound)
	case http.StatusBadRequest:
		// XRPC reports unknown repositories and blobs as 400 with an error name.
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		resp.Body.Close()
		if strings.HasSuffix(body.Error, "NotFound") {
			return nil, fmt.Errorf("%s: %s: %w", method, body.Error, ErrNotFound)
		}
		return nil, fmt.Errorf("%s failed: %s", method, body.Error)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%s failed with status: %d", method, resp.StatusCode)
	}
}

var _ Reader = (*Client)(nil)

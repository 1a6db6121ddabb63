package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Invalidator drops cached renditions of a blob, e.g. after an avatar
// changes.
type Invalidator interface {
	InvalidateImage(ctx context.Context, did, cid string) error
}

// DiskInvalidator clears the local blob cache.
type DiskInvalidator struct {
	cache *BlobDiskCache
}

func NewDiskInvalidator(cache *BlobDiskCache) *DiskInvalidator {
	return &DiskInvalidator{cache: cache}
}

func (d *DiskInvalidator) InvalidateImage(_ context.Context, did, cid string) error {
	return d.cache.Clear(did, cid)
}

// HTTPInvalidator asks an external image service to purge a blob.
type HTTPInvalidator struct {
	url    string
	client *http.Client
}

func NewHTTPInvalidator(url string, timeout time.Duration) *HTTPInvalidator {
	return &HTTPInvalidator{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPInvalidator) InvalidateImage(ctx context.Context, did, cid string) error {
	body, err := json.Marshal(map[string]string{"did": did, "cid": cid})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("image invalidation failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("image invalidation failed with status: %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Invalidator = (*DiskInvalidator)(nil)
	_ Invalidator = (*HTTPInvalidator)(nil)
)

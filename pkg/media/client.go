// Package media talks to the external object store that holds message
// attachments. The core never inspects media bytes; it uploads them,
// keeps the returned handles, and destroys them on rollback.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
)

// ObjectStore is the engine's view of the external store. Upload
// failures abort the whole send; Destroy failures are logged only.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, kind models.MediaType) (models.MediaRef, error)
	Destroy(ctx context.Context, storageID string) error
}

// Client is the resty-backed HTTP implementation.
type Client struct {
	rc *resty.Client
}

// NewClient builds a client for the store at baseURL. apiKey may be
// empty for unauthenticated local stores.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	rc := resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	if apiKey != "" {
		rc.SetHeader("X-API-Key", apiKey)
	}
	return &Client{rc: rc}
}

type uploadResponse struct {
	StorageID string `json:"storage_id"`
	URL       string `json:"url"`
}

// Upload pushes bytes to the store and returns the opaque handle.
func (c *Client) Upload(ctx context.Context, data []byte, kind models.MediaType) (models.MediaRef, error) {
	var out uploadResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetQueryParam("kind", string(kind)).
		SetBody(data).
		SetResult(&out).
		Post("/v1/objects")
	if err != nil {
		return models.MediaRef{}, protocol.Wrap(protocol.CodeUploadFailed, err, "media upload failed")
	}
	if resp.IsError() {
		return models.MediaRef{}, protocol.E(protocol.CodeUploadFailed, "media upload failed: status %d", resp.StatusCode())
	}
	if out.StorageID == "" {
		return models.MediaRef{}, protocol.E(protocol.CodeUploadFailed, "media upload failed: empty storage id")
	}
	return models.MediaRef{Type: kind, StorageID: out.StorageID, URL: out.URL}, nil
}

// Destroy removes an object, best-effort. Callers log the error and
// continue; a destroy failure never aborts a flow already past persist.
func (c *Client) Destroy(ctx context.Context, storageID string) error {
	resp, err := c.rc.R().SetContext(ctx).Delete("/v1/objects/" + storageID)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", storageID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("destroy %s: status %d", storageID, resp.StatusCode())
	}
	return nil
}

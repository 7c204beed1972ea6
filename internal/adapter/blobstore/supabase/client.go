// Package supabase implements domain.BlobStore against the Supabase
// Storage REST API.
package supabase

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openlora/gpu-fleet/internal/domain"
)

// Client implements domain.BlobStore using Supabase Storage's object
// upload/download REST endpoints.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// New constructs a Client. baseURL is the SUPABASE_URL configuration
// value; apiKey is SUPABASE_KEY.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Upload stores data under a freshly generated filename in bucket and
// returns that filename. The filename's extension and the request's
// Content-Type are sniffed from data rather than assumed, since the
// Generator's actual output encoding is opaque to this adapter.
func (c *Client) Upload(ctx context.Context, bucket string, data []byte) (string, error) {
	mtype := mimetype.Detect(data)
	filename, err := randomFilename(mtype.Extension())
	if err != nil {
		return "", fmt.Errorf("op=blobstore.upload.filename: %w", err)
	}

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("op=blobstore.upload.request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mtype.String())

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=blobstore.upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("op=blobstore.upload: status %d: %s: %w", resp.StatusCode, body, domain.ErrInternal)
	}
	return filename, nil
}

// Download fetches filename from bucket.
func (c *Client) Download(ctx context.Context, bucket string, filename string) ([]byte, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("op=blobstore.download.request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=blobstore.download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("op=blobstore.download: %s/%s: %w", bucket, filename, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("op=blobstore.download: status %d: %s: %w", resp.StatusCode, body, domain.ErrInternal)
	}
	return io.ReadAll(resp.Body)
}

func randomFilename(ext string) (string, error) {
	if ext == "" {
		ext = ".bin"
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf) + ext, nil
}

// Package openai implements domain.Moderator against the OpenAI
// moderations endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openlora/gpu-fleet/internal/domain"
)

const moderationsURL = "https://api.openai.com/v1/moderations"

// Client implements domain.Moderator using the OpenAI moderations API.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

// New constructs a Client. apiKey is the OPENAI_KEY configuration value.
func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: moderationsURL,
		hc:      &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// Classify calls the moderations endpoint and maps its category flags
// onto domain.ModerationResult, retrying transient failures with
// exponential backoff.
func (c *Client) Classify(ctx context.Context, prompt string) (domain.ModerationResult, error) {
	var result domain.ModerationResult

	op := func() error {
		body, err := json.Marshal(moderationRequest{Input: prompt})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=moderation.classify.encode: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=moderation.classify.request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("op=moderation.classify: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("op=moderation.classify: status %d: %w", resp.StatusCode, domain.ErrUpstreamRateLimit)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("op=moderation.classify: status %d: %s: %w", resp.StatusCode, data, domain.ErrUpstreamTimeout))
		}

		var parsed moderationResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("op=moderation.classify.decode: %w", err))
		}
		if len(parsed.Results) == 0 {
			return backoff.Permanent(fmt.Errorf("op=moderation.classify: empty results: %w", domain.ErrInternal))
		}
		result = domain.ModerationResult{Categories: parsed.Results[0].Categories}
		return nil
	}

	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, backoff.WithMaxRetries(b, 3)); err != nil {
		return domain.ModerationResult{}, err
	}
	return result, nil
}

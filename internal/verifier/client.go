// Package verifier calls the external email verification API and
// normalizes its responses into validation results.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/list-validator/internal/validation"
)

// HTTPDoer allows the HTTP client to be swapped in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client verifies batches of emails against the external API.
type Client struct {
	url        string
	httpClient HTTPDoer
}

// NewClient creates a verifier client. The timeout bounds each request;
// the external API can take minutes on large batches.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP creates a client with a caller-supplied HTTP client.
// Used by tests.
func NewClientWithHTTP(url string, httpClient HTTPDoer) *Client {
	return &Client{url: url, httpClient: httpClient}
}

type verifyRequest struct {
	Emails []string `json:"emails"`
}

// rawResult is a verifier verdict before categorization.
type rawResult struct {
	Email    string  `json:"email"`
	Valid    string  `json:"valid"`
	CatchAll string  `json:"catch_all"`
	Error    *string `json:"error"`
}

// envelope covers the non-array response shapes the API is known to send:
// a results wrapper on success, assorted error envelopes on failure.
type envelope struct {
	Results []rawResult `json:"results"`
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Detail  string      `json:"detail"`
	Status  string      `json:"status"`
}

// Verify submits a batch and returns one categorized result per verdict.
// An empty batch returns an empty slice without calling the API.
func (c *Client) Verify(ctx context.Context, emails []string) ([]validation.ValidationResult, error) {
	if len(emails) == 0 {
		return []validation.ValidationResult{}, nil
	}

	body, err := json.Marshal(verifyRequest{Emails: emails})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[Verifier] Sending batch of %d emails to %s", len(emails), c.url)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Verifier] Response %d in %v (%d bytes)", resp.StatusCode, time.Since(start).Round(time.Millisecond), len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("verification API returned %d: %s", resp.StatusCode, snippet(respBody))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return nil, fmt.Errorf("verification API returned non-JSON response, content-type %q: %s", contentType, snippet(respBody))
	}

	raws, err := parseResults(respBody)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("verification API returned empty results for %d emails", len(emails))
	}

	results := make([]validation.ValidationResult, len(raws))
	for i, r := range raws {
		results[i] = validation.ValidationResult{
			Email:    r.Email,
			Valid:    r.Valid,
			CatchAll: r.CatchAll,
			Category: validation.Categorize(r.Valid, r.CatchAll),
			Error:    r.Error,
		}
	}

	return results, nil
}

// parseResults accepts either a bare result array or an object envelope.
// Object envelopes carrying error fields, or a non-success status, are
// API failures even on HTTP 200.
func parseResults(body []byte) ([]rawResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []rawResult
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("failed to parse verification response: %w", err)
		}
		return raws, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to parse verification response: %w", err)
	}

	if env.Results != nil {
		return env.Results, nil
	}

	if msg := firstNonEmpty(env.Error, env.Message, env.Detail); msg != "" {
		return nil, fmt.Errorf("verification API error: %s", msg)
	}
	if env.Status != "" && env.Status != "success" {
		return nil, fmt.Errorf("verification API returned status %q: %s", env.Status, snippet(body))
	}

	return nil, fmt.Errorf("unexpected verification response shape: %s", snippet(body))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// snippet truncates a response body for error messages.
func snippet(body []byte) string {
	const max = 200
	s := string(bytes.TrimSpace(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dex-analytics/internal/observability"
)

// ErrMalformed marks an upstream record or response that failed shape validation.
var ErrMalformed = errors.New("malformed upstream record")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// doJSON performs one request and decodes a JSON body into out.
// Non-retryable statuses and undecodable bodies come back wrapped with Permanent.
func doJSON(ctx context.Context, client *http.Client, method, url string, body any, out any, source string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Permanent(fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	observability.RecordUpstreamCall(source, method, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(respBody)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		se := &StatusError{Code: resp.StatusCode, Body: snippet}
		if se.retryable() {
			return se
		}
		return Permanent(se)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return Permanent(fmt.Errorf("%w: decode response: %v", ErrMalformed, err))
	}
	return nil
}

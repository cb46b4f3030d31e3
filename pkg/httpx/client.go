package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// RetryPolicy controls how DoJSON retries a request. Retryable decides, per
// attempt, whether the outcome warrants another try; a transport error is
// passed with status 0. Delay doubles after every failed attempt starting
// from BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(status int, err error) bool
}

// DefaultRetryable retries transport errors and 429 responses only.
// Definitive 4xx/5xx answers are surfaced to the caller immediately.
func DefaultRetryable(status int, err error) bool {
	if err != nil {
		return true
	}
	return status == http.StatusTooManyRequests
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(status int, err error) bool {
	if p.Retryable != nil {
		return p.Retryable(status, err)
	}
	return DefaultRetryable(status, err)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return base << attempt
}

// DoJSON performs an HTTP request with the given retry policy. It returns the
// final status code and response body; err is non-nil only when no response
// was obtained at all (transport failure on the last attempt, or context
// cancellation mid-backoff).
func DoJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, policy RetryPolicy) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	attempts := policy.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(policy.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return 0, nil, ctx.Err()
			case <-timer.C:
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			if policy.retryable(0, err) {
				continue
			}
			return 0, nil, err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if policy.retryable(0, readErr) {
				continue
			}
			return 0, nil, readErr
		}
		if policy.retryable(resp.StatusCode, nil) && attempt < attempts-1 {
			continue
		}
		return resp.StatusCode, respBody, nil
	}
	return 0, nil, lastErr
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcobitx/foxdoc/internal/shared/metrics"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

const maxAttempts = 3

var retryDelays = [maxAttempts]time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// send performs one logical gateway call with retries on 429, 5xx and
// transport failures. Other 4xx responses fail immediately.
func (c *Client) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("llm: encode request: %w", err)
		}
		body = raw
	}

	var lastErr *Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		respBody, status, err := c.roundTrip(ctx, method, path, body)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = &Error{Kind: ErrTransport, Msg: "Transport error: " + err.Error(), Err: err}
		case status == http.StatusTooManyRequests:
			lastErr = &Error{
				Kind:       ErrRateLimited,
				StatusCode: status,
				Body:       preview(respBody, 200),
				Msg:        "Rate limited (429): " + preview(respBody, 200),
			}
		case status >= 500:
			lastErr = &Error{
				Kind:       ErrServer,
				StatusCode: status,
				Body:       preview(respBody, 200),
				Msg:        fmt.Sprintf("Server error (%d): %s", status, preview(respBody, 200)),
			}
		case status >= 400:
			return nil, &Error{
				Kind:       ErrClient,
				StatusCode: status,
				Body:       preview(respBody, 500),
				Msg:        fmt.Sprintf("API error %d: %s", status, preview(respBody, 500)),
			}
		default:
			return respBody, nil
		}

		if attempt == maxAttempts-1 {
			break
		}
		delay := c.backoff(attempt)
		metrics.IncLLMRetry()
		telemetry.Warn("llm.retry", map[string]any{
			"path":     path,
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    lastErr.Msg,
		})
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoff is the base delay for attempt plus up to 50% positive jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := retryDelays[attempt]
	return time.Duration(float64(base) * (1 + c.jitter()*0.5))
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", appReferer)
	req.Header.Set("X-Title", appTitle)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, 0, err
	}
	metrics.IncLLMRequest()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

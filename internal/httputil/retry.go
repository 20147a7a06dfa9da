// Package httputil holds the small HTTP helpers shared by the weather and
// telemetry clients.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/live-voice-lab/internal/logging"
)

// BaseBackoff is the delay before the first retry; it doubles per attempt.
var BaseBackoff = 200 * time.Millisecond

// Request describes a GET with retry.
type Request struct {
	URL      string
	Header   http.Header
	Timeout  time.Duration
	Attempts int
}

// GetWithRetries performs req.URL with backoff on network errors and 5xx
// responses. Any other response is returned as-is; the caller closes the
// body. The last 5xx response is returned once attempts run out.
func GetWithRetries(ctx context.Context, client *http.Client, req Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	attempts := max(req.Attempts, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := getOnce(ctx, client, req)
		retryable := err != nil || resp.StatusCode >= 500
		if !retryable || i == attempts-1 {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if err != nil {
			lastErr = err
			logging.Debugw("getWithRetries: attempt failed", "attempt", i+1, "url", req.URL, "error", err)
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			logging.Debugw("getWithRetries: server error", "attempt", i+1, "url", req.URL, "status", resp.StatusCode)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-time.After(BaseBackoff * time.Duration(1<<i)):
		}
	}
	return nil, fmt.Errorf("no response from getWithRetries: %w", lastErr)
}

// getOnce issues one request. The per-attempt timeout covers reading the
// body, so the context is released when the body is closed.
func getOnce(ctx context.Context, client *http.Client, req Request) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

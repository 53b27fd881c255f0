package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// FallbackAttemptLog records one tried endpoint's outcome, whether it
// succeeded or not, for inclusion in diagnostics.
type FallbackAttemptLog struct {
	URL    string
	Status int
	Error  string
}

// Result is the outcome of Invoke: the final raw response body bytes, the
// HTTP status that produced them, and the accumulated attempt log.
type Result struct {
	StatusCode       int
	Header           http.Header
	Body             []byte
	FallbackAttempts []FallbackAttemptLog
}

func isRetriableStatus(status int) bool {
	switch status {
	case 429, 408, 404:
		return true
	}
	return status >= 500
}

// Invoke POSTs body to method (e.g. "v1internal:generateContent") against
// each endpoint in order, retrying on {429,408,404,5xx} or a transport
// error, short-circuiting on success or a non-retriable error (spec §4.5).
func Invoke(ctx context.Context, client *http.Client, method, query, token, userAgent string, body []byte, extraHeaders map[string]string) (*Result, error) {
	var attempts []FallbackAttemptLog
	var lastErr error

	for i, base := range Endpoints {
		url := base + ":" + method
		if query != "" {
			url += "?" + query
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		ua := userAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		req.Header.Set("User-Agent", ua)
		for k, v := range extraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			attempts = append(attempts, FallbackAttemptLog{URL: url, Error: err.Error()})
			if i == len(Endpoints)-1 {
				return nil, fmt.Errorf("all upstream endpoints failed, last error: %w", lastErr)
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			attempts = append(attempts, FallbackAttemptLog{URL: url, Status: resp.StatusCode, Error: readErr.Error()})
			if i == len(Endpoints)-1 {
				return nil, fmt.Errorf("reading upstream response failed: %w", readErr)
			}
			continue
		}

		if isRetriableStatus(resp.StatusCode) && i < len(Endpoints)-1 {
			attempts = append(attempts, FallbackAttemptLog{URL: url, Status: resp.StatusCode})
			continue
		}

		attempts = append(attempts, FallbackAttemptLog{URL: url, Status: resp.StatusCode})
		return &Result{
			StatusCode:       resp.StatusCode,
			Header:           resp.Header,
			Body:             respBody,
			FallbackAttempts: attempts,
		}, nil
	}

	return nil, fmt.Errorf("no upstream endpoints configured")
}

// Package platform talks to the interview platform API: M2M token exchange,
// session validation and completion.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "interview-agent/1.0"
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("platform: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized
}

type transport struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

type Option func(*transport)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(t *transport) {
		t.httpClient = httpClient
	}
}

func WithUserAgent(ua string) Option {
	return func(t *transport) {
		if ua = strings.TrimSpace(ua); ua != "" {
			t.userAgent = ua
		}
	}
}

func newTransport(baseURL string, opts []Option) (*transport, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("platform: base URL must not be empty")
	}
	t := &transport{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *transport) resolvedHTTPClient() *http.Client {
	if t.httpClient != nil {
		return t.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// doJSON sends payload (if any) as JSON and returns the response data,
// unwrapping {"success":true,"data":...} envelopes.
func (t *transport) doJSON(ctx context.Context, method, path, bearer string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("platform: marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	url := t.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("platform: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := t.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("platform: read response body: %w", err)
	}
	return unwrapData(raw), nil
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func unwrapData(raw []byte) []byte {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return raw
	}
	if env.Success != nil && !*env.Success {
		return raw
	}
	return env.Data
}

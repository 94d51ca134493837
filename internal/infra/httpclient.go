package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClientOptions configures the shared provider HTTP client.
type HTTPClientOptions struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Transport  http.RoundTripper
	Logger     *Logger
}

// NewHTTPClient returns a client whose transport retries throttled and
// temporarily unavailable responses with exponential backoff. Transport
// errors are only retried for requests that cannot create remote work.
func NewHTTPClient(opts HTTPClientOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewRetryTransport(opts),
	}
}

// NewRetryTransport wraps opts.Transport (or the default transport).
func NewRetryTransport(opts HTTPClientOptions) http.RoundTripper {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	delay := opts.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &retryTransport{
		base:       base,
		maxRetries: retries,
		baseDelay:  delay,
		maxDelay:   maxDelay,
		logger:     LoggerOrDiscard(opts.Logger),
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	delay := t.baseDelay
	for attempt := 0; ; attempt++ {
		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := t.base.RoundTrip(attemptReq)
		if attempt >= t.maxRetries || !t.shouldRetry(req, resp, err) {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		t.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("host", req.URL.Host).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("http: retrying provider request")
		if err := sleepCtx(req.Context(), delay); err != nil {
			return nil, err
		}
		if next := delay * 2; next <= t.maxDelay {
			delay = next
		}
	}
}

func (t *retryTransport) shouldRetry(req *http.Request, resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		// A POST may have reached the provider; retrying could submit twice.
		return req.Method == http.MethodGet || req.Method == http.MethodHead
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return req.Method == http.MethodGet || req.Method == http.MethodHead
	}
	return false
}

func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("http: cannot retry %s %s without GetBody", req.Method, req.URL)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("http: rewind body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

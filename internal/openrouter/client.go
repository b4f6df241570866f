package openrouter

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/sjson"
)

const (
	DefaultURL     = "https://openrouter.ai/api/v1/chat/completions"
	DefaultTimeout = 120 * time.Second
	DefaultReferer = "https://omnitalkx.example.com"
	DefaultTitle   = "OmniTalk X"

	// MaxAttempts is the total number of tries per candidate model.
	MaxAttempts = 3

	retryDelay     = 700 * time.Millisecond
	rateLimitDelay = 1400 * time.Millisecond

	maxErrorBody = 1 << 20
)

var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusConflict:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Options configures a Client. Zero values fall back to the package defaults.
type Options struct {
	URL     string
	Referer string
	Title   string
	Timeout time.Duration

	// HTTPClient overrides the transport entirely; Timeout is ignored when set.
	HTTPClient *http.Client
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client talks to the chat-completions endpoint with bounded retry and
// per-provider model fallback.
type Client struct {
	url        string
	referer    string
	title      string
	httpClient *http.Client
	sleep      SleepFunc
	logger     *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	c := &Client{
		url:        opts.URL,
		referer:    opts.Referer,
		title:      opts.Title,
		httpClient: opts.HTTPClient,
		sleep:      sleepContext,
		logger:     logger,
	}

	if c.url == "" {
		c.url = DefaultURL
	}
	if c.referer == "" {
		c.referer = DefaultReferer
	}
	if c.title == "" {
		c.title = DefaultTitle
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}

	return c
}

// WithSleep replaces the backoff wait. Used by tests to record delays.
func (c *Client) WithSleep(fn SleepFunc) *Client {
	c.sleep = fn
	return c
}

// URL returns the upstream endpoint.
func (c *Client) URL() string {
	return c.url
}

// Headers returns the request headers for the given API key.
func (c *Client) Headers(apiKey string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("Accept-Encoding", "gzip, br")
	h.Set("HTTP-Referer", c.referer)
	h.Set("X-Title", c.title)

	return h
}

// FetchWithRetry POSTs payload to the upstream endpoint. Transport failures
// and retryable statuses are retried up to MaxAttempts times with a linear
// backoff; the first non-retryable response is returned with its body unread.
// When every attempt fails an *UpstreamError is returned.
func (c *Client) FetchWithRetry(ctx context.Context, header http.Header, payload []byte) (*http.Response, error) {
	var lastErr *UpstreamError

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create upstream request: %w", err)
		}
		req.Header = header.Clone()

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &UpstreamError{Message: "request cancelled", Err: ctx.Err()}
			}

			c.logger.Warn("Upstream transport error", "attempt", attempt, "error", err)
			lastErr = &UpstreamError{Err: err}

			if attempt == MaxAttempts {
				break
			}
			if err := c.sleep(ctx, retryDelay*time.Duration(attempt)); err != nil {
				return nil, &UpstreamError{Message: "request cancelled", Err: err}
			}
			continue
		}

		c.logger.Debug("Upstream response",
			"attempt", attempt,
			"status", resp.StatusCode,
			"duration", time.Since(start),
		)

		if !retryableStatuses[resp.StatusCode] {
			return resp, nil
		}

		body := drain(resp)
		lastErr = &UpstreamError{Status: resp.StatusCode, Message: NormalizeError(string(body))}

		if attempt == MaxAttempts {
			break
		}

		delay := retryDelay
		if resp.StatusCode == http.StatusTooManyRequests {
			delay = rateLimitDelay
		}
		delay *= time.Duration(attempt)

		c.logger.Warn("Retrying upstream request",
			"attempt", attempt,
			"status", resp.StatusCode,
			"delay", delay,
		)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &UpstreamError{Message: "request cancelled", Err: err}
		}
	}

	if lastErr == nil {
		lastErr = &UpstreamError{Message: DefaultErrorMessage}
	}

	return nil, lastErr
}

// Send runs the retry core once per candidate model until one answers.
// A candidate is abandoned for the next when it reports the model as
// unavailable or out of quota; any other failure is terminal. The returned
// response always has a status below 400 and a decoded body; error responses
// are converted into *UpstreamError annotated with the model that produced them.
func (c *Client) Send(ctx context.Context, apiKey string, models []string, payload []byte) (*http.Response, string, error) {
	if len(models) == 0 {
		return nil, "", &UpstreamError{Message: "no upstream model configured"}
	}

	header := c.Headers(apiKey)
	var lastErr *UpstreamError

	for i, model := range models {
		body, err := sjson.SetBytes(payload, "model", model)
		if err != nil {
			return nil, model, fmt.Errorf("set model: %w", err)
		}

		resp, err := c.FetchWithRetry(ctx, header, body)
		if err != nil {
			var ue *UpstreamError
			if !errors.As(err, &ue) {
				return nil, model, err
			}
			ue.Model = model

			if ue.Err != nil || !ue.unavailable() {
				return nil, model, ue
			}

			lastErr = ue
			c.logger.Info("Falling back to next model", "model", model, "status", ue.Status, "remaining", len(models)-i-1)
			continue
		}

		if err := decodeBody(resp); err != nil {
			resp.Body.Close()
			return nil, model, &UpstreamError{Model: model, Status: resp.StatusCode, Err: err}
		}

		if resp.StatusCode < http.StatusBadRequest {
			return resp, model, nil
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		ue := &UpstreamError{Status: resp.StatusCode, Model: model, Message: NormalizeError(string(raw))}
		if !shouldFallback(resp.StatusCode, raw) {
			return nil, model, ue
		}

		lastErr = ue
		c.logger.Info("Falling back to next model", "model", model, "status", resp.StatusCode, "remaining", len(models)-i-1)
	}

	return nil, lastErr.Model, lastErr
}

// Complete sends a non-streaming request and decodes the completion.
func (c *Client) Complete(ctx context.Context, apiKey string, models []string, payload []byte) (*ChatResponse, error) {
	resp, _, err := c.Send(ctx, apiKey, models, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}

	return &out, nil
}

// unavailable reports whether an exhausted retry still points at an
// unusable model rather than a transient outage.
func (e *UpstreamError) unavailable() bool {
	if fallbackStatuses[e.Status] {
		return true
	}

	msg := strings.ToLower(e.Message)
	for _, word := range fallbackVocabulary {
		if strings.Contains(msg, word) {
			return true
		}
	}

	return false
}

func drain(resp *http.Response) []byte {
	defer resp.Body.Close()

	if err := decodeBody(resp); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	io.Copy(io.Discard, resp.Body)

	return body
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}

	return errors.Join(errs...)
}

// decodeBody swaps a compressed response body for a decompressing reader.
func decodeBody(resp *http.Response) error {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gzip response: %w", err)
		}
		resp.Body = &decodedBody{Reader: gz, closers: []io.Closer{gz, resp.Body}}
	case "br":
		resp.Body = &decodedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}
	default:
		return nil
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

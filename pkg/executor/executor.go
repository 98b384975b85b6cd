package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/semaphore"
)

// Request describes one logical call.
type Request struct {
	// Method defaults to POST when Body is set and GET otherwise.
	Method string

	// URL is the absolute target URL.
	URL string

	// Headers are set on every attempt.
	Headers map[string]string

	// Params are appended to the URL query.
	Params url.Values

	// Body is sent as JSON. A []byte or json.RawMessage is sent as is.
	Body any

	// TotalRetryBudget bounds the call's wall-clock time including waits.
	TotalRetryBudget time.Duration

	// MaxAttempts bounds the number of attempts.
	MaxAttempts int
}

// Executor runs metered HTTP calls through a shared admission gate.
type Executor struct {
	config  Config
	gate    *semaphore.Weighted
	client  *http.Client
	sleep   Sleeper
	now     func() time.Time
	jitter  func(time.Duration) time.Duration
	logger  *slog.Logger
	metrics *Metrics

	ownsClient bool
}

// New creates an Executor.
func New(cfg Config, opts ...Option) *Executor {
	cfg = cfg.withDefaults()

	e := &Executor{
		config: cfg,
		gate:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		sleep:  sleepContext,
		now:    time.Now,
		jitter: randomJitter,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = newHTTPClient(cfg)
		e.ownsClient = true
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

func newHTTPClient(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxConcurrent,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs req and returns the decoded JSON object.
func (e *Executor) Execute(ctx context.Context, req Request) (map[string]any, error) {
	var out map[string]any
	if err := e.ExecuteInto(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteRaw runs req and returns the undecoded 2xx body.
func (e *Executor) ExecuteRaw(ctx context.Context, req Request) ([]byte, error) {
	var raw json.RawMessage
	if err := e.ExecuteInto(ctx, req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ExecuteInto runs req and decodes the 2xx body into out.
func (e *Executor) ExecuteInto(ctx context.Context, req Request, out any) error {
	start := e.now()
	err := e.execute(ctx, req, out)
	e.metrics.recordCall(resultLabel(err), e.now().Sub(start))
	return err
}

func (e *Executor) execute(ctx context.Context, req Request, out any) error {
	payload, err := encodeBody(req.Body)
	if err != nil {
		return err
	}
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if payload != nil {
			method = http.MethodPost
		}
	}

	budget := req.TotalRetryBudget
	if budget <= 0 {
		budget = e.config.DefaultBudget
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.config.DefaultMaxAttempts
	}

	deadline := e.now().Add(budget)
	backoff := e.config.InitialBackoff
	var (
		lastErr    error
		dispatched bool
	)
	canceled := func(attempts int, cause error) error {
		return &CanceledError{Attempts: attempts, Dispatched: dispatched, Cause: cause}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if deadline.Sub(e.now()) <= 0 {
			return &DeadlineExceededError{Budget: budget, Attempts: attempt - 1, LastErr: lastErr}
		}

		res, sent, err := e.attempt(ctx, method, target, req.Headers, payload, deadline)
		dispatched = dispatched || sent
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return canceled(attempt, ctxErr)
			}
			if errors.Is(err, errGateTimeout) {
				return &DeadlineExceededError{Budget: budget, Attempts: attempt - 1, LastErr: lastErr}
			}
			e.metrics.recordAttempt("transport_error")
			lastErr = &TransientRequestError{Attempt: attempt, Cause: err}
			e.logger.Warn("request failed, will retry",
				"url", req.URL,
				"attempt", attempt,
				"error", err,
			)
		} else {
			switch {
			case res.status >= 200 && res.status < 300:
				e.metrics.recordAttempt("success")
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(res.body, out); err != nil {
					return &DecodeError{BodyPreview: preview(res.body), Cause: err}
				}
				return nil

			case res.status == http.StatusTooManyRequests || res.status >= 500:
				e.metrics.recordAttempt("transient")
				transient := &TransientRequestError{
					Attempt:     attempt,
					StatusCode:  res.status,
					BodyPreview: preview(res.body),
				}
				lastErr = transient

				if wait, ok := parseRetryAfter(res.header.Get("Retry-After"), e.now()); ok {
					transient.RetryAfter = wait
					remaining := deadline.Sub(e.now())
					if wait > remaining {
						return &BudgetWaitExceededError{RetryAfter: wait, Remaining: remaining, StatusCode: res.status}
					}
					if attempt == maxAttempts {
						break
					}
					e.logger.Info("server requested backoff",
						"url", req.URL,
						"status", res.status,
						"retry_after", wait.String(),
						"attempt", attempt,
					)
					e.metrics.recordRetry("retry_after")
					if err := e.sleep(ctx, wait); err != nil {
						return canceled(attempt, err)
					}
					continue
				}

				e.logger.Warn("request returned error status, will retry",
					"url", req.URL,
					"status", res.status,
					"attempt", attempt,
				)

			default:
				e.metrics.recordAttempt("non_retryable")
				return &NonRetryableRequestError{StatusCode: res.status, BodyPreview: preview(res.body)}
			}
		}

		if attempt == maxAttempts {
			break
		}

		wait := min(backoff+e.jitter(e.config.MaxJitter), e.config.MaxBackoff)
		if e.now().Add(wait).After(deadline) {
			return &DeadlineExceededError{Budget: budget, Attempts: attempt, LastErr: lastErr}
		}
		e.metrics.recordRetry("backoff")
		if err := e.sleep(ctx, wait); err != nil {
			return canceled(attempt, err)
		}
		backoff *= 2
	}

	if lastErr == nil {
		return ErrAttemptsExhausted
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, lastErr)
}

// response is one attempt's fully read result.
type response struct {
	status int
	header http.Header
	body   []byte
}

// errGateTimeout means the budget ran out while queued for a gate slot.
var errGateTimeout = errors.New("budget exhausted waiting for a gate slot")

// attempt acquires a gate slot and performs one HTTP exchange bounded by
// min(MaxAttemptTimeout, time left until deadline). Both the queueing and the
// exchange count against the deadline. sent is true once the request was
// handed to the transport.
func (e *Executor) attempt(ctx context.Context, method, target string, headers map[string]string, payload []byte, deadline time.Time) (res *response, sent bool, err error) {
	waitStart := time.Now()
	gateCtx, cancelGate := context.WithTimeout(ctx, deadline.Sub(e.now()))
	err = e.gate.Acquire(gateCtx, 1)
	cancelGate()
	if err != nil {
		if ctx.Err() == nil {
			return nil, false, errGateTimeout
		}
		return nil, false, err
	}
	defer e.gate.Release(1)
	e.metrics.acquired(time.Since(waitStart))
	defer e.metrics.released()

	remaining := deadline.Sub(e.now())
	if remaining <= 0 {
		return nil, false, errGateTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, min(e.config.MaxAttemptTimeout, remaining))
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, true, nil
}

// Close releases idle connections held by the executor's own client.
func (e *Executor) Close() error {
	if e.ownsClient {
		e.client.CloseIdleConnections()
	}
	return nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		return data, nil
	}
}

func buildURL(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid request URL %q: must be absolute", raw)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func resultLabel(err error) string {
	var (
		nonRetryable *NonRetryableRequestError
		decode       *DecodeError
		canceled     *CanceledError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &canceled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline"
	case errors.As(err, &nonRetryable):
		return "non_retryable"
	case errors.As(err, &decode):
		return "decode_error"
	default:
		return "exhausted"
	}
}

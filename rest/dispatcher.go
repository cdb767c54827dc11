// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/shardwire/lib/clock"
	"github.com/bureau-foundation/shardwire/lib/fault"
	"github.com/bureau-foundation/shardwire/lib/netutil"
	"github.com/bureau-foundation/shardwire/lib/version"
)

// DefaultBaseURL is the versioned API root.
const DefaultBaseURL = "https://discord.com/api/v10"

// Defaults applied by NewDispatcher.
const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRetries   = 3
	DefaultGlobalLimit  = 50
	DefaultGlobalWindow = time.Second
	DefaultBucketIdle   = 10 * time.Minute
)

// sweepEvery is how many submissions pass between idle-bucket sweeps.
const sweepEvery = 256

// Config configures a Dispatcher.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL.
	BaseURL string

	// Token is the bot token, sent as "Authorization: Bot <token>".
	Token string

	// UserAgent overrides the default shardwire user agent.
	UserAgent string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Timeout bounds each HTTP attempt. Zero selects DefaultTimeout;
	// negative disables the per-attempt timeout.
	Timeout time.Duration

	// MaxRetries is how many times a 429 response is retried. Zero
	// selects DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// GlobalLimit and GlobalWindow size the global bucket.
	GlobalLimit  int
	GlobalWindow time.Duration

	// BucketIdle is how long an unused bucket is kept.
	BucketIdle time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Request is one API call.
type Request struct {
	Route  Route
	Params []string
	Query  url.Values

	// Body is sent as JSON. A []byte or json.RawMessage is sent
	// verbatim; any other value is marshaled.
	Body any

	// Reason is recorded in the guild audit log.
	Reason string

	// Header carries extra request headers.
	Header http.Header

	// Unauthenticated omits the Authorization header, for routes
	// authenticated by a token in the path.
	Unauthenticated bool

	// Timeout bounds each attempt of this call. Zero uses the
	// dispatcher's Config.Timeout; negative disables the timeout.
	Timeout time.Duration
}

// Response is a successful (2xx) API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Bucket is the rate-limit bucket hash the server reported.
	Bucket string

	// RequestID correlates the response with the dispatcher's logs.
	RequestID string
}

// Decode unmarshals the response body into v.
func (response *Response) Decode(v any) error {
	if len(response.Body) == 0 {
		return nil
	}
	return json.Unmarshal(response.Body, v)
}

// Result is delivered by SubmitAsync.
type Result struct {
	Response *Response
	Err      error
}

// Dispatcher submits requests through per-route and global rate-limit
// buckets. It is safe for concurrent use; each call runs on the
// caller's goroutine.
type Dispatcher struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	bucketIdle time.Duration
	table      *bucketTable
	clock      clock.Clock
	logger     *slog.Logger

	submissions atomic.Uint64
}

// NewDispatcher returns a Dispatcher for config.
func NewDispatcher(config Config) (*Dispatcher, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return nil, fmt.Errorf("rest: invalid base URL %q", baseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := config.Timeout
	switch {
	case timeout == 0:
		timeout = DefaultTimeout
	case timeout < 0:
		timeout = 0
	}
	maxRetries := config.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	globalLimit := config.GlobalLimit
	if globalLimit <= 0 {
		globalLimit = DefaultGlobalLimit
	}
	globalWindow := config.GlobalWindow
	if globalWindow <= 0 {
		globalWindow = DefaultGlobalWindow
	}
	bucketIdle := config.BucketIdle
	if bucketIdle <= 0 {
		bucketIdle = DefaultBucketIdle
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	return &Dispatcher{
		baseURL:    baseURL,
		token:      config.Token,
		userAgent:  userAgent,
		httpClient: httpClient,
		timeout:    timeout,
		maxRetries: maxRetries,
		bucketIdle: bucketIdle,
		table:      newBucketTable(clk, logger, globalLimit, globalWindow),
		clock:      clk,
		logger:     logger,
	}, nil
}

// errRetry signals a 429 that has been accounted for and may be
// retried.
type errRetry struct {
	apiError *APIError
}

func (err *errRetry) Error() string { return err.apiError.Error() }

// Submit sends request once it is admitted by its route bucket and
// the global bucket, retrying 429 responses up to the configured
// bound. Non-2xx responses are returned as *APIError; transport
// failures are classified fault.Transient.
//
// Cancelling ctx while the request waits for admission leaves no trace
// in the buckets. Once the request is on the wire, any headers that
// come back still update its bucket.
func (dispatcher *Dispatcher) Submit(ctx context.Context, request *Request) (*Response, error) {
	path, key, err := request.Route.Compile(request.Params...)
	if err != nil {
		return nil, fault.New(fault.ClientError, "rest: submit", err)
	}
	body, err := encodeBody(request.Body)
	if err != nil {
		return nil, fault.New(fault.ClientError, "rest: submit", err)
	}

	if dispatcher.submissions.Add(1)%sweepEvery == 0 {
		if evicted := dispatcher.table.sweep(dispatcher.bucketIdle); evicted > 0 {
			dispatcher.logger.Debug("evicted idle rate limit buckets", "count", evicted)
		}
	}

	requestID := uuid.NewString()
	for attempt := 0; ; attempt++ {
		response, err := dispatcher.attempt(ctx, request, path, key, body, requestID)
		var retry *errRetry
		if !errors.As(err, &retry) {
			return response, err
		}
		if attempt >= dispatcher.maxRetries {
			dispatcher.logger.Warn("rate limit retries exhausted",
				"request_id", requestID,
				"route", key.String(),
				"attempts", attempt+1,
			)
			return nil, fault.New(fault.RateLimited, "rest: submit", retry.apiError)
		}
	}
}

// SubmitAsync runs Submit on a new goroutine and delivers its result
// on the returned channel, which is buffered and closed after the one
// value.
func (dispatcher *Dispatcher) SubmitAsync(ctx context.Context, request *Request) <-chan Result {
	results := make(chan Result, 1)
	go func() {
		defer close(results)
		response, err := dispatcher.Submit(ctx, request)
		results <- Result{Response: response, Err: err}
	}()
	return results
}

// Do submits request and decodes a successful response into result,
// which may be nil.
func (dispatcher *Dispatcher) Do(ctx context.Context, request *Request, result any) error {
	response, err := dispatcher.Submit(ctx, request)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := response.Decode(result); err != nil {
		return fmt.Errorf("rest: decoding %s response: %w", request.Route.Template, err)
	}
	return nil
}

// Buckets returns a snapshot of every tracked route bucket.
func (dispatcher *Dispatcher) Buckets() []BucketStatus {
	return dispatcher.table.snapshot()
}

// GlobalBucket returns a snapshot of the global bucket.
func (dispatcher *Dispatcher) GlobalBucket() BucketStatus {
	return dispatcher.table.global.status("global", "")
}

func (dispatcher *Dispatcher) attempt(ctx context.Context, request *Request, path string, key RouteKey, body []byte, requestID string) (*Response, error) {
	admitted, err := dispatcher.table.admit(ctx, key)
	if err != nil {
		return nil, err
	}
	if !request.Route.Exempt {
		if _, err := dispatcher.table.global.acquire(ctx, dispatcher.clock); err != nil {
			admitted.undo()
			return nil, err
		}
	}

	timeout := dispatcher.timeout
	switch {
	case request.Timeout > 0:
		timeout = request.Timeout
	case request.Timeout < 0:
		timeout = 0
	}
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpRequest, err := dispatcher.newHTTPRequest(attemptCtx, request, path, body)
	if err != nil {
		admitted.undo()
		return nil, fault.New(fault.ClientError, "rest: submit", err)
	}

	httpResponse, err := dispatcher.httpClient.Do(httpRequest)
	if err != nil {
		admitted.abandon()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.New(fault.Transient, "rest: submit", fmt.Errorf("%s %s: %w", key.Method, path, err))
	}
	defer httpResponse.Body.Close()

	info := parseRateLimit(httpResponse.Header, dispatcher.clock.Now())
	bucket := dispatcher.table.resolve(key, admitted.bucket, info, httpResponse.StatusCode)

	responseBody, err := netutil.ReadResponse(httpResponse.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.New(fault.Transient, "rest: submit", fmt.Errorf("reading %s %s response: %w", key.Method, path, err))
	}

	status := httpResponse.StatusCode
	switch {
	case status >= 200 && status < 300:
		return &Response{
			StatusCode: status,
			Header:     httpResponse.Header,
			Body:       responseBody,
			Bucket:     info.bucket,
			RequestID:  requestID,
		}, nil
	case status == http.StatusTooManyRequests:
		return nil, dispatcher.rateLimited(ctx, key, path, bucket, httpResponse.Header, responseBody, info, requestID)
	default:
		apiError := parseAPIError(status, key.Method, path, responseBody)
		dispatcher.logger.Debug("api request failed",
			"request_id", requestID,
			"route", key.String(),
			"status", status,
			"code", apiError.Code,
		)
		return nil, apiError
	}
}

// rateLimited records a 429 against the bucket that caused it and
// returns errRetry, or ctx's error if ctx ends during a shared-scope
// pause.
func (dispatcher *Dispatcher) rateLimited(ctx context.Context, key RouteKey, path string, bucket *Bucket, header http.Header, body []byte, info rateLimitInfo, requestID string) error {
	delay, global := retryDelay(header, body, info)
	apiError := parseAPIError(http.StatusTooManyRequests, key.Method, path, body)
	apiError.RetryAfter = delay
	apiError.Global = global

	until := dispatcher.clock.Now().Add(delay)
	scope := info.scope
	switch {
	case global:
		scope = scopeGlobal
		dispatcher.table.global.exhaust(until)
	case info.scope == scopeShared:
		// The limit belongs to the resource, not to this bot's
		// bucket; wait it out without poisoning the bucket.
		timer := dispatcher.clock.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		if scope == "" {
			scope = scopeUser
		}
		bucket.exhaust(until)
	}

	dispatcher.logger.Warn("rate limited",
		"request_id", requestID,
		"route", key.String(),
		"bucket", info.bucket,
		"scope", scope,
		"retry_after", delay,
	)
	return &errRetry{apiError: apiError}
}

func (dispatcher *Dispatcher) newHTTPRequest(ctx context.Context, request *Request, path string, body []byte) (*http.Request, error) {
	target := dispatcher.baseURL + path
	if len(request.Query) > 0 {
		target += "?" + request.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Route.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for name, values := range request.Header {
		for _, value := range values {
			httpRequest.Header.Add(name, value)
		}
	}
	httpRequest.Header.Set("User-Agent", dispatcher.userAgent)
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	if !request.Unauthenticated && dispatcher.token != "" {
		httpRequest.Header.Set("Authorization", "Bot "+dispatcher.token)
	}
	if request.Reason != "" {
		httpRequest.Header.Set("X-Audit-Log-Reason", url.PathEscape(request.Reason))
	}
	return httpRequest, nil
}

func encodeBody(body any) ([]byte, error) {
	switch value := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return value, nil
	case json.RawMessage:
		return value, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return encoded, nil
	}
}

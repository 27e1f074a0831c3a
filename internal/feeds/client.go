package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perigee-sky/perigee/internal/resilience"
)

const maxResponseSize = 50 * 1024 * 1024

const userAgent = "perigee/1.0"

// Options configures a feed client. Zero values take the per-endpoint
// defaults. The batching knobs apply to the small-body client only.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger

	// Resilience policy.
	Timeout          time.Duration
	MaxConcurrent    int64
	QueueSize        int64
	FailureThreshold uint32
	RecoveryTimeout  time.Duration

	// Retry schedule inside the policy.
	RetryAttempts int
	RetryMinWait  time.Duration
	RetryMaxWait  time.Duration

	// Small-body detail batching.
	ListLimit        int
	DetailBatchSize  int
	DetailBatchDelay time.Duration
}

// httpCore is the transport shared by the three clients: URL building,
// one-shot fetch with failure classification, retry with exponential
// backoff, and the endpoint's resilience policy around it all.
type httpCore struct {
	feed       string
	baseURL    string
	httpClient *http.Client
	policy     *resilience.Policy
	logger     *zap.Logger

	retryAttempts int
	retryMinWait  time.Duration
	retryMaxWait  time.Duration
}

func newHTTPCore(feed string, opts Options) *httpCore {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	minWait := opts.RetryMinWait
	if minWait <= 0 {
		minWait = DefaultRetryMinWait
	}
	maxWait := opts.RetryMaxWait
	if maxWait <= 0 {
		maxWait = DefaultRetryMaxWait
	}

	policy := resilience.NewPolicy(resilience.Config{
		Name:             feed,
		FailureThreshold: opts.FailureThreshold,
		RecoveryTimeout:  opts.RecoveryTimeout,
		MaxConcurrent:    opts.MaxConcurrent,
		QueueSize:        opts.QueueSize,
		CallTimeout:      opts.Timeout,
	}, logger)

	return &httpCore{
		feed:          feed,
		baseURL:       opts.BaseURL,
		httpClient:    httpClient,
		policy:        policy,
		logger:        logger,
		retryAttempts: attempts,
		retryMinWait:  minWait,
		retryMaxWait:  maxWait,
	}
}

// Session is one scoped use of a feed client. The id correlates every log
// line of the session; Close is idempotent.
type Session struct {
	ID     string
	core   *httpCore
	logger *zap.Logger
	closed atomic.Bool
}

func newSession(core *httpCore) *Session {
	id := uuid.NewString()
	logger := core.logger.With(
		zap.String("feed", core.feed),
		zap.String("feed_session", id),
	)
	logger.Debug("feed session acquired")
	return &Session{ID: id, core: core, logger: logger}
}

// Close releases the session. Further calls through it fail.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Debug("feed session released")
	}
}

func (s *Session) guard() error {
	if s.closed.Load() {
		return &Error{Feed: s.core.feed, Kind: KindUnavailable, Msg: "session used after Close"}
	}
	return nil
}

func (c *httpCore) buildURL(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// getJSON fetches path under the endpoint's resilience policy and decodes
// the body into out.
func (c *httpCore) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	_, err := c.getJSONOptional(ctx, path, params, out, false)
	return err
}

// getJSONOptional is getJSON with a missing-object escape hatch: when
// notFoundOK is set, a 404 reports (false, nil) instead of an error, so
// routine missing objects never count against the circuit breaker.
func (c *httpCore) getJSONOptional(ctx context.Context, path string, params url.Values, out any, notFoundOK bool) (bool, error) {
	urlStr := c.buildURL(path, params)
	found := true

	op := func(ctx context.Context) error {
		body, err := c.fetchWithRetry(ctx, urlStr)
		if err != nil {
			if notFoundOK && KindOf(err) == KindNotFound {
				found = false
				return nil
			}
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &Error{Feed: c.feed, Kind: KindParse, Msg: "decoding response", Err: err}
		}
		return nil
	}

	if err := c.policy.Execute(ctx, op); err != nil {
		return false, c.classify(err)
	}
	return found, nil
}

// fetchWithRetry runs single fetches under the retry schedule: exponential
// backoff between attempts, with a server-provided Retry-After taking
// precedence over the schedule.
func (c *httpCore) fetchWithRetry(ctx context.Context, urlStr string) ([]byte, error) {
	var body []byte
	var retryAfter time.Duration

	attempt := 0
	op := func() error {
		attempt++
		retryAfter = 0
		b, err := c.fetchOnce(ctx, urlStr, &retryAfter)
		if err != nil {
			c.logger.Debug("feed request failed",
				zap.String("feed", c.feed),
				zap.String("url", urlStr),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		body = b
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryMinWait
	expo.MaxInterval = c.retryMaxWait
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	var schedule backoff.BackOff = &retryAfterBackOff{BackOff: expo, retryAfter: &retryAfter}
	schedule = backoff.WithMaxRetries(schedule, uint64(c.retryAttempts-1))
	schedule = backoff.WithContext(schedule, ctx)

	if err := backoff.Retry(op, schedule); err != nil {
		return nil, err
	}
	return body, nil
}

// retryAfterBackOff overrides the exponential schedule with the delay the
// server asked for, when it asked for one.
type retryAfterBackOff struct {
	backoff.BackOff
	retryAfter *time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && *b.retryAfter > 0 {
		return *b.retryAfter
	}
	return next
}

// fetchOnce executes one GET and classifies the outcome. Retryable
// failures come back as plain *Error values; dead ends are wrapped in
// backoff.Permanent so the retry loop stops immediately.
func (c *httpCore) fetchOnce(ctx context.Context, urlStr string, retryAfter *time.Duration) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Canceled or out of time: no point in more attempts.
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, &Error{Feed: c.feed, Kind: KindTransient, Msg: "request failed", Err: err}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
	if err != nil {
		return nil, &Error{Feed: c.feed, Kind: KindTransient, Msg: "reading response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds >= 0 {
				*retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &Error{Feed: c.feed, Kind: KindRateLimited, Msg: "rate limited"}
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(&Error{Feed: c.feed, Kind: KindNotFound, Msg: "object not found"})
	case resp.StatusCode >= 500:
		return nil, &Error{Feed: c.feed, Kind: KindTransient, Msg: fmt.Sprintf("server error (status %d)", resp.StatusCode)}
	default:
		return nil, backoff.Permanent(&Error{Feed: c.feed, Kind: KindTransient, Msg: fmt.Sprintf("unexpected status %d", resp.StatusCode)})
	}
}

// classify folds resilience rejections into the feed error categories so
// the pipeline sees exactly one error type.
func (c *httpCore) classify(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrBulkheadFull):
		return &Error{Feed: c.feed, Kind: KindUnavailable, Msg: "endpoint unavailable", Err: err}
	case errors.Is(err, resilience.ErrTimeout):
		return &Error{Feed: c.feed, Kind: KindTransient, Msg: "call timed out", Err: err}
	default:
		return &Error{Feed: c.feed, Kind: KindTransient, Err: err}
	}
}

// Package feeds provides clients for the three upstream astronomical data
// feeds: the small-body database, the close-approach feed, and the
// impact-risk feed.
//
// Each client is a scoped resource: Acquire returns a session whose Close
// is safe on all exit paths, and every call goes through a shared HTTP core
// that retries transient failures with exponential backoff and is guarded
// by a per-endpoint resilience policy (circuit breaker, bulkhead, timeout).
// Clients never surface raw transport errors; failures arrive as *Error
// values carrying one of the Kind categories.
package feeds

import (
	"errors"
	"fmt"
	"time"

	"github.com/perigee-sky/perigee/internal/resilience"
)

// ErrorKind categorizes a feed failure for the ingestion pipeline's
// skip-vs-abort decisions.
type ErrorKind string

const (
	// KindTransient covers network errors, timeouts, and 5xx responses.
	KindTransient ErrorKind = "transient"
	// KindRateLimited is an explicit 429 from upstream.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnavailable is a local resilience rejection (circuit open or
	// bulkhead full).
	KindUnavailable ErrorKind = "unavailable"
	// KindParse is a malformed upstream record or response body.
	KindParse ErrorKind = "parse"
	// KindNotFound is a missing upstream object.
	KindNotFound ErrorKind = "not_found"
)

// Error is the typed failure every client returns. It wraps the underlying
// cause, so errors.Is still matches sentinels like resilience.ErrTimeout.
type Error struct {
	Feed string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s feed: %s: %v", e.Feed, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s feed: %s", e.Feed, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s feed: %v", e.Feed, e.Err)
	default:
		return fmt.Sprintf("%s feed: %s error", e.Feed, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the category from any error returned by this package.
// Errors from other packages map to the closest category; unknown errors
// report KindTransient, the safe default for retry decisions upstream.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrBulkheadFull):
		return KindUnavailable
	default:
		return KindTransient
	}
}

// Retry and batching defaults shared by the clients.
const (
	DefaultRetryAttempts = 3
	DefaultRetryMinWait  = 4 * time.Second
	DefaultRetryMaxWait  = 10 * time.Second

	DefaultListLimit        = 3000
	DefaultDetailBatchSize  = 50
	DefaultDetailBatchDelay = time.Second

	// DefaultMaxDistanceAU bounds the close-approach window query.
	DefaultMaxDistanceAU = 1.0
)

// Per-endpoint policy defaults. The small-body endpoint takes the most
// concurrent traffic, the impact-risk endpoint the least.
const (
	DefaultSmallBodyTimeout     = 30 * time.Second
	DefaultSmallBodyConcurrency = 5
	DefaultSmallBodyQueue       = 10

	DefaultCloseApproachTimeout     = 60 * time.Second
	DefaultCloseApproachConcurrency = 3
	DefaultCloseApproachQueue       = 6

	DefaultImpactRiskTimeout     = 120 * time.Second
	DefaultImpactRiskConcurrency = 1
	DefaultImpactRiskQueue       = 2
)

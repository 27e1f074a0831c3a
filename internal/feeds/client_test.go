package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fastOptions keeps retry pauses out of the test runtime.
func fastOptions(baseURL string) Options {
	return Options{
		BaseURL:      baseURL,
		RetryMinWait: time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	core := newHTTPCore("test", fastOptions(srv.URL))
	var out map[string]any
	if err := core.getJSON(context.Background(), "/", nil, &out); err != nil {
		t.Fatalf("getJSON() = %v, want nil", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	core := newHTTPCore("test", fastOptions(srv.URL))
	var out map[string]any
	err := core.getJSON(context.Background(), "/", nil, &out)
	if err == nil {
		t.Fatal("getJSON() = nil, want error")
	}
	if got := KindOf(err); got != KindTransient {
		t.Errorf("KindOf(err) = %q, want %q", got, KindTransient)
	}
	if got := calls.Load(); got != DefaultRetryAttempts {
		t.Errorf("server called %d times, want %d", got, DefaultRetryAttempts)
	}
}

func TestFetchHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var gaps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gaps = append(gaps, time.Now())
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	core := newHTTPCore("test", fastOptions(srv.URL))
	var out map[string]any
	if err := core.getJSON(context.Background(), "/", nil, &out); err != nil {
		t.Fatalf("getJSON() = %v, want nil", err)
	}
	if len(gaps) != 2 {
		t.Fatalf("server called %d times, want 2", len(gaps))
	}
	// The schedule's own pause is ~1ms; the server asked for 1s.
	if gap := gaps[1].Sub(gaps[0]); gap < time.Second {
		t.Errorf("retry gap = %v, want at least the Retry-After second", gap)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	core := newHTTPCore("test", fastOptions(srv.URL))
	var out map[string]any
	if err := core.getJSON(context.Background(), "/", nil, &out); err == nil {
		t.Fatal("getJSON() = nil, want error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	core := newHTTPCore("test", fastOptions(srv.URL))

	var out map[string]any
	err := core.getJSON(context.Background(), "/", nil, &out)
	if got := KindOf(err); got != KindNotFound {
		t.Errorf("KindOf(err) = %q, want %q", got, KindNotFound)
	}

	// The optional variant treats the 404 as a routine miss.
	found, err := core.getJSONOptional(context.Background(), "/", nil, &out, true)
	if err != nil {
		t.Fatalf("getJSONOptional() = %v, want nil", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fields": [`))
	}))
	defer srv.Close()

	core := newHTTPCore("test", fastOptions(srv.URL))
	var out map[string]any
	err := core.getJSON(context.Background(), "/", nil, &out)
	if got := KindOf(err); got != KindParse {
		t.Errorf("KindOf(err) = %q, want %q", got, KindParse)
	}
}

func TestCircuitOpenSurfacesAsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := fastOptions(srv.URL)
	opts.FailureThreshold = 1
	opts.RecoveryTimeout = time.Minute
	core := newHTTPCore("test", opts)

	var out map[string]any
	if err := core.getJSON(context.Background(), "/", nil, &out); err == nil {
		t.Fatal("first call should fail")
	}
	err := core.getJSON(context.Background(), "/", nil, &out)
	if got := KindOf(err); got != KindUnavailable {
		t.Errorf("KindOf(err) = %q, want %q", got, KindUnavailable)
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("error %T is not *Error", err)
	}
}

func TestSessionUseAfterClose(t *testing.T) {
	client := NewSmallBodyClient(fastOptions("http://localhost:0"))
	sess := client.Acquire()
	if sess.ID == "" {
		t.Error("session ID is empty")
	}
	sess.Close()
	sess.Close() // idempotent

	_, err := sess.FetchHazardous(context.Background(), 10)
	if err == nil {
		t.Fatal("FetchHazardous() after Close = nil, want error")
	}
	if got := KindOf(err); got != KindUnavailable {
		t.Errorf("KindOf(err) = %q, want %q", got, KindUnavailable)
	}
}

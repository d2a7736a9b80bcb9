package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/darkroom/metrics"
)

// recordSleep returns a SleepFunc that records waits without blocking.
func recordSleep(waits *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func statusServer(t *testing.T, calls *atomic.Int32, status func(n int32) int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(status(n))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLinearBackoff(t *testing.T) {
	p := LinearBackoff{Base: 3 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 3 * time.Second},
		{3, 6 * time.Second},
		{4, 9 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Before(tt.attempt); got != tt.want {
			t.Errorf("Before(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	p := ExponentialBackoff{Base: 500 * time.Millisecond}
	want := map[int]time.Duration{
		1: 0,
		2: 500 * time.Millisecond,
		3: time.Second,
		4: 2 * time.Second,
	}
	for attempt, d := range want {
		if got := p.Before(attempt); got != d {
			t.Errorf("Before(%d) = %v, want %v", attempt, got, d)
		}
	}
}

func TestSend_SuccessFirstAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, func(int32) int { return http.StatusOK })

	c := New(Config{Sleep: recordSleep(new([]time.Duration))})
	resp, err := c.Send(t.Context(), RequestSpec{URL: srv.URL, Body: []byte("{}")}, 3, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Attempts != 1 || calls.Load() != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1/1", resp.Attempts, calls.Load())
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestSend_RetryBound(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 3, 5} {
		var calls atomic.Int32
		srv := statusServer(t, &calls, func(int32) int { return http.StatusServiceUnavailable })

		var waits []time.Duration
		collector := metrics.NewCollector("run-1", "test", "memory")
		c := New(Config{Sleep: recordSleep(&waits), Collector: collector})

		_, err := c.Send(t.Context(), RequestSpec{URL: srv.URL}, maxAttempts, LinearBackoff{Base: time.Second})

		var exhausted *ExhaustedRetriesError
		if !errors.As(err, &exhausted) {
			t.Fatalf("maxAttempts=%d: expected ExhaustedRetriesError, got %v", maxAttempts, err)
		}
		if int(calls.Load()) != maxAttempts {
			t.Errorf("maxAttempts=%d: made %d calls", maxAttempts, calls.Load())
		}
		if exhausted.Attempts != maxAttempts || exhausted.LastStatus != http.StatusServiceUnavailable {
			t.Errorf("unexpected error fields: %+v", exhausted)
		}
		if len(waits) != maxAttempts-1 {
			t.Errorf("maxAttempts=%d: %d waits, want %d", maxAttempts, len(waits), maxAttempts-1)
		}
		for i, w := range waits {
			if want := time.Duration(i+1) * time.Second; w != want {
				t.Errorf("wait[%d] = %v, want %v", i, w, want)
			}
		}

		snap := collector.Snapshot()
		if snap.HTTPAttempts != int64(maxAttempts) || snap.HTTPExhausted != 1 {
			t.Errorf("unexpected metrics: %+v", snap)
		}
	}
}

func TestSend_FatalShortCircuit(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		var calls atomic.Int32
		srv := statusServer(t, &calls, func(int32) int { return status })

		c := New(Config{Sleep: recordSleep(new([]time.Duration))})
		_, err := c.Send(t.Context(), RequestSpec{URL: srv.URL}, 4, nil)

		var fatal *FatalHTTPError
		if !errors.As(err, &fatal) {
			t.Fatalf("status %d: expected FatalHTTPError, got %v", status, err)
		}
		if fatal.Status != status {
			t.Errorf("Status = %d, want %d", fatal.Status, status)
		}
		if calls.Load() != 1 {
			t.Errorf("status %d: made %d calls, want 1", status, calls.Load())
		}
		if IsExhausted(err) {
			t.Error("fatal error should not be classified as exhausted")
		}
	}
}

func TestSend_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, func(n int32) int {
		if n < 3 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	})

	var waits []time.Duration
	collector := metrics.NewCollector("run-1", "test", "memory")
	c := New(Config{Sleep: recordSleep(&waits), Collector: collector})

	resp, err := c.Send(t.Context(), RequestSpec{URL: srv.URL}, 3, LinearBackoff{Base: 3 * time.Second})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}
	if len(waits) != 2 || waits[0] != 3*time.Second || waits[1] != 6*time.Second {
		t.Errorf("unexpected waits %v", waits)
	}
	if got := collector.Snapshot().RetriesByCause["status_429"]; got != 2 {
		t.Errorf("retries by status_429 = %d, want 2", got)
	}
}

func TestSend_TimeoutIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	collector := metrics.NewCollector("run-1", "test", "memory")
	c := New(Config{
		Timeout:   20 * time.Millisecond,
		Sleep:     recordSleep(new([]time.Duration)),
		Collector: collector,
	})

	_, err := c.Send(t.Context(), RequestSpec{URL: srv.URL}, 2, nil)

	var exhausted *ExhaustedRetriesError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedRetriesError, got %v", err)
	}
	if exhausted.LastCause != "timeout" {
		t.Errorf("LastCause = %q, want timeout", exhausted.LastCause)
	}
	if calls.Load() != 2 {
		t.Errorf("made %d calls, want 2", calls.Load())
	}
	if got := collector.Snapshot().HTTPTimeouts; got != 2 {
		t.Errorf("HTTPTimeouts = %d, want 2", got)
	}
}

func TestSend_ContextCanceledDuringWait(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, func(int32) int { return http.StatusInternalServerError })

	ctx, cancel := context.WithCancel(t.Context())
	c := New(Config{Sleep: func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}})

	_, err := c.Send(ctx, RequestSpec{URL: srv.URL}, 3, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("made %d calls, want 1", calls.Load())
	}
}

func TestSend_ForwardsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("X-Goog-Api-Key") != "secret" || string(body) != "payload" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	// The body must be replayed identically on the retry.
	var calls atomic.Int32
	retrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		srv.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(retrySrv.Close)

	c := New(Config{Sleep: recordSleep(new([]time.Duration))})
	spec := RequestSpec{
		Method: http.MethodPost,
		URL:    retrySrv.URL,
		Header: http.Header{"X-Goog-Api-Key": []string{"secret"}},
		Body:   []byte("payload"),
	}
	if _, err := c.Send(t.Context(), spec, 2, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestIsTransientStatus(t *testing.T) {
	for _, s := range []int{429, 500, 502, 503, 504} {
		if !IsTransientStatus(s) {
			t.Errorf("%d should be transient", s)
		}
	}
	for _, s := range []int{400, 401, 403, 404, 409, 501} {
		if IsTransientStatus(s) {
			t.Errorf("%d should be fatal", s)
		}
	}
}

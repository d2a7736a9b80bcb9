package qc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/gemini"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/transport"
	"github.com/justapithecus/darkroom/types"
)

var (
	refImage  = types.Image{MIMEType: "image/jpeg", Data: []byte("reference")}
	candImage = types.Image{MIMEType: "image/jpeg", Data: []byte("candidate")}
)

func newGate(t *testing.T, key string, handler http.HandlerFunc) (*Gate, *metrics.Collector, *cost.Ledger) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	collector := metrics.NewCollector("run-1", "test", "memory")
	ledger := cost.NewLedger()
	client, err := gemini.NewClient(gemini.Options{
		APIKey:  key,
		BaseURL: srv.URL,
		Transport: transport.New(transport.Config{
			Sleep: func(context.Context, time.Duration) error { return nil },
		}),
		Meter:     ledger,
		Collector: collector,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return NewGate(client, Options{}), collector, ledger
}

func textResponse(w http.ResponseWriter, text string) {
	_ = json.NewEncoder(w).Encode(gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{{Text: text}}}}},
	})
}

func TestVerify_Pass(t *testing.T) {
	gate, collector, ledger := newGate(t, "key", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, gemini.DefaultVerifyModel) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		textResponse(w, `{"anatomy_score":9,"identity_score":9,"pass":true,"issue":""}`)
	})

	v := gate.Verify(t.Context(), refImage, candImage)
	if !v.Pass || v.Score != 9 {
		t.Errorf("unexpected verdict: %+v", v)
	}
	if got := collector.Snapshot().VerificationCalls; got != 1 {
		t.Errorf("VerificationCalls = %d, want 1", got)
	}
	if got := ledger.Sum(types.TextInputUnits); got != cost.EstimatedVerificationInputUnits {
		t.Errorf("text input = %v, want verification estimate", got)
	}
}

func TestVerify_Fail(t *testing.T) {
	gate, _, _ := newGate(t, "key", func(w http.ResponseWriter, _ *http.Request) {
		textResponse(w, `{"anatomy_score":5,"identity_score":9,"pass":false,"issue":"extra finger"}`)
	})

	v := gate.Verify(t.Context(), refImage, candImage)
	if v.Pass || v.Issues != "extra finger" || v.Score != 5 {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

func TestVerify_FailOpen(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		handler    http.HandlerFunc
		wantPrefix string
	}{
		{
			name: "no credential",
			key:  "",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantPrefix: ReasonNoCredential,
		},
		{
			name: "fatal status",
			key:  "key",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			wantPrefix: ReasonCallFailed,
		},
		{
			name: "exhausted retries",
			key:  "key",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantPrefix: ReasonCallFailed,
		},
		{
			name: "unparseable answer",
			key:  "key",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				textResponse(w, "looks fine to me")
			},
			wantPrefix: ReasonUnparseable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, collector, _ := newGate(t, tt.key, tt.handler)
			v := gate.Verify(t.Context(), refImage, candImage)
			if !v.Pass || v.Score != 0 {
				t.Errorf("expected fail-open verdict, got %+v", v)
			}
			if !strings.HasPrefix(v.Issues, tt.wantPrefix) {
				t.Errorf("Issues = %q, want prefix %q", v.Issues, tt.wantPrefix)
			}
			if got := collector.Snapshot().QCFailOpen; got != 1 {
				t.Errorf("QCFailOpen = %d, want 1", got)
			}
		})
	}
}

func TestVerify_UsesOwnRetryBudget(t *testing.T) {
	var calls atomic.Int32
	gate, _, _ := newGate(t, "key", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_ = gate.Verify(t.Context(), refImage, candImage)
	if calls.Load() != DefaultMaxAttempts {
		t.Errorf("made %d calls, want %d", calls.Load(), DefaultMaxAttempts)
	}
}

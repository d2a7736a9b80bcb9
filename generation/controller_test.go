package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/qc"
	"github.com/justapithecus/darkroom/types"
)

// fakeGenerator returns results or errors in sequence and records requests.
type fakeGenerator struct {
	errs     []error
	requests []types.GenerationRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req types.GenerationRequest) (*types.GenerationResult, error) {
	f.requests = append(f.requests, req)
	n := len(f.requests)
	if n <= len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}
	return &types.GenerationResult{Image: types.Image{MIMEType: "image/png", Data: []byte{byte(n)}}}, nil
}

// fakeVerifier returns a fixed verdict, counts calls and records the
// reference it was given. onVerify runs before the verdict is returned.
type fakeVerifier struct {
	verdict    types.QCVerdict
	calls      int
	references []types.Image
	onVerify   func()
}

func (f *fakeVerifier) Verify(_ context.Context, reference, _ types.Image) types.QCVerdict {
	f.calls++
	f.references = append(f.references, reference)
	if f.onVerify != nil {
		f.onVerify()
	}
	return f.verdict
}

var baseRequest = types.GenerationRequest{
	Subject:     types.Image{MIMEType: "image/jpeg", Data: []byte("subject")},
	Instruction: "compose the subject",
}

func TestRun_QCIdempotentAccept(t *testing.T) {
	for _, budget := range []int{1, 2, 3, 5} {
		gen := &fakeGenerator{}
		ver := &fakeVerifier{verdict: types.QCVerdict{Pass: true, Score: 9}}
		c := NewController(gen, ver, Options{})

		out, err := c.Run(t.Context(), baseRequest, budget, true)
		if err != nil {
			t.Fatalf("budget %d: Run failed: %v", budget, err)
		}
		if len(gen.requests) != 1 {
			t.Errorf("budget %d: %d generation calls, want 1", budget, len(gen.requests))
		}
		if !out.Accepted || out.Result == nil {
			t.Errorf("budget %d: expected accepted result", budget)
		}
		if out.Calls != (types.CallCounts{Generation: 1, Verification: 1}) {
			t.Errorf("budget %d: unexpected calls %+v", budget, out.Calls)
		}
	}
}

func TestRun_QCBoundedRetry(t *testing.T) {
	for _, budget := range []int{1, 2, 4} {
		gen := &fakeGenerator{}
		ver := &fakeVerifier{verdict: types.QCVerdict{Pass: false, Score: 4, Issues: "extra finger"}}
		collector := metrics.NewCollector("run-1", "test", "memory")
		c := NewController(gen, ver, Options{Collector: collector})

		out, err := c.Run(t.Context(), baseRequest, budget, true)
		if err != nil {
			t.Fatalf("budget %d: Run failed: %v", budget, err)
		}
		if len(gen.requests) != budget {
			t.Errorf("budget %d: %d generation calls", budget, len(gen.requests))
		}
		if out.Accepted {
			t.Errorf("budget %d: expected accepted=false", budget)
		}
		if out.LastIssues != "extra finger" {
			t.Errorf("LastIssues = %q", out.LastIssues)
		}
		// The last produced result is kept.
		if out.Result == nil || out.Result.Image.Data[0] != byte(budget) {
			t.Errorf("budget %d: expected last result to be kept", budget)
		}
		for i, a := range out.Attempts {
			if a.Number != i+1 {
				t.Errorf("attempt %d has number %d", i, a.Number)
			}
		}
		if got := collector.Snapshot().CorrectiveRetries; got != int64(budget-1) {
			t.Errorf("CorrectiveRetries = %d, want %d", got, budget-1)
		}
	}
}

func TestRun_CorrectionClauseFromOriginalInstruction(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{verdict: types.QCVerdict{Pass: false, Issues: "blurry eyes"}}
	c := NewController(gen, ver, Options{})

	if _, err := c.Run(t.Context(), baseRequest, 3, true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if gen.requests[0].Instruction != baseRequest.Instruction {
		t.Errorf("first attempt instruction modified: %q", gen.requests[0].Instruction)
	}
	for _, r := range gen.requests[1:] {
		if !strings.HasPrefix(r.Instruction, baseRequest.Instruction) || !strings.Contains(r.Instruction, "blurry eyes") {
			t.Errorf("unexpected corrective instruction %q", r.Instruction)
		}
		// Clauses never accumulate across attempts.
		if strings.Count(r.Instruction, "URGENT FIX") != 1 {
			t.Errorf("correction clause repeated: %q", r.Instruction)
		}
	}
}

func TestRun_QCDisabledFastPath(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{verdict: types.QCVerdict{Pass: false}}
	c := NewController(gen, ver, Options{})

	out, err := c.Run(t.Context(), baseRequest, 2, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ver.calls != 0 {
		t.Errorf("verifier called %d times with QC disabled", ver.calls)
	}
	if !out.Accepted || len(gen.requests) != 1 {
		t.Errorf("expected single accepted attempt, got %d calls", len(gen.requests))
	}
	if out.Attempts[0].Verdict != nil {
		t.Error("attempt should carry no verdict")
	}
}

func TestRun_FailOpenVerificationAcceptsOnce(t *testing.T) {
	gen := &fakeGenerator{}
	// A gate without a client fails open on every call.
	gate := qc.NewGate(nil, qc.Options{})
	c := NewController(gen, gate, Options{})

	out, err := c.Run(t.Context(), baseRequest, 2, true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !out.Accepted || len(gen.requests) != 1 {
		t.Errorf("expected single-attempt accept, got %d calls", len(gen.requests))
	}
	if v := out.Attempts[0].Verdict; v == nil || !v.Pass || v.Issues != qc.ReasonNoCredential {
		t.Errorf("unexpected verdict %+v", v)
	}
}

func TestRun_FirstAttemptFailurePropagates(t *testing.T) {
	boom := errors.New("fatal http status 400")
	gen := &fakeGenerator{errs: []error{boom}}
	c := NewController(gen, &fakeVerifier{}, Options{})

	out, err := c.Run(t.Context(), baseRequest, 2, true)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if out == nil || out.Result != nil || len(out.Attempts) != 1 || out.Attempts[0].Error == "" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(gen.requests) != 1 {
		t.Errorf("made %d generation calls, want 1", len(gen.requests))
	}
}

func TestRun_CorrectiveFailureKeepsPreviousResult(t *testing.T) {
	gen := &fakeGenerator{errs: []error{nil, errors.New("no artifact produced")}}
	ver := &fakeVerifier{verdict: types.QCVerdict{Pass: false, Issues: "pose"}}
	c := NewController(gen, ver, Options{})

	out, err := c.Run(t.Context(), baseRequest, 3, true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Accepted || out.Result == nil || out.Result.Image.Data[0] != 1 {
		t.Errorf("expected first result kept unaccepted, got %+v", out)
	}
	if len(gen.requests) != 2 {
		t.Errorf("made %d generation calls, want 2", len(gen.requests))
	}
	if out.LastIssues != "pose" {
		t.Errorf("LastIssues = %q", out.LastIssues)
	}
}

func TestRun_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	gen := &fakeGenerator{}
	c := NewController(gen, nil, Options{})
	_, err := c.Run(ctx, baseRequest, 2, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(gen.requests) != 0 {
		t.Error("no generation call expected after cancellation")
	}
}

func TestRun_QCComparesAgainstReference(t *testing.T) {
	gen := &fakeGenerator{}
	ver := &fakeVerifier{verdict: types.QCVerdict{Pass: true}}
	c := NewController(gen, ver, Options{})

	req := baseRequest
	req.Reference = types.Image{MIMEType: "image/jpeg", Data: []byte("full-size subject")}
	if _, err := c.Run(t.Context(), req, 2, true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ver.references) != 1 || string(ver.references[0].Data) != "full-size subject" {
		t.Errorf("verifier got %+v, want the unshrunk reference", ver.references)
	}
	// The generator still receives the shrunk subject.
	if string(gen.requests[0].Subject.Data) != "subject" {
		t.Errorf("generator subject = %q", gen.requests[0].Subject.Data)
	}

	ver.references = nil
	if _, err := c.Run(t.Context(), baseRequest, 1, true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(ver.references[0].Data) != "subject" {
		t.Errorf("without a reference QC should fall back to the subject, got %q", ver.references[0].Data)
	}
}

func TestRun_CancelledDuringQCNotAccepted(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	gen := &fakeGenerator{}
	// A cancelled check fails open, so the verdict itself says pass.
	ver := &fakeVerifier{verdict: types.QCVerdict{Pass: true, Score: 10}, onVerify: cancel}
	c := NewController(gen, ver, Options{})

	out, err := c.Run(ctx, baseRequest, 3, true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Accepted {
		t.Error("result accepted although the quality check was interrupted")
	}
	if out.Result == nil {
		t.Fatal("expected the generated result to be kept")
	}
	if len(gen.requests) != 1 {
		t.Errorf("%d generation calls, want 1", len(gen.requests))
	}
	if len(out.Attempts) != 1 || out.Attempts[0].Verdict != nil || out.Attempts[0].Error == "" {
		t.Errorf("unexpected attempt record: %+v", out.Attempts)
	}
	if out.LastIssues == "" {
		t.Error("expected LastIssues to explain the missing verdict")
	}
}

func TestRun_QCWithoutVerifier(t *testing.T) {
	c := NewController(&fakeGenerator{}, nil, Options{})
	if _, err := c.Run(t.Context(), baseRequest, 2, true); err == nil {
		t.Fatal("expected error when QC is enabled without a verifier")
	}
}

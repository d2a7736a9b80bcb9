// Package qc compares a generated image to its reference with an external
// verifier model.
//
// Verification is advisory: when the verifier is unavailable or its answer
// cannot be parsed, the gate passes the candidate and records the reason.
package qc

import (
	"context"
	"time"

	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/gemini"
	"github.com/justapithecus/darkroom/imaging"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/transport"
	"github.com/justapithecus/darkroom/types"
)

// Verifier budget: 3 attempts waiting 2s, 4s.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Fail-open reasons carried in QCVerdict.Issues.
const (
	ReasonNoCredential = "no credential"
	ReasonCallFailed   = "verifier call failed"
	ReasonUnparseable  = "unparseable verdict"
)

// DefaultInstruction asks for a JSON-only comparison.
const DefaultInstruction = `Compare RESULT against ORIGINAL for anatomical plausibility and identity match. ` +
	`Score each from 1 to 10. Respond with JSON only: ` +
	`{"anatomy_score":number,"identity_score":number,"pass":boolean,"issue":"brief description"}. ` +
	`pass is true only if both scores are at least 8.`

// Options configures a Gate.
type Options struct {
	Model       string
	Instruction string
	Threshold   float64
	MaxAttempts int
	Wait        transport.WaitPolicy
	// Compress is applied to both images before the call.
	Compress imaging.Preset
	Logger   *log.Logger
}

// Gate is the quality gate.
type Gate struct {
	client      *gemini.Client
	model       string
	instruction string
	threshold   float64
	maxAttempts int
	wait        transport.WaitPolicy
	compress    imaging.Preset
	logger      *log.Logger
}

// NewGate creates a Gate with defaults applied.
func NewGate(client *gemini.Client, opts Options) *Gate {
	g := &Gate{
		client:      client,
		model:       opts.Model,
		instruction: opts.Instruction,
		threshold:   opts.Threshold,
		maxAttempts: opts.MaxAttempts,
		wait:        opts.Wait,
		compress:    opts.Compress,
		logger:      opts.Logger,
	}
	if g.model == "" {
		g.model = gemini.DefaultVerifyModel
	}
	if g.instruction == "" {
		g.instruction = DefaultInstruction
	}
	if g.threshold <= 0 {
		g.threshold = DefaultThreshold
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.wait == nil {
		g.wait = transport.LinearBackoff{Base: DefaultBaseDelay}
	}
	if g.compress.MaxDim == 0 {
		g.compress = imaging.PresetVerify
	}
	if g.logger == nil {
		g.logger = log.Nop()
	}
	return g
}

// Verify never returns an error: every failure becomes a passing verdict
// with score 0 and the reason in Issues.
func (g *Gate) Verify(ctx context.Context, reference, candidate types.Image) types.QCVerdict {
	if g.client == nil || !g.client.HasCredential() {
		return g.failOpen(ReasonNoCredential, nil)
	}
	g.client.Collector().IncVerificationCall()

	body := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Parts: []gemini.Part{
			{Text: "ORIGINAL:"},
			gemini.InlinePart(g.compress.Apply(reference)),
			{Text: "RESULT:"},
			gemini.InlinePart(g.compress.Apply(candidate)),
			{Text: g.instruction},
		}}},
		GenerationConfig: &gemini.GenerationConfig{ResponseMimeType: "application/json"},
	}

	resp, err := g.client.GenerateContent(ctx, g.model, body, gemini.CallOptions{
		MaxAttempts:         g.maxAttempts,
		Wait:                g.wait,
		EstimatedInputUnits: cost.EstimatedVerificationInputUnits,
	})
	if err != nil {
		return g.failOpen(ReasonCallFailed+": "+err.Error(), err)
	}

	verdict, err := ParseVerdict(resp.Text(), g.threshold)
	if err != nil {
		return g.failOpen(ReasonUnparseable, err)
	}

	g.logger.Info("verification completed", map[string]any{
		"pass":   verdict.Pass,
		"score":  verdict.Score,
		"issues": verdict.Issues,
	})
	return verdict
}

func (g *Gate) failOpen(reason string, err error) types.QCVerdict {
	if g.client != nil {
		g.client.Collector().IncQCFailOpen()
	}
	fields := map[string]any{"reason": reason}
	if err != nil {
		fields["error"] = err.Error()
	}
	g.logger.Warn("verification unavailable, passing candidate", fields)
	return types.QCVerdict{Pass: true, Score: 0, Issues: reason}
}

// Package generation runs the generate-verify-retry loop for one request.
//
// State machine per request:
//
//	Attempting(n) -> Verifying(n) -> Accepted
//	                              -> Attempting(n+1)   verdict failed, n < budget
//	                              -> Exhausted         verdict failed, n == budget
//
// Exhausted still yields the last produced result, reported as not accepted.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/types"
)

// DefaultBudget is one original attempt plus one corrective retry.
const DefaultBudget = 2

// Generator produces one result per call.
type Generator interface {
	Generate(ctx context.Context, req types.GenerationRequest) (*types.GenerationResult, error)
}

// Verifier judges a candidate against the reference. It never fails.
type Verifier interface {
	Verify(ctx context.Context, reference, candidate types.Image) types.QCVerdict
}

// CorrectionFunc derives the next attempt's instruction from the original
// instruction and the failed verdict.
type CorrectionFunc func(instruction string, verdict types.QCVerdict) string

// DefaultCorrection appends a fix clause embedding the verdict's issues.
func DefaultCorrection(instruction string, verdict types.QCVerdict) string {
	issues := verdict.Issues
	if issues == "" {
		issues = "face/body anatomy"
	}
	return instruction + " URGENT FIX: The previous result had errors: " + issues +
		". Correct them completely while keeping everything else unchanged."
}

// Outcome is the result of one controller run.
type Outcome struct {
	// Result is the accepted or last produced result. Nil only when Run errors.
	Result *types.GenerationResult
	// Accepted is false when the budget ran out without a passing verdict.
	Accepted bool
	// LastIssues is the last failing verdict's issues.
	LastIssues string
	// Attempts is the full attempt history, in order.
	Attempts []types.RetryAttempt
	// Calls are the raw external calls made.
	Calls types.CallCounts
}

// Options configures a Controller.
type Options struct {
	Correction CorrectionFunc
	Logger     *log.Logger
	Collector  *metrics.Collector
}

// Controller is reusable across requests and holds no per-run state.
type Controller struct {
	generator  Generator
	verifier   Verifier
	correction CorrectionFunc
	logger     *log.Logger
	collector  *metrics.Collector
}

// NewController creates a Controller. verifier may be nil when QC is never enabled.
func NewController(generator Generator, verifier Verifier, opts Options) *Controller {
	c := &Controller{
		generator:  generator,
		verifier:   verifier,
		correction: opts.Correction,
		logger:     opts.Logger,
		collector:  opts.Collector,
	}
	if c.correction == nil {
		c.correction = DefaultCorrection
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	return c
}

// Run drives req through at most budget generation attempts.
//
// A generation failure on attempt 1 is returned as an error, together with
// an Outcome carrying the attempt history. A failure on a corrective attempt
// ends the run with the previous result, not accepted. Cancellation before
// a corrective attempt or during a quality check does the same.
func (c *Controller) Run(ctx context.Context, req types.GenerationRequest, budget int, qcEnabled bool) (*Outcome, error) {
	if budget < 1 {
		budget = DefaultBudget
	}
	if qcEnabled && c.verifier == nil {
		return nil, errors.New("quality gate enabled without a verifier")
	}

	out := &Outcome{}
	current := req

	for n := 1; n <= budget; n++ {
		if err := ctx.Err(); err != nil {
			if out.Result != nil {
				c.logger.Warn("run cancelled, keeping last result", map[string]any{"attempt": n})
				return out, nil
			}
			return out, err
		}

		attempt := types.RetryAttempt{
			Number:      n,
			Instruction: current.Instruction,
			Request:     current,
		}

		out.Calls.Generation++
		result, err := c.generator.Generate(ctx, current)
		if err != nil {
			attempt.Error = err.Error()
			out.Attempts = append(out.Attempts, attempt)
			if out.Result == nil {
				return out, fmt.Errorf("attempt %d: %w", n, err)
			}
			c.logger.Warn("corrective attempt failed, keeping previous result", map[string]any{
				"attempt": n,
				"error":   err.Error(),
			})
			return out, nil
		}
		attempt.Result = result
		out.Result = result

		if !qcEnabled {
			out.Attempts = append(out.Attempts, attempt)
			out.Accepted = true
			return out, nil
		}

		out.Calls.Verification++
		verdict := c.verifier.Verify(ctx, req.QCReference(), result.Image)
		if err := ctx.Err(); err != nil {
			// The gate passes on its own errors; a cut-short check proves nothing.
			attempt.Error = "quality check interrupted: " + err.Error()
			out.Attempts = append(out.Attempts, attempt)
			out.LastIssues = "quality check interrupted"
			c.logger.Warn("run cancelled during quality check, keeping result unverified", map[string]any{"attempt": n})
			return out, nil
		}
		attempt.Verdict = &verdict
		out.Attempts = append(out.Attempts, attempt)

		if verdict.Pass {
			out.Accepted = true
			out.LastIssues = ""
			c.logger.Info("result accepted", map[string]any{
				"attempt": n,
				"score":   verdict.Score,
			})
			return out, nil
		}

		out.LastIssues = verdict.Issues
		c.logger.Warn("quality check failed", map[string]any{
			"attempt": n,
			"budget":  budget,
			"score":   verdict.Score,
			"issues":  verdict.Issues,
		})

		if n < budget {
			c.collector.IncCorrectiveRetry()
			current = req.WithInstruction(c.correction(req.Instruction, verdict))
		}
	}

	return out, nil
}

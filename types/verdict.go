package types

// QCVerdict is the quality gate's judgment of one produced image.
type QCVerdict struct {
	Pass   bool    `json:"pass" yaml:"pass"`
	Score  float64 `json:"score" yaml:"score"`
	Issues string  `json:"issues" yaml:"issues"`
}

// RetryAttempt is one generation attempt for a work item.
type RetryAttempt struct {
	// Number is 1-based and strictly increasing within an item.
	Number int `json:"number"`
	// Instruction is the instruction actually sent on this attempt.
	Instruction string `json:"instruction"`
	// Request is the full request; not serialized.
	Request GenerationRequest `json:"-"`
	// Result is nil when generation failed on this attempt.
	Result *GenerationResult `json:"result,omitempty"`
	// Verdict is nil when QC was disabled or never reached.
	Verdict *QCVerdict `json:"verdict,omitempty"`
	// Error is the generation failure text, if any.
	Error string `json:"error,omitempty"`
}

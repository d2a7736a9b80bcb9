package types

// CostKind is a metered unit category.
type CostKind string

const (
	// TextInputUnits are prompt-side tokens (text and image inputs).
	TextInputUnits CostKind = "text_input"
	// TextOutputUnits are response-side text tokens.
	TextOutputUnits CostKind = "text_output"
	// ImageUnits count generated images.
	ImageUnits CostKind = "image"
)

// CostKinds lists all kinds in a stable order.
var CostKinds = []CostKind{TextInputUnits, TextOutputUnits, ImageUnits}

// CostEvent is one metered amount.
type CostEvent struct {
	Kind   CostKind `json:"kind"`
	Amount float64  `json:"amount"`
}

// Package types defines the core domain values of the darkroom pipeline.
//
// Values in this package carry no behavior beyond small helpers: the
// orchestration logic lives in transport, qc, generation and batch.
//
//nolint:revive // types is a common Go package naming convention
package types

import "slices"

// Image is an opaque image blob handle.
// Data is never mutated after construction; callers share it freely.
type Image struct {
	MIMEType string `json:"mime_type" yaml:"mime_type"`
	Data     []byte `json:"-" yaml:"-"`
}

// Empty reports whether the image carries no bytes.
func (i Image) Empty() bool { return len(i.Data) == 0 }

// Size returns the blob size in bytes.
func (i Image) Size() int64 { return int64(len(i.Data)) }

// LabeledImage is an auxiliary input image (background, style reference)
// preceded by a short text label in the generation request.
type LabeledImage struct {
	Label string
	Image Image
}

// OutputConstraints are the requested output shape.
type OutputConstraints struct {
	// AspectRatio is e.g. "1:1", "3:4", "16:9".
	AspectRatio string `json:"aspect_ratio" yaml:"aspect_ratio"`
	// ImageSize is the resolution tier, e.g. "1K", "2K", "4K".
	ImageSize string `json:"image_size" yaml:"image_size"`
}

// GenerationRequest is one generation call's input.
// It is treated as immutable: use WithInstruction to derive a retry request.
type GenerationRequest struct {
	// Subject is the subject image as sent to the generator.
	Subject Image
	// Reference is the unshrunk subject QC compares against. When empty,
	// Subject is used.
	Reference Image
	// SubjectLabel precedes the subject image in the request parts.
	SubjectLabel string
	// Auxiliary images are sent before the subject, in order.
	Auxiliary []LabeledImage
	// Instruction is the natural-language instruction.
	Instruction string
	// Output holds aspect ratio and resolution tier.
	Output OutputConstraints
}

// QCReference returns the image the quality gate compares results against.
func (r GenerationRequest) QCReference() Image {
	if r.Reference.Empty() {
		return r.Subject
	}
	return r.Reference
}

// WithInstruction returns a copy of the request with a replaced instruction.
// The auxiliary slice is cloned so the copies never alias.
func (r GenerationRequest) WithInstruction(instruction string) GenerationRequest {
	clone := r
	clone.Auxiliary = slices.Clone(r.Auxiliary)
	clone.Instruction = instruction
	return clone
}

// GenerationResult is the output of one successful generation call.
type GenerationResult struct {
	Image Image `json:"image"`
	// Remark is optional text returned next to the image.
	Remark string `json:"remark,omitempty"`
}

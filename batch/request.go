package batch

import (
	"fmt"
	"strings"

	"github.com/justapithecus/darkroom/imaging"
	"github.com/justapithecus/darkroom/types"
)

// Mode selects how a subject is turned into a generation request.
type Mode string

const (
	// ModeComposite places the subject onto a supplied background.
	ModeComposite Mode = "composite"
	// ModeTemplate generates a background from a template prompt and
	// optional reference images.
	ModeTemplate Mode = "template"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeComposite:
		return ModeComposite, nil
	case ModeTemplate:
		return ModeTemplate, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want composite or template)", s)
	}
}

// CompositeOptions configure composite mode.
type CompositeOptions struct {
	Background types.Image
	KeepFace   bool
	KeepPose   bool
	MatchLight bool
	// ExtraPrompt is appended to the instruction verbatim.
	ExtraPrompt string
}

// TemplateOptions configure template mode.
type TemplateOptions struct {
	// Prompt describes the background to generate.
	Prompt     string
	References []types.Image
	// ExtraPrompt is appended to the instruction verbatim.
	ExtraPrompt string
}

// RequestBuilder turns one subject into a generation request.
type RequestBuilder func(subject types.Image) types.GenerationRequest

// NewRequestBuilder prepares shared inputs once per run and returns the
// per-item builder. Shared images are compressed here, not per item.
func NewRequestBuilder(cfg Config) (RequestBuilder, error) {
	switch cfg.Mode {
	case ModeComposite:
		return compositeBuilder(cfg.Composite, cfg.Output), nil
	case ModeTemplate:
		return templateBuilder(cfg.Template, cfg.Output), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func compositeBuilder(opts CompositeOptions, output types.OutputConstraints) RequestBuilder {
	background := imaging.PresetBackground.Apply(opts.Background)

	var b strings.Builder
	b.WriteString("INSTRUCTION: Composite the subject onto this background.")
	if opts.KeepFace {
		b.WriteString(" Keep the subject face exactly the same.")
	}
	if opts.KeepPose {
		b.WriteString(" Maintain exact same body pose.")
	}
	if opts.MatchLight {
		b.WriteString(" Match lighting and color temperature.")
	}
	b.WriteString(" Make it photorealistic.")
	if opts.ExtraPrompt != "" {
		b.WriteString(" " + opts.ExtraPrompt)
	}
	instruction := b.String()

	return func(subject types.Image) types.GenerationRequest {
		return types.GenerationRequest{
			Subject:      imaging.PresetSubject.Apply(subject),
			Reference:    subject,
			SubjectLabel: "SUBJECT TO COMPOSITE:",
			Auxiliary: []types.LabeledImage{
				{Label: "BACKGROUND IMAGE:", Image: background},
			},
			Instruction: instruction,
			Output:      output,
		}
	}
}

func templateBuilder(opts TemplateOptions, output types.OutputConstraints) RequestBuilder {
	refs := make([]types.LabeledImage, 0, len(opts.References))
	for i, ref := range opts.References {
		label := ""
		if i == 0 {
			label = "REFERENCE STUDIO IMAGES:"
		}
		refs = append(refs, types.LabeledImage{Label: label, Image: imaging.PresetReference.Apply(ref)})
	}

	instruction := fmt.Sprintf("INSTRUCTION: Generate a background based on: %s. Composite the subject onto it. "+
		"Keep all faces, poses exactly same. Match lighting. Photorealistic.", opts.Prompt)
	if len(refs) > 0 {
		instruction += " Match REFERENCE IMAGES style exactly."
	}
	if opts.ExtraPrompt != "" {
		instruction += " " + opts.ExtraPrompt
	}

	return func(subject types.Image) types.GenerationRequest {
		return types.GenerationRequest{
			Subject:      imaging.PresetSubject.Apply(subject),
			Reference:    subject,
			SubjectLabel: "SUBJECT(S) TO COMPOSITE:",
			Auxiliary:    refs,
			Instruction:  instruction,
			Output:       output,
		}
	}
}

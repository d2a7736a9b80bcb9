package gemini

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/types"
)

// Generator produces images from generation requests.
type Generator struct {
	client *Client
	model  string
}

// NewGenerator returns a Generator for model (default DefaultImageModel).
func NewGenerator(client *Client, model string) *Generator {
	if model == "" {
		model = DefaultImageModel
	}
	return &Generator{client: client, model: model}
}

// BuildRequest lays out auxiliary images (each after its label), then the
// subject, then the instruction.
func BuildRequest(req types.GenerationRequest) *GenerateContentRequest {
	parts := make([]Part, 0, 2*len(req.Auxiliary)+3)
	for _, aux := range req.Auxiliary {
		if aux.Label != "" {
			parts = append(parts, Part{Text: aux.Label})
		}
		parts = append(parts, InlinePart(aux.Image))
	}
	if !req.Subject.Empty() {
		if req.SubjectLabel != "" {
			parts = append(parts, Part{Text: req.SubjectLabel})
		}
		parts = append(parts, InlinePart(req.Subject))
	}
	parts = append(parts, Part{Text: req.Instruction})

	cfg := &GenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	if req.Output.AspectRatio != "" || req.Output.ImageSize != "" {
		cfg.ImageConfig = &ImageConfig{
			ImageSize:   req.Output.ImageSize,
			AspectRatio: req.Output.AspectRatio,
		}
	}

	return &GenerateContentRequest{
		Contents:         []Content{{Parts: parts}},
		GenerationConfig: cfg,
	}
}

// Generate performs one generation call. A 2xx response without an image
// part returns ErrNoArtifact. Each produced image is metered as one image unit.
func (g *Generator) Generate(ctx context.Context, req types.GenerationRequest) (*types.GenerationResult, error) {
	g.client.collector.IncGenerationCall()

	resp, err := g.client.GenerateContent(ctx, g.model, BuildRequest(req), CallOptions{
		EstimatedInputUnits: cost.EstimatedGenerationInputUnits,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	inline, ok := resp.InlineImage()
	if !ok {
		if remark := resp.Text(); remark != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoArtifact, truncate(remark, 200))
		}
		return nil, ErrNoArtifact
	}
	img, err := DecodeInline(inline)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if g.client.meter != nil {
		g.client.meter.Record(types.ImageUnits, 1)
	}

	return &types.GenerationResult{Image: img, Remark: resp.Text()}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

package gemini

// Wire types of the generateContent call. Field names follow the public
// REST shape; only the fields this pipeline reads or writes are modeled.

// Content is one turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is either text or an inline image.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is a base64 encoded blob.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ImageConfig constrains the produced image.
type ImageConfig struct {
	ImageSize   string `json:"imageSize,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// GenerationConfig selects response modalities and image shape.
type GenerationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ResponseMimeType   string       `json:"responseMimeType,omitempty"`
	Temperature        *float64     `json:"temperature,omitempty"`
	ImageConfig        *ImageConfig `json:"imageConfig,omitempty"`
}

// GenerateContentRequest is the POST body.
type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Candidate is one response alternative.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata reports metered token counts.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GenerateContentResponse is the 2xx response body.
type GenerateContentResponse struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// firstParts returns the parts of the first candidate, or nil.
func (r *GenerateContentResponse) firstParts() []Part {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].Content.Parts
}

// Text concatenates the text parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	var out string
	for _, p := range r.firstParts() {
		out += p.Text
	}
	return out
}

// InlineImage returns the first part carrying image data.
func (r *GenerateContentResponse) InlineImage() (*InlineData, bool) {
	for _, p := range r.firstParts() {
		if p.InlineData != nil && p.InlineData.Data != "" {
			return p.InlineData, true
		}
	}
	return nil, false
}

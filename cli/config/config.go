package config

import (
	"fmt"
	"time"

	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/types"
)

// Config represents a darkroom.yaml configuration file.
// All values are optional and act as defaults for darkroom flags.
// CLI flags always override config values.
type Config struct {
	Source    string          `yaml:"source"`
	Mode      string          `yaml:"mode"`
	Attempts  int             `yaml:"attempts"`
	Output    OutputConfig    `yaml:"output"`
	Composite CompositeConfig `yaml:"composite"`
	Template  TemplateConfig  `yaml:"template"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	QC        QCConfig        `yaml:"qc"`
	Storage   StorageConfig   `yaml:"storage"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Adapter   AdapterConfig   `yaml:"adapter"`
	Pricing   PricingConfig   `yaml:"pricing"`
	// Events is a file receiving the framed event stream.
	Events string `yaml:"events"`
	// OutputDir receives each item's final image, named like its storage key.
	OutputDir string `yaml:"output_dir"`
}

// OutputConfig holds output constraints.
type OutputConfig struct {
	AspectRatio string `yaml:"aspect_ratio"`
	ImageSize   string `yaml:"image_size"`
}

// CompositeConfig holds composite-mode defaults.
type CompositeConfig struct {
	Background  string `yaml:"background"`
	KeepFace    *bool  `yaml:"keep_face,omitempty"`
	KeepPose    *bool  `yaml:"keep_pose,omitempty"`
	MatchLight  *bool  `yaml:"match_light,omitempty"`
	ExtraPrompt string `yaml:"extra_prompt"`
}

// TemplateConfig holds template-mode defaults.
type TemplateConfig struct {
	Prompt      string   `yaml:"prompt"`
	References  []string `yaml:"references"`
	ExtraPrompt string   `yaml:"extra_prompt"`
}

// GeminiConfig holds generation endpoint settings.
type GeminiConfig struct {
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	ImageModel  string   `yaml:"image_model"`
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// QCConfig holds quality gate settings.
type QCConfig struct {
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Model       string   `yaml:"model"`
	Threshold   float64  `yaml:"threshold"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
}

// StorageConfig holds object store and quota settings.
type StorageConfig struct {
	// Backend is rest, s3 or memory. Empty disables uploads.
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	Bucket  string `yaml:"bucket"`
	APIKey  string `yaml:"api_key"`
	// Path is "bucket/prefix" for the s3 backend.
	Path            string  `yaml:"path"`
	Region          string  `yaml:"region"`
	Endpoint        string  `yaml:"endpoint"`
	S3PathStyle     bool    `yaml:"s3_path_style"`
	PublicBaseURL   string  `yaml:"public_base_url"`
	KeyPrefix       string  `yaml:"key_prefix"`
	HardLimitBytes  int64   `yaml:"hard_limit_bytes"`
	TargetFraction  float64 `yaml:"target_fraction"`
	ProtectedPrefix string  `yaml:"protected_prefix"`
}

// ArchiveConfig holds run ledger persistence settings.
type ArchiveConfig struct {
	Dataset string `yaml:"dataset"`
	// Backend is fs or s3. Empty disables archiving.
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type       string            `yaml:"type"`
	URL        string            `yaml:"url"`
	Channel    string            `yaml:"channel,omitempty"`
	HistoryKey string            `yaml:"history_key,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"`
}

// PricingConfig overrides unit prices in USD. Zero keeps the default.
type PricingConfig struct {
	TextInput  float64 `yaml:"text_input"`
	TextOutput float64 `yaml:"text_output"`
	Image      float64 `yaml:"image"`
}

// Pricing merges overrides onto cost.DefaultPricing.
func (p PricingConfig) Pricing() cost.Pricing {
	pricing := cost.DefaultPricing()
	if p.TextInput > 0 {
		pricing[types.TextInputUnits] = p.TextInput
	}
	if p.TextOutput > 0 {
		pricing[types.TextOutputUnits] = p.TextOutput
	}
	if p.Image > 0 {
		pricing[types.ImageUnits] = p.Image
	}
	return pricing
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// BoolOr returns *b, or def when b is nil.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

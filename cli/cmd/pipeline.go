package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/justapithecus/darkroom/adapter"
	"github.com/justapithecus/darkroom/adapter/redis"
	"github.com/justapithecus/darkroom/adapter/webhook"
	"github.com/justapithecus/darkroom/archive"
	"github.com/justapithecus/darkroom/cli/config"
	"github.com/justapithecus/darkroom/cost"
	"github.com/justapithecus/darkroom/gemini"
	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/qc"
	"github.com/justapithecus/darkroom/storage"
	"github.com/justapithecus/darkroom/transport"
)

// Credential environment fallbacks, used when the config leaves them empty.
const (
	envGeminiKey  = "GEMINI_API_KEY"
	envStorageKey = "STORAGE_API_KEY"
)

// loadConfig reads --config, or DefaultConfigPath when present.
// A missing default file yields an empty config.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err != nil {
			return &config.Config{}, nil
		}
		path = DefaultConfigPath
	}
	return config.Load(path)
}

// newTransport builds the retrying client shared by generation,
// verification and the REST store.
func newTransport(cfg *config.Config, logger *log.Logger, collector *metrics.Collector) *transport.Client {
	var limiter *rate.Limiter
	if cfg.Gemini.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Gemini.RateLimit), max(cfg.Gemini.Burst, 1))
	}
	return transport.New(transport.Config{
		Timeout:   cfg.Gemini.Timeout.Duration,
		Limiter:   limiter,
		Logger:    logger.Named("transport"),
		Collector: collector,
	})
}

// newGeminiClient builds the generation/verification client.
func newGeminiClient(cfg *config.Config, tr *transport.Client, meter cost.Meter, logger *log.Logger, collector *metrics.Collector) (*gemini.Client, error) {
	apiKey := cfg.Gemini.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(envGeminiKey)
	}
	var wait transport.WaitPolicy
	if d := cfg.Gemini.BaseDelay.Duration; d > 0 {
		wait = transport.LinearBackoff{Base: d}
	}
	return gemini.NewClient(gemini.Options{
		APIKey:      apiKey,
		BaseURL:     cfg.Gemini.BaseURL,
		Transport:   tr,
		MaxAttempts: cfg.Gemini.MaxAttempts,
		Wait:        wait,
		Meter:       meter,
		Collector:   collector,
		Logger:      logger.Named("gemini"),
	})
}

// newGate builds the quality gate from config.
func newGate(cfg *config.Config, client *gemini.Client, logger *log.Logger) *qc.Gate {
	var wait transport.WaitPolicy
	if d := cfg.QC.BaseDelay.Duration; d > 0 {
		wait = transport.LinearBackoff{Base: d}
	}
	return qc.NewGate(client, qc.Options{
		Model:       cfg.QC.Model,
		Threshold:   cfg.QC.Threshold,
		MaxAttempts: cfg.QC.MaxAttempts,
		Wait:        wait,
		Logger:      logger.Named("qc"),
	})
}

// newStore builds the configured object store. An empty backend returns nil.
func newStore(ctx context.Context, cfg config.StorageConfig, tr *transport.Client) (storage.ObjectStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "":
		return nil, nil
	case "memory":
		return storage.NewMemoryStore(), nil
	case "rest":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv(envStorageKey)
		}
		return storage.NewRESTStore(storage.RESTConfig{
			BaseURL:   cfg.URL,
			Bucket:    cfg.Bucket,
			APIKey:    apiKey,
			Transport: tr,
		})
	case "s3":
		s3cfg := s3Config(cfg.Path, cfg.Region, cfg.Endpoint, cfg.S3PathStyle)
		s3cfg.PublicBaseURL = cfg.PublicBaseURL
		if err := s3cfg.Validate(); err != nil {
			return nil, err
		}
		client, err := storage.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, s3cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be rest, s3 or memory)", cfg.Backend)
	}
}

func s3Config(path, region, endpoint string, pathStyle bool) storage.S3Config {
	bucket, prefix := storage.ParseS3Path(path)
	return storage.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       region,
		Endpoint:     endpoint,
		UsePathStyle: pathStyle,
	}
}

// newQuota builds the quota manager over store.
func newQuota(store storage.ObjectStore, cfg config.StorageConfig, logger *log.Logger, collector *metrics.Collector) *storage.QuotaManager {
	return storage.NewQuotaManager(store, storage.QuotaConfig{
		HardLimitBytes:  cfg.HardLimitBytes,
		TargetFraction:  cfg.TargetFraction,
		ProtectedPrefix: cfg.ProtectedPrefix,
	}, logger.Named("quota"), collector)
}

// errArchiveDisabled is returned when no archive backend is configured.
var errArchiveDisabled = errors.New("archive is not configured (set archive.backend and archive.path)")

// openArchive opens the run ledger dataset.
func openArchive(ctx context.Context, cfg config.ArchiveConfig) (lode.Dataset, error) {
	var factory lode.StoreFactory
	switch strings.ToLower(cfg.Backend) {
	case "":
		return nil, errArchiveDisabled
	case "fs":
		if cfg.Path == "" {
			return nil, errors.New("archive.path is required for the fs backend")
		}
		factory = archive.FSFactory(cfg.Path)
	case "s3":
		f, err := archive.S3Factory(ctx, s3Config(cfg.Path, cfg.Region, cfg.Endpoint, cfg.S3PathStyle))
		if err != nil {
			return nil, err
		}
		factory = f
	default:
		return nil, fmt.Errorf("unknown archive backend: %s (must be fs or s3)", cfg.Backend)
	}
	return archive.NewDataset(cfg.Dataset, factory)
}

// newAdapter builds the completion notifier. An empty type returns nil.
func newAdapter(cfg config.AdapterConfig, logger *log.Logger) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "webhook":
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
			Logger:  logger.Named("webhook"),
		})
	case "redis":
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		return redis.New(redis.Config{
			URL:        cfg.URL,
			Channel:    cfg.Channel,
			HistoryKey: cfg.HistoryKey,
			Timeout:    cfg.Timeout.Duration,
			Retries:    retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", cfg.Type)
	}
}

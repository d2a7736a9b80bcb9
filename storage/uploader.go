package storage

import (
	"context"
	"fmt"

	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/metrics"
	"github.com/justapithecus/darkroom/types"
)

// UploadResult describes a persisted artifact.
type UploadResult struct {
	Key       string          `json:"key"`
	URL       string          `json:"url"`
	SizeBytes int64           `json:"size_bytes"`
	Eviction  *EvictionReport `json:"eviction,omitempty"`
}

// Uploader writes artifacts after consulting the quota manager.
type Uploader struct {
	store     ObjectStore
	quota     *QuotaManager
	logger    *log.Logger
	collector *metrics.Collector
}

// NewUploader creates an Uploader. quota may be nil to skip enforcement.
func NewUploader(store ObjectStore, quota *QuotaManager, logger *log.Logger, collector *metrics.Collector) *Uploader {
	if logger == nil {
		logger = log.Nop()
	}
	return &Uploader{store: store, quota: quota, logger: logger, collector: collector}
}

// Upload persists img under key. A quota check failure is logged and the
// write proceeds; only the write itself can fail the upload.
func (u *Uploader) Upload(ctx context.Context, key string, img types.Image) (*UploadResult, error) {
	res := &UploadResult{Key: key, SizeBytes: img.Size()}

	if u.quota != nil {
		report, err := u.quota.BeforeUpload(ctx, img.Size())
		if err != nil {
			u.logger.Warn("quota check failed, uploading anyway", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		} else if report.Triggered {
			res.Eviction = &report
		}
	}

	contentType := img.MIMEType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := u.store.Put(ctx, key, img.Data, contentType); err != nil {
		u.collector.IncUploadFailure()
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	u.collector.IncUploadSuccess()

	res.URL = u.store.PublicURL(key)
	u.logger.Info("artifact uploaded", map[string]any{
		"key":        key,
		"size_bytes": res.SizeBytes,
		"backend":    u.store.Backend(),
	})
	return res, nil
}

package types

import "time"

// StorageObject is a persisted artifact in the shared object store.
type StorageObject struct {
	Key       string    `json:"key" yaml:"key"`
	SizeBytes int64     `json:"size_bytes" yaml:"size_bytes"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

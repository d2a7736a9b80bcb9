package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/justapithecus/darkroom/transport"
	"github.com/justapithecus/darkroom/types"
)

// Defaults for the bucket REST API.
const (
	DefaultBucket   = "photos"
	listPageSize    = 1000
	restMaxAttempts = 2
)

// RESTConfig configures a RESTStore.
type RESTConfig struct {
	// BaseURL is the project URL; the API lives under /storage/v1.
	BaseURL string
	Bucket  string
	// APIKey is sent as both bearer token and apikey header.
	APIKey    string
	Transport *transport.Client
}

// RESTStore talks to a bucket REST API: POST/PUT object upserts, POST list
// and DELETE with a prefixes body.
type RESTStore struct {
	base      string
	bucket    string
	apiKey    string
	transport *transport.Client
}

// NewRESTStore creates a RESTStore.
func NewRESTStore(cfg RESTConfig) (*RESTStore, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("storage REST store requires a base URL")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Transport == nil {
		cfg.Transport = transport.New(transport.Config{Timeout: 60 * time.Second})
	}
	return &RESTStore{
		base:      strings.TrimRight(cfg.BaseURL, "/") + "/storage/v1",
		bucket:    cfg.Bucket,
		apiKey:    cfg.APIKey,
		transport: cfg.Transport,
	}, nil
}

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type listEntry struct {
	Name      string  `json:"name"`
	ID        *string `json:"id"`
	CreatedAt string  `json:"created_at"`
	Metadata  *struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

type deleteRequest struct {
	Prefixes []string `json:"prefixes"`
}

// List implements ObjectStore. The list API is non-recursive: entries
// without an id are folders, and each one is listed in turn so nested
// keys are reported with their full path.
func (s *RESTStore) List(ctx context.Context, prefix string) ([]types.StorageObject, error) {
	var out []types.StorageObject
	if err := s.listFolder(ctx, strings.TrimRight(prefix, "/"), &out); err != nil {
		return nil, err
	}
	sortOldestFirst(out)
	return out, nil
}

// listFolder appends every object under folder to out. Pages are fetched
// until a short page is returned.
func (s *RESTStore) listFolder(ctx context.Context, folder string, out *[]types.StorageObject) error {
	var subfolders []string
	for offset := 0; ; offset += listPageSize {
		body, err := json.Marshal(listRequest{
			Prefix: folder,
			Limit:  listPageSize,
			Offset: offset,
			SortBy: listSortBy{Column: "created_at", Order: "asc"},
		})
		if err != nil {
			return fmt.Errorf("marshal list request: %w", err)
		}

		resp, err := s.send(ctx, http.MethodPost, "/object/list/"+s.bucket, body, "application/json")
		if err != nil {
			return Wrap("list", folder, err)
		}

		var entries []listEntry
		if err := json.Unmarshal(resp.Body, &entries); err != nil {
			return Wrap("list", folder, fmt.Errorf("decode list response: %w", err))
		}

		for _, e := range entries {
			key := joinKey(folder, e.Name)
			if e.ID == nil {
				if e.Name != "" {
					subfolders = append(subfolders, key)
				}
				continue
			}
			if isPlaceholder(key) {
				continue
			}
			obj := types.StorageObject{Key: key}
			if e.Metadata != nil {
				obj.SizeBytes = e.Metadata.Size
			}
			if ts, err := time.Parse(time.RFC3339Nano, e.CreatedAt); err == nil {
				obj.CreatedAt = ts
			}
			*out = append(*out, obj)
		}
		if len(entries) < listPageSize {
			break
		}
	}

	for _, sub := range subfolders {
		if err := s.listFolder(ctx, sub, out); err != nil {
			return err
		}
	}
	return nil
}

// Put implements ObjectStore with upsert semantics: POST creates, and a
// conflict falls back to PUT.
func (s *RESTStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path := "/object/" + s.bucket + "/" + escapeKey(key)
	_, err := s.send(ctx, http.MethodPost, path, data, contentType)
	if err == nil {
		return nil
	}
	if classify(err) != ErrConflict && !isDuplicate(err) {
		return Wrap("put", key, err)
	}
	if _, err := s.send(ctx, http.MethodPut, path, data, contentType); err != nil {
		return Wrap("put", key, err)
	}
	return nil
}

// Delete implements ObjectStore.
func (s *RESTStore) Delete(ctx context.Context, key string) error {
	body, err := json.Marshal(deleteRequest{Prefixes: []string{key}})
	if err != nil {
		return fmt.Errorf("marshal delete request: %w", err)
	}
	if _, err := s.send(ctx, http.MethodDelete, "/object/"+s.bucket, body, "application/json"); err != nil {
		return Wrap("delete", key, err)
	}
	return nil
}

// PublicURL implements ObjectStore.
func (s *RESTStore) PublicURL(key string) string {
	return s.base + "/object/public/" + s.bucket + "/" + escapeKey(key)
}

// Backend implements ObjectStore.
func (s *RESTStore) Backend() string { return "rest" }

// send issues one request through the retrying transport and converts a
// fatal status into a StatusError for classification.
func (s *RESTStore) send(ctx context.Context, method, path string, body []byte, contentType string) (*transport.Response, error) {
	spec := transport.RequestSpec{
		Method: method,
		URL:    s.base + path,
		Header: http.Header{
			"Authorization": []string{"Bearer " + s.apiKey},
			"Apikey":        []string{s.apiKey},
			"Content-Type":  []string{contentType},
		},
		Body: body,
	}
	resp, err := s.transport.Send(ctx, spec, restMaxAttempts, transport.LinearBackoff{Base: time.Second})
	if err != nil {
		var fatal *transport.FatalHTTPError
		if errors.As(err, &fatal) {
			return nil, &StatusError{Code: fatal.Status, Body: fatal.Body}
		}
		return nil, err
	}
	return resp, nil
}

// isDuplicate detects the 400 "Duplicate" answer some deployments send
// instead of 409.
func isDuplicate(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(statusErr.Body)
	return strings.Contains(body, "duplicate") || strings.Contains(body, "already exists")
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimRight(prefix, "/") + "/" + name
}

// Verify RESTStore implements ObjectStore.
var _ ObjectStore = (*RESTStore)(nil)


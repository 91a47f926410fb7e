// Package blob stores the artifact payloads that artifact and dataset
// entries point at. The metadata store records only the key and path; the
// bytes live behind this interface.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob backend.
type Driver string

// Supported blob drivers.
const (
	// DriverMemory holds payloads in process memory; tests and ephemeral runs.
	DriverMemory Driver = "memory"
	// DriverFilesystem stores payloads under a local directory root.
	DriverFilesystem Driver = "fs"
	// DriverS3 stores payloads in an S3 or MinIO bucket.
	DriverS3 Driver = "s3"
)

// PutOptions carries optional parameters for a blob write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions configures URL pre-signing. Only GET is supported.
type SignedURLOptions struct {
	Method string
	Expiry time.Duration // default 15m
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the blob storage capability. Keys are artifact storage paths;
// writes are create-only.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported marks an optional capability a driver does not offer.
var ErrUnsupported = errors.New("blob: unsupported operation")

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

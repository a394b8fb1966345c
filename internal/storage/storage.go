// Package storage contains the object storage gateway and its backend
// adapters (S3-compatible). Implementations rely on streaming I/O only;
// content is never buffered to local disk.
package storage

import (
	"context"
	"fmt"
	"io"

	"docvault/internal/model"
)

// PutInput describes one object upload. UploadID is the caller's
// idempotency key: a retried put with the same tenant, document, and
// upload id overwrites the same object key instead of creating orphans.
type PutInput struct {
	TenantID    string
	DocumentID  string
	UploadID    string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Backend is the uniform gateway over content-addressable object storage.
// Failures map onto the model taxonomy: model.ErrBackendUnavailable for
// transient faults, model.ErrQuotaExceeded for quota rejections, and
// model.ErrObjectNotFound when a location metadata claims exists is gone.
type Backend interface {
	// Put uploads an object and returns its resolved location.
	Put(ctx context.Context, in PutInput) (model.StorageLocation, error)
	// Get retrieves an object's content as a streaming reader.
	Get(ctx context.Context, loc model.StorageLocation) (io.ReadCloser, error)
	// Delete removes an object.
	Delete(ctx context.Context, loc model.StorageLocation) error
	// Exists reports whether an object is present.
	Exists(ctx context.Context, loc model.StorageLocation) (bool, error)
}

// ObjectKey builds the tenant-prefixed object key. The tenant prefix
// guarantees isolation at the storage layer independent of metadata-store
// correctness; the upload id makes retried puts land on the same key.
func ObjectKey(tenantID, documentID, uploadID string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, documentID, uploadID)
}

// Package records persists screenshot metadata and provides the
// content-addressed lookup that lets identical requests made hours apart,
// by different processes, reuse a stored artifact instead of re-rendering.
package records

import (
	"context"
	"errors"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// ErrNotFound indicates no record matches the lookup.
var ErrNotFound = errors.New("screenshot record not found")

// Store is the durable screenshot metadata interface.
type Store interface {
	// FindExisting returns the record whose capture-affecting fields
	// exactly match the normalized request, scoped to the tenant.
	FindExisting(ctx context.Context, tenantID string, req screenshot.CaptureRequest) (screenshot.Record, error)
	// Insert persists a new record. Called once, after a successful
	// upload to the object store.
	Insert(ctx context.Context, rec screenshot.Record) (screenshot.Record, error)
	// Delete removes a record by id. This is the orphan-cleanup path:
	// it runs only when the backing blob is missing or upload
	// verification failed, and always precedes a regeneration attempt.
	Delete(ctx context.Context, id string) error
}

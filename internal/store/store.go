package store

import (
	"context"
	"errors"
)

// ErrBatchTooLarge is returned by Commit when a batch exceeds MaxBatchOps.
var ErrBatchTooLarge = errors.New("batch exceeds max operation count")

// MaxBatchOps is the store's hard ceiling on operations per atomic batch.
// Callers chunk below this with headroom.
const MaxBatchOps = 500

// Doc is a stored document: its key within a collection plus its fields.
type Doc struct {
	Key    string
	Fields map[string]any
}

// Batch collects writes that commit atomically. A batch holds at most
// MaxBatchOps operations; Commit fails without applying anything when the
// ceiling is exceeded.
type Batch interface {
	Set(collection, key string, fields map[string]any, merge bool)
	Delete(collection, key string)
	Commit(ctx context.Context) error
}

// Gateway is the document-store surface the services depend on. Keys are
// caller-supplied strings except for AddWithGeneratedKey. Merge sets
// overwrite only the fields present in the new document.
type Gateway interface {
	GetByKey(ctx context.Context, collection, key string) (Doc, bool, error)
	SetByKey(ctx context.Context, collection, key string, fields map[string]any, merge bool) error
	DeleteByKey(ctx context.Context, collection, key string) error
	AddWithGeneratedKey(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Queries filter on a single field; limit <= 0 means no limit.
	// Documents missing the field are excluded from range queries.
	QueryEqual(ctx context.Context, collection, field string, value any, limit int) ([]Doc, error)
	QueryLessThan(ctx context.Context, collection, field string, value any, limit int) ([]Doc, error)
	QueryGreaterThan(ctx context.Context, collection, field string, value any, limit int) ([]Doc, error)
	QueryAll(ctx context.Context, collection string, limit int) ([]Doc, error)

	NewBatch() Batch

	// ServerTimestamp returns the store's server-clock token. Written as a
	// field value it resolves to the commit time on the server, keeping
	// ordering consistent despite client clock skew.
	ServerTimestamp() any

	Close() error
}

// Package docstore holds the authoritative per-column document content the
// inverted index is derived from. An index rebuild replays the store through
// the tokenizer. Backends: in-memory, Redis, and PostgreSQL.
package docstore

import "context"

// Store is a plain key-value mapping from document id to column contents.
// Implementations return pkg/errors.ErrDocumentNotFound from Get and Delete
// when the id is absent.
type Store interface {
	Put(ctx context.Context, docID int64, columns []string) error
	Get(ctx context.Context, docID int64) ([]string, error)
	Delete(ctx context.Context, docID int64) error
	// Walk visits every stored document. Visit order is unspecified.
	Walk(ctx context.Context, fn func(docID int64, columns []string) error) error
	Close() error
}

// BatchOp is one write in a commit batch: an upsert when Columns is
// non-nil, a delete otherwise.
type BatchOp struct {
	DocID   int64
	Columns []string
}

// BatchWriter is implemented by stores that can apply several writes as one
// atomic unit. Callers fall back to applying writes one by one, undoing the
// applied prefix on failure, when the store does not implement it.
type BatchWriter interface {
	ApplyBatch(ctx context.Context, ops []BatchOp) error
}

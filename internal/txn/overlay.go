// Package txn implements the transaction overlay: pending document
// mutations buffered over the committed base index. Queries run against a
// merged view in which overlay state takes precedence per document, so
// uncommitted writes are visible without touching the base until commit.
package txn

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/searchlite/searchlite/internal/commitlog"
	"github.com/searchlite/searchlite/internal/docstore"
	"github.com/searchlite/searchlite/internal/index"
	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
)

// pendingDoc is the effective state of one overlaid document. Exactly one
// pending entry exists per document id; a delete entry supersedes every
// earlier staged operation for that id.
type pendingDoc struct {
	deleted    bool
	columns    []string
	baseExists bool
	seq        int
}

// Overlay buffers staged operations between Begin and Commit/Rollback.
type Overlay struct {
	base    *index.Index
	store   docstore.Store
	ncols   int
	pending map[int64]*pendingDoc
	idx     *index.Index // postings of non-deleted pending docs
	seq     int
}

// New creates an empty overlay over the given base index and store.
func New(base *index.Index, store docstore.Store, ncols int) *Overlay {
	return &Overlay{
		base:    base,
		store:   store,
		ncols:   ncols,
		pending: make(map[int64]*pendingDoc),
		idx:     index.New(),
	}
}

// Len returns the number of overlaid documents.
func (o *Overlay) Len() int {
	return len(o.pending)
}

// Visible reports whether the document exists in the merged view.
func (o *Overlay) Visible(docID int64) bool {
	if p, ok := o.pending[docID]; ok {
		return !p.deleted
	}
	return o.base.Contains(docID)
}

// StageInsert buffers a full-document insert. The id must not be visible in
// the merged view, and must not carry a pending delete: a deleted id is only
// reusable after the delete commits.
func (o *Overlay) StageInsert(docID int64, columns []string) error {
	if p, ok := o.pending[docID]; ok {
		if p.deleted {
			return pkgerrors.Newf(pkgerrors.ErrInvariant, http.StatusConflict,
				"document %d has a pending delete; commit before reusing the id", docID)
		}
		return pkgerrors.Newf(pkgerrors.ErrDocumentExists, http.StatusConflict,
			"document %d already staged", docID)
	}
	if o.base.Contains(docID) {
		return pkgerrors.Newf(pkgerrors.ErrDocumentExists, http.StatusConflict,
			"document %d already indexed", docID)
	}
	if len(columns) != o.ncols {
		return pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusBadRequest,
			"expected %d columns, got %d", o.ncols, len(columns))
	}
	cp := make([]string, len(columns))
	copy(cp, columns)
	o.seq++
	o.pending[docID] = &pendingDoc{columns: cp, seq: o.seq}
	o.idx.Add(docID, cp)
	return nil
}

// StageDelete buffers a document delete. The document must be visible in the
// merged view.
func (o *Overlay) StageDelete(docID int64) error {
	if p, ok := o.pending[docID]; ok {
		if p.deleted {
			return pkgerrors.Newf(pkgerrors.ErrDocumentNotFound, http.StatusNotFound,
				"document %d already deleted in transaction", docID)
		}
		// Supersedes the earlier insert or column replace. For a doc that
		// never reached the base this leaves a tombstone, keeping the id
		// unavailable until commit.
		o.idx.Remove(docID)
		p.deleted = true
		p.columns = nil
		return nil
	}
	if !o.base.Contains(docID) {
		return pkgerrors.Newf(pkgerrors.ErrDocumentNotFound, http.StatusNotFound,
			"document %d not indexed", docID)
	}
	o.seq++
	o.pending[docID] = &pendingDoc{deleted: true, baseExists: true, seq: o.seq}
	return nil
}

// StageReplaceColumn buffers a single-column rewrite. Only the named column
// changes; the others keep their base (or earlier pending) content.
func (o *Overlay) StageReplaceColumn(ctx context.Context, docID int64, col int, content string) error {
	if col < 0 || col >= o.ncols {
		return pkgerrors.Newf(pkgerrors.ErrUnknownColumn, http.StatusBadRequest,
			"column index %d out of range", col)
	}
	if p, ok := o.pending[docID]; ok {
		if p.deleted {
			return pkgerrors.Newf(pkgerrors.ErrDocumentNotFound, http.StatusNotFound,
				"document %d deleted in transaction", docID)
		}
		p.columns[col] = content
		o.idx.ReplaceColumn(docID, col, content)
		return nil
	}
	if !o.base.Contains(docID) {
		return pkgerrors.Newf(pkgerrors.ErrDocumentNotFound, http.StatusNotFound,
			"document %d not indexed", docID)
	}
	baseCols, err := o.store.Get(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading base document %d: %w", docID, err)
	}
	if len(baseCols) != o.ncols {
		return pkgerrors.Newf(pkgerrors.ErrInvariant, http.StatusInternalServerError,
			"document %d has %d stored columns, index expects %d", docID, len(baseCols), o.ncols)
	}
	baseCols[col] = content
	o.seq++
	o.pending[docID] = &pendingDoc{columns: baseCols, baseExists: true, seq: o.seq}
	o.idx.Add(docID, baseCols)
	return nil
}

// Resolve applies every pending operation to the document store and base
// index in staging order, and leaves the overlay empty. Store writes land
// first; the base mutates only after all of them have succeeded, so a
// failed resolve leaves the base and the pending set exactly as they were
// and the caller can retry the commit or roll it back.
func (o *Overlay) Resolve(ctx context.Context) error {
	order := o.stagingOrder()
	ops := make([]docstore.BatchOp, 0, len(order))
	for _, docID := range order {
		p := o.pending[docID]
		if p.deleted {
			if p.baseExists {
				ops = append(ops, docstore.BatchOp{DocID: docID})
			}
			continue
		}
		ops = append(ops, docstore.BatchOp{DocID: docID, Columns: p.columns})
	}
	if err := o.applyToStore(ctx, ops); err != nil {
		return err
	}
	for _, docID := range order {
		p := o.pending[docID]
		if p.baseExists {
			o.base.Remove(docID)
		}
		if !p.deleted {
			o.base.Add(docID, p.columns)
		}
	}
	o.pending = make(map[int64]*pendingDoc)
	o.idx = index.New()
	return nil
}

// applyToStore lands the commit batch in the document store. A store that
// implements docstore.BatchWriter applies it atomically; otherwise writes
// go down one by one, and on failure the applied prefix is undone from
// prior state captured before each write, so the store never keeps part of
// a commit.
func (o *Overlay) applyToStore(ctx context.Context, ops []docstore.BatchOp) error {
	if bw, ok := o.store.(docstore.BatchWriter); ok {
		return bw.ApplyBatch(ctx, ops)
	}
	type undoOp struct {
		docID int64
		prior []string // nil: the write created the doc, undone by delete
	}
	applied := make([]undoOp, 0, len(ops))
	revert := func(cause error) error {
		for i := len(applied) - 1; i >= 0; i-- {
			u := applied[i]
			var err error
			if u.prior == nil {
				err = o.store.Delete(ctx, u.docID)
			} else {
				err = o.store.Put(ctx, u.docID, u.prior)
			}
			if err != nil {
				return fmt.Errorf("%w (restoring document %d also failed: %v)", cause, u.docID, err)
			}
		}
		return cause
	}
	for _, op := range ops {
		var prior []string
		if o.pending[op.DocID].baseExists {
			var err error
			prior, err = o.store.Get(ctx, op.DocID)
			if err != nil {
				return revert(fmt.Errorf("loading document %d: %w", op.DocID, err))
			}
		}
		if op.Columns == nil {
			if err := o.store.Delete(ctx, op.DocID); err != nil {
				return revert(fmt.Errorf("deleting document %d: %w", op.DocID, err))
			}
		} else if err := o.store.Put(ctx, op.DocID, op.Columns); err != nil {
			return revert(fmt.Errorf("storing document %d: %w", op.DocID, err))
		}
		applied = append(applied, undoOp{docID: op.DocID, prior: prior})
	}
	return nil
}

// Batch returns the commit batch without applying anything, so the engine
// can publish to the sink before mutating base state.
func (o *Overlay) Batch() commitlog.Batch {
	batch := commitlog.Batch{CommittedAt: time.Now().UTC()}
	for _, docID := range o.stagingOrder() {
		p := o.pending[docID]
		if p.deleted {
			if p.baseExists {
				batch.Mutations = append(batch.Mutations, commitlog.Mutation{DocID: docID, Delete: true})
			}
			continue
		}
		batch.Mutations = append(batch.Mutations, commitlog.Mutation{
			DocID:    docID,
			Postings: commitlog.DocPostings(p.columns),
		})
	}
	return batch
}

// stagingOrder returns overlaid ids ordered by each document's first staged
// operation.
func (o *Overlay) stagingOrder() []int64 {
	ids := make([]int64, 0, len(o.pending))
	for id := range o.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return o.pending[ids[i]].seq < o.pending[ids[j]].seq
	})
	return ids
}

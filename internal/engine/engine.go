// Package engine ties the tokenizer, inverted index, document store,
// transaction overlay, and query evaluator into one full-text engine with a
// single-writer discipline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/searchlite/searchlite/internal/commitlog"
	"github.com/searchlite/searchlite/internal/docstore"
	"github.com/searchlite/searchlite/internal/index"
	"github.com/searchlite/searchlite/internal/query"
	"github.com/searchlite/searchlite/internal/txn"
	"github.com/searchlite/searchlite/pkg/config"
	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
	"github.com/searchlite/searchlite/pkg/metrics"
)

// Engine is the query and mutation entry point. All operations serialise on
// one RWMutex: mutations and transaction control take the write lock,
// queries the read lock, which gives the cooperative single-writer model
// its atomic-commit guarantee.
type Engine struct {
	mu      sync.RWMutex
	cfg     config.EngineConfig
	idx     *index.Index
	store   docstore.Store
	overlay *txn.Overlay
	sink    commitlog.Sink
	parser  *query.Parser
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Options carries the engine's collaborators. Nil fields fall back to an
// in-memory store, a no-op sink, and no metrics.
type Options struct {
	Store   docstore.Store
	Sink    commitlog.Sink
	Metrics *metrics.Metrics
}

// New builds an engine and replays the document store into a fresh index.
func New(ctx context.Context, cfg config.EngineConfig, opts Options) (*Engine, error) {
	store := opts.Store
	if store == nil {
		store = docstore.NewMemory()
	}
	sink := opts.Sink
	if sink == nil {
		sink = commitlog.Nop{}
	}
	e := &Engine{
		cfg:     cfg,
		idx:     index.New(),
		store:   store,
		sink:    sink,
		metrics: opts.Metrics,
		parser: &query.Parser{
			Columns:     cfg.Columns,
			DefaultSlop: cfg.DefaultSlop,
		},
		logger: slog.Default().With("component", "engine"),
	}
	if err := e.rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuilding index from document store: %w", err)
	}
	return e, nil
}

// rebuild replays every stored document through the tokenizer.
func (e *Engine) rebuild(ctx context.Context) error {
	start := time.Now()
	count := 0
	err := e.store.Walk(ctx, func(docID int64, columns []string) error {
		if len(columns) != len(e.cfg.Columns) {
			return pkgerrors.Newf(pkgerrors.ErrInvariant, http.StatusInternalServerError,
				"stored document %d has %d columns, schema expects %d",
				docID, len(columns), len(e.cfg.Columns))
		}
		e.idx.Add(docID, columns)
		count++
		return nil
	})
	if err != nil {
		return err
	}
	if count > 0 {
		e.logger.Info("index rebuilt",
			"documents", count,
			"terms", e.idx.TermCount(),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	e.updateGauges()
	return nil
}

// Columns returns the indexed column names in schema order.
func (e *Engine) Columns() []string {
	return e.cfg.Columns
}

// InTransaction reports whether a transaction is open.
func (e *Engine) InTransaction() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.overlay != nil
}

// DocCount returns the number of documents in the committed index.
func (e *Engine) DocCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.DocCount()
}

// Insert adds a new document. Inside a transaction the insert is staged;
// otherwise it applies to the base index and store immediately.
func (e *Engine) Insert(ctx context.Context, docID int64, columns []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overlay != nil {
		if err := e.overlay.StageInsert(docID, columns); err != nil {
			return err
		}
		e.afterStage()
		return nil
	}
	if len(columns) != len(e.cfg.Columns) {
		return pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusBadRequest,
			"expected %d columns, got %d", len(e.cfg.Columns), len(columns))
	}
	if e.idx.Contains(docID) {
		return pkgerrors.Newf(pkgerrors.ErrDocumentExists, http.StatusConflict,
			"document %d already indexed", docID)
	}
	if err := e.store.Put(ctx, docID, columns); err != nil {
		return err
	}
	e.idx.Add(docID, columns)
	if e.metrics != nil {
		e.metrics.DocsInsertedTotal.Inc()
	}
	e.updateGauges()
	e.publish(ctx, commitlog.Batch{
		CommittedAt: time.Now().UTC(),
		Mutations: []commitlog.Mutation{
			{DocID: docID, Postings: commitlog.DocPostings(columns)},
		},
	})
	return nil
}

// Update rewrites one named column of an existing document.
func (e *Engine) Update(ctx context.Context, docID int64, column, content string) error {
	col, err := e.columnIndex(column)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overlay != nil {
		if err := e.overlay.StageReplaceColumn(ctx, docID, col, content); err != nil {
			return err
		}
		e.afterStage()
		return nil
	}
	if !e.idx.Contains(docID) {
		return pkgerrors.Newf(pkgerrors.ErrDocumentNotFound, http.StatusNotFound,
			"document %d not indexed", docID)
	}
	columns, err := e.store.Get(ctx, docID)
	if err != nil {
		return err
	}
	columns[col] = content
	if err := e.store.Put(ctx, docID, columns); err != nil {
		return err
	}
	e.idx.ReplaceColumn(docID, col, content)
	if e.metrics != nil {
		e.metrics.ColumnUpdatesTotal.Inc()
	}
	e.updateGauges()
	e.publish(ctx, commitlog.Batch{
		CommittedAt: time.Now().UTC(),
		Mutations: []commitlog.Mutation{
			{DocID: docID, Postings: commitlog.DocPostings(columns)},
		},
	})
	return nil
}

// Delete removes a document and all its postings.
func (e *Engine) Delete(ctx context.Context, docID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overlay != nil {
		if err := e.overlay.StageDelete(docID); err != nil {
			return err
		}
		e.afterStage()
		return nil
	}
	if !e.idx.Contains(docID) {
		return pkgerrors.Newf(pkgerrors.ErrDocumentNotFound, http.StatusNotFound,
			"document %d not indexed", docID)
	}
	if err := e.store.Delete(ctx, docID); err != nil {
		return err
	}
	e.idx.Remove(docID)
	if e.metrics != nil {
		e.metrics.DocsDeletedTotal.Inc()
	}
	e.updateGauges()
	e.publish(ctx, commitlog.Batch{
		CommittedAt: time.Now().UTC(),
		Mutations:   []commitlog.Mutation{{DocID: docID, Delete: true}},
	})
	return nil
}

// Begin opens a transaction. Later mutations stage in the overlay and stay
// visible to queries until Commit or Rollback.
func (e *Engine) Begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overlay != nil {
		return pkgerrors.New(pkgerrors.ErrTransactionOpen, http.StatusConflict,
			"commit or roll back the open transaction first")
	}
	e.overlay = txn.New(e.idx, e.store, len(e.cfg.Columns))
	e.logger.Debug("transaction started")
	return nil
}

// Commit applies every staged operation to the base index and document
// store in staging order, publishes the mutation batch to the sink, and
// closes the transaction. Queries never observe a partially applied commit:
// the write lock is held across the whole resolution. A failed commit
// leaves the transaction open with base and store unchanged, so the caller
// can retry it or roll it back.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overlay == nil {
		return pkgerrors.New(pkgerrors.ErrNoTransaction, http.StatusConflict,
			"no transaction to commit")
	}
	batch := e.overlay.Batch()
	staged := e.overlay.Len()
	if err := e.overlay.Resolve(ctx); err != nil {
		if e.metrics != nil {
			e.metrics.CommitsTotal.WithLabelValues("error").Inc()
		}
		return err
	}
	e.overlay = nil
	if e.metrics != nil {
		e.metrics.CommitsTotal.WithLabelValues("ok").Inc()
		e.metrics.PendingOps.Set(0)
	}
	e.updateGauges()
	e.publish(ctx, batch)
	e.logger.Info("transaction committed", "documents", staged, "mutations", len(batch.Mutations))
	return nil
}

// Rollback discards every staged operation without touching the base.
func (e *Engine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overlay == nil {
		return pkgerrors.New(pkgerrors.ErrNoTransaction, http.StatusConflict,
			"no transaction to roll back")
	}
	staged := e.overlay.Len()
	e.overlay = nil
	if e.metrics != nil {
		e.metrics.RollbacksTotal.Inc()
		e.metrics.PendingOps.Set(0)
	}
	e.logger.Info("transaction rolled back", "documents", staged)
	return nil
}

// Search parses and evaluates a query, returning matching document ids in
// ascending order.
func (e *Engine) Search(ctx context.Context, text string) ([]int64, error) {
	ids, _, err := e.SearchCacheable(ctx, text)
	return ids, err
}

// SearchCacheable is Search plus a flag reporting whether the evaluation
// saw only the committed base. The flag is decided under the same read
// lock as the evaluation, so a true flag means no transaction was open at
// any point during it and the result is safe to cache.
func (e *Engine) SearchCacheable(ctx context.Context, text string) ([]int64, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	node, err := e.parser.Parse(text)
	if err != nil {
		return nil, false, err
	}
	return query.NewEvaluator(e.view()).Eval(node), e.overlay == nil, nil
}

// SearchMatchinfo evaluates a single-term query and returns both the hit
// set and its per-column statistics, computed against one merged view so
// the two are consistent.
func (e *Engine) SearchMatchinfo(ctx context.Context, text string) ([]int64, []query.MatchinfoRow, error) {
	ids, rows, _, err := e.SearchMatchinfoCacheable(ctx, text)
	return ids, rows, err
}

// SearchMatchinfoCacheable is SearchMatchinfo with the same committed-base
// flag as SearchCacheable.
func (e *Engine) SearchMatchinfoCacheable(ctx context.Context, text string) ([]int64, []query.MatchinfoRow, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	node, err := e.parser.Parse(text)
	if err != nil {
		return nil, nil, false, err
	}
	phrase, ok := node.(*query.Phrase)
	if !ok || len(phrase.Terms) != 1 || phrase.Terms[0].Prefix || phrase.Column >= 0 {
		return nil, nil, false, pkgerrors.New(pkgerrors.ErrInvalidInput, http.StatusBadRequest,
			"matchinfo requires a single bare term")
	}
	view := e.view()
	ids := query.NewEvaluator(view).Eval(node)
	rows := query.Matchinfo(view, phrase.Terms[0].Text, len(e.cfg.Columns))
	return ids, rows, e.overlay == nil, nil
}

// view returns the read handle queries evaluate against: the base index in
// stable periods, the merged view while a transaction is open.
func (e *Engine) view() index.View {
	if e.overlay != nil {
		return e.overlay.View()
	}
	return e.idx
}

func (e *Engine) columnIndex(name string) (int, error) {
	for i, col := range e.cfg.Columns {
		if col == name {
			return i, nil
		}
	}
	return 0, &query.UnknownColumnError{Column: name}
}

// publish hands a mutation batch to the persistence sink. The sink is an
// external collaborator: failures are logged and counted, never folded back
// into the already-applied mutation.
func (e *Engine) publish(ctx context.Context, batch commitlog.Batch) {
	if len(batch.Mutations) == 0 {
		return
	}
	if err := e.sink.Publish(ctx, batch); err != nil {
		e.logger.Error("commit sink publish failed",
			"mutations", len(batch.Mutations),
			"error", err,
		)
	}
}

func (e *Engine) afterStage() {
	if e.metrics != nil && e.overlay != nil {
		e.metrics.PendingOps.Set(float64(e.overlay.Len()))
	}
}

func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexedDocs.Set(float64(e.idx.DocCount()))
	e.metrics.IndexedTerms.Set(float64(e.idx.TermCount()))
}

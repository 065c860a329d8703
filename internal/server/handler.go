// Package server exposes the engine over HTTP: document mutations,
// transaction control, and search with optional matchinfo statistics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/searchlite/searchlite/internal/cache"
	"github.com/searchlite/searchlite/internal/engine"
	"github.com/searchlite/searchlite/internal/query"
	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
	"github.com/searchlite/searchlite/pkg/logger"
	"github.com/searchlite/searchlite/pkg/metrics"
)

type Handler struct {
	engine  *engine.Engine
	cache   *cache.QueryCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Handler. cache and m may be nil.
func New(eng *engine.Engine, queryCache *cache.QueryCache, m *metrics.Metrics) *Handler {
	return &Handler{
		engine:  eng,
		cache:   queryCache,
		metrics: m,
		logger:  slog.Default().With("component", "http-handler"),
	}
}

// Routes registers all API endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.InsertDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}/columns/{col}", h.UpdateColumn)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)
	mux.HandleFunc("POST /api/v1/tx/begin", h.Begin)
	mux.HandleFunc("POST /api/v1/tx/commit", h.Commit)
	mux.HandleFunc("POST /api/v1/tx/rollback", h.Rollback)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type insertRequest struct {
	ID      int64             `json:"id"`
	Columns map[string]string `json:"columns"`
}

func (h *Handler) InsertDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	columns, err := h.columnSlice(req.Columns)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.engine.Insert(ctx, req.ID, columns); err != nil {
		log.Error("insert failed", "doc_id", req.ID, "error", err)
		h.writeErr(w, err)
		return
	}
	h.invalidateCache(ctx)
	h.writeJSON(w, http.StatusCreated, map[string]any{"doc_id": req.ID})
}

type updateRequest struct {
	Content string `json:"content"`
}

func (h *Handler) UpdateColumn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	docID, ok := h.pathDocID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	col := r.PathValue("col")
	if err := h.engine.Update(ctx, docID, col, req.Content); err != nil {
		log.Error("update failed", "doc_id", docID, "column", col, "error", err)
		h.writeErr(w, err)
		return
	}
	h.invalidateCache(ctx)
	h.writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "column": col})
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	docID, ok := h.pathDocID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Delete(ctx, docID); err != nil {
		log.Error("delete failed", "doc_id", docID, "error", err)
		h.writeErr(w, err)
		return
	}
	h.invalidateCache(ctx)
	h.writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID})
}

func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Begin(); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Commit(r.Context()); err != nil {
		h.writeErr(w, err)
		return
	}
	h.invalidateCache(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Rollback(); err != nil {
		h.writeErr(w, err)
		return
	}
	h.invalidateCache(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	queryText := r.URL.Query().Get("q")
	if queryText == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	wantMatchinfo := r.URL.Query().Get("matchinfo") == "true"

	compute := func() (*cache.Result, bool, error) {
		result := &cache.Result{Query: queryText}
		var (
			cacheable bool
			err       error
		)
		if wantMatchinfo {
			result.DocIDs, result.Matchinfo, cacheable, err = h.engine.SearchMatchinfoCacheable(ctx, queryText)
		} else {
			result.DocIDs, cacheable, err = h.engine.SearchCacheable(ctx, queryText)
		}
		return result, cacheable, err
	}

	var (
		result   *cache.Result
		cacheHit bool
		err      error
	)
	// The cache reflects committed state only; inside a transaction every
	// query must see the overlay. The engine decides cacheability under
	// the evaluation's read lock, so a transaction opening after the check
	// here cannot leak overlay results into the cache.
	if h.cache != nil && !h.engine.InTransaction() {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, queryText, wantMatchinfo, compute)
	} else {
		result, _, err = compute()
	}
	if err != nil {
		h.recordQuery(err, nil, start, cacheHit)
		log.Warn("search failed", "query", queryText, "error", err)
		h.writeErr(w, err)
		return
	}
	h.recordQuery(nil, result.DocIDs, start, cacheHit)
	log.Info("search completed",
		"query", queryText,
		"hits", len(result.DocIDs),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	if result.DocIDs == nil {
		result.DocIDs = []int64{}
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	hits, misses := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"hits":    hits,
		"misses":  misses,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) pathDocID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	docID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "document id must be an integer")
		return 0, false
	}
	return docID, true
}

// columnSlice orders named column contents per the engine schema. Columns
// absent from the request are empty; unknown names are rejected.
func (h *Handler) columnSlice(named map[string]string) ([]string, error) {
	schema := h.engine.Columns()
	columns := make([]string, len(schema))
	byName := make(map[string]int, len(schema))
	for i, name := range schema {
		byName[name] = i
	}
	for name, content := range named {
		i, ok := byName[name]
		if !ok {
			return nil, &query.UnknownColumnError{Column: name}
		}
		columns[i] = content
	}
	return columns, nil
}

func (h *Handler) invalidateCache(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
	}
}

func (h *Handler) recordQuery(err error, docIDs []int64, start time.Time, cacheHit bool) {
	if h.metrics == nil {
		return
	}
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	h.metrics.QueryLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, pkgerrors.ErrQuerySyntax):
		h.metrics.QueriesTotal.WithLabelValues("syntax_error").Inc()
	case err != nil:
		h.metrics.QueriesTotal.WithLabelValues("error").Inc()
	case len(docIDs) == 0:
		h.metrics.QueriesTotal.WithLabelValues("zero_result").Inc()
	default:
		h.metrics.QueriesTotal.WithLabelValues("hit").Inc()
		h.metrics.QueryResultsCount.Observe(float64(len(docIDs)))
	}
	if cacheHit {
		h.metrics.CacheHitsTotal.Inc()
	} else if h.cache != nil {
		h.metrics.CacheMissesTotal.Inc()
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	h.writeError(w, pkgerrors.HTTPStatusCode(err), err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("writing response failed", "error", err)
	}
}

// Package cache is a Redis-backed query result cache with singleflight
// collapsing of concurrent identical queries. The server only consults it
// in stable periods (no open transaction) and flushes it on every mutation,
// so cached results always match the committed index.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/searchlite/searchlite/internal/query"
	"github.com/searchlite/searchlite/pkg/config"
	pkgredis "github.com/searchlite/searchlite/pkg/redis"
)

const keyPrefix = "search:"

// Result is the cached payload of one search call.
type Result struct {
	Query     string               `json:"query"`
	DocIDs    []int64              `json:"doc_ids"`
	Matchinfo []query.MatchinfoRow `json:"matchinfo,omitempty"`
}

type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, queryText string, matchinfo bool) (*Result, bool) {
	key := c.buildKey(queryText, matchinfo)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", queryText, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, queryText string, matchinfo bool, result *Result) {
	key := c.buildKey(queryText, matchinfo)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for the query, or computes and
// stores it, collapsing concurrent identical computations. computeFn's
// second return reports whether the result reflects committed state only;
// results computed while a transaction was open are returned but never
// stored.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	queryText string,
	matchinfo bool,
	computeFn func() (*Result, bool, error),
) (*Result, bool, error) {
	if result, ok := c.Get(ctx, queryText, matchinfo); ok {
		return result, true, nil
	}
	key := c.buildKey(queryText, matchinfo)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, queryText, matchinfo); ok {
			return result, nil
		}
		result, cacheable, err := computeFn()
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.Set(ctx, queryText, matchinfo, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}

// Invalidate drops every cached result. Called after any mutation, commit,
// or rollback.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) buildKey(queryText string, matchinfo bool) string {
	raw := fmt.Sprintf("%s|matchinfo=%t", strings.TrimSpace(queryText), matchinfo)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

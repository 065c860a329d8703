package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
	pkgredis "github.com/searchlite/searchlite/pkg/redis"
)

const redisKeyPrefix = "doc:"

// Redis stores each document as a JSON-encoded column array under doc:<id>.
type Redis struct {
	client *pkgredis.Client
}

// NewRedis wraps an already-connected Redis client.
func NewRedis(client *pkgredis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Put(ctx context.Context, docID int64, columns []string) error {
	data, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("marshaling document %d: %w", docID, err)
	}
	if err := r.client.Set(ctx, redisKey(docID), data, 0); err != nil {
		return fmt.Errorf("storing document %d: %w", docID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, docID int64) ([]string, error) {
	data, err := r.client.Get(ctx, redisKey(docID))
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, pkgerrors.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("fetching document %d: %w", docID, err)
	}
	var columns []string
	if err := json.Unmarshal([]byte(data), &columns); err != nil {
		return nil, fmt.Errorf("unmarshaling document %d: %w", docID, err)
	}
	return columns, nil
}

func (r *Redis) Delete(ctx context.Context, docID int64) error {
	if _, err := r.Get(ctx, docID); err != nil {
		return err
	}
	if err := r.client.Del(ctx, redisKey(docID)); err != nil {
		return fmt.Errorf("deleting document %d: %w", docID, err)
	}
	return nil
}

func (r *Redis) Walk(ctx context.Context, fn func(docID int64, columns []string) error) error {
	return r.client.ScanKeys(ctx, redisKeyPrefix+"*", func(key string) error {
		docID, err := strconv.ParseInt(strings.TrimPrefix(key, redisKeyPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("malformed document key %q: %w", key, err)
		}
		columns, err := r.Get(ctx, docID)
		if err != nil {
			return err
		}
		return fn(docID, columns)
	})
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func redisKey(docID int64) string {
	return redisKeyPrefix + strconv.FormatInt(docID, 10)
}

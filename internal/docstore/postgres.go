package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
	"github.com/searchlite/searchlite/pkg/postgres"
)

// Postgres stores documents in a single table with JSON-encoded columns.
type Postgres struct {
	client *postgres.Client
}

// NewPostgres ensures the documents table exists and returns the store.
func NewPostgres(ctx context.Context, client *postgres.Client) (*Postgres, error) {
	const schema = `
		CREATE TABLE IF NOT EXISTS documents (
			id      BIGINT PRIMARY KEY,
			columns JSONB NOT NULL
		)`
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	return &Postgres{client: client}, nil
}

func (p *Postgres) Put(ctx context.Context, docID int64, columns []string) error {
	data, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("marshaling document %d: %w", docID, err)
	}
	const q = `
		INSERT INTO documents (id, columns) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET columns = EXCLUDED.columns`
	if _, err := p.client.DB.ExecContext(ctx, q, docID, data); err != nil {
		return fmt.Errorf("storing document %d: %w", docID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, docID int64) ([]string, error) {
	const q = `SELECT columns FROM documents WHERE id = $1`
	var data []byte
	err := p.client.DB.QueryRowContext(ctx, q, docID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document %d: %w", docID, err)
	}
	var columns []string
	if err := json.Unmarshal(data, &columns); err != nil {
		return nil, fmt.Errorf("unmarshaling document %d: %w", docID, err)
	}
	return columns, nil
}

func (p *Postgres) Delete(ctx context.Context, docID int64) error {
	const q = `DELETE FROM documents WHERE id = $1`
	res, err := p.client.DB.ExecContext(ctx, q, docID)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", docID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", docID, err)
	}
	if affected == 0 {
		return pkgerrors.ErrDocumentNotFound
	}
	return nil
}

// ApplyBatch lands every write inside one SQL transaction, so a commit
// batch reaches the table fully or not at all.
func (p *Postgres) ApplyBatch(ctx context.Context, ops []BatchOp) error {
	return p.client.InTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			if op.Columns == nil {
				res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, op.DocID)
				if err != nil {
					return fmt.Errorf("deleting document %d: %w", op.DocID, err)
				}
				affected, err := res.RowsAffected()
				if err != nil {
					return fmt.Errorf("deleting document %d: %w", op.DocID, err)
				}
				if affected == 0 {
					return pkgerrors.ErrDocumentNotFound
				}
				continue
			}
			data, err := json.Marshal(op.Columns)
			if err != nil {
				return fmt.Errorf("marshaling document %d: %w", op.DocID, err)
			}
			const q = `
				INSERT INTO documents (id, columns) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET columns = EXCLUDED.columns`
			if _, err := tx.ExecContext(ctx, q, op.DocID, data); err != nil {
				return fmt.Errorf("storing document %d: %w", op.DocID, err)
			}
		}
		return nil
	})
}

func (p *Postgres) Walk(ctx context.Context, fn func(docID int64, columns []string) error) error {
	const q = `SELECT id, columns FROM documents ORDER BY id`
	rows, err := p.client.DB.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			docID int64
			data  []byte
		)
		if err := rows.Scan(&docID, &data); err != nil {
			return fmt.Errorf("scanning document row: %w", err)
		}
		var columns []string
		if err := json.Unmarshal(data, &columns); err != nil {
			return fmt.Errorf("unmarshaling document %d: %w", docID, err)
		}
		if err := fn(docID, columns); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) Close() error {
	return p.client.Close()
}

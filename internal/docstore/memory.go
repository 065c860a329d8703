package docstore

import (
	"context"

	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
)

// Memory is the default in-process Store. The engine serialises access, so
// no internal locking is needed.
type Memory struct {
	docs map[int64][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[int64][]string)}
}

func (m *Memory) Put(ctx context.Context, docID int64, columns []string) error {
	cp := make([]string, len(columns))
	copy(cp, columns)
	m.docs[docID] = cp
	return nil
}

func (m *Memory) Get(ctx context.Context, docID int64) ([]string, error) {
	columns, ok := m.docs[docID]
	if !ok {
		return nil, pkgerrors.ErrDocumentNotFound
	}
	cp := make([]string, len(columns))
	copy(cp, columns)
	return cp, nil
}

func (m *Memory) Delete(ctx context.Context, docID int64) error {
	if _, ok := m.docs[docID]; !ok {
		return pkgerrors.ErrDocumentNotFound
	}
	delete(m.docs, docID)
	return nil
}

func (m *Memory) Walk(ctx context.Context, fn func(docID int64, columns []string) error) error {
	for docID, columns := range m.docs {
		if err := fn(docID, columns); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Package commitlog carries committed posting mutations to an external
// persistence collaborator. The engine hands every commit's final mutation
// batch to a Sink; the sinks here publish to Kafka, append to a local binary
// log, or drop the batch.
package commitlog

import (
	"context"
	"time"

	"github.com/searchlite/searchlite/internal/tokenizer"
)

// TermPosting is one term's occurrences inside a single column of the
// mutated document.
type TermPosting struct {
	Term      string `json:"term"`
	Column    int    `json:"column"`
	Positions []int  `json:"positions"`
}

// Mutation is the final state of one document after a commit: either a
// deletion marker, or the complete replacement posting set for the document.
type Mutation struct {
	DocID    int64         `json:"doc_id"`
	Delete   bool          `json:"delete,omitempty"`
	Postings []TermPosting `json:"postings,omitempty"`
}

// Batch is the ordered set of mutations produced by one commit.
type Batch struct {
	CommittedAt time.Time  `json:"committed_at"`
	Mutations   []Mutation `json:"mutations"`
}

// Sink receives the mutation batch of every commit. Publish is called after
// the commit is applied, while the engine's write lock is still held; a
// Publish error is reported but does not undo the commit.
type Sink interface {
	Publish(ctx context.Context, batch Batch) error
	Close() error
}

// DocPostings tokenizes a document's column contents into the flat posting
// set carried by a Mutation, ordered by first appearance of each term and
// then by column.
func DocPostings(columns []string) []TermPosting {
	byTerm := make(map[string]map[int][]int)
	var order []string
	for col, content := range columns {
		for _, tok := range tokenizer.Tokenize(content) {
			cols, ok := byTerm[tok.Term]
			if !ok {
				cols = make(map[int][]int)
				byTerm[tok.Term] = cols
				order = append(order, tok.Term)
			}
			cols[col] = append(cols[col], tok.Position)
		}
	}
	var out []TermPosting
	for _, term := range order {
		for col := 0; col < len(columns); col++ {
			if positions, ok := byTerm[term][col]; ok {
				out = append(out, TermPosting{Term: term, Column: col, Positions: positions})
			}
		}
	}
	return out
}

// Nop discards every batch. It is the default sink.
type Nop struct{}

func (Nop) Publish(ctx context.Context, batch Batch) error { return nil }

func (Nop) Close() error { return nil }

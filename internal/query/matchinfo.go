package query

import (
	"github.com/searchlite/searchlite/internal/index"
)

// ColumnStats is the matchinfo payload for one column of one matching
// document: the document's own hit count, the corpus-wide hit count, and
// the number of documents containing the term in that column.
type ColumnStats struct {
	Hits       int `json:"hits"`
	GlobalHits int `json:"global_hits"`
	GlobalDocs int `json:"global_docs"`
}

// MatchinfoRow pairs one matching document with its per-column statistics.
type MatchinfoRow struct {
	DocID   int64         `json:"doc_id"`
	Columns []ColumnStats `json:"columns"`
}

// Matchinfo computes per-document per-column statistics for a single-term
// query against the given view, in ascending document-id order. The view is
// the same merged handle used for the accompanying result set, so the
// statistics and the hit set are mutually consistent.
func Matchinfo(view index.View, term string, ncols int) []MatchinfoRow {
	postings := view.Lookup(term)
	if len(postings) == 0 {
		return nil
	}
	globalHits := make([]int, ncols)
	globalDocs := make([]int, ncols)
	for _, posting := range postings {
		for col, positions := range posting.Hits {
			globalHits[col] += len(positions)
			globalDocs[col]++
		}
	}
	rows := make([]MatchinfoRow, 0, len(postings))
	for _, posting := range postings {
		cols := make([]ColumnStats, ncols)
		for col := 0; col < ncols; col++ {
			cols[col] = ColumnStats{
				Hits:       len(posting.Hits[col]),
				GlobalHits: globalHits[col],
				GlobalDocs: globalDocs[col],
			}
		}
		rows = append(rows, MatchinfoRow{DocID: posting.DocID, Columns: cols})
	}
	return rows
}

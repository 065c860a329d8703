package index

import "slices"

// ColumnHits maps a column index to the strictly increasing positions at
// which a term occurs in that column. Positions are unique by construction:
// the tokenizer assigns every token its own position.
type ColumnHits map[int][]int

// Posting records every occurrence of one term within one document.
type Posting struct {
	DocID int64
	Hits  ColumnHits
}

// PostingList is a set of postings for one term, sorted ascending by DocID.
type PostingList []Posting

// View is the read side of an index as seen by the query evaluator. Both the
// base index and the transaction-merged view implement it.
type View interface {
	// Lookup returns the postings for the exact term, ascending by DocID.
	Lookup(term string) PostingList
	// LookupPrefix returns the union of postings over every term with the
	// given leading substring, ascending by DocID. Position lists for the
	// same (document, column) are merged in sorted order.
	LookupPrefix(prefix string) PostingList
}

func (h ColumnHits) clone() ColumnHits {
	out := make(ColumnHits, len(h))
	for col, positions := range h {
		cp := make([]int, len(positions))
		copy(cp, positions)
		out[col] = cp
	}
	return out
}

// merge folds other's position lists into h, keeping each column's list
// sorted. Lists being merged never share positions: a position holds exactly
// one term.
func (h ColumnHits) merge(other ColumnHits) {
	for col, positions := range other {
		existing, ok := h[col]
		if !ok {
			cp := make([]int, len(positions))
			copy(cp, positions)
			h[col] = cp
			continue
		}
		h[col] = mergeSorted(existing, positions)
	}
}

// sortedPostings flattens a docID → hits map into a PostingList ordered
// ascending by DocID.
func sortedPostings(byDoc map[int64]ColumnHits) PostingList {
	if len(byDoc) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(byDoc))
	for id := range byDoc {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make(PostingList, 0, len(ids))
	for _, id := range ids {
		out = append(out, Posting{DocID: id, Hits: byDoc[id]})
	}
	return out
}

func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

package query

import (
	"slices"

	"github.com/searchlite/searchlite/internal/index"
)

// Evaluator computes a query AST bottom-up into a set of document ids
// against a fixed index view. The view is the merged base ⊕ overlay handle
// supplied by the engine; the evaluator holds no other state.
type Evaluator struct {
	view index.View
}

// NewEvaluator creates an evaluator over the given view.
func NewEvaluator(view index.View) *Evaluator {
	return &Evaluator{view: view}
}

// Eval returns the ids of all documents matching the query, ascending.
// A well-formed AST over a consistent view cannot fail.
func (e *Evaluator) Eval(n Node) []int64 {
	switch n := n.(type) {
	case *Phrase:
		return docsOf(e.phraseHits(n))
	case *Near:
		return e.evalNear(n)
	case *Binary:
		left := e.Eval(n.Left)
		right := e.Eval(n.Right)
		switch n.Op {
		case OpAnd:
			return intersect(left, right)
		case OpOr:
			return union(left, right)
		default:
			return difference(left, right)
		}
	}
	return nil
}

// phraseOccs holds every full occurrence of a phrase: for each document and
// column, the sorted positions of the phrase's last token. tokens is the
// phrase length, so an occurrence ending at p spans [p-tokens+1, p].
type phraseOccs struct {
	tokens int
	docs   map[int64]index.ColumnHits
}

// phraseHits finds all occurrences of the phrase. Slot 0's candidate
// positions seed the scan; each later slot keeps only positions directly
// following a surviving position of the previous slot, a merge-style
// two-pointer pass per column.
func (e *Evaluator) phraseHits(p *Phrase) phraseOccs {
	cur := e.slotHits(p.Terms[0], p.Column)
	for s := 1; s < len(p.Terms); s++ {
		next := e.slotHits(p.Terms[s], p.Column)
		joined := make(map[int64]index.ColumnHits)
		for docID, prevCols := range cur {
			nextCols, ok := next[docID]
			if !ok {
				continue
			}
			res := make(index.ColumnHits)
			for col, prev := range prevCols {
				positions, ok := nextCols[col]
				if !ok {
					continue
				}
				if adj := adjacent(prev, positions); len(adj) > 0 {
					res[col] = adj
				}
			}
			if len(res) > 0 {
				joined[docID] = res
			}
		}
		cur = joined
	}
	return phraseOccs{tokens: len(p.Terms), docs: cur}
}

// slotHits returns the candidate positions of one phrase slot per document
// and column. A prefix slot draws positions from every term in its
// expansion set.
func (e *Evaluator) slotHits(t PhraseTerm, column int) map[int64]index.ColumnHits {
	var postings index.PostingList
	if t.Prefix {
		postings = e.view.LookupPrefix(t.Text)
	} else {
		postings = e.view.Lookup(t.Text)
	}
	out := make(map[int64]index.ColumnHits, len(postings))
	for _, posting := range postings {
		if column < 0 {
			out[posting.DocID] = posting.Hits
			continue
		}
		if positions, ok := posting.Hits[column]; ok {
			out[posting.DocID] = index.ColumnHits{column: positions}
		}
	}
	return out
}

// adjacent returns the positions q in next with q-1 present in prev. Both
// inputs are sorted ascending.
func adjacent(prev, next []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(prev) && j < len(next) {
		switch {
		case prev[i]+1 == next[j]:
			out = append(out, next[j])
			i++
			j++
		case prev[i]+1 < next[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// evalNear matches documents where some column satisfies every adjacent
// operand pair's proximity constraint. Pairs are checked independently: any
// witness occurrence per pair suffices.
func (e *Evaluator) evalNear(n *Near) []int64 {
	occs := make([]phraseOccs, len(n.Operands))
	for i, op := range n.Operands {
		occs[i] = e.phraseHits(op)
		if len(occs[i].docs) == 0 {
			return nil
		}
	}
	var out []int64
	for docID := range occs[0].docs {
		if e.nearMatches(occs, n.Slops, docID) {
			out = append(out, docID)
		}
	}
	slices.Sort(out)
	return out
}

func (e *Evaluator) nearMatches(occs []phraseOccs, slops []int, docID int64) bool {
	first, ok := occs[0].docs[docID]
	if !ok {
		return false
	}
	for col := range first {
		matched := true
		for i := 0; i+1 < len(occs); i++ {
			a, aok := occs[i].docs[docID]
			b, bok := occs[i+1].docs[docID]
			if !aok || !bok {
				matched = false
				break
			}
			if !pairWithin(a[col], occs[i].tokens, b[col], occs[i+1].tokens, slops[i]) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// pairWithin reports whether some occurrence of phrase A (last-token
// positions endsA, length lenA) and some occurrence of phrase B lie within
// slop positions of each other in either order. Occurrences of one phrase
// all span the same number of tokens, so the nearest pair by position is
// found with a single merge scan.
func pairWithin(endsA []int, lenA int, endsB []int, lenB int, slop int) bool {
	i, j := 0, 0
	for i < len(endsA) && j < len(endsB) {
		if gap(endsA[i], lenA, endsB[j], lenB) <= slop+1 {
			return true
		}
		if endsA[i] < endsB[j] {
			i++
		} else {
			j++
		}
	}
	return false
}

// gap measures the token distance between two phrase occurrences given by
// their last-token position and length. Overlapping occurrences have gap 0.
func gap(endA, lenA, endB, lenB int) int {
	startA := endA - lenA + 1
	startB := endB - lenB + 1
	switch {
	case startB > endA:
		return startB - endA
	case startA > endB:
		return startA - endB
	default:
		return 0
	}
}

func docsOf(occs phraseOccs) []int64 {
	if len(occs.docs) == 0 {
		return nil
	}
	out := make([]int64, 0, len(occs.docs))
	for docID := range occs.docs {
		out = append(out, docID)
	}
	slices.Sort(out)
	return out
}

// intersect returns the ids present in both sorted inputs.
func intersect(a, b []int64) []int64 {
	var out []int64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// union merges two sorted id sets.
func union(a, b []int64) []int64 {
	var out []int64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// difference returns the ids in a that are absent from b.
func difference(a, b []int64) []int64 {
	var out []int64
	j := 0
	for _, id := range a {
		for j < len(b) && b[j] < id {
			j++
		}
		if j < len(b) && b[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Package index implements the base inverted index: term → document →
// column → positions. The term dictionary is an ordered skip list so prefix
// queries can range-scan it, and each term's postings are a skip list keyed
// by document id so lookups come back in ascending id order without sorting.
package index

import (
	"strings"

	"github.com/huandu/skiplist"

	"github.com/searchlite/searchlite/internal/tokenizer"
)

// Index is the committed (base) layer of the inverted index. It is not
// internally synchronised: the engine serialises all access under its own
// single-writer lock.
type Index struct {
	terms *skiplist.SkipList // term string -> *skiplist.SkipList (docID int64 -> ColumnHits)
	docs  map[int64]map[string]struct{}
}

// New creates an empty index.
func New() *Index {
	return &Index{
		terms: skiplist.New(skiplist.String),
		docs:  make(map[int64]map[string]struct{}),
	}
}

// Contains reports whether the document is present in the index.
func (x *Index) Contains(docID int64) bool {
	_, ok := x.docs[docID]
	return ok
}

// DocCount returns the number of indexed documents.
func (x *Index) DocCount() int {
	return len(x.docs)
}

// TermCount returns the number of distinct terms in the dictionary.
func (x *Index) TermCount() int {
	return x.terms.Len()
}

// Add tokenizes every column of the document and appends its postings.
// The document must not already be present.
func (x *Index) Add(docID int64, columns []string) {
	termSet := make(map[string]struct{})
	for col, content := range columns {
		for _, tok := range tokenizer.Tokenize(content) {
			x.addPosition(tok.Term, docID, col, tok.Position)
			termSet[tok.Term] = struct{}{}
		}
	}
	x.docs[docID] = termSet
}

// Remove deletes every posting for the document across all terms and
// columns. Removing an absent document is a no-op.
func (x *Index) Remove(docID int64) {
	termSet, ok := x.docs[docID]
	if !ok {
		return
	}
	for term := range termSet {
		x.removeDoc(term, docID)
	}
	delete(x.docs, docID)
}

// ReplaceColumn removes the document's postings restricted to the given
// column, re-tokenizes the new content, and re-inserts. Other columns are
// untouched.
func (x *Index) ReplaceColumn(docID int64, col int, content string) {
	termSet, ok := x.docs[docID]
	if !ok {
		return
	}
	for term := range termSet {
		postings := x.postingsFor(term)
		if postings == nil {
			delete(termSet, term)
			continue
		}
		hitsVal, found := postings.GetValue(docID)
		if !found {
			delete(termSet, term)
			continue
		}
		hits := hitsVal.(ColumnHits)
		delete(hits, col)
		if len(hits) == 0 {
			x.removeDoc(term, docID)
			delete(termSet, term)
		}
	}
	for _, tok := range tokenizer.Tokenize(content) {
		x.addPosition(tok.Term, docID, col, tok.Position)
		termSet[tok.Term] = struct{}{}
	}
}

// Lookup returns the postings for the exact term, ascending by DocID.
func (x *Index) Lookup(term string) PostingList {
	postings := x.postingsFor(term)
	if postings == nil {
		return nil
	}
	out := make(PostingList, 0, postings.Len())
	for el := postings.Front(); el != nil; el = el.Next() {
		out = append(out, Posting{
			DocID: el.Key().(int64),
			Hits:  el.Value.(ColumnHits),
		})
	}
	return out
}

// LookupPrefix returns the union of postings over every term whose leading
// characters equal the prefix, ascending by DocID.
func (x *Index) LookupPrefix(prefix string) PostingList {
	merged := make(map[int64]ColumnHits)
	for el := x.terms.Find(prefix); el != nil; el = el.Next() {
		term := el.Key().(string)
		if !strings.HasPrefix(term, prefix) {
			break
		}
		postings := el.Value.(*skiplist.SkipList)
		for pel := postings.Front(); pel != nil; pel = pel.Next() {
			docID := pel.Key().(int64)
			hits := pel.Value.(ColumnHits)
			if existing, ok := merged[docID]; ok {
				existing.merge(hits)
			} else {
				merged[docID] = hits.clone()
			}
		}
	}
	return sortedPostings(merged)
}

// Terms visits the dictionary in ascending term order.
func (x *Index) Terms(fn func(term string) bool) {
	for el := x.terms.Front(); el != nil; el = el.Next() {
		if !fn(el.Key().(string)) {
			return
		}
	}
}

func (x *Index) addPosition(term string, docID int64, col, pos int) {
	var postings *skiplist.SkipList
	if val, ok := x.terms.GetValue(term); ok {
		postings = val.(*skiplist.SkipList)
	} else {
		postings = skiplist.New(skiplist.Int64)
		x.terms.Set(term, postings)
	}
	var hits ColumnHits
	if val, ok := postings.GetValue(docID); ok {
		hits = val.(ColumnHits)
	} else {
		hits = make(ColumnHits)
		postings.Set(docID, hits)
	}
	// The tokenizer emits positions in increasing order, so appending keeps
	// the list sorted.
	hits[col] = append(hits[col], pos)
}

func (x *Index) postingsFor(term string) *skiplist.SkipList {
	val, ok := x.terms.GetValue(term)
	if !ok {
		return nil
	}
	return val.(*skiplist.SkipList)
}

func (x *Index) removeDoc(term string, docID int64) {
	postings := x.postingsFor(term)
	if postings == nil {
		return
	}
	postings.Remove(docID)
	if postings.Len() == 0 {
		x.terms.Remove(term)
	}
}

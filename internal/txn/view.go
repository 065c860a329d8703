package txn

import (
	"github.com/searchlite/searchlite/internal/index"
)

// mergedView is the base ⊕ overlay read view. Base postings of overlaid
// documents are masked out and replaced by the overlay's own postings, so a
// query sees exactly what the base would contain after commit.
type mergedView struct {
	o *Overlay
}

// View returns the merged read view for the evaluator. The view is live: it
// reflects later staged operations without being rebuilt.
func (o *Overlay) View() index.View {
	return &mergedView{o: o}
}

func (v *mergedView) Lookup(term string) index.PostingList {
	return v.merge(v.o.base.Lookup(term), v.o.idx.Lookup(term))
}

func (v *mergedView) LookupPrefix(prefix string) index.PostingList {
	return v.merge(v.o.base.LookupPrefix(prefix), v.o.idx.LookupPrefix(prefix))
}

// merge interleaves base postings (minus overlaid documents) with overlay
// postings. Both inputs are ascending by DocID and, after masking, disjoint.
func (v *mergedView) merge(base, over index.PostingList) index.PostingList {
	out := make(index.PostingList, 0, len(base)+len(over))
	i, j := 0, 0
	for i < len(base) && j < len(over) {
		if _, overlaid := v.o.pending[base[i].DocID]; overlaid {
			i++
			continue
		}
		if base[i].DocID < over[j].DocID {
			out = append(out, base[i])
			i++
		} else {
			out = append(out, over[j])
			j++
		}
	}
	for ; i < len(base); i++ {
		if _, overlaid := v.o.pending[base[i].DocID]; overlaid {
			continue
		}
		out = append(out, base[i])
	}
	out = append(out, over[j:]...)
	if len(out) == 0 {
		return nil
	}
	return out
}

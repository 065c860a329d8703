package txn

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/searchlite/searchlite/internal/docstore"
	"github.com/searchlite/searchlite/internal/index"
	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
)

const ncols = 3

// newFixture builds a base index and store holding the two-document corpus
// most tests start from.
func newFixture(t *testing.T) (*index.Index, docstore.Store) {
	t.Helper()
	ctx := context.Background()
	base := index.New()
	store := docstore.NewMemory()
	docs := map[int64][]string{
		1: {"red fox runs", "", ""},
		2: {"red dog sleeps", "", ""},
	}
	for id, cols := range docs {
		base.Add(id, cols)
		if err := store.Put(ctx, id, cols); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	return base, store
}

func lookupDocs(v index.View, term string) []int64 {
	var out []int64
	for _, p := range v.Lookup(term) {
		out = append(out, p.DocID)
	}
	return out
}

func TestStageInsertVisibleInView(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(3, []string{"red cat", "", ""}); err != nil {
		t.Fatalf("StageInsert: %v", err)
	}
	if got := lookupDocs(o.View(), "red"); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Errorf("red = %v, want [1 2 3]", got)
	}
	if base.Contains(3) {
		t.Error("base index mutated before commit")
	}
	if !o.Visible(3) || o.Len() != 1 {
		t.Errorf("Visible(3) = %v, Len = %d", o.Visible(3), o.Len())
	}
}

func TestStageInsertRejectsVisibleID(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(1, []string{"x", "", ""}); !errors.Is(err, pkgerrors.ErrDocumentExists) {
		t.Errorf("insert over base doc: err = %v, want ErrDocumentExists", err)
	}
	if err := o.StageInsert(3, []string{"x", "", ""}); err != nil {
		t.Fatalf("StageInsert: %v", err)
	}
	if err := o.StageInsert(3, []string{"y", "", ""}); !errors.Is(err, pkgerrors.ErrDocumentExists) {
		t.Errorf("insert over staged doc: err = %v, want ErrDocumentExists", err)
	}
}

func TestStageInsertColumnCount(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(3, []string{"only one"}); !errors.Is(err, pkgerrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestStageDeleteMasksBaseDoc(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageDelete(1); err != nil {
		t.Fatalf("StageDelete: %v", err)
	}
	if got := lookupDocs(o.View(), "red"); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("red = %v, want [2]", got)
	}
	if o.Visible(1) {
		t.Error("deleted doc still visible")
	}
	if !base.Contains(1) {
		t.Error("base index mutated before commit")
	}
}

func TestStageDeleteErrors(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageDelete(9); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("delete absent: err = %v, want ErrDocumentNotFound", err)
	}
	if err := o.StageDelete(1); err != nil {
		t.Fatalf("StageDelete: %v", err)
	}
	if err := o.StageDelete(1); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("double delete: err = %v, want ErrDocumentNotFound", err)
	}
}

func TestStageDeleteSupersedesInsert(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(3, []string{"red cat", "", ""}); err != nil {
		t.Fatalf("StageInsert: %v", err)
	}
	if err := o.StageDelete(3); err != nil {
		t.Fatalf("StageDelete: %v", err)
	}
	if got := lookupDocs(o.View(), "cat"); got != nil {
		t.Errorf("cat = %v, want nil", got)
	}
	// The id stays reserved until the transaction resolves.
	if err := o.StageInsert(3, []string{"again", "", ""}); !errors.Is(err, pkgerrors.ErrInvariant) {
		t.Errorf("reinsert after pending delete: err = %v, want ErrInvariant", err)
	}
}

func TestStageReplaceColumn(t *testing.T) {
	ctx := context.Background()
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageReplaceColumn(ctx, 1, 0, "blue fox walks"); err != nil {
		t.Fatalf("StageReplaceColumn: %v", err)
	}
	v := o.View()
	if got := lookupDocs(v, "blue"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("blue = %v, want [1]", got)
	}
	if got := lookupDocs(v, "runs"); got != nil {
		t.Errorf("runs = %v, want nil after rewrite", got)
	}
	if got := lookupDocs(v, "red"); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("red = %v, want [2]", got)
	}
}

func TestStageReplaceColumnKeepsOtherColumns(t *testing.T) {
	ctx := context.Background()
	base, store := newFixture(t)
	base.Add(3, []string{"alpha", "beta", "gamma"})
	if err := store.Put(ctx, 3, []string{"alpha", "beta", "gamma"}); err != nil {
		t.Fatal(err)
	}
	o := New(base, store, ncols)
	if err := o.StageReplaceColumn(ctx, 3, 1, "delta"); err != nil {
		t.Fatalf("StageReplaceColumn: %v", err)
	}
	v := o.View()
	if got := lookupDocs(v, "alpha"); !reflect.DeepEqual(got, []int64{3}) {
		t.Errorf("alpha = %v, want [3]", got)
	}
	if got := lookupDocs(v, "beta"); got != nil {
		t.Errorf("beta = %v, want nil", got)
	}
	if got := lookupDocs(v, "delta"); !reflect.DeepEqual(got, []int64{3}) {
		t.Errorf("delta = %v, want [3]", got)
	}
}

func TestStageReplaceColumnErrors(t *testing.T) {
	ctx := context.Background()
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageReplaceColumn(ctx, 1, 5, "x"); !errors.Is(err, pkgerrors.ErrUnknownColumn) {
		t.Errorf("bad column: err = %v, want ErrUnknownColumn", err)
	}
	if err := o.StageReplaceColumn(ctx, 9, 0, "x"); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("absent doc: err = %v, want ErrDocumentNotFound", err)
	}
	if err := o.StageDelete(1); err != nil {
		t.Fatal(err)
	}
	if err := o.StageReplaceColumn(ctx, 1, 0, "x"); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("replace after delete: err = %v, want ErrDocumentNotFound", err)
	}
}

func TestResolveAppliesStagedOps(t *testing.T) {
	ctx := context.Background()
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(3, []string{"red cat", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := o.StageDelete(2); err != nil {
		t.Fatal(err)
	}
	if err := o.StageReplaceColumn(ctx, 1, 0, "blue fox"); err != nil {
		t.Fatal(err)
	}
	if err := o.Resolve(ctx); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if o.Len() != 0 {
		t.Errorf("Len after resolve = %d, want 0", o.Len())
	}
	if got := lookupDocs(base, "red"); !reflect.DeepEqual(got, []int64{3}) {
		t.Errorf("base red = %v, want [3]", got)
	}
	if got := lookupDocs(base, "blue"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("base blue = %v, want [1]", got)
	}
	if base.Contains(2) {
		t.Error("deleted doc still in base")
	}
	if _, err := store.Get(ctx, 2); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("store Get(2) err = %v, want ErrDocumentNotFound", err)
	}
	if cols, err := store.Get(ctx, 1); err != nil || cols[0] != "blue fox" {
		t.Errorf("store Get(1) = %v, %v", cols, err)
	}
}

func TestResolveInsertThenDeleteIsNoop(t *testing.T) {
	ctx := context.Background()
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(3, []string{"red cat", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := o.StageDelete(3); err != nil {
		t.Fatal(err)
	}
	if err := o.Resolve(ctx); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if base.Contains(3) {
		t.Error("tombstoned doc reached the base")
	}
	if _, err := store.Get(ctx, 3); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("store Get(3) err = %v, want ErrDocumentNotFound", err)
	}
}

// flakyStore wraps a Store and fails the next writes, counted separately
// for puts and deletes so a test can fail one specific write in a batch.
type flakyStore struct {
	docstore.Store
	failPuts    int
	failDeletes int
}

func (s *flakyStore) Put(ctx context.Context, docID int64, columns []string) error {
	if s.failPuts > 0 {
		s.failPuts--
		return errors.New("store unavailable")
	}
	return s.Store.Put(ctx, docID, columns)
}

func (s *flakyStore) Delete(ctx context.Context, docID int64) error {
	if s.failDeletes > 0 {
		s.failDeletes--
		return errors.New("store unavailable")
	}
	return s.Store.Delete(ctx, docID)
}

func TestResolveStoreFailureLeavesBaseUnchanged(t *testing.T) {
	ctx := context.Background()
	base, store := newFixture(t)
	flaky := &flakyStore{Store: store, failPuts: 1}
	o := New(base, flaky, ncols)
	if err := o.StageInsert(5, []string{"red cat", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := o.Resolve(ctx); err == nil {
		t.Fatal("Resolve succeeded, want store error")
	}
	if base.Contains(5) {
		t.Error("failed resolve mutated the base")
	}
	if _, err := store.Get(ctx, 5); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("store Get(5) err = %v, want ErrDocumentNotFound", err)
	}
	if o.Len() != 1 {
		t.Errorf("pending set Len = %d after failed resolve, want 1", o.Len())
	}
	// The pending set survived, so the commit can be retried.
	if err := o.Resolve(ctx); err != nil {
		t.Fatalf("retried Resolve: %v", err)
	}
	if !base.Contains(5) || o.Len() != 0 {
		t.Errorf("after retry: Contains(5) = %v, Len = %d", base.Contains(5), o.Len())
	}
}

func TestResolveStoreFailureRestoresPriorWrites(t *testing.T) {
	ctx := context.Background()
	base, store := newFixture(t)
	flaky := &flakyStore{Store: store, failDeletes: 1}
	o := New(base, flaky, ncols)
	if err := o.StageInsert(5, []string{"red cat", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := o.StageDelete(1); err != nil {
		t.Fatal(err)
	}
	// The insert's put lands first, then the delete fails; the put must be
	// undone so the store keeps no part of the commit.
	if err := o.Resolve(ctx); err == nil {
		t.Fatal("Resolve succeeded, want store error")
	}
	if _, err := store.Get(ctx, 5); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("store Get(5) err = %v, want ErrDocumentNotFound", err)
	}
	if _, err := store.Get(ctx, 1); err != nil {
		t.Errorf("store Get(1) after failed resolve: %v", err)
	}
	if base.Contains(5) || !base.Contains(1) {
		t.Errorf("base changed: Contains(5) = %v, Contains(1) = %v",
			base.Contains(5), base.Contains(1))
	}
	if err := o.Resolve(ctx); err != nil {
		t.Fatalf("retried Resolve: %v", err)
	}
	if !base.Contains(5) || base.Contains(1) {
		t.Errorf("after retry: Contains(5) = %v, Contains(1) = %v",
			base.Contains(5), base.Contains(1))
	}
}

func TestBatchFollowsStagingOrder(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(5, []string{"late riser", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := o.StageDelete(2); err != nil {
		t.Fatal(err)
	}
	if err := o.StageInsert(3, []string{"red cat", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := o.StageDelete(3); err != nil {
		t.Fatal(err)
	}
	batch := o.Batch()
	// Doc 3's insert+delete collapses away entirely: it never reached the
	// base, so the batch carries nothing for it.
	var ids []int64
	for _, m := range batch.Mutations {
		ids = append(ids, m.DocID)
	}
	if !reflect.DeepEqual(ids, []int64{5, 2}) {
		t.Fatalf("mutation order = %v, want [5 2]", ids)
	}
	if batch.Mutations[0].Delete || len(batch.Mutations[0].Postings) == 0 {
		t.Errorf("mutation 0 = %+v, want insert with postings", batch.Mutations[0])
	}
	if !batch.Mutations[1].Delete {
		t.Errorf("mutation 1 = %+v, want delete", batch.Mutations[1])
	}
}

func TestMergedViewPrefix(t *testing.T) {
	base, store := newFixture(t)
	o := New(base, store, ncols)
	if err := o.StageInsert(3, []string{"reed whistle", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := o.StageDelete(2); err != nil {
		t.Fatal(err)
	}
	var got []int64
	for _, p := range o.View().LookupPrefix("re") {
		got = append(got, p.DocID)
	}
	if !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Errorf("prefix re = %v, want [1 3]", got)
	}
}

package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/searchlite/searchlite/internal/commitlog"
	"github.com/searchlite/searchlite/internal/docstore"
	"github.com/searchlite/searchlite/pkg/config"
	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
)

// recordSink keeps every published batch for inspection.
type recordSink struct {
	batches []commitlog.Batch
	fail    error
}

func (s *recordSink) Publish(ctx context.Context, batch commitlog.Batch) error {
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordSink) Close() error { return nil }

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		Columns:     []string{"a", "b", "c"},
		Tokenizer:   "simple",
		DefaultSlop: 10,
		PageSize:    4096,
	}
}

func newTestEngine(t *testing.T) (*Engine, docstore.Store, *recordSink) {
	t.Helper()
	store := docstore.NewMemory()
	sink := &recordSink{}
	e, err := New(context.Background(), testConfig(), Options{Store: store, Sink: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, store, sink
}

func seedCorpus(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	docs := []struct {
		id   int64
		cols []string
	}{
		{1, []string{"red fox runs", "", ""}},
		{2, []string{"red dog sleeps", "", ""}},
	}
	for _, d := range docs {
		if err := e.Insert(ctx, d.id, d.cols); err != nil {
			t.Fatalf("Insert(%d): %v", d.id, err)
		}
	}
}

func search(t *testing.T, e *Engine, text string) []int64 {
	t.Helper()
	ids, err := e.Search(context.Background(), text)
	if err != nil {
		t.Fatalf("Search(%q): %v", text, err)
	}
	return ids
}

func TestInsertAndSearch(t *testing.T) {
	e, _, sink := newTestEngine(t)
	seedCorpus(t, e)
	if got := search(t, e, "red"); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("red = %v, want [1 2]", got)
	}
	if got := search(t, e, `"red fox"`); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("phrase = %v, want [1]", got)
	}
	if e.DocCount() != 2 {
		t.Errorf("DocCount = %d, want 2", e.DocCount())
	}
	// Each direct insert publishes its own single-mutation batch.
	if len(sink.batches) != 2 {
		t.Errorf("published %d batches, want 2", len(sink.batches))
	}
}

func TestInsertErrors(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	seedCorpus(t, e)
	if err := e.Insert(ctx, 1, []string{"x", "", ""}); !errors.Is(err, pkgerrors.ErrDocumentExists) {
		t.Errorf("duplicate insert: err = %v, want ErrDocumentExists", err)
	}
	if err := e.Insert(ctx, 3, []string{"too", "few"}); !errors.Is(err, pkgerrors.ErrInvalidInput) {
		t.Errorf("short insert: err = %v, want ErrInvalidInput", err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t)
	seedCorpus(t, e)
	if err := e.Update(ctx, 1, "a", "blue fox walks"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := search(t, e, "blue"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("blue = %v, want [1]", got)
	}
	if got := search(t, e, "runs"); got != nil {
		t.Errorf("runs = %v, want nil", got)
	}
	cols, err := store.Get(ctx, 1)
	if err != nil || cols[0] != "blue fox walks" {
		t.Errorf("store Get(1) = %v, %v", cols, err)
	}
}

func TestUpdateErrors(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	seedCorpus(t, e)
	if err := e.Update(ctx, 1, "nope", "x"); !errors.Is(err, pkgerrors.ErrUnknownColumn) {
		t.Errorf("bad column: err = %v, want ErrUnknownColumn", err)
	}
	if err := e.Update(ctx, 9, "a", "x"); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("absent doc: err = %v, want ErrDocumentNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e, store, sink := newTestEngine(t)
	seedCorpus(t, e)
	if err := e.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := search(t, e, "red"); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("red = %v, want [2]", got)
	}
	if _, err := store.Get(ctx, 1); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("store Get(1) err = %v, want ErrDocumentNotFound", err)
	}
	if err := e.Delete(ctx, 1); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("double delete: err = %v, want ErrDocumentNotFound", err)
	}
	last := sink.batches[len(sink.batches)-1]
	if len(last.Mutations) != 1 || !last.Mutations[0].Delete {
		t.Errorf("last batch = %+v, want one delete mutation", last)
	}
}

func TestTransactionVisibility(t *testing.T) {
	ctx := context.Background()
	e, _, sink := newTestEngine(t)
	seedCorpus(t, e)
	published := len(sink.batches)

	if err := e.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.Insert(ctx, 3, []string{"red cat", "", ""}); err != nil {
		t.Fatalf("staged insert: %v", err)
	}
	if err := e.Delete(ctx, 2); err != nil {
		t.Fatalf("staged delete: %v", err)
	}

	// Staged state is query-visible before commit, base state untouched.
	if got := search(t, e, "red"); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Errorf("red in txn = %v, want [1 3]", got)
	}
	if e.DocCount() != 2 {
		t.Errorf("base DocCount in txn = %d, want 2", e.DocCount())
	}
	if len(sink.batches) != published {
		t.Error("sink published before commit")
	}

	if err := e.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := search(t, e, "red"); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Errorf("red after commit = %v, want [1 3]", got)
	}
	if e.DocCount() != 2 {
		t.Errorf("DocCount after commit = %d, want 2", e.DocCount())
	}
	if len(sink.batches) != published+1 {
		t.Fatalf("published %d batches after commit, want %d", len(sink.batches), published+1)
	}
	if got := len(sink.batches[published].Mutations); got != 2 {
		t.Errorf("commit batch has %d mutations, want 2", got)
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	e, _, sink := newTestEngine(t)
	seedCorpus(t, e)
	published := len(sink.batches)

	if err := e.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(ctx, 3, []string{"red cat", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := e.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if e.InTransaction() {
		t.Error("still in transaction after rollback")
	}
	if got := search(t, e, "red"); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("red after rollback = %v, want [1 2]", got)
	}
	if len(sink.batches) != published {
		t.Error("rollback published to sink")
	}
	// The rolled-back id is free again.
	if err := e.Insert(ctx, 3, []string{"red cat", "", ""}); err != nil {
		t.Errorf("insert after rollback: %v", err)
	}
}

// failingStore wraps a Store and fails the next puts.
type failingStore struct {
	docstore.Store
	failPuts int
}

func (s *failingStore) Put(ctx context.Context, docID int64, columns []string) error {
	if s.failPuts > 0 {
		s.failPuts--
		return errors.New("store unavailable")
	}
	return s.Store.Put(ctx, docID, columns)
}

func TestRollbackAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	flaky := &failingStore{Store: store}
	sink := &recordSink{}
	e, err := New(ctx, testConfig(), Options{Store: flaky, Sink: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(ctx, 1, []string{"glimmer fox", "", ""}); err != nil {
		t.Fatal(err)
	}
	flaky.failPuts = 1
	if err := e.Commit(ctx); err == nil {
		t.Fatal("Commit succeeded, want store error")
	}
	if !e.InTransaction() {
		t.Error("failed commit closed the transaction")
	}
	if err := e.Rollback(); err != nil {
		t.Fatalf("Rollback after failed commit: %v", err)
	}
	if got := search(t, e, "glimmer"); got != nil {
		t.Errorf("glimmer after rollback = %v, want none", got)
	}
	if e.DocCount() != 0 {
		t.Errorf("DocCount = %d, want 0", e.DocCount())
	}
	if _, err := store.Get(ctx, 1); !errors.Is(err, pkgerrors.ErrDocumentNotFound) {
		t.Errorf("store Get(1) err = %v, want ErrDocumentNotFound", err)
	}
	if len(sink.batches) != 0 {
		t.Errorf("published %d batches, want 0", len(sink.batches))
	}
}

func TestCommitRetryAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	flaky := &failingStore{Store: store}
	sink := &recordSink{}
	e, err := New(ctx, testConfig(), Options{Store: flaky, Sink: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(ctx, 1, []string{"glimmer fox", "", ""}); err != nil {
		t.Fatal(err)
	}
	flaky.failPuts = 1
	if err := e.Commit(ctx); err == nil {
		t.Fatal("Commit succeeded, want store error")
	}
	if err := e.Commit(ctx); err != nil {
		t.Fatalf("retried Commit: %v", err)
	}
	if got := search(t, e, "glimmer"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("glimmer = %v, want [1]", got)
	}
	// The first attempt must not leave a second copy of the postings.
	_, rows, err := e.SearchMatchinfo(ctx, "glimmer")
	if err != nil {
		t.Fatalf("SearchMatchinfo: %v", err)
	}
	if len(rows) != 1 || rows[0].Columns[0].Hits != 1 {
		t.Errorf("matchinfo rows = %+v, want one row with one hit in column 0", rows)
	}
	if len(sink.batches) != 1 {
		t.Errorf("published %d batches, want 1", len(sink.batches))
	}
}

func TestTransactionControlErrors(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	if err := e.Commit(ctx); !errors.Is(err, pkgerrors.ErrNoTransaction) {
		t.Errorf("commit without txn: err = %v, want ErrNoTransaction", err)
	}
	if err := e.Rollback(); !errors.Is(err, pkgerrors.ErrNoTransaction) {
		t.Errorf("rollback without txn: err = %v, want ErrNoTransaction", err)
	}
	if err := e.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := e.Begin(); !errors.Is(err, pkgerrors.ErrTransactionOpen) {
		t.Errorf("nested begin: err = %v, want ErrTransactionOpen", err)
	}
}

func TestRebuildFromStore(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	if err := store.Put(ctx, 1, []string{"red fox runs", "", ""}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, 2, []string{"red dog sleeps", "", ""}); err != nil {
		t.Fatal(err)
	}
	e, err := New(ctx, testConfig(), Options{Store: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.DocCount() != 2 {
		t.Errorf("DocCount = %d, want 2", e.DocCount())
	}
	if got := search(t, e, `"red fox"`); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("phrase = %v, want [1]", got)
	}
}

func TestRebuildRejectsColumnMismatch(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	if err := store.Put(ctx, 1, []string{"only", "two"}); err != nil {
		t.Fatal(err)
	}
	if _, err := New(ctx, testConfig(), Options{Store: store}); !errors.Is(err, pkgerrors.ErrInvariant) {
		t.Errorf("New err = %v, want ErrInvariant", err)
	}
}

func TestSearchSyntaxError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, err := e.Search(context.Background(), "fox AND"); !errors.Is(err, pkgerrors.ErrQuerySyntax) {
		t.Errorf("err = %v, want ErrQuerySyntax", err)
	}
}

func TestSearchMatchinfo(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	seedCorpus(t, e)
	ids, rows, err := e.SearchMatchinfo(ctx, "red")
	if err != nil {
		t.Fatalf("SearchMatchinfo: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	st := rows[0].Columns[0]
	if st.Hits != 1 || st.GlobalHits != 2 || st.GlobalDocs != 2 {
		t.Errorf("doc 1 column a stats = %+v, want {1 2 2}", st)
	}
}

func TestSearchMatchinfoRejectsCompoundQueries(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	seedCorpus(t, e)
	for _, text := range []string{`"red fox"`, "re*", "a:red", "red AND fox"} {
		if _, _, err := e.SearchMatchinfo(ctx, text); !errors.Is(err, pkgerrors.ErrInvalidInput) {
			t.Errorf("SearchMatchinfo(%q) err = %v, want ErrInvalidInput", text, err)
		}
	}
}

func TestSearchMatchinfoInTransaction(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	seedCorpus(t, e)
	if err := e.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := e.Delete(ctx, 2); err != nil {
		t.Fatal(err)
	}
	ids, rows, err := e.SearchMatchinfo(ctx, "red")
	if err != nil {
		t.Fatalf("SearchMatchinfo: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{1}) {
		t.Errorf("ids = %v, want [1]", ids)
	}
	if len(rows) != 1 || rows[0].Columns[0].GlobalDocs != 1 {
		t.Errorf("rows = %+v, want stats over the merged view", rows)
	}
}

func TestSearchCacheableFlag(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	seedCorpus(t, e)

	if _, cacheable, err := e.SearchCacheable(ctx, "red"); err != nil || !cacheable {
		t.Errorf("outside transaction: cacheable = %v, err = %v, want true", cacheable, err)
	}
	if _, _, cacheable, err := e.SearchMatchinfoCacheable(ctx, "red"); err != nil || !cacheable {
		t.Errorf("matchinfo outside transaction: cacheable = %v, err = %v, want true", cacheable, err)
	}

	if err := e.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(ctx, 3, []string{"red cat", "", ""}); err != nil {
		t.Fatal(err)
	}
	ids, cacheable, err := e.SearchCacheable(ctx, "red")
	if err != nil {
		t.Fatalf("SearchCacheable: %v", err)
	}
	if cacheable {
		t.Error("result computed against the overlay reported cacheable")
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
		t.Errorf("red in transaction = %v, want [1 2 3]", ids)
	}
	if _, _, cacheable, err := e.SearchMatchinfoCacheable(ctx, "red"); err != nil || cacheable {
		t.Errorf("matchinfo in transaction: cacheable = %v, err = %v, want false", cacheable, err)
	}
}

func TestSinkFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	sink := &recordSink{fail: errors.New("broker down")}
	e, err := New(ctx, testConfig(), Options{Store: store, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(ctx, 1, []string{"red fox", "", ""}); err != nil {
		t.Errorf("Insert with failing sink: %v", err)
	}
	if got := search(t, e, "red"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("red = %v, want [1]", got)
	}
}

package btree

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/dsqlcore/dsqlite/internal/pager"
	"github.com/dsqlcore/dsqlite/internal/record"
	"github.com/dsqlcore/dsqlite/internal/value"
)

func intKey(i int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(i))
	return b
}

func openTestPager(t *testing.T, pageSize int) *pager.Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(pager.Config{Path: filepath.Join(dir, "test.db"), PageSize: pageSize})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInsertSearchDeleteEmpty(t *testing.T) {
	p := openTestPager(t, 512)
	defer p.Close()
	tr, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}

	if _, found, err := tr.Search(intKey(1)); err != nil || found {
		t.Fatalf("search on empty tree: found=%v err=%v", found, err)
	}

	rec := record.Record{Key: intKey(1), Values: []value.Value{value.Integer(42)}}
	if err := tr.Insert(rec); err != nil {
		t.Fatal(err)
	}

	got, found, err := tr.Search(intKey(1))
	if err != nil || !found {
		t.Fatalf("search after insert: found=%v err=%v", found, err)
	}
	if got.Values[0].I != 42 {
		t.Fatalf("value = %d, want 42", got.Values[0].I)
	}

	ok, err := tr.Delete(intKey(1))
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, found, err := tr.Search(intKey(1)); err != nil || found {
		t.Fatalf("search after delete: found=%v err=%v", found, err)
	}
}

func TestReopenPreservesTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	p1, err := pager.Open(pager.Config{Path: path, PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	tr1, err := Open(p1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if err := tr1.Insert(record.Record{Key: intKey(i), Values: []value.Value{value.Integer(int64(i))}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := p1.Close(); err != nil {
		t.Fatal(err)
	}

	p2, err := pager.Open(pager.Config{Path: path, PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	tr2, err := Open(p2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		got, found, err := tr2.Search(intKey(i))
		if err != nil || !found {
			t.Fatalf("key %d: found=%v err=%v", i, found, err)
		}
		if got.Values[0].I != int64(i) {
			t.Fatalf("key %d: value = %d, want %d", i, got.Values[0].I, i)
		}
	}
}

func TestManyKeysForwardInsertSplitsAndScans(t *testing.T) {
	p := openTestPager(t, 512)
	defer p.Close()
	tr, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		if err := tr.Insert(record.Record{Key: intKey(i), Values: []value.Value{value.Integer(int64(i))}}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		got, found, err := tr.Search(intKey(i))
		if err != nil || !found {
			t.Fatalf("key %d: found=%v err=%v", i, found, err)
		}
		if got.Values[0].I != int64(i) {
			t.Fatalf("key %d: value = %d", i, got.Values[0].I)
		}
	}

	cur, err := tr.Scan()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for cur.Valid() {
		rec := cur.Record()
		want := intKey(count)
		if !record.KeyEqual(rec.Key, want) {
			t.Fatalf("scan position %d: key mismatch", count)
		}
		count++
		if err := cur.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if count != n {
		t.Fatalf("scanned %d records, want %d", count, n)
	}
}

func TestReverseInsertStaysBalanced(t *testing.T) {
	p := openTestPager(t, 512)
	defer p.Close()
	tr, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}

	const n = 150
	for i := n - 1; i >= 0; i-- {
		if err := tr.Insert(record.Record{Key: intKey(i), Values: []value.Value{value.Integer(int64(i))}}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	cur, err := tr.Scan()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for cur.Valid() {
		want := intKey(count)
		if !record.KeyEqual(cur.Record().Key, want) {
			t.Fatalf("scan position %d out of order", count)
		}
		count++
		if err := cur.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if count != n {
		t.Fatalf("scanned %d records, want %d", count, n)
	}
}

func TestDeleteTriggersRebalanceAndScanStaysConsistent(t *testing.T) {
	p := openTestPager(t, 512)
	defer p.Close()
	tr, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		if err := tr.Insert(record.Record{Key: intKey(i), Values: []value.Value{value.Integer(int64(i))}}); err != nil {
			t.Fatal(err)
		}
	}

	// Delete every third key to force leaves below the merge threshold.
	deleted := make(map[int]bool)
	for i := 0; i < n; i += 3 {
		ok, err := tr.Delete(intKey(i))
		if err != nil || !ok {
			t.Fatalf("delete %d: ok=%v err=%v", i, ok, err)
		}
		deleted[i] = true
	}

	for i := 0; i < n; i++ {
		_, found, err := tr.Search(intKey(i))
		if err != nil {
			t.Fatal(err)
		}
		if found == deleted[i] {
			t.Fatalf("key %d: found=%v, want found=%v", i, found, !deleted[i])
		}
	}

	cur, err := tr.Scan()
	if err != nil {
		t.Fatal(err)
	}
	var last []byte
	count := 0
	for cur.Valid() {
		rec := cur.Record()
		if last != nil && !record.KeyLess(last, rec.Key) {
			t.Fatalf("scan order violated at position %d", count)
		}
		last = rec.Key
		count++
		if err := cur.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if count != n-len(deleted) {
		t.Fatalf("scanned %d records, want %d", count, n-len(deleted))
	}
}

func TestBulkLoadProducesSearchableOrderedTree(t *testing.T) {
	p := openTestPager(t, 512)
	defer p.Close()

	const n = 300
	records := make([]record.Record, n)
	for i := 0; i < n; i++ {
		records[i] = record.Record{Key: intKey(i), Values: []value.Value{value.Integer(int64(i))}}
	}

	tr, err := BulkLoad(p, records, 0.75)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		got, found, err := tr.Search(intKey(i))
		if err != nil || !found {
			t.Fatalf("key %d: found=%v err=%v", i, found, err)
		}
		if got.Values[0].I != int64(i) {
			t.Fatalf("key %d: value = %d", i, got.Values[0].I)
		}
	}

	cur, err := tr.Scan()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for cur.Valid() {
		if !record.KeyEqual(cur.Record().Key, intKey(count)) {
			t.Fatalf("scan position %d out of order", count)
		}
		count++
		if err := cur.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if count != n {
		t.Fatalf("scanned %d records, want %d", count, n)
	}
}

func TestInsertUpsertReplacesValue(t *testing.T) {
	p := openTestPager(t, 512)
	defer p.Close()
	tr, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.Insert(record.Record{Key: intKey(5), Values: []value.Value{value.Integer(1)}}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(record.Record{Key: intKey(5), Values: []value.Value{value.Integer(2)}}); err != nil {
		t.Fatal(err)
	}
	got, found, err := tr.Search(intKey(5))
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if got.Values[0].I != 2 {
		t.Fatalf("value = %d, want 2 (upsert should replace)", got.Values[0].I)
	}
}

func TestSeekCursorFindsFirstGreaterOrEqual(t *testing.T) {
	p := openTestPager(t, 512)
	defer p.Close()
	tr, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{2, 4, 6, 8, 10} {
		if err := tr.Insert(record.Record{Key: intKey(i), Values: []value.Value{value.Integer(int64(i))}}); err != nil {
			t.Fatal(err)
		}
	}

	cur, err := tr.SeekCursor(intKey(5))
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Valid() {
		t.Fatal("expected a valid cursor")
	}
	if !record.KeyEqual(cur.Record().Key, intKey(6)) {
		t.Fatalf("seek(5) landed on key %v, want 6", cur.Record().Key)
	}
}

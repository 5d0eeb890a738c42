package wal

import (
	"path/filepath"
	"testing"

	"github.com/dsqlcore/dsqlite/internal/pager"
)

func openTemp(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db-wal")
	w, err := Open(path, 512)
	if err != nil {
		t.Fatal(err)
	}
	return w, path
}

func page(fill byte, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func TestOpenCreatesValidHeader(t *testing.T) {
	w, path := openTemp(t)
	defer w.Close()
	if w.salt1 == 0 && w.salt2 == 0 {
		t.Fatal("expected non-zero salts on a freshly created WAL")
	}

	w2, err := Open(path, 512)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()
	if w2.salt1 != w.salt1 || w2.salt2 != w.salt2 {
		t.Fatal("salts did not survive reopen")
	}
	if w2.checkpointSeq != w.checkpointSeq {
		t.Fatal("checkpoint sequence did not survive reopen")
	}
}

func TestAppendTransactionThenReadCommittedFrames(t *testing.T) {
	w, _ := openTemp(t)
	defer w.Close()

	pages := map[pager.PageID][]byte{
		1: page(0xAA, 512),
		2: page(0xBB, 512),
	}
	if err := w.AppendTransaction(pages, 10); err != nil {
		t.Fatal(err)
	}

	committed, dbSize, err := w.ReadCommittedFrames()
	if err != nil {
		t.Fatal(err)
	}
	if dbSize != 10 {
		t.Fatalf("dbSize = %d, want 10", dbSize)
	}
	if len(committed) != 2 {
		t.Fatalf("committed pages = %d, want 2", len(committed))
	}
	for pn, want := range pages {
		got, ok := committed[uint32(pn)]
		if !ok {
			t.Fatalf("page %d missing from committed set", pn)
		}
		if got[0] != want[0] {
			t.Fatalf("page %d: content mismatch", pn)
		}
	}
}

func TestLaterTransactionSupersedesEarlierWriteToSamePage(t *testing.T) {
	w, _ := openTemp(t)
	defer w.Close()

	if err := w.AppendTransaction(map[pager.PageID][]byte{1: page(0x01, 512)}, 5); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendTransaction(map[pager.PageID][]byte{1: page(0x02, 512)}, 6); err != nil {
		t.Fatal(err)
	}

	committed, dbSize, err := w.ReadCommittedFrames()
	if err != nil {
		t.Fatal(err)
	}
	if dbSize != 6 {
		t.Fatalf("dbSize = %d, want 6 (last commit wins)", dbSize)
	}
	if committed[1][0] != 0x02 {
		t.Fatalf("page 1 = %#x, want 0x02 (second transaction should win)", committed[1][0])
	}
}

func TestIncompleteTrailingTransactionIsDiscarded(t *testing.T) {
	w, path := openTemp(t)
	if err := w.AppendTransaction(map[pager.PageID][]byte{1: page(0x01, 512)}, 1); err != nil {
		t.Fatal(err)
	}
	w.Close()

	// Simulate a crash mid-transaction: append one more frame directly,
	// with db_size_after_commit left at zero (never committed).
	w2, err := Open(path, 512)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()

	endPos, err := w2.f.Seek(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	uncommitted := w2.encodeFrame(2, 0, page(0x03, 512))
	if _, err := w2.f.WriteAt(uncommitted, endPos); err != nil {
		t.Fatal(err)
	}

	committed, dbSize, err := w2.ReadCommittedFrames()
	if err != nil {
		t.Fatal(err)
	}
	if dbSize != 1 {
		t.Fatalf("dbSize = %d, want 1 (the dangling frame must not count)", dbSize)
	}
	if _, ok := committed[2]; ok {
		t.Fatal("uncommitted trailing frame must not appear in committed set")
	}
	if committed[1][0] != 0x01 {
		t.Fatal("the prior committed transaction should still be intact")
	}
}

func TestRollbackNeverTouchesWAL(t *testing.T) {
	w, _ := openTemp(t)
	defer w.Close()

	n, err := w.countFrames()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("frame count = %d, want 0 before any commit", n)
	}
	// A rollback in this design simply never calls AppendTransaction, so
	// there is nothing further to assert here beyond the frame count
	// staying at zero.
}

func TestTruncateResetsFramesAndRotatesSalt(t *testing.T) {
	w, _ := openTemp(t)
	defer w.Close()

	oldSalt1 := w.salt1
	if err := w.AppendTransaction(map[pager.PageID][]byte{1: page(0x01, 512)}, 1); err != nil {
		t.Fatal(err)
	}
	if w.frameCount == 0 {
		t.Fatal("expected frameCount > 0 after a commit")
	}

	discarded, err := w.Truncate()
	if err != nil {
		t.Fatal(err)
	}
	if discarded == 0 {
		t.Fatal("Truncate should report the frames it discarded")
	}
	if w.frameCount != 0 {
		t.Fatalf("frameCount after truncate = %d, want 0", w.frameCount)
	}
	if w.salt1 == oldSalt1 {
		t.Fatal("Truncate must rotate salt_1")
	}

	committed, _, err := w.ReadCommittedFrames()
	if err != nil {
		t.Fatal(err)
	}
	if len(committed) != 0 {
		t.Fatal("truncated WAL must report no committed frames")
	}
}

func TestNeedsCheckpointHeuristic(t *testing.T) {
	w, _ := openTemp(t)
	defer w.Close()

	if w.NeedsCheckpoint() {
		t.Fatal("a fresh WAL should not need a checkpoint")
	}
	w.frameCount = checkpointFrameThreshold
	if !w.NeedsCheckpoint() {
		t.Fatal("expected NeedsCheckpoint once the threshold is reached")
	}
}


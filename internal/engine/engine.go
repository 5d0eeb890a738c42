// Package engine wires the pager, B+Tree, write-ahead log, and file lock
// into the single embedded storage engine described by spec §4.10: open
// with crash recovery, auto-transaction-wrapped mutation, explicit
// multi-operation transactions, flush, checkpoint, and stats.
//
// Grounded on the teacher's tinysql.go top-level Open/Close/Query/Exec
// orchestration (one exported type gluing the storage layers together,
// defer-based cleanup on partial-open failure) but built around shadow
// paging rather than the teacher's SQL engine: the WAL here only frames
// and fsyncs a transaction's page images before the pager writes them
// home, so a crash between those two fsyncs can still be repaired by
// replay (spec §4.9), not to journal every write indefinitely.
package engine

import (
	"github.com/dsqlcore/dsqlite/internal/btree"
	"github.com/dsqlcore/dsqlite/internal/dsqlconfig"
	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
	"github.com/dsqlcore/dsqlite/internal/filelock"
	"github.com/dsqlcore/dsqlite/internal/pager"
	"github.com/dsqlcore/dsqlite/internal/record"
	"github.com/dsqlcore/dsqlite/internal/wal"
)

// Engine is the embedded storage engine: one open database file, its WAL,
// its advisory file lock, and the B+Tree over it.
type Engine struct {
	pager        *pager.Pager
	wal          *wal.WAL
	lock         *filelock.Lock
	tree         *btree.Tree
	path         string
	inExplicitTx bool
}

// Open opens (creating if necessary) the database at path, replays any
// committed-but-not-yet-checkpointed WAL frames, and attaches the B+Tree
// (spec §4.9, §4.10). A nil cfg uses dsqlconfig.Default (spec §2.3).
func Open(path string, cfg *dsqlconfig.Config) (*Engine, error) {
	if cfg == nil {
		cfg = dsqlconfig.Default()
	}

	var lock *filelock.Lock
	var err error
	if cfg.LockPath != "" {
		lock, err = filelock.OpenWithPath(cfg.LockPath)
	} else {
		lock, err = filelock.Open(path)
	}
	if err != nil {
		return nil, err
	}
	if err := lock.LockShared(); err != nil {
		lock.Close()
		return nil, err
	}

	p, err := pager.Open(pager.Config{Path: path, PageSize: cfg.PageSize, CacheSize: cfg.CacheSize})
	if err != nil {
		lock.Close()
		return nil, err
	}

	w, err := wal.Open(path+"-wal", p.PageSize())
	if err != nil {
		p.Close()
		lock.Close()
		return nil, err
	}
	w.SetCheckpointThreshold(cfg.CheckpointThresholdFrames)

	if err := recoverFromWAL(p, w); err != nil {
		w.Close()
		p.Close()
		lock.Close()
		return nil, err
	}

	tree, err := btree.Open(p)
	if err != nil {
		w.Close()
		p.Close()
		lock.Close()
		return nil, err
	}
	if ratio, ok, err := cfg.FixedMergeThreshold(); err != nil {
		w.Close()
		p.Close()
		lock.Close()
		return nil, err
	} else if ok {
		tree.Threshold().SetMergeThresholdOverride(ratio)
	}

	return &Engine{pager: p, wal: w, lock: lock, tree: tree, path: path}, nil
}

// recoverFromWAL replays every fully-committed transaction left in the
// WAL into the home file, then truncates it — the crash-recovery step of
// spec §4.9. An incomplete trailing transaction (a crash mid-commit) was
// already dropped by wal.ReadCommittedFrames and is never applied.
func recoverFromWAL(p *pager.Pager, w *wal.WAL) error {
	committed, dbSize, err := w.ReadCommittedFrames()
	if err != nil {
		return err
	}
	if len(committed) == 0 {
		return nil
	}
	if dbSize > p.PageCount() {
		if err := p.EnsurePageCount(dbSize); err != nil {
			return err
		}
	}
	for pn, data := range committed {
		if err := p.WritePage(pager.PageID(pn), data); err != nil {
			return err
		}
	}
	if err := p.Flush(); err != nil {
		return err
	}
	_, err = w.Truncate()
	return err
}

func (e *Engine) beginInternal() error {
	if err := e.lock.LockExclusive(); err != nil {
		return err
	}
	e.pager.BeginTransactionMode()
	return nil
}

// commitInternal is the durability fence of spec §4.10: the transaction's
// modified pages are framed and fsynced to the WAL first, and only once
// that has succeeded are they written to (and fsynced in) the home file.
// A crash at any point before the WAL fsync leaves the home file
// untouched; a crash after it is repaired by recoverFromWAL on the next
// Open.
func (e *Engine) commitInternal() error {
	modified := e.pager.ModifiedPages()
	dbSize := e.pager.PageCount()

	if err := e.wal.AppendTransaction(modified, dbSize); err != nil {
		return err
	}
	if err := e.pager.CommitTransactionPages(); err != nil {
		return err
	}
	if err := e.pager.Flush(); err != nil {
		return err
	}
	e.pager.EndTransactionMode()

	if e.wal.NeedsCheckpoint() {
		_, err := e.wal.Truncate()
		return err
	}
	return nil
}

func (e *Engine) rollbackInternal() error {
	if err := e.pager.RollbackTransactionPages(); err != nil {
		return err
	}
	e.pager.EndTransactionMode()
	return nil
}

// BeginTransaction starts an explicit multi-operation transaction (spec
// §4.10). Insert/Delete called while one is active join it instead of
// auto-committing on their own.
func (e *Engine) BeginTransaction() error {
	if e.pager.InTransaction() {
		return dsqlerr.E(dsqlerr.KindTransaction, "a transaction is already active", nil)
	}
	if err := e.beginInternal(); err != nil {
		return err
	}
	e.inExplicitTx = true
	return nil
}

// CommitTransaction commits the explicit transaction started by
// BeginTransaction.
func (e *Engine) CommitTransaction() error {
	if !e.inExplicitTx {
		return dsqlerr.E(dsqlerr.KindTransaction, "no active transaction to commit", nil)
	}
	e.inExplicitTx = false
	return e.commitInternal()
}

// RollbackTransaction discards the explicit transaction started by
// BeginTransaction.
func (e *Engine) RollbackTransaction() error {
	if !e.inExplicitTx {
		return dsqlerr.E(dsqlerr.KindTransaction, "no active transaction to roll back", nil)
	}
	e.inExplicitTx = false
	return e.rollbackInternal()
}

// Insert upserts rec (spec §4.7.2). Outside an explicit transaction it is
// wrapped in its own commit/rollback; inside one, it joins it.
func (e *Engine) Insert(rec record.Record) error {
	if e.inExplicitTx {
		return e.tree.Insert(rec)
	}
	if err := e.beginInternal(); err != nil {
		return err
	}
	if err := e.tree.Insert(rec); err != nil {
		_ = e.rollbackInternal()
		return err
	}
	return e.commitInternal()
}

// Delete removes key, reporting whether it was present (spec §4.7.3).
// Outside an explicit transaction it is wrapped in its own
// commit/rollback; inside one, it joins it.
func (e *Engine) Delete(key []byte) (bool, error) {
	if e.inExplicitTx {
		return e.tree.Delete(key)
	}
	if err := e.beginInternal(); err != nil {
		return false, err
	}
	ok, err := e.tree.Delete(key)
	if err != nil {
		_ = e.rollbackInternal()
		return false, err
	}
	if err := e.commitInternal(); err != nil {
		return false, err
	}
	return ok, nil
}

// Search looks up key (spec §4.7.1). Reads never need a transaction: the
// pager already serves a transaction's own uncommitted pages to readers
// within the same Engine.
func (e *Engine) Search(key []byte) (record.Record, bool, error) {
	return e.tree.Search(key)
}

// Scan returns a cursor positioned at the first record in ascending key
// order (spec §4.7.5).
func (e *Engine) Scan() (*btree.Cursor, error) {
	return e.tree.Scan()
}

// SeekCursor returns a cursor positioned at the first record whose key is
// >= key (spec §4.7.5).
func (e *Engine) SeekCursor(key []byte) (*btree.Cursor, error) {
	return e.tree.SeekCursor(key)
}

// Flush fsyncs all dirty pages to the home file without touching the WAL.
func (e *Engine) Flush() error {
	return e.pager.Flush()
}

// Checkpoint truncates the WAL (spec §4.8) and reports how many frames
// (pages_written) it discarded. Safe to call at any time: by the time a
// transaction commits, its pages are already durable in the home file, so
// the WAL holds nothing checkpointing still needs to apply.
func (e *Engine) Checkpoint() (int, error) {
	return e.wal.Truncate()
}

// Stats reports a snapshot of the engine's internal state (spec §6.4).
type Stats struct {
	PageCount          uint32
	PageSize           int
	RootPage           pager.PageID
	ThresholdMode      btree.Mode
	WALFrames          int
	WALNeedsCheckpoint bool
	InTransaction      bool
}

// Stats returns a snapshot of the engine's current state.
func (e *Engine) Stats() Stats {
	return Stats{
		PageCount:          e.pager.PageCount(),
		PageSize:           e.pager.PageSize(),
		RootPage:           e.tree.RootPage(),
		ThresholdMode:      e.tree.Threshold().Mode(),
		WALFrames:          e.wal.FrameCount(),
		WALNeedsCheckpoint: e.wal.NeedsCheckpoint(),
		InTransaction:      e.pager.InTransaction(),
	}
}

// Close flushes, closes the WAL and database files, and releases the
// advisory lock.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.pager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.lock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

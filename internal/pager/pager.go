package pager

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// checksumTrailerSize is the length of the CRC32-C trailer appended to
// every on-disk page, after the page's own header+cell content (teacher's
// ComputePageCRC/VerifyPageCRC convention, carried forward per
// SPEC_FULL.md §4.2). Callers of ReadPage/WritePage never see this
// trailer: they operate on the "usable" pageSize-4 bytes only.
const checksumTrailerSize = 4

// PageID identifies a page; 0 denotes null (spec §3).
type PageID uint32

const (
	// DefaultPageSize is used when a caller does not specify one (spec §6.1).
	DefaultPageSize = 4096
	// MinPageSize and MaxPageSize bound the valid, power-of-two page sizes.
	MinPageSize = 512
	MaxPageSize = 65536

	// DefaultCacheSize is the default page-cache capacity (spec §4.5).
	DefaultCacheSize = 256
)

// Pager is the central page-I/O layer: file open/create, cached
// read/write, allocation, freelist, and shadow-page transaction mode
// (spec §4.5).
type Pager struct {
	file       *os.File
	path       string
	pageSize   int // on-disk page size, including the checksum trailer
	usableSize int // pageSize - checksumTrailerSize; what callers see and PageSize() reports
	header     *DatabaseHeader
	cache      *pageCache

	inTx     bool
	shadow   map[PageID][]byte // original images, captured on first write this tx
	modified map[PageID][]byte // latest images written this tx
}

// Config configures Open.
type Config struct {
	Path      string
	PageSize  int // 0 = DefaultPageSize; ignored when opening an existing file
	CacheSize int // 0 = DefaultCacheSize
}

// Open creates or opens a paged database file (spec §4.5).
func Open(cfg Config) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, dsqlerr.E(dsqlerr.KindInvalidArgument, "invalid page size", nil)
	}

	isNew := false
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dsqlerr.E(dsqlerr.KindIO, "open database file", err)
	}

	p := &Pager{
		file:       f,
		path:       cfg.Path,
		pageSize:   ps,
		usableSize: ps - checksumTrailerSize,
		cache:      newPageCache(cfg.CacheSize),
	}

	if isNew {
		p.header = NewHeader(uint32(ps))
		buf := make([]byte, p.usableSize)
		MarshalHeader(p.header, buf)
		if err := p.writePageRaw(1, buf); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, dsqlerr.E(dsqlerr.KindIO, "sync new database", err)
		}
	} else {
		buf, err := p.readPageRaw(1)
		if err != nil {
			f.Close()
			return nil, err
		}
		h, err := UnmarshalHeader(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.header = h
		p.pageSize = int(h.PageSize)
		p.usableSize = p.pageSize - checksumTrailerSize
	}

	return p, nil
}

// PageSize returns the usable page size callers see — the on-disk page
// size minus the checksum trailer (spec §4.2).
func (p *Pager) PageSize() int { return p.usableSize }

// PageCount returns the number of pages in the database, including the
// header page (spec §3-Invariant-2).
func (p *Pager) PageCount() uint32 { return p.header.PageCount }

func (p *Pager) pageOffset(id PageID) int64 {
	return int64(id-1) * int64(p.pageSize)
}

// readPageRaw reads a page directly from the file, bypassing the cache,
// verifies its trailing CRC32-C checksum, and returns the usableSize
// content bytes (the trailer itself is stripped).
func (p *Pager) readPageRaw(id PageID) ([]byte, error) {
	onDisk := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(onDisk, p.pageOffset(id)); err != nil {
		return nil, dsqlerr.E(dsqlerr.KindIO, "read page", err)
	}
	content := onDisk[:p.usableSize]
	want := binary.BigEndian.Uint32(onDisk[p.usableSize:])
	got := crc32.Checksum(content, crcTable)
	if want != got {
		return nil, dsqlerr.E(dsqlerr.KindCorruption, "page checksum mismatch", nil)
	}
	return content, nil
}

// writePageRaw appends a freshly computed CRC32-C trailer to buf (which
// must be usableSize bytes) and writes the full on-disk page.
func (p *Pager) writePageRaw(id PageID, buf []byte) error {
	onDisk := make([]byte, p.pageSize)
	copy(onDisk, buf)
	crc := crc32.Checksum(onDisk[:p.usableSize], crcTable)
	binary.BigEndian.PutUint32(onDisk[p.usableSize:], crc)
	if _, err := p.file.WriteAt(onDisk, p.pageOffset(id)); err != nil {
		return dsqlerr.E(dsqlerr.KindIO, "write page", err)
	}
	return nil
}

// writeBackVictim is handed to pageCache.put so a dirty page evicted under
// memory pressure is persisted before being dropped.
func (p *Pager) writeBackVictim(e *cacheEntry) error {
	if err := p.writePageRaw(e.id, e.buf); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// ReadPage returns a copy of page id's bytes (spec §4.5). In an active
// transaction, a page that has already been written this transaction
// returns that transaction's own uncommitted image.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	if id == 0 || uint32(id) > p.header.PageCount {
		return nil, dsqlerr.E(dsqlerr.KindInvalidPage, "page id out of range", nil)
	}
	if p.inTx {
		if buf, ok := p.modified[id]; ok {
			out := make([]byte, len(buf))
			copy(out, buf)
			return out, nil
		}
	}
	if e, ok := p.cache.get(id); ok {
		out := make([]byte, len(e.buf))
		copy(out, e.buf)
		return out, nil
	}
	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	e := &cacheEntry{id: id, buf: buf}
	if err := p.cache.put(e, p.writeBackVictim); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// WritePage persists an updated page image (spec §4.5). Outside a
// transaction it seeks and writes the home file directly, then caches the
// clean result. Inside a transaction it captures the pre-image into the
// shadow map on first touch, tracks the new image in the modified map, and
// does not touch the home file until commit.
func (p *Pager) WritePage(id PageID, buf []byte) error {
	if id == 0 {
		return dsqlerr.E(dsqlerr.KindInvalidPage, "cannot write page 0", nil)
	}
	if p.inTx {
		if _, captured := p.shadow[id]; !captured {
			orig, err := p.ReadPage(id)
			if err != nil {
				return err
			}
			p.shadow[id] = orig
		}
		cp := make([]byte, len(buf))
		copy(cp, buf)
		p.modified[id] = cp
		// Keep the cache coherent for any reader within this same
		// transaction that bypasses ReadPage's modified-map shortcut.
		if e, ok := p.cache.get(id); ok {
			copy(e.buf, buf)
			e.dirty = true
		}
		return nil
	}

	if err := p.writePageRaw(id, buf); err != nil {
		return err
	}
	if e, ok := p.cache.get(id); ok {
		copy(e.buf, buf)
		e.dirty = false
	} else {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		e := &cacheEntry{id: id, buf: cp}
		if err := p.cache.put(e, p.writeBackVictim); err != nil {
			return err
		}
	}
	return nil
}

// AllocatePage reserves a new page, preferring a freelist entry over
// extending the file (spec §4.5, and the Open Question in spec §9
// resolved in SPEC_FULL.md §5 in favor of wiring the freelist up).
func (p *Pager) AllocatePage(typ byte) (PageID, []byte, error) {
	if id, ok, err := p.popFreePage(); err != nil {
		return 0, nil, err
	} else if ok {
		buf := make([]byte, p.usableSize)
		return id, buf, nil
	}

	id := PageID(p.header.PageCount + 1)
	p.header.PageCount++
	buf := make([]byte, p.usableSize)
	if p.inTx {
		// The new page lies past the end of the file, so its pre-image is
		// an empty page rather than anything ReadPage could load.
		p.shadow[id] = make([]byte, p.usableSize)
	}
	if err := p.persistHeader(); err != nil {
		return 0, nil, err
	}
	if err := p.WritePage(id, buf); err != nil {
		return 0, nil, err
	}
	return id, buf, nil
}

// FreePage returns a page to the freelist (spec §4.5). Page 1 can never
// be freed (spec §3-Invariant-1).
func (p *Pager) FreePage(id PageID) error {
	if id == 1 {
		return dsqlerr.E(dsqlerr.KindInvalidArgument, "cannot free the header page", nil)
	}
	return p.pushFreePage(id)
}

// persistHeader writes the in-memory header to page 1.
func (p *Pager) persistHeader() error {
	buf := make([]byte, p.usableSize)
	MarshalHeader(p.header, buf)
	return p.WritePage(1, buf)
}

// EnsurePageCount bumps the header's page count up to at least n, without
// writing any page content. Used by WAL recovery (spec §4.9), where a
// committed frame may reference a page beyond the current file length
// before the corresponding home-file write has happened.
func (p *Pager) EnsurePageCount(n uint32) error {
	if n <= p.header.PageCount {
		return nil
	}
	p.header.PageCount = n
	return p.persistHeader()
}

// RootPage returns the B+Tree root page id stored in the header.
func (p *Pager) RootPage() PageID { return PageID(p.header.RootPage) }

// SetRootPage updates and persists the root page id.
func (p *Pager) SetRootPage(id PageID) error {
	p.header.RootPage = uint32(id)
	return p.persistHeader()
}

// Flush writes every dirty cached page then fsyncs the file (spec §4.5).
func (p *Pager) Flush() error {
	for _, e := range p.cache.dirtyEntries() {
		if err := p.writePageRaw(e.id, e.buf); err != nil {
			return err
		}
		e.dirty = false
	}
	return p.file.Sync()
}

// Close flushes and closes the underlying file.
func (p *Pager) Close() error {
	if err := p.Flush(); err != nil {
		_ = p.file.Close()
		return err
	}
	return p.file.Close()
}

// ── Transaction (shadow-page) mode ─────────────────────────────────────

// InTransaction reports whether shadow mode is active.
func (p *Pager) InTransaction() bool { return p.inTx }

// BeginTransactionMode clears the shadow and modified maps and enters
// shadow-page mode (spec §4.5).
func (p *Pager) BeginTransactionMode() {
	p.inTx = true
	p.shadow = make(map[PageID][]byte)
	p.modified = make(map[PageID][]byte)
}

// ModifiedPages returns a snapshot of the pages written so far this
// transaction, keyed by page id. Used by the engine to frame WAL writes.
func (p *Pager) ModifiedPages() map[PageID][]byte {
	out := make(map[PageID][]byte, len(p.modified))
	for id, buf := range p.modified {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		out[id] = cp
	}
	return out
}

// CommitTransactionPages writes every tracked modified page to its home
// location and caches it clean (spec §4.5). Called after the WAL commit
// frame has been fsynced — the durability fence has already passed.
func (p *Pager) CommitTransactionPages() error {
	for id, buf := range p.modified {
		if err := p.writePageRaw(id, buf); err != nil {
			return err
		}
		if e, ok := p.cache.get(id); ok {
			copy(e.buf, buf)
			e.dirty = false
		} else {
			cp := make([]byte, len(buf))
			copy(cp, buf)
			if err := p.cache.put(&cacheEntry{id: id, buf: cp}, p.writeBackVictim); err != nil {
				return err
			}
		}
	}
	return nil
}

// RollbackTransactionPages restores every shadowed original image to the
// cache and to disk (spec §4.5), and reloads the in-memory header from
// page 1's original image when the transaction changed it.
func (p *Pager) RollbackTransactionPages() error {
	if orig, ok := p.shadow[1]; ok {
		h, err := UnmarshalHeader(orig)
		if err != nil {
			return err
		}
		p.header = h
	}
	for id, orig := range p.shadow {
		if err := p.writePageRaw(id, orig); err != nil {
			return err
		}
		if e, ok := p.cache.get(id); ok {
			copy(e.buf, orig)
			e.dirty = false
		} else {
			cp := make([]byte, len(orig))
			copy(cp, orig)
			if err := p.cache.put(&cacheEntry{id: id, buf: cp}, p.writeBackVictim); err != nil {
				return err
			}
		}
	}
	return nil
}

// EndTransactionMode exits shadow mode.
func (p *Pager) EndTransactionMode() {
	p.inTx = false
	p.shadow = nil
	p.modified = nil
}

// ── Freelist (singly linked list, spec §3-Invariant-3) ──────────────────

func (p *Pager) popFreePage() (PageID, bool, error) {
	if p.header.FirstFreePage == 0 {
		return 0, false, nil
	}
	id := PageID(p.header.FirstFreePage)
	buf, err := p.ReadPage(id)
	if err != nil {
		return 0, false, err
	}
	next := binary.BigEndian.Uint32(buf[0:4])
	p.header.FirstFreePage = next
	if err := p.persistHeader(); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (p *Pager) pushFreePage(id PageID) error {
	buf := make([]byte, p.usableSize)
	binary.BigEndian.PutUint32(buf[0:4], p.header.FirstFreePage)
	if err := p.WritePage(id, buf); err != nil {
		return err
	}
	p.header.FirstFreePage = uint32(id)
	return p.persistHeader()
}

// Package page implements the fixed-size page buffer and its 12-byte
// header (spec §4.4, §6.1): a slotted layout where a pointer array grows
// upward from the header and cell content grows downward from the top of
// the page. Unlike the teacher's SlottedPage (which stores an
// offset+length pair per slot), spec's pointer array stores only a 2-byte
// offset per cell — cell length is never recorded because every cell body
// is self-describing (a Record's own varint framing, or the B+Tree's
// [left_child][varint key_len][key] interior-cell framing). This package
// only manages layout; the btree package supplies cell codecs.
package page

import (
	"encoding/binary"

	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
)

// Type identifies the kind of page (spec §3).
type Type uint8

const (
	TypeHeader   Type = iota // page 1 only; not laid out via this package
	TypeLeaf                 // B+Tree leaf node
	TypeInterior             // B+Tree interior node
	TypeOverflow             // reserved (spec §3) — unused by this build, see DESIGN.md
	TypeFree                 // not written by the pager: its freelist pages hold the next-free pointer in bytes 0-3
)

// HeaderSize is the size in bytes of the common 12-byte page header
// (spec §6.1): type(1) + cell_count(2) + cell_content_offset(2) +
// fragmented_free(2) + right_child(4) + 1 pad byte = 12.
const HeaderSize = 12

const (
	offType           = 0
	offCellCount      = 1
	offCellContentOff = 3
	offFragmentedFree = 5
	offRightChild     = 7
	pointerEntrySize  = 2
)

// Page wraps a raw page-sized byte buffer with header and pointer-array
// accessors. It does not own the buffer's lifetime; callers (the pager)
// decide when to persist or discard it.
type Page struct {
	Buf []byte
}

// Wrap views an existing buffer as a Page without touching its contents.
func Wrap(buf []byte) *Page { return &Page{Buf: buf} }

// Init formats buf as a fresh, empty page of the given type.
func Init(buf []byte, typ Type) *Page {
	for i := range buf {
		buf[i] = 0
	}
	p := &Page{Buf: buf}
	p.SetType(typ)
	p.SetCellCount(0)
	p.SetCellContentOffset(len(buf))
	p.SetFragmentedFree(0)
	p.SetRightChild(0)
	return p
}

func (p *Page) Type() Type { return Type(p.Buf[offType]) }
func (p *Page) SetType(t Type) { p.Buf[offType] = byte(t) }

func (p *Page) CellCount() int {
	return int(binary.BigEndian.Uint16(p.Buf[offCellCount:]))
}
func (p *Page) SetCellCount(n int) {
	binary.BigEndian.PutUint16(p.Buf[offCellCount:], uint16(n))
}

func (p *Page) CellContentOffset() int {
	return int(binary.BigEndian.Uint16(p.Buf[offCellContentOff:]))
}
func (p *Page) SetCellContentOffset(off int) {
	binary.BigEndian.PutUint16(p.Buf[offCellContentOff:], uint16(off))
}

func (p *Page) FragmentedFree() int {
	return int(binary.BigEndian.Uint16(p.Buf[offFragmentedFree:]))
}
func (p *Page) SetFragmentedFree(n int) {
	binary.BigEndian.PutUint16(p.Buf[offFragmentedFree:], uint16(n))
}

// RightChild is the right child of a TypeInterior page (spec §3); the
// btree package stores a leaf's next-leaf pointer in the same field.
func (p *Page) RightChild() uint32 {
	return binary.BigEndian.Uint32(p.Buf[offRightChild:])
}
func (p *Page) SetRightChild(pid uint32) {
	binary.BigEndian.PutUint32(p.Buf[offRightChild:], pid)
}

// pointerArrayEnd returns the offset just past the last pointer entry.
func (p *Page) pointerArrayEnd() int {
	return HeaderSize + p.CellCount()*pointerEntrySize
}

// FreeSpace returns the gap between the end of the pointer array and the
// start of cell content (spec §4.4).
func (p *Page) FreeSpace() int {
	return p.CellContentOffset() - p.pointerArrayEnd()
}

// HasSpaceFor reports whether a new cell of cellSize bytes (plus its
// pointer entry) fits (spec §4.4: free >= 2 + cell_size).
func (p *Page) HasSpaceFor(cellSize int) bool {
	return p.FreeSpace() >= pointerEntrySize+cellSize
}

// Pointer returns the byte offset stored at pointer-array index i.
func (p *Page) Pointer(i int) int {
	off := HeaderSize + i*pointerEntrySize
	return int(binary.BigEndian.Uint16(p.Buf[off:]))
}

func (p *Page) setPointer(i int, off int) {
	o := HeaderSize + i*pointerEntrySize
	binary.BigEndian.PutUint16(p.Buf[o:], uint16(off))
}

// InsertCell writes data at a freshly-claimed offset at the top of the
// content area and inserts a pointer for it at logical index i, shifting
// later pointers right (spec §4.4 cell-insertion algorithm).
func (p *Page) InsertCell(i int, data []byte) error {
	if !p.HasSpaceFor(len(data)) {
		return dsqlerr.E(dsqlerr.KindBTree, "page full", nil)
	}
	newOff := p.CellContentOffset() - len(data)
	copy(p.Buf[newOff:], data)
	p.SetCellContentOffset(newOff)

	n := p.CellCount()
	for j := n; j > i; j-- {
		p.setPointer(j, p.Pointer(j-1))
	}
	p.setPointer(i, newOff)
	p.SetCellCount(n + 1)
	return nil
}

// AppendCell inserts data as the new last cell (convenience for bulk load
// and rebuild-from-scratch paths).
func (p *Page) AppendCell(data []byte) error {
	return p.InsertCell(p.CellCount(), data)
}

// DeleteCell removes the pointer at logical index i, shifting later
// pointers left. Content bytes are not reclaimed (no compaction on
// delete), and fragmented_free is not updated: the page does not record
// cell lengths, so the freed byte count is not known here.
func (p *Page) DeleteCell(i int) error {
	n := p.CellCount()
	if i < 0 || i >= n {
		return dsqlerr.E(dsqlerr.KindBTree, "cell index out of range", nil)
	}
	for j := i; j < n-1; j++ {
		p.setPointer(j, p.Pointer(j+1))
	}
	p.SetCellCount(n - 1)
	return nil
}

// CellBytes returns the page bytes starting at the i-th cell's offset,
// running to the end of the content area. Cells are self-describing, so
// callers decode only as many bytes as their own framing says to consume;
// the tail beyond the real cell length belongs to other (lower-offset)
// cells and must not be touched.
func (p *Page) CellBytes(i int) []byte {
	off := p.Pointer(i)
	return p.Buf[off:]
}

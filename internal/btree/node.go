package btree

import (
	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
	"github.com/dsqlcore/dsqlite/internal/page"
	"github.com/dsqlcore/dsqlite/internal/pager"
	"github.com/dsqlcore/dsqlite/internal/record"
)

// leafNode is the fully-decoded, in-memory form of a TypeLeaf page.
// Records are kept in ascending key order. next chains leaves
// left-to-right for full-scan cursoring (spec §9's invited cursor
// reimplementation, taken in SPEC_FULL.md §4.1). A leaf's right_child
// header field has no tree meaning, so it is reused to store next.
type leafNode struct {
	records []record.Record
	next    pager.PageID
}

// interiorNode is the fully-decoded, in-memory form of a TypeInterior
// page: len(children) == len(keys)+1. children[i] holds keys < keys[i]
// for i < len(keys); children[len(keys)] (the "right child") holds keys
// >= keys[len(keys)-1].
type interiorNode struct {
	children []pager.PageID
	keys     [][]byte
}

func decodeLeaf(pg *page.Page) (*leafNode, error) {
	n := &leafNode{next: pager.PageID(pg.RightChild())}
	count := pg.CellCount()
	n.records = make([]record.Record, 0, count)
	for i := 0; i < count; i++ {
		rec, err := decodeLeafCell(pg.CellBytes(i))
		if err != nil {
			return nil, err
		}
		n.records = append(n.records, rec)
	}
	return n, nil
}

// encodeLeaf rewrites buf (usableSize bytes) from scratch with n's
// contents. The next-leaf pointer is stored in the page's right_child
// field (a leaf never has real children, so the field is free to reuse).
func encodeLeaf(buf []byte, n *leafNode) (*page.Page, error) {
	pg := page.Init(buf, page.TypeLeaf)
	for _, rec := range n.records {
		if err := pg.AppendCell(encodeLeafCell(rec)); err != nil {
			return nil, err
		}
	}
	pg.SetRightChild(uint32(n.next))
	return pg, nil
}

func decodeInterior(pg *page.Page) (*interiorNode, error) {
	count := pg.CellCount()
	n := &interiorNode{
		children: make([]pager.PageID, 0, count+1),
		keys:     make([][]byte, 0, count),
	}
	for i := 0; i < count; i++ {
		left, key, err := decodeInteriorCell(pg.CellBytes(i))
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, left)
		n.keys = append(n.keys, key)
	}
	n.children = append(n.children, pager.PageID(pg.RightChild()))
	return n, nil
}

func encodeInterior(buf []byte, n *interiorNode) (*page.Page, error) {
	if len(n.children) != len(n.keys)+1 {
		return nil, dsqlerr.E(dsqlerr.KindBTree, "interior node arity mismatch", nil)
	}
	pg := page.Init(buf, page.TypeInterior)
	for i, key := range n.keys {
		if err := pg.AppendCell(encodeInteriorCell(n.children[i], key)); err != nil {
			return nil, err
		}
	}
	pg.SetRightChild(uint32(n.children[len(n.children)-1]))
	return pg, nil
}

// findChild returns the index into children that key routes to, for an
// interior node (spec §4.7.1: descend via the first separator key greater
// than the search key, else the rightmost child).
func (n *interiorNode) findChild(key []byte) int {
	for i, k := range n.keys {
		if record.KeyLess(key, k) {
			return i
		}
	}
	return len(n.keys)
}

// leafSlot returns the index of key in n.records if present, and the
// insertion index (where it would go) regardless.
func (n *leafNode) leafSlot(key []byte) (idx int, found bool) {
	lo, hi := 0, len(n.records)
	for lo < hi {
		mid := (lo + hi) / 2
		c := record.KeyCompare(n.records[mid].Key, key)
		switch {
		case c < 0:
			lo = mid + 1
		case c > 0:
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

func leafSize(records []record.Record) int {
	total := page.HeaderSize
	for _, r := range records {
		total += 2 + len(r.Serialize())
	}
	return total
}

func interiorSize(keys [][]byte) int {
	total := page.HeaderSize
	for _, k := range keys {
		total += 2 + interiorCellSize(k)
	}
	return total
}

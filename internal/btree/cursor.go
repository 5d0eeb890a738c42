package btree

import (
	"github.com/dsqlcore/dsqlite/internal/page"
	"github.com/dsqlcore/dsqlite/internal/pager"
	"github.com/dsqlcore/dsqlite/internal/record"
)

// Cursor is a left-to-right walk over leaf records, crossing leaf
// boundaries via the next-leaf chain (spec §4.7.5, reimplemented per the
// decision recorded in SPEC_FULL.md §4.1).
type Cursor struct {
	tree   *Tree
	pageID pager.PageID
	node   *leafNode
	idx    int
}

// Scan positions a Cursor at the first record of the leftmost leaf (spec
// §4.7.5).
func (t *Tree) Scan() (*Cursor, error) {
	id := t.pager.RootPage()
	for {
		pg, err := t.loadPage(id)
		if err != nil {
			return nil, err
		}
		if pg.Type() == page.TypeLeaf {
			ln, err := decodeLeaf(pg)
			if err != nil {
				return nil, err
			}
			return &Cursor{tree: t, pageID: id, node: ln, idx: 0}, nil
		}
		inode, err := decodeInterior(pg)
		if err != nil {
			return nil, err
		}
		id = inode.children[0]
	}
}

// SeekCursor positions a Cursor at the first record whose key is >= key
// (spec §4.7.5).
func (t *Tree) SeekCursor(key []byte) (*Cursor, error) {
	path, err := t.descend(key)
	if err != nil {
		return nil, err
	}
	leafID := path[len(path)-1].id
	pg, err := t.loadPage(leafID)
	if err != nil {
		return nil, err
	}
	ln, err := decodeLeaf(pg)
	if err != nil {
		return nil, err
	}
	idx, _ := ln.leafSlot(key)
	c := &Cursor{tree: t, pageID: leafID, node: ln, idx: idx}
	if idx >= len(ln.records) {
		if err := c.Next(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Valid reports whether the cursor is positioned on a record.
func (c *Cursor) Valid() bool { return c.node != nil && c.idx < len(c.node.records) }

// Record returns the record at the cursor's current position. Callers
// must check Valid first.
func (c *Cursor) Record() record.Record { return c.node.records[c.idx] }

// Next advances to the following record, crossing into the next leaf (via
// its stored next-leaf pointer) when the current one is exhausted.
func (c *Cursor) Next() error {
	if c.node == nil {
		return nil
	}
	c.idx++
	for c.idx >= len(c.node.records) {
		if c.node.next == 0 {
			c.node = nil
			return nil
		}
		pg, err := c.tree.loadPage(c.node.next)
		if err != nil {
			return err
		}
		ln, err := decodeLeaf(pg)
		if err != nil {
			return err
		}
		c.pageID = c.node.next
		c.node = ln
		c.idx = 0
	}
	return nil
}

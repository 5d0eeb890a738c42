package btree

import (
	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
	"github.com/dsqlcore/dsqlite/internal/page"
	"github.com/dsqlcore/dsqlite/internal/pager"
	"github.com/dsqlcore/dsqlite/internal/record"
)

// Tree is the B+Tree described by spec §4.6-§4.7: search, insert with
// split propagation, delete with borrow/merge rebalancing, a leaf cursor,
// and bulk load, all addressed through a pager.Pager.
type Tree struct {
	pager     *pager.Pager
	threshold *AdaptiveThreshold
}

// Open attaches a Tree to p, creating an empty leaf root if the pager's
// header has none yet (spec §4.7).
func Open(p *pager.Pager) (*Tree, error) {
	t := &Tree{pager: p, threshold: NewAdaptiveThreshold()}
	if p.RootPage() == 0 {
		id, buf, err := p.AllocatePage(0)
		if err != nil {
			return nil, err
		}
		if _, err := encodeLeaf(buf, &leafNode{}); err != nil {
			return nil, err
		}
		if err := p.WritePage(id, buf); err != nil {
			return nil, err
		}
		if err := p.SetRootPage(id); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Threshold exposes the tree's adaptive split/merge strategy, e.g. for
// diagnostics (the mode is reported by `cmd/dsqlctl stats`).
func (t *Tree) Threshold() *AdaptiveThreshold { return t.threshold }

// RootPage is the current root page id.
func (t *Tree) RootPage() pager.PageID { return t.pager.RootPage() }

// frame is one level of the path taken while descending to a leaf.
// childSlot is the index, within this frame's own node, of the child the
// walk proceeded through; it lets insert/delete fix up the right parent
// slot without re-searching. It is -1 for a leaf frame (leaves have no
// children).
type frame struct {
	id        pager.PageID
	childSlot int
}

func (t *Tree) loadPage(id pager.PageID) (*page.Page, error) {
	buf, err := t.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return page.Wrap(buf), nil
}

func (t *Tree) writeLeaf(id pager.PageID, n *leafNode) error {
	buf := make([]byte, t.pager.PageSize())
	if _, err := encodeLeaf(buf, n); err != nil {
		return err
	}
	return t.pager.WritePage(id, buf)
}

func (t *Tree) writeInterior(id pager.PageID, n *interiorNode) error {
	buf := make([]byte, t.pager.PageSize())
	if _, err := encodeInterior(buf, n); err != nil {
		return err
	}
	return t.pager.WritePage(id, buf)
}

// descend walks from the root to the leaf that would hold key, recording
// the path taken (spec §4.7.1).
func (t *Tree) descend(key []byte) ([]frame, error) {
	var path []frame
	id := t.pager.RootPage()
	for {
		pg, err := t.loadPage(id)
		if err != nil {
			return nil, err
		}
		if pg.Type() == page.TypeLeaf {
			path = append(path, frame{id: id, childSlot: -1})
			return path, nil
		}
		inode, err := decodeInterior(pg)
		if err != nil {
			return nil, err
		}
		slot := inode.findChild(key)
		path = append(path, frame{id: id, childSlot: slot})
		id = inode.children[slot]
	}
}

// Search looks up key (spec §4.7.1).
func (t *Tree) Search(key []byte) (record.Record, bool, error) {
	path, err := t.descend(key)
	if err != nil {
		return record.Record{}, false, err
	}
	leafID := path[len(path)-1].id
	pg, err := t.loadPage(leafID)
	if err != nil {
		return record.Record{}, false, err
	}
	ln, err := decodeLeaf(pg)
	if err != nil {
		return record.Record{}, false, err
	}
	idx, found := ln.leafSlot(key)
	if !found {
		return record.Record{}, false, nil
	}
	return ln.records[idx], true, nil
}

// Insert upserts rec: an existing key's record is replaced, a new key is
// inserted in sorted order, splitting nodes up to the root as needed
// (spec §4.7.2).
func (t *Tree) Insert(rec record.Record) error {
	if page.HeaderSize+2+len(encodeLeafCell(rec)) > t.pager.PageSize() {
		return dsqlerr.E(dsqlerr.KindRecord, "record too large to fit in a page", nil)
	}

	path, err := t.descend(rec.Key)
	if err != nil {
		return err
	}
	leafFrame := path[len(path)-1]
	pg, err := t.loadPage(leafFrame.id)
	if err != nil {
		return err
	}
	ln, err := decodeLeaf(pg)
	if err != nil {
		return err
	}

	idx, found := ln.leafSlot(rec.Key)
	if found {
		ln.records[idx] = rec
	} else {
		ln.records = append(ln.records, record.Record{})
		copy(ln.records[idx+1:], ln.records[idx:])
		ln.records[idx] = rec
	}
	t.threshold.RecordInsert()

	if leafSize(ln.records) <= t.pager.PageSize() {
		return t.writeLeaf(leafFrame.id, ln)
	}
	return t.splitLeaf(path, ln)
}

func (t *Tree) splitLeaf(path []frame, ln *leafNode) error {
	leafID := path[len(path)-1].id
	n := len(ln.records)
	splitIdx := int(float64(n) * t.threshold.SplitFillFactor())
	if splitIdx < 1 {
		splitIdx = 1
	}
	if splitIdx > n-1 {
		splitIdx = n - 1
	}

	rightID, _, err := t.pager.AllocatePage(0)
	if err != nil {
		return err
	}

	left := &leafNode{records: ln.records[:splitIdx], next: rightID}
	right := &leafNode{records: append([]record.Record(nil), ln.records[splitIdx:]...), next: ln.next}

	if err := t.writeLeaf(leafID, left); err != nil {
		return err
	}
	if err := t.writeLeaf(rightID, right); err != nil {
		return err
	}

	promotedKey := right.records[0].Key
	return t.insertIntoParent(path[:len(path)-1], leafID, promotedKey, rightID)
}

// insertIntoParent links a freshly split child back into its parent
// (spec §4.7.2), creating a new root if the split child had none.
func (t *Tree) insertIntoParent(ancestors []frame, leftID pager.PageID, key []byte, rightID pager.PageID) error {
	if len(ancestors) == 0 {
		newRootID, _, err := t.pager.AllocatePage(0)
		if err != nil {
			return err
		}
		inode := &interiorNode{children: []pager.PageID{leftID, rightID}, keys: [][]byte{key}}
		if err := t.writeInterior(newRootID, inode); err != nil {
			return err
		}
		return t.pager.SetRootPage(newRootID)
	}

	parentFrame := ancestors[len(ancestors)-1]
	pg, err := t.loadPage(parentFrame.id)
	if err != nil {
		return err
	}
	inode, err := decodeInterior(pg)
	if err != nil {
		return err
	}
	slot := parentFrame.childSlot

	inode.keys = append(inode.keys, nil)
	copy(inode.keys[slot+1:], inode.keys[slot:])
	inode.keys[slot] = key

	inode.children = append(inode.children, 0)
	copy(inode.children[slot+2:], inode.children[slot+1:])
	inode.children[slot+1] = rightID

	if interiorSize(inode.keys) <= t.pager.PageSize() {
		return t.writeInterior(parentFrame.id, inode)
	}
	return t.splitInterior(ancestors, inode)
}

// splitInterior rebuilds the overfull node's entries via a single sorted
// merge-and-redistribute pass rather than patching one adjacent cell in
// place (the Open Question resolution recorded in SPEC_FULL.md §5): the
// middle separator key is promoted to the parent and not duplicated.
func (t *Tree) splitInterior(ancestors []frame, inode *interiorNode) error {
	thisID := ancestors[len(ancestors)-1].id
	n := len(inode.keys)
	mid := int(float64(n) * t.threshold.SplitFillFactor())
	if mid < 1 {
		mid = 1
	}
	if mid > n-1 {
		mid = n - 1
	}

	left := &interiorNode{
		children: append([]pager.PageID(nil), inode.children[:mid+1]...),
		keys:     append([][]byte(nil), inode.keys[:mid]...),
	}
	promotedKey := inode.keys[mid]
	right := &interiorNode{
		children: append([]pager.PageID(nil), inode.children[mid+1:]...),
		keys:     append([][]byte(nil), inode.keys[mid+1:]...),
	}

	rightID, _, err := t.pager.AllocatePage(0)
	if err != nil {
		return err
	}
	if err := t.writeInterior(thisID, left); err != nil {
		return err
	}
	if err := t.writeInterior(rightID, right); err != nil {
		return err
	}

	return t.insertIntoParent(ancestors[:len(ancestors)-1], thisID, promotedKey, rightID)
}

// Delete removes key, reporting whether it was present, and rebalances
// (borrow or merge) up to the root as needed (spec §4.7.3).
func (t *Tree) Delete(key []byte) (bool, error) {
	path, err := t.descend(key)
	if err != nil {
		return false, err
	}
	leafFrame := path[len(path)-1]
	pg, err := t.loadPage(leafFrame.id)
	if err != nil {
		return false, err
	}
	ln, err := decodeLeaf(pg)
	if err != nil {
		return false, err
	}
	idx, found := ln.leafSlot(key)
	if !found {
		return false, nil
	}
	ln.records = append(ln.records[:idx], ln.records[idx+1:]...)
	t.threshold.RecordDelete()

	if err := t.writeLeaf(leafFrame.id, ln); err != nil {
		return false, err
	}

	if len(path) == 1 {
		// Root leaf: no siblings to rebalance against.
		return true, nil
	}
	if len(ln.records) == 0 || float64(leafSize(ln.records))/float64(t.pager.PageSize()) < t.threshold.MergeThreshold() {
		if err := t.rebalanceLeaf(path); err != nil {
			return false, err
		}
	}
	return true, nil
}

// borrowMargin is how far above the active merge threshold a sibling's
// occupancy must sit before it counts as "well above the threshold" and
// is safe to donate a cell from (spec §4.7.3 point 1: "leaves need count
// > 2 and occupancy > 0.7 by default" — 0.7 is Standard's 0.50 merge
// threshold plus this margin).
const borrowMargin = 0.2

// canSpareLeaf reports whether n has enough records, and enough occupancy
// margin above the merge threshold, to donate one cell without itself
// needing a rebalance immediately afterward (spec §4.7.3 point 1).
func (t *Tree) canSpareLeaf(n *leafNode) bool {
	if len(n.records) <= 2 {
		return false
	}
	occupancy := float64(leafSize(n.records)) / float64(t.pager.PageSize())
	return occupancy > t.threshold.MergeThreshold()+borrowMargin
}

// canSpareInterior is canSpareLeaf's analogue for interior nodes, used by
// afterChildRemoved's borrow step.
func (t *Tree) canSpareInterior(n *interiorNode) bool {
	if len(n.keys) <= 1 {
		return false
	}
	occupancy := float64(interiorSize(n.keys)) / float64(t.pager.PageSize())
	return occupancy > t.threshold.MergeThreshold()+borrowMargin
}

// rebalanceLeaf borrows a record from an adjacent sibling if one has
// enough to spare, otherwise merges with a sibling and propagates the
// resulting child removal to the parent (spec §4.7.3).
func (t *Tree) rebalanceLeaf(path []frame) error {
	leafFrame := path[len(path)-1]
	parentFrame := path[len(path)-2]

	ppg, err := t.loadPage(parentFrame.id)
	if err != nil {
		return err
	}
	pinode, err := decodeInterior(ppg)
	if err != nil {
		return err
	}
	slot := parentFrame.childSlot

	lpg, err := t.loadPage(leafFrame.id)
	if err != nil {
		return err
	}
	ln, err := decodeLeaf(lpg)
	if err != nil {
		return err
	}

	if slot > 0 {
		siblingID := pinode.children[slot-1]
		spg, err := t.loadPage(siblingID)
		if err != nil {
			return err
		}
		sln, err := decodeLeaf(spg)
		if err != nil {
			return err
		}
		if t.canSpareLeaf(sln) {
			borrowed := sln.records[len(sln.records)-1]
			sln.records = sln.records[:len(sln.records)-1]
			ln.records = append([]record.Record{borrowed}, ln.records...)
			if err := t.writeLeaf(siblingID, sln); err != nil {
				return err
			}
			if err := t.writeLeaf(leafFrame.id, ln); err != nil {
				return err
			}
			pinode.keys[slot-1] = ln.records[0].Key
			return t.writeInterior(parentFrame.id, pinode)
		}

		merged := &leafNode{records: append(sln.records, ln.records...), next: ln.next}
		if err := t.writeLeaf(siblingID, merged); err != nil {
			return err
		}
		if err := t.pager.FreePage(leafFrame.id); err != nil {
			return err
		}
		pinode.keys = append(pinode.keys[:slot-1], pinode.keys[slot:]...)
		pinode.children = append(pinode.children[:slot], pinode.children[slot+1:]...)
		return t.afterChildRemoved(path[:len(path)-1], pinode)
	}

	siblingID := pinode.children[slot+1]
	spg, err := t.loadPage(siblingID)
	if err != nil {
		return err
	}
	sln, err := decodeLeaf(spg)
	if err != nil {
		return err
	}
	if t.canSpareLeaf(sln) {
		borrowed := sln.records[0]
		sln.records = sln.records[1:]
		ln.records = append(ln.records, borrowed)
		if err := t.writeLeaf(siblingID, sln); err != nil {
			return err
		}
		if err := t.writeLeaf(leafFrame.id, ln); err != nil {
			return err
		}
		pinode.keys[slot] = sln.records[0].Key
		return t.writeInterior(parentFrame.id, pinode)
	}

	merged := &leafNode{records: append(ln.records, sln.records...), next: sln.next}
	if err := t.writeLeaf(leafFrame.id, merged); err != nil {
		return err
	}
	if err := t.pager.FreePage(siblingID); err != nil {
		return err
	}
	pinode.keys = append(pinode.keys[:slot], pinode.keys[slot+1:]...)
	pinode.children = append(pinode.children[:slot+1], pinode.children[slot+2:]...)
	return t.afterChildRemoved(path[:len(path)-1], pinode)
}

// afterChildRemoved persists an interior node whose child count just
// shrank by one, collapsing the root if it now has a single child, or
// borrowing/merging with its own sibling if it fell below the minimum of
// one separator key (spec §4.7.3).
func (t *Tree) afterChildRemoved(ancestors []frame, pinode *interiorNode) error {
	thisFrame := ancestors[len(ancestors)-1]

	if len(ancestors) == 1 {
		if len(pinode.keys) == 0 {
			newRoot := pinode.children[0]
			if err := t.pager.FreePage(thisFrame.id); err != nil {
				return err
			}
			return t.pager.SetRootPage(newRoot)
		}
		return t.writeInterior(thisFrame.id, pinode)
	}

	if len(pinode.keys) >= 1 {
		return t.writeInterior(thisFrame.id, pinode)
	}

	parentFrame := ancestors[len(ancestors)-2]
	ppg, err := t.loadPage(parentFrame.id)
	if err != nil {
		return err
	}
	grandpinode, err := decodeInterior(ppg)
	if err != nil {
		return err
	}
	slot := parentFrame.childSlot

	if slot > 0 {
		siblingID := grandpinode.children[slot-1]
		spg, err := t.loadPage(siblingID)
		if err != nil {
			return err
		}
		sinode, err := decodeInterior(spg)
		if err != nil {
			return err
		}
		if t.canSpareInterior(sinode) {
			borrowChild := sinode.children[len(sinode.children)-1]
			borrowKey := grandpinode.keys[slot-1]
			sinode.children = sinode.children[:len(sinode.children)-1]
			newSeparator := sinode.keys[len(sinode.keys)-1]
			sinode.keys = sinode.keys[:len(sinode.keys)-1]

			pinode.children = append([]pager.PageID{borrowChild}, pinode.children...)
			pinode.keys = append([][]byte{borrowKey}, pinode.keys...)
			grandpinode.keys[slot-1] = newSeparator

			if err := t.writeInterior(siblingID, sinode); err != nil {
				return err
			}
			if err := t.writeInterior(thisFrame.id, pinode); err != nil {
				return err
			}
			return t.writeInterior(parentFrame.id, grandpinode)
		}

		sepKey := grandpinode.keys[slot-1]
		merged := &interiorNode{
			children: append(append([]pager.PageID{}, sinode.children...), pinode.children...),
			keys:     append(append([][]byte{}, sinode.keys...), append([][]byte{sepKey}, pinode.keys...)...),
		}
		if err := t.writeInterior(siblingID, merged); err != nil {
			return err
		}
		if err := t.pager.FreePage(thisFrame.id); err != nil {
			return err
		}
		grandpinode.keys = append(grandpinode.keys[:slot-1], grandpinode.keys[slot:]...)
		grandpinode.children = append(grandpinode.children[:slot], grandpinode.children[slot+1:]...)
		return t.afterChildRemoved(ancestors[:len(ancestors)-1], grandpinode)
	}

	siblingID := grandpinode.children[slot+1]
	spg, err := t.loadPage(siblingID)
	if err != nil {
		return err
	}
	sinode, err := decodeInterior(spg)
	if err != nil {
		return err
	}
	if t.canSpareInterior(sinode) {
		borrowChild := sinode.children[0]
		borrowKey := grandpinode.keys[slot]
		sinode.children = sinode.children[1:]
		newSeparator := sinode.keys[0]
		sinode.keys = sinode.keys[1:]

		pinode.children = append(pinode.children, borrowChild)
		pinode.keys = append(pinode.keys, borrowKey)
		grandpinode.keys[slot] = newSeparator

		if err := t.writeInterior(siblingID, sinode); err != nil {
			return err
		}
		if err := t.writeInterior(thisFrame.id, pinode); err != nil {
			return err
		}
		return t.writeInterior(parentFrame.id, grandpinode)
	}

	sepKey := grandpinode.keys[slot]
	merged := &interiorNode{
		children: append(append([]pager.PageID{}, pinode.children...), sinode.children...),
		keys:     append(append([][]byte{}, pinode.keys...), append([][]byte{sepKey}, sinode.keys...)...),
	}
	if err := t.writeInterior(thisFrame.id, merged); err != nil {
		return err
	}
	if err := t.pager.FreePage(siblingID); err != nil {
		return err
	}
	grandpinode.keys = append(grandpinode.keys[:slot], grandpinode.keys[slot+1:]...)
	grandpinode.children = append(grandpinode.children[:slot+1], grandpinode.children[slot+2:]...)
	return t.afterChildRemoved(ancestors[:len(ancestors)-1], grandpinode)
}

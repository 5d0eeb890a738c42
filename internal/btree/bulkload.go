package btree

import (
	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
	"github.com/dsqlcore/dsqlite/internal/page"
	"github.com/dsqlcore/dsqlite/internal/pager"
	"github.com/dsqlcore/dsqlite/internal/record"
)

const defaultBulkLoadFillFactor = 0.75

// BulkLoad builds a B+Tree bottom-up from records, which the caller must
// already have sorted ascending by key (spec §4.7.6). It packs leaves and
// each interior level to fillFactor of a page before starting the next
// node, then sets the pager's root to the finished top level.
func BulkLoad(p *pager.Pager, records []record.Record, fillFactor float64) (*Tree, error) {
	if fillFactor <= 0 || fillFactor > 1 {
		fillFactor = defaultBulkLoadFillFactor
	}
	if len(records) == 0 {
		return Open(p)
	}
	for i := 1; i < len(records); i++ {
		if !record.KeyLess(records[i-1].Key, records[i].Key) {
			return nil, dsqlerr.E(dsqlerr.KindBTree, "bulk load requires strictly ascending keys", nil)
		}
	}

	capacity := int(float64(p.PageSize()) * fillFactor)

	type levelEntry struct {
		id       pager.PageID
		firstKey []byte
	}

	var leaves []levelEntry
	var prevID pager.PageID
	i := 0
	for i < len(records) {
		var batch []record.Record
		size := page.HeaderSize
		for i < len(records) {
			cost := 2 + len(encodeLeafCell(records[i]))
			if size+cost > capacity && len(batch) > 0 {
				break
			}
			batch = append(batch, records[i])
			size += cost
			i++
		}

		id, _, err := p.AllocatePage(0)
		if err != nil {
			return nil, err
		}
		if prevID != 0 {
			prevPg, err := p.ReadPage(prevID)
			if err != nil {
				return nil, err
			}
			prevLn, err := decodeLeaf(page.Wrap(prevPg))
			if err != nil {
				return nil, err
			}
			prevLn.next = id
			buf := make([]byte, p.PageSize())
			if _, err := encodeLeaf(buf, prevLn); err != nil {
				return nil, err
			}
			if err := p.WritePage(prevID, buf); err != nil {
				return nil, err
			}
		}
		buf := make([]byte, p.PageSize())
		if _, err := encodeLeaf(buf, &leafNode{records: batch}); err != nil {
			return nil, err
		}
		if err := p.WritePage(id, buf); err != nil {
			return nil, err
		}

		leaves = append(leaves, levelEntry{id: id, firstKey: batch[0].Key})
		prevID = id
	}

	level := leaves
	for len(level) > 1 {
		var next []levelEntry
		i := 0
		for i < len(level) {
			groupFirstKey := level[i].firstKey
			children := []pager.PageID{level[i].id}
			var keys [][]byte
			size := page.HeaderSize
			i++
			for i < len(level) {
				cost := 2 + interiorCellSize(level[i].firstKey)
				if size+cost > capacity && len(keys) > 0 {
					break
				}
				keys = append(keys, level[i].firstKey)
				children = append(children, level[i].id)
				size += cost
				i++
			}

			id, _, err := p.AllocatePage(0)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, p.PageSize())
			if _, err := encodeInterior(buf, &interiorNode{children: children, keys: keys}); err != nil {
				return nil, err
			}
			if err := p.WritePage(id, buf); err != nil {
				return nil, err
			}
			next = append(next, levelEntry{id: id, firstKey: groupFirstKey})
		}
		level = next
	}

	if err := p.SetRootPage(level[0].id); err != nil {
		return nil, err
	}
	return Open(p)
}

package btree

import (
	"tarn/common"
	"tarn/disk/pages"
)

// IndexIterator walks the leaf chain in key order. It holds a read latch and a
// pin on its current leaf, so the tree must not be mutated structurally while
// an iterator is live; concurrent inserts that keep the next pointer chain
// intact are tolerated. Close releases the current leaf; an exhausted iterator
// has already released everything.
type IndexIterator struct {
	tree  *BPlusTree
	page  *pages.RawPage
	index int
}

// Begin returns an iterator at the smallest key.
func (t *BPlusTree) Begin() *IndexIterator {
	return t.begin(nil, true)
}

// BeginAt returns an iterator positioned at the first key greater than or
// equal to the given key.
func (t *BPlusTree) BeginAt(key Key) *IndexIterator {
	return t.begin(key, false)
}

func (t *BPlusTree) begin(key Key, leftmost bool) *IndexIterator {
	t.treeLatch.RLock()
	if t.rootPageID == common.InvalidPageID {
		t.treeLatch.RUnlock()
		return &IndexIterator{tree: t}
	}

	ctx := &opContext{mode: modeRead, chain: []*pages.RawPage{nil}}
	raw := t.findLeaf(key, leftmost, ctx)

	// the iterator adopts the leaf's latch and pin instead of releasing them
	it := &IndexIterator{tree: t, page: raw}
	if !leftmost {
		it.index = t.asLeaf(raw).KeyIndex(key)
	}
	it.skipExhausted()
	return it
}

func (it *IndexIterator) IsEnd() bool {
	return it.page == nil
}

func (it *IndexIterator) Key() Key {
	return it.tree.asLeaf(it.page).GetKeyAt(it.index)
}

func (it *IndexIterator) Value() RID {
	return it.tree.asLeaf(it.page).GetValueAt(it.index)
}

// Next advances to the following key, hopping to the next leaf when the
// current one is exhausted.
func (it *IndexIterator) Next() {
	it.index++
	it.skipExhausted()
}

// Close releases the held leaf. Safe to call on an exhausted iterator.
func (it *IndexIterator) Close() {
	if it.page == nil {
		return
	}
	it.page.RUnLatch()
	it.tree.pool.UnpinPage(it.page.PageID(), false)
	it.page = nil
}

func (it *IndexIterator) skipExhausted() {
	for it.page != nil {
		leaf := it.tree.asLeaf(it.page)
		if it.index < leaf.GetSize() {
			return
		}

		next := leaf.GetNextPageID()
		it.Close()
		if next == common.InvalidPageID {
			return
		}

		raw := it.tree.fetchPage(next)
		raw.RLatch()
		it.page = raw
		it.index = 0
	}
}

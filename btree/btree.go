package btree

import (
	"fmt"
	"sync"

	"tarn/buffer"
	"tarn/common"
	"tarn/disk"
	"tarn/disk/pages"
)

type traverseMode int

const (
	modeRead traverseMode = iota
	modeInsert
	modeRemove
)

// opContext carries the latch chain and the deferred delete set of one tree
// operation. The chain holds the pages latched during the descent in
// acquisition order; a nil entry marks the tree latch so it is released in its
// place. Deleted page ids are reclaimed only after every latch is dropped, so
// a page never gets re-fetched mid operation.
type opContext struct {
	mode    traverseMode
	chain   []*pages.RawPage
	deleted []common.PageID
}

// BPlusTree is a disk backed B+ tree. Every page access goes through the
// buffer pool; the root page id is persisted into the header page on every
// change, keyed by the tree's name.
//
// Concurrency follows latch crabbing: the tree latch is taken first (shared
// for reads, exclusive for writes), then per page latches top down. A write
// descent releases everything above a node once that node is known to absorb
// the pending change without propagating upward.
type BPlusTree struct {
	name            string
	pool            *buffer.BufferPool
	serializer      KeySerializer
	leafMaxSize     int
	internalMaxSize int
	rootPageID      common.PageID
	treeLatch       sync.RWMutex
}

// NewBPlusTree opens the tree named name, creating its header record when it
// does not exist yet. Zero max sizes derive the largest capacity the page
// layout allows.
func NewBPlusTree(name string, pool *buffer.BufferPool, serializer KeySerializer, leafMaxSize, internalMaxSize int) *BPlusTree {
	leafCapacity := (disk.PageSize - leafHeaderSize) / (serializer.Size() + RIDSize)
	internalCapacity := (disk.PageSize - internalHeaderSize) / (serializer.Size() + common.PageIDSize)

	if leafMaxSize <= 0 {
		leafMaxSize = leafCapacity
	}
	if internalMaxSize <= 0 {
		internalMaxSize = internalCapacity - 1
	}
	if leafMaxSize > leafCapacity || internalMaxSize+1 > internalCapacity {
		panic(fmt.Sprintf("max sizes do not fit the page layout, leaf: %v/%v, internal: %v/%v",
			leafMaxSize, leafCapacity, internalMaxSize, internalCapacity))
	}
	if leafMaxSize < 3 || internalMaxSize < 3 {
		panic(fmt.Sprintf("max sizes are too small, leaf: %v, internal: %v", leafMaxSize, internalMaxSize))
	}

	t := &BPlusTree{
		name:            name,
		pool:            pool,
		serializer:      serializer,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	raw := t.fetchPage(common.HeaderPageID)
	raw.WLatch()
	hp := pages.HeaderPageFrom(raw)
	if rootPageID, ok := hp.GetRecord(name); ok {
		t.rootPageID = rootPageID
		raw.WUnlatch()
		pool.UnpinPage(common.HeaderPageID, false)
	} else {
		hp.InsertRecord(name, common.InvalidPageID)
		raw.WUnlatch()
		pool.UnpinPage(common.HeaderPageID, true)
	}

	return t
}

func (t *BPlusTree) IsEmpty() bool {
	t.treeLatch.RLock()
	defer t.treeLatch.RUnlock()

	return t.rootPageID == common.InvalidPageID
}

func (t *BPlusTree) GetRootPageID() common.PageID {
	t.treeLatch.RLock()
	defer t.treeLatch.RUnlock()

	return t.rootPageID
}

// GetValue looks the key up and reports whether it is present.
func (t *BPlusTree) GetValue(key Key) (RID, bool) {
	t.treeLatch.RLock()
	if t.rootPageID == common.InvalidPageID {
		t.treeLatch.RUnlock()
		return RID{}, false
	}

	ctx := &opContext{mode: modeRead, chain: []*pages.RawPage{nil}}
	raw := t.findLeaf(key, false, ctx)
	val, found := t.asLeaf(raw).Lookup(key)
	t.releaseAll(ctx, false)
	return val, found
}

// Insert adds the pair and returns false when the key already exists, in which
// case nothing changes.
func (t *BPlusTree) Insert(key Key, value RID) bool {
	t.treeLatch.Lock()
	ctx := &opContext{mode: modeInsert, chain: []*pages.RawPage{nil}}

	if t.rootPageID == common.InvalidPageID {
		leaf := t.newLeafPage(common.InvalidPageID)
		leaf.Insert(key, value)
		t.rootPageID = leaf.PageID()
		t.updateRoot()
		t.pool.UnpinPage(leaf.PageID(), true)
		t.releaseAll(ctx, false)
		return true
	}

	raw := t.findLeaf(key, false, ctx)
	leaf := t.asLeaf(raw)

	newSize := leaf.Insert(key, value)
	if newSize == -1 {
		t.releaseAll(ctx, false)
		return false
	}

	if newSize < t.leafMaxSize {
		t.releaseAll(ctx, true)
		return true
	}

	// the leaf hit its capacity, split it and hand the sibling's first key up
	sibling := t.newLeafPage(leaf.GetParentPageID())
	sibling.SetNextPageID(leaf.GetNextPageID())
	leaf.SetNextPageID(sibling.PageID())

	for sibling.GetSize() < sibling.GetMinSize() {
		leaf.ShiftTailItemToFront(sibling)
	}

	t.insertIntoParent(leaf.GetKeyAt(0), leaf.TreePage, sibling.GetKeyAt(0), sibling.TreePage)
	t.pool.UnpinPage(sibling.PageID(), true)
	t.releaseAll(ctx, true)
	return true
}

// Remove deletes the key. Removing an absent key is a no-op.
func (t *BPlusTree) Remove(key Key) {
	t.treeLatch.Lock()
	ctx := &opContext{mode: modeRemove, chain: []*pages.RawPage{nil}}

	if t.rootPageID == common.InvalidPageID {
		t.releaseAll(ctx, false)
		return
	}

	raw := t.findLeaf(key, false, ctx)
	leaf := t.asLeaf(raw)

	idx := leaf.KeyIndex(key)
	if idx >= leaf.GetSize() || !keyEq(leaf.GetKeyAt(idx), key) {
		t.releaseAll(ctx, false)
		return
	}

	leaf.RemoveAt(idx)
	if leaf.GetSize() < leaf.GetMinSize() {
		t.redistributeOrMerge(ctx, raw)
	}

	t.releaseAll(ctx, true)
	for _, pageID := range ctx.deleted {
		t.pool.DeletePage(pageID)
	}
}

// findLeaf descends to the leaf that owns the key, or to the leftmost leaf.
// The caller already holds the tree latch and has pushed its sentinel onto the
// chain. Read descents release the parent as soon as the child is latched;
// write descents release every held ancestor once the just latched node is
// safe for the pending operation.
func (t *BPlusTree) findLeaf(key Key, leftmost bool, ctx *opContext) *pages.RawPage {
	pageID := t.rootPageID
	for {
		raw := t.fetchPage(pageID)

		if ctx.mode == modeRead {
			raw.RLatch()
			t.releaseAll(ctx, false)
		} else {
			raw.WLatch()
			if t.isSafe(raw, ctx.mode) {
				t.releaseAll(ctx, false)
			}
		}
		ctx.chain = append(ctx.chain, raw)

		if (TreePage{RawPage: raw}).IsLeafPage() {
			return raw
		}

		internal := t.asInternal(raw)
		if leftmost {
			pageID = internal.GetValueAt(0)
		} else {
			pageID = internal.Lookup(key)
		}
	}
}

// isSafe reports whether the pending operation on the subtree below this node
// can no longer propagate above it.
func (t *BPlusTree) isSafe(raw *pages.RawPage, mode traverseMode) bool {
	tp := TreePage{RawPage: raw}
	size := tp.GetSize()

	if mode == modeInsert {
		if tp.IsLeafPage() {
			return size+1 < tp.GetMaxSize()
		}
		return size < tp.GetMaxSize()
	}

	if tp.IsRootPage() {
		// losing one more entry must not force a root change
		if tp.IsLeafPage() {
			return size > 1
		}
		return size > 2
	}
	return size-1 >= tp.GetMinSize()
}

// insertIntoParent publishes a split: the old node's first key is refreshed at
// its slot, unless that slot is index 0, whose key has to stay equal to the key
// the parent's own parent holds for it. The new node is inserted right of the
// old one with its first key as the separator. Splits cascade upward until a
// parent has room or a new root is built.
func (t *BPlusTree) insertIntoParent(oldKey Key, oldNode TreePage, newKey Key, newNode TreePage) {
	if oldNode.IsRootPage() {
		root := t.newInternalPage(common.InvalidPageID)
		root.BuildRoot(oldKey, oldNode.PageID(), newKey, newNode.PageID())
		oldNode.SetParentPageID(root.PageID())
		newNode.SetParentPageID(root.PageID())
		t.rootPageID = root.PageID()
		t.updateRoot()
		t.pool.UnpinPage(root.PageID(), true)
		return
	}

	// the parent is latched by this operation's chain, fetch only adds a pin
	parentRaw := t.fetchPage(oldNode.GetParentPageID())
	parent := t.asInternal(parentRaw)

	idx := parent.ValueIndex(oldNode.PageID())
	if idx > 0 {
		parent.SetKeyAt(idx, oldKey)
	}
	parent.Insert(newKey, newNode.PageID())
	newNode.SetParentPageID(parent.PageID())

	if parent.GetSize() > t.internalMaxSize {
		sibling := t.newInternalPage(parent.GetParentPageID())
		for sibling.GetSize() < sibling.GetMinSize() {
			parent.RelocateTailToFront(sibling, t.pool)
		}

		t.insertIntoParent(parent.GetKeyAt(0), parent.TreePage, sibling.GetKeyAt(0), sibling.TreePage)
		t.pool.UnpinPage(sibling.PageID(), true)
	}

	t.pool.UnpinPage(parentRaw.PageID(), true)
}

// redistributeOrMerge fixes an underfull node by borrowing from a sibling when
// one has spare entries, merging otherwise. An underfull parent recurses.
func (t *BPlusTree) redistributeOrMerge(ctx *opContext, raw *pages.RawPage) {
	node := TreePage{RawPage: raw}
	if node.IsRootPage() {
		t.adjustRoot(ctx, raw)
		return
	}

	parentRaw := t.fetchPage(node.GetParentPageID())
	parent := t.asInternal(parentRaw)
	index := parent.ValueIndex(node.PageID())

	// borrow from the left sibling
	if index > 0 {
		leftRaw := t.fetchPage(parent.GetValueAt(index - 1))
		leftRaw.WLatch()

		if (TreePage{RawPage: leftRaw}).GetSize() > (TreePage{RawPage: leftRaw}).GetMinSize() {
			t.moveTailToFront(leftRaw, raw)
			parent.SetKeyAt(index, t.firstKeyOf(raw))
			leftRaw.WUnlatch()
			t.pool.UnpinPage(leftRaw.PageID(), true)
			t.pool.UnpinPage(parentRaw.PageID(), true)
			return
		}

		leftRaw.WUnlatch()
		t.pool.UnpinPage(leftRaw.PageID(), false)
	}

	// borrow from the right sibling
	if index < parent.GetSize()-1 {
		rightRaw := t.fetchPage(parent.GetValueAt(index + 1))
		rightRaw.WLatch()

		if (TreePage{RawPage: rightRaw}).GetSize() > (TreePage{RawPage: rightRaw}).GetMinSize() {
			t.moveHeadToBack(rightRaw, raw)
			parent.SetKeyAt(index+1, t.firstKeyOf(rightRaw))
			rightRaw.WUnlatch()
			t.pool.UnpinPage(rightRaw.PageID(), true)
			t.pool.UnpinPage(parentRaw.PageID(), true)
			return
		}

		rightRaw.WUnlatch()
		t.pool.UnpinPage(rightRaw.PageID(), false)
	}

	// neither sibling can spare an entry, merge
	if index > 0 {
		leftRaw := t.fetchPage(parent.GetValueAt(index - 1))
		leftRaw.WLatch()
		t.mergeInto(leftRaw, raw)
		parent.RemoveAt(index)
		ctx.deleted = append(ctx.deleted, raw.PageID())
		leftRaw.WUnlatch()
		t.pool.UnpinPage(leftRaw.PageID(), true)
	} else if index < parent.GetSize()-1 {
		rightRaw := t.fetchPage(parent.GetValueAt(index + 1))
		rightRaw.WLatch()
		t.mergeInto(raw, rightRaw)
		parent.RemoveAt(index + 1)
		ctx.deleted = append(ctx.deleted, rightRaw.PageID())
		rightRaw.WUnlatch()
		t.pool.UnpinPage(rightRaw.PageID(), true)
	}

	if parent.GetSize() < parent.GetMinSize() {
		t.redistributeOrMerge(ctx, parentRaw)
	}
	t.pool.UnpinPage(parentRaw.PageID(), true)
}

// adjustRoot clears the tree when a root leaf runs empty and promotes the only
// child when an internal root shrinks to one entry.
func (t *BPlusTree) adjustRoot(ctx *opContext, raw *pages.RawPage) {
	node := TreePage{RawPage: raw}

	if node.IsLeafPage() {
		if node.GetSize() == 0 {
			t.rootPageID = common.InvalidPageID
			t.updateRoot()
			ctx.deleted = append(ctx.deleted, raw.PageID())
		}
		return
	}

	if node.GetSize() == 1 {
		childID := t.asInternal(raw).RemoveAndReturnOnlyChild()
		t.rootPageID = childID
		t.updateRoot()

		childRaw := t.fetchPage(childID)
		TreePage{RawPage: childRaw}.SetParentPageID(common.InvalidPageID)
		t.pool.UnpinPage(childID, true)

		ctx.deleted = append(ctx.deleted, raw.PageID())
	}
}

func (t *BPlusTree) moveTailToFront(fromRaw, toRaw *pages.RawPage) {
	if (TreePage{RawPage: fromRaw}).IsLeafPage() {
		t.asLeaf(fromRaw).ShiftTailItemToFront(t.asLeaf(toRaw))
	} else {
		t.asInternal(fromRaw).RelocateTailToFront(t.asInternal(toRaw), t.pool)
	}
}

func (t *BPlusTree) moveHeadToBack(fromRaw, toRaw *pages.RawPage) {
	if (TreePage{RawPage: fromRaw}).IsLeafPage() {
		t.asLeaf(fromRaw).ShiftHeadItemToBack(t.asLeaf(toRaw))
	} else {
		t.asInternal(fromRaw).RelocateHeadToBack(t.asInternal(toRaw), t.pool)
	}
}

// mergeInto drains the right node into the left one. Leaves splice the next
// pointer chain; internal entries reparent as they move.
func (t *BPlusTree) mergeInto(leftRaw, rightRaw *pages.RawPage) {
	if (TreePage{RawPage: leftRaw}).IsLeafPage() {
		left, right := t.asLeaf(leftRaw), t.asLeaf(rightRaw)
		for right.GetSize() > 0 {
			right.ShiftHeadItemToBack(left)
		}
		left.SetNextPageID(right.GetNextPageID())
	} else {
		left, right := t.asInternal(leftRaw), t.asInternal(rightRaw)
		for right.GetSize() > 0 {
			right.RelocateHeadToBack(left, t.pool)
		}
	}
}

func (t *BPlusTree) firstKeyOf(raw *pages.RawPage) Key {
	if (TreePage{RawPage: raw}).IsLeafPage() {
		return t.asLeaf(raw).GetKeyAt(0)
	}
	return t.asInternal(raw).GetKeyAt(0)
}

// releaseAll drops the chain in acquisition order. Write chains unpin with the
// given dirty flag; the tree latch is released where its sentinel sits.
func (t *BPlusTree) releaseAll(ctx *opContext, dirty bool) {
	for _, raw := range ctx.chain {
		if raw == nil {
			if ctx.mode == modeRead {
				t.treeLatch.RUnlock()
			} else {
				t.treeLatch.Unlock()
			}
			continue
		}

		if ctx.mode == modeRead {
			raw.RUnLatch()
			t.pool.UnpinPage(raw.PageID(), false)
		} else {
			raw.WUnlatch()
			t.pool.UnpinPage(raw.PageID(), dirty)
		}
	}
	ctx.chain = ctx.chain[:0]
}

// updateRoot persists the root page id into the header page record. Called
// with the tree latch held exclusively whenever the root changes.
func (t *BPlusTree) updateRoot() {
	raw := t.fetchPage(common.HeaderPageID)
	raw.WLatch()
	pages.HeaderPageFrom(raw).UpdateRecord(t.name, t.rootPageID)
	raw.WUnlatch()
	t.pool.UnpinPage(common.HeaderPageID, true)
}

func (t *BPlusTree) fetchPage(pageID common.PageID) *pages.RawPage {
	raw, err := t.pool.FetchPage(pageID)
	common.Must(err)
	return raw
}

func (t *BPlusTree) newLeafPage(parentID common.PageID) *LeafPage {
	raw, err := t.pool.NewPage()
	common.Must(err)
	leaf := t.asLeaf(raw)
	leaf.Init(raw.PageID(), parentID, t.leafMaxSize)
	return leaf
}

func (t *BPlusTree) newInternalPage(parentID common.PageID) *InternalPage {
	raw, err := t.pool.NewPage()
	common.Must(err)
	internal := t.asInternal(raw)
	internal.Init(raw.PageID(), parentID, t.internalMaxSize)
	return internal
}

func (t *BPlusTree) asLeaf(raw *pages.RawPage) *LeafPage {
	return &LeafPage{TreePage: TreePage{RawPage: raw}, serializer: t.serializer, keySize: t.serializer.Size()}
}

func (t *BPlusTree) asInternal(raw *pages.RawPage) *InternalPage {
	return &InternalPage{TreePage: TreePage{RawPage: raw}, serializer: t.serializer, keySize: t.serializer.Size()}
}

// Height walks the leftmost spine and returns the number of levels. Meant for
// tests and debugging.
func (t *BPlusTree) Height() int {
	t.treeLatch.RLock()
	if t.rootPageID == common.InvalidPageID {
		t.treeLatch.RUnlock()
		return 0
	}

	raw := t.fetchPage(t.rootPageID)
	raw.RLatch()
	t.treeLatch.RUnlock()

	height := 1
	for !(TreePage{RawPage: raw}).IsLeafPage() {
		childID := t.asInternal(raw).GetValueAt(0)
		child := t.fetchPage(childID)
		child.RLatch()
		raw.RUnLatch()
		t.pool.UnpinPage(raw.PageID(), false)
		raw = child
		height++
	}

	raw.RUnLatch()
	t.pool.UnpinPage(raw.PageID(), false)
	return height
}

// Count scans the leaf chain and returns the number of stored keys. Meant for
// tests and debugging.
func (t *BPlusTree) Count() int {
	num := 0
	for it := t.Begin(); !it.IsEnd(); it.Next() {
		num++
	}
	return num
}

package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"tarn/common"
	"tarn/disk/pages"
)

// InternalPage stores (key, child pid) entries. The key at index 0 does not
// take part in search but is kept equal to the key the parent holds at this
// page's slot, which is what lets splits and redistributions publish
// separators straight from a node's first key. Keys at indices 1..size-1 are
// strictly increasing.
type InternalPage struct {
	TreePage
	serializer KeySerializer
	keySize    int
}

// pageFetcher is the slice of the buffer pool the relocation helpers need to
// reparent moved children.
type pageFetcher interface {
	FetchPage(pageID common.PageID) (*pages.RawPage, error)
	UnpinPage(pageID common.PageID, isDirty bool) bool
}

func (p *InternalPage) Init(pageID, parentID common.PageID, maxSize int) {
	p.initHeader(internalPage, pageID, parentID, maxSize)
}

func (p *InternalPage) entrySize() int {
	return p.keySize + common.PageIDSize
}

func (p *InternalPage) offsetOf(idx int) int {
	return internalHeaderSize + idx*p.entrySize()
}

func (p *InternalPage) GetKeyAt(idx int) Key {
	key, err := p.serializer.Deserialize(p.Data[p.offsetOf(idx):])
	common.Must(err)
	return key
}

func (p *InternalPage) SetKeyAt(idx int, key Key) {
	asByte, err := p.serializer.Serialize(key)
	common.Must(err)
	copy(p.Data[p.offsetOf(idx):], asByte)
}

func (p *InternalPage) GetValueAt(idx int) common.PageID {
	return common.PageID(binary.BigEndian.Uint32(p.Data[p.offsetOf(idx)+p.keySize:]))
}

func (p *InternalPage) SetValueAt(idx int, pageID common.PageID) {
	binary.BigEndian.PutUint32(p.Data[p.offsetOf(idx)+p.keySize:], uint32(pageID))
}

// ValueIndex returns the index whose child is the given page id, or -1.
func (p *InternalPage) ValueIndex(pageID common.PageID) int {
	for i := 0; i < p.GetSize(); i++ {
		if p.GetValueAt(i) == pageID {
			return i
		}
	}
	return -1
}

// KeyIndex returns the first index in [1, size) whose key is greater than or
// equal to the given key, or the page's size when every key is smaller.
func (p *InternalPage) KeyIndex(key Key) int {
	n := p.GetSize()
	if n <= 1 {
		return n
	}
	return sort.Search(n-1, func(i int) bool {
		return !p.GetKeyAt(i + 1).Less(key)
	}) + 1
}

// Lookup returns the child whose subtree may contain the key: the child of the
// largest index whose key is not greater, with child 0 covering everything
// below the key at index 1.
func (p *InternalPage) Lookup(key Key) common.PageID {
	n := p.GetSize()
	if n < 1 {
		panic("internal page must have at least one child")
	}
	if n == 1 || key.Less(p.GetKeyAt(1)) {
		return p.GetValueAt(0)
	}

	// first index in [1, n) whose key is strictly greater, minus one
	i := sort.Search(n-1, func(i int) bool {
		return key.Less(p.GetKeyAt(i + 1))
	})
	return p.GetValueAt(i)
}

// Insert puts the pair at its sorted position among indices [1, size) and
// returns the new size.
func (p *InternalPage) Insert(key Key, child common.PageID) int {
	idx := p.KeyIndex(key)
	p.shiftRightAt(idx)
	p.IncreaseSize(1)
	p.SetKeyAt(idx, key)
	p.SetValueAt(idx, child)
	return p.GetSize()
}

// InsertNodeAfter places the new entry right after the child that holds the
// old page id.
func (p *InternalPage) InsertNodeAfter(oldChild common.PageID, newKey Key, newChild common.PageID) {
	idx := p.ValueIndex(oldChild)
	if idx == -1 {
		panic(fmt.Sprintf("old child is not in the internal page: %v", oldChild))
	}

	p.shiftRightAt(idx + 1)
	p.IncreaseSize(1)
	p.SetKeyAt(idx+1, newKey)
	p.SetValueAt(idx+1, newChild)
}

func (p *InternalPage) RemoveAt(idx int) {
	if idx < 0 || idx >= p.GetSize() {
		panic(fmt.Sprintf("internal index is out of range: %v, size: %v", idx, p.GetSize()))
	}

	p.shiftLeftAt(idx + 1)
	p.IncreaseSize(-1)
}

// RemoveAndReturnOnlyChild empties a one child page and hands the child back,
// used when an internal root collapses.
func (p *InternalPage) RemoveAndReturnOnlyChild() common.PageID {
	if p.GetSize() != 1 {
		panic(fmt.Sprintf("page does not hold exactly one child, size: %v", p.GetSize()))
	}

	child := p.GetValueAt(0)
	p.SetSize(0)
	return child
}

// BuildRoot fills a fresh page with two children so it can serve as the new
// root after a root split.
func (p *InternalPage) BuildRoot(key1 Key, val1 common.PageID, key2 Key, val2 common.PageID) {
	p.SetSize(2)
	p.SetKeyAt(0, key1)
	p.SetValueAt(0, val1)
	p.SetKeyAt(1, key2)
	p.SetValueAt(1, val2)
}

// RelocateTailToFront moves this page's last entry to the recipient's index 0
// and reparents the moved child.
func (p *InternalPage) RelocateTailToFront(recipient *InternalPage, pool pageFetcher) {
	tail := p.GetSize() - 1
	child := p.GetValueAt(tail)

	recipient.shiftRightAt(0)
	recipient.IncreaseSize(1)
	copy(recipient.Data[recipient.offsetOf(0):recipient.offsetOf(1)], p.Data[p.offsetOf(tail):p.offsetOf(tail+1)])
	p.IncreaseSize(-1)

	reparent(pool, child, recipient.PageID())
}

// RelocateHeadToBack moves this page's index 0 entry to the recipient's tail
// and reparents the moved child.
func (p *InternalPage) RelocateHeadToBack(recipient *InternalPage, pool pageFetcher) {
	child := p.GetValueAt(0)
	back := recipient.GetSize()

	copy(recipient.Data[recipient.offsetOf(back):recipient.offsetOf(back+1)], p.Data[p.offsetOf(0):p.offsetOf(1)])
	recipient.IncreaseSize(1)
	p.shiftLeftAt(1)
	p.IncreaseSize(-1)

	reparent(pool, child, recipient.PageID())
}

func (p *InternalPage) shiftRightAt(idx int) {
	size := p.GetSize()
	copy(p.Data[p.offsetOf(idx+1):p.offsetOf(size+1)], p.Data[p.offsetOf(idx):p.offsetOf(size)])
}

func (p *InternalPage) shiftLeftAt(idx int) {
	if idx < 1 {
		panic(fmt.Sprintf("index %v cannot be shifted to left, it should be greater than 0", idx))
	}
	size := p.GetSize()
	copy(p.Data[p.offsetOf(idx-1):p.offsetOf(size-1)], p.Data[p.offsetOf(idx):p.offsetOf(size)])
}

// reparent points the moved child at its new parent. The child's content latch
// is not taken; relocation only happens inside a write crabbed subtree.
func reparent(pool pageFetcher, childID, parentID common.PageID) {
	raw, err := pool.FetchPage(childID)
	common.Must(err)
	TreePage{RawPage: raw}.SetParentPageID(parentID)
	pool.UnpinPage(childID, true)
}

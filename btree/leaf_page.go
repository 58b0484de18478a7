package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"tarn/common"
)

// LeafPage stores (key, RID) entries sorted by strictly increasing key. Leaves
// are chained through their next page id in key order.
type LeafPage struct {
	TreePage
	serializer KeySerializer
	keySize    int
}

func (l *LeafPage) Init(pageID, parentID common.PageID, maxSize int) {
	l.initHeader(leafPage, pageID, parentID, maxSize)
	l.SetNextPageID(common.InvalidPageID)
}

func (l *LeafPage) GetNextPageID() common.PageID {
	return common.PageID(binary.BigEndian.Uint32(l.Data[offNext:]))
}

func (l *LeafPage) SetNextPageID(pageID common.PageID) {
	binary.BigEndian.PutUint32(l.Data[offNext:], uint32(pageID))
}

func (l *LeafPage) entrySize() int {
	return l.keySize + RIDSize
}

func (l *LeafPage) offsetOf(idx int) int {
	return leafHeaderSize + idx*l.entrySize()
}

func (l *LeafPage) GetKeyAt(idx int) Key {
	key, err := l.serializer.Deserialize(l.Data[l.offsetOf(idx):])
	common.Must(err)
	return key
}

func (l *LeafPage) SetKeyAt(idx int, key Key) {
	asByte, err := l.serializer.Serialize(key)
	common.Must(err)
	copy(l.Data[l.offsetOf(idx):], asByte)
}

func (l *LeafPage) GetValueAt(idx int) RID {
	offset := l.offsetOf(idx) + l.keySize
	return RID{
		PageID:  common.PageID(binary.BigEndian.Uint32(l.Data[offset:])),
		SlotNum: binary.BigEndian.Uint16(l.Data[offset+common.PageIDSize:]),
	}
}

func (l *LeafPage) SetValueAt(idx int, val RID) {
	offset := l.offsetOf(idx) + l.keySize
	binary.BigEndian.PutUint32(l.Data[offset:], uint32(val.PageID))
	binary.BigEndian.PutUint16(l.Data[offset+common.PageIDSize:], val.SlotNum)
}

// KeyIndex returns the first index whose key is greater than or equal to the
// given key, or the page's size when every key is smaller.
func (l *LeafPage) KeyIndex(key Key) int {
	return sort.Search(l.GetSize(), func(i int) bool {
		return !l.GetKeyAt(i).Less(key)
	})
}

func (l *LeafPage) Lookup(key Key) (RID, bool) {
	i := l.KeyIndex(key)
	if i < l.GetSize() && keyEq(l.GetKeyAt(i), key) {
		return l.GetValueAt(i), true
	}
	return RID{}, false
}

// Insert puts the pair at its sorted position and returns the new size, or -1
// when the key is already present. Keys are unique.
func (l *LeafPage) Insert(key Key, val RID) int {
	idx := l.KeyIndex(key)
	if idx < l.GetSize() && keyEq(l.GetKeyAt(idx), key) {
		return -1
	}

	l.shiftRightAt(idx)
	l.IncreaseSize(1)
	l.SetKeyAt(idx, key)
	l.SetValueAt(idx, val)
	return l.GetSize()
}

func (l *LeafPage) RemoveAt(idx int) {
	if idx < 0 || idx >= l.GetSize() {
		panic(fmt.Sprintf("leaf index is out of range: %v, size: %v", idx, l.GetSize()))
	}

	l.shiftLeftAt(idx + 1)
	l.IncreaseSize(-1)
}

// ShiftTailItemToFront moves this page's last entry to the recipient's index 0.
func (l *LeafPage) ShiftTailItemToFront(recipient *LeafPage) {
	tail := l.GetSize() - 1
	recipient.shiftRightAt(0)
	recipient.IncreaseSize(1)
	copy(recipient.Data[recipient.offsetOf(0):recipient.offsetOf(1)], l.Data[l.offsetOf(tail):l.offsetOf(tail+1)])
	l.IncreaseSize(-1)
}

// ShiftHeadItemToBack moves this page's first entry to the recipient's tail.
func (l *LeafPage) ShiftHeadItemToBack(recipient *LeafPage) {
	back := recipient.GetSize()
	copy(recipient.Data[recipient.offsetOf(back):recipient.offsetOf(back+1)], l.Data[l.offsetOf(0):l.offsetOf(1)])
	recipient.IncreaseSize(1)
	l.shiftLeftAt(1)
	l.IncreaseSize(-1)
}

// shiftRightAt opens a one entry hole at idx by moving entries [idx, size) one
// slot right.
func (l *LeafPage) shiftRightAt(idx int) {
	size := l.GetSize()
	copy(l.Data[l.offsetOf(idx+1):l.offsetOf(size+1)], l.Data[l.offsetOf(idx):l.offsetOf(size)])
}

// shiftLeftAt overwrites the entry at idx-1 by moving entries [idx, size) one
// slot left.
func (l *LeafPage) shiftLeftAt(idx int) {
	if idx < 1 {
		panic(fmt.Sprintf("index %v cannot be shifted to left, it should be greater than 0", idx))
	}
	size := l.GetSize()
	copy(l.Data[l.offsetOf(idx-1):l.offsetOf(size-1)], l.Data[l.offsetOf(idx):l.offsetOf(size)])
}

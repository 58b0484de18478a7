package btree

import (
	"encoding/binary"

	"tarn/common"
	"tarn/disk/pages"
)

// node page header layout, big endian:
//
//	| page type: 4 | lsn: 4 | size: 4 | max size: 4 | parent pid: 4 | page id: 4 |
//
// leaves append | next pid: 4 |. entries follow the header as a flat array of
// fixed size (key, value) pairs.
const (
	offPageType = 0
	offLSN      = 4
	offSize     = 8
	offMaxSize  = 12
	offParent   = 16
	offPageID   = 20
	offNext     = 24

	internalHeaderSize = 24
	leafHeaderSize     = 28
)

const (
	invalidPage uint32 = iota
	leafPage
	internalPage
)

// TreePage reads and writes the node header shared by leaf and internal pages.
// Callers hold the page's latch.
type TreePage struct {
	*pages.RawPage
}

func (t TreePage) GetPageType() uint32 {
	return binary.BigEndian.Uint32(t.Data[offPageType:])
}

func (t TreePage) SetPageType(pageType uint32) {
	binary.BigEndian.PutUint32(t.Data[offPageType:], pageType)
}

func (t TreePage) GetPageLSN() uint32 {
	return binary.BigEndian.Uint32(t.Data[offLSN:])
}

func (t TreePage) SetPageLSN(lsn uint32) {
	binary.BigEndian.PutUint32(t.Data[offLSN:], lsn)
}

// GetSize returns the number of entries; for internal pages that is the number
// of children.
func (t TreePage) GetSize() int {
	return int(binary.BigEndian.Uint32(t.Data[offSize:]))
}

func (t TreePage) SetSize(size int) {
	binary.BigEndian.PutUint32(t.Data[offSize:], uint32(size))
}

func (t TreePage) IncreaseSize(delta int) {
	t.SetSize(t.GetSize() + delta)
}

func (t TreePage) GetMaxSize() int {
	return int(binary.BigEndian.Uint32(t.Data[offMaxSize:]))
}

func (t TreePage) SetMaxSize(maxSize int) {
	binary.BigEndian.PutUint32(t.Data[offMaxSize:], uint32(maxSize))
}

// GetMinSize returns the occupancy floor for non root nodes. A leaf split
// distributes max size entries, an internal split max size plus one children;
// the floor is the smaller half of each so both halves of a split are legal.
func (t TreePage) GetMinSize() int {
	if t.IsLeafPage() {
		return t.GetMaxSize() / 2
	}
	return (t.GetMaxSize() + 1) / 2
}

func (t TreePage) GetParentPageID() common.PageID {
	return common.PageID(binary.BigEndian.Uint32(t.Data[offParent:]))
}

func (t TreePage) SetParentPageID(pageID common.PageID) {
	binary.BigEndian.PutUint32(t.Data[offParent:], uint32(pageID))
}

func (t TreePage) SetHeaderPageID(pageID common.PageID) {
	binary.BigEndian.PutUint32(t.Data[offPageID:], uint32(pageID))
}

func (t TreePage) IsLeafPage() bool {
	return t.GetPageType() == leafPage
}

func (t TreePage) IsRootPage() bool {
	return t.GetParentPageID() == common.InvalidPageID
}

func (t TreePage) initHeader(pageType uint32, pageID, parentID common.PageID, maxSize int) {
	t.SetPageType(pageType)
	t.SetPageLSN(0)
	t.SetSize(0)
	t.SetMaxSize(maxSize)
	t.SetParentPageID(parentID)
	t.SetHeaderPageID(pageID)
}

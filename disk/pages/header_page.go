package pages

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"tarn/common"
	"tarn/disk"
)

const (
	headerNameSize   = 32
	headerRecordSize = headerNameSize + common.PageIDSize
)

// HeaderPage is a view over the reserved header page. It keeps a flat table of
// index name to root page id records:
//
//	| record count: 4 | name: 32, root pid: 4 | name: 32, root pid: 4 | ...
//
// It is fetched through the buffer pool like any other page; callers hold the
// page's latch while reading or mutating records.
type HeaderPage struct {
	*RawPage
}

func HeaderPageFrom(page *RawPage) HeaderPage {
	return HeaderPage{RawPage: page}
}

func (h HeaderPage) RecordCount() int {
	return int(binary.BigEndian.Uint32(h.Data))
}

// InsertRecord appends a new record. Returns false if the name already exists
// or the page is out of room.
func (h HeaderPage) InsertRecord(name string, rootPageID common.PageID) bool {
	if len(name) > headerNameSize {
		panic(fmt.Sprintf("index name is too long: %v", name))
	}
	if _, ok := h.GetRecord(name); ok {
		return false
	}

	count := h.RecordCount()
	offset := 4 + count*headerRecordSize
	if offset+headerRecordSize > disk.PageSize {
		return false
	}

	copy(h.Data[offset:offset+headerNameSize], make([]byte, headerNameSize))
	copy(h.Data[offset:], name)
	binary.BigEndian.PutUint32(h.Data[offset+headerNameSize:], uint32(rootPageID))
	binary.BigEndian.PutUint32(h.Data, uint32(count+1))
	return true
}

// UpdateRecord overwrites the root page id of an existing record. Returns
// false if the name is unknown.
func (h HeaderPage) UpdateRecord(name string, rootPageID common.PageID) bool {
	i, ok := h.findRecord(name)
	if !ok {
		return false
	}

	offset := 4 + i*headerRecordSize
	binary.BigEndian.PutUint32(h.Data[offset+headerNameSize:], uint32(rootPageID))
	return true
}

func (h HeaderPage) GetRecord(name string) (common.PageID, bool) {
	i, ok := h.findRecord(name)
	if !ok {
		return common.InvalidPageID, false
	}

	offset := 4 + i*headerRecordSize
	return common.PageID(binary.BigEndian.Uint32(h.Data[offset+headerNameSize:])), true
}

func (h HeaderPage) findRecord(name string) (int, bool) {
	want := make([]byte, headerNameSize)
	copy(want, name)

	count := h.RecordCount()
	for i := 0; i < count; i++ {
		offset := 4 + i*headerRecordSize
		if bytes.Equal(h.Data[offset:offset+headerNameSize], want) {
			return i, true
		}
	}
	return 0, false
}

package disk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dsnet/golib/memfile"

	"tarn/common"
)

var _ IDiskManager = &MemManager{}

// MemManager keeps all pages in an in-memory file. It counts reads and writes
// so tests can assert that a dirty victim really hit the disk before its frame
// was reused.
type MemManager struct {
	file       *memfile.File
	lastPageID common.PageID
	freePages  []common.PageID
	mu         sync.Mutex
	numWrites  uint64
	numReads   uint64
}

func NewMemManager() *MemManager {
	d := &MemManager{file: memfile.New(make([]byte, 0))}

	// page 0 mirrors the file manager's private header, page 1 is the reserved
	// header page. materialize both so the first reads succeed.
	common.Must(d.WritePage(0, make([]byte, PageSize)))
	common.Must(d.WritePage(common.HeaderPageID, make([]byte, PageSize)))
	d.lastPageID = common.HeaderPageID
	atomic.StoreUint64(&d.numWrites, 0)
	return d
}

func (d *MemManager) ReadPage(pageID common.PageID, dest []byte) error {
	if len(dest) != PageSize {
		return fmt.Errorf("destination buffer is %d bytes, want %d", len(dest), PageSize)
	}

	atomic.AddUint64(&d.numReads, 1)
	n, err := d.file.ReadAt(dest, int64(PageSize)*int64(pageID))
	if err != nil {
		return err
	}
	if n != PageSize {
		return fmt.Errorf("%w: page id %d", ErrShortPage, pageID)
	}
	return nil
}

func (d *MemManager) WritePage(pageID common.PageID, data []byte) error {
	atomic.AddUint64(&d.numWrites, 1)
	_, err := d.file.WriteAt(data[:PageSize], int64(PageSize)*int64(pageID))
	return err
}

func (d *MemManager) AllocatePage() common.PageID {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.freePages); n > 0 {
		pageID := d.freePages[n-1]
		d.freePages = d.freePages[:n-1]
		return pageID
	}

	d.lastPageID++
	return d.lastPageID
}

func (d *MemManager) DeallocatePage(pageID common.PageID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.freePages = append(d.freePages, pageID)
}

func (d *MemManager) Close() error {
	return nil
}

// NumWrites returns how many pages have been written since construction; the
// two pages materialized by NewMemManager are not counted.
func (d *MemManager) NumWrites() uint64 {
	return atomic.LoadUint64(&d.numWrites)
}

func (d *MemManager) NumReads() uint64 {
	return atomic.LoadUint64(&d.numReads)
}

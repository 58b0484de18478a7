package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/ncw/directio"

	"tarn/common"
)

// PageSize is the size of one physical page. It equals the direct io block
// size so page buffers can be written with O_DIRECT as is.
const PageSize int = directio.BlockSize

var ErrShortPage = errors.New("partial page encountered")

// IDiskManager is the storage contract the buffer pool consumes. All calls are
// synchronous; callers treat failures as faults.
type IDiskManager interface {
	// ReadPage fills dest, which must be PageSize bytes, with the page's content.
	ReadPage(pageID common.PageID, dest []byte) error

	// WritePage persists PageSize bytes as the page's content.
	WritePage(pageID common.PageID, data []byte) error

	// AllocatePage returns an unused page id, either recycled or fresh.
	AllocatePage() common.PageID

	// DeallocatePage marks the page freeable so AllocatePage may hand it out again.
	DeallocatePage(pageID common.PageID)

	Close() error
}

var _ IDiskManager = &Manager{}

// Manager is the file backed disk manager. Page 0 is its private header which
// keeps the free list head and tail; freed pages are threaded into a list by
// storing the next free page id in their first bytes. Files are opened with
// O_DIRECT, so every transfer goes through one block aligned buffer.
type Manager struct {
	file       *os.File
	filename   string
	lastPageID common.PageID
	block      []byte
	mu         sync.Mutex
	header     *header
}

func NewDiskManager(file string) (*Manager, error) {
	f, err := directio.OpenFile(file, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("cannot open db file: %w", err)
	}

	d := &Manager{
		file:     f,
		filename: file,
		block:    directio.AlignedBlock(PageSize),
	}

	stats, err := f.Stat()
	if err != nil {
		return nil, err
	}

	filesize := stats.Size()
	log.Printf("db is initializing, file size is %d \n", filesize)

	if filesize == 0 {
		// fresh db file, page 0 is the manager's header and page 1 is reserved
		// for index root records.
		d.lastPageID = common.HeaderPageID
		d.initHeader()
		if err := d.WritePage(common.HeaderPageID, make([]byte, PageSize)); err != nil {
			return nil, err
		}
		return d, nil
	}

	d.lastPageID = common.PageID((int(filesize) / PageSize) - 1)
	return d, nil
}

func (d *Manager) ReadPage(pageID common.PageID, dest []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.readPage(pageID, dest)
}

func (d *Manager) WritePage(pageID common.PageID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writePage(pageID, data)
}

func (d *Manager) AllocatePage() common.PageID {
	d.mu.Lock()
	defer d.mu.Unlock()

	// if pop free list is successful return popped page
	if p := d.popFreeList(); p != common.InvalidPageID {
		return p
	}

	// else allocate a fresh page
	d.lastPageID++
	return d.lastPageID
}

// DeallocatePage appends the page to the free list and sets it as tail.
func (d *Manager) DeallocatePage(pageID common.PageID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.getHeader()

	// if free list is empty
	if h.freeListHead == common.InvalidPageID {
		h.freeListHead = pageID
		h.freeListTail = pageID
		d.setHeader(h)
		return
	}

	// the current tail may not be synced to file just yet. in that case readPage
	// returns short and for the consistency of the free list it needs to be
	// written to disk, hence empty bytes are initialized and the page is flushed.
	data := make([]byte, PageSize)
	if err := d.readPage(h.freeListTail, data); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, ErrShortPage) {
		panic(err)
	}

	binary.BigEndian.PutUint32(data, uint32(pageID))
	if err := d.writePage(h.freeListTail, data); err != nil {
		panic(err)
	}

	h.freeListTail = pageID
	d.setHeader(h)
}

func (d *Manager) Close() error {
	return d.file.Close()
}

func (d *Manager) readPage(pageID common.PageID, dest []byte) error {
	if len(dest) != PageSize {
		return fmt.Errorf("destination buffer is %d bytes, want %d", len(dest), PageSize)
	}

	n, err := d.file.ReadAt(d.block, int64(PageSize)*int64(pageID))
	if err != nil {
		return err
	}
	if n != PageSize {
		return fmt.Errorf("%w: page id %d", ErrShortPage, pageID)
	}

	copy(dest, d.block)
	return nil
}

func (d *Manager) writePage(pageID common.PageID, data []byte) error {
	copy(d.block, data)

	n, err := d.file.WriteAt(d.block, int64(PageSize)*int64(pageID))
	if err != nil {
		return err
	}
	if n != PageSize {
		return fmt.Errorf("%w: page id %d", ErrShortPage, pageID)
	}

	return nil
}

func (d *Manager) popFreeList() common.PageID {
	// if list is empty return the invalid id
	h := d.getHeader()
	if h.freeListHead == common.InvalidPageID {
		return common.InvalidPageID
	}

	// if there is only one entry in the free list return that and clear the list
	if h.freeListHead == h.freeListTail {
		pageID := h.freeListHead
		h.freeListHead, h.freeListTail = common.InvalidPageID, common.InvalidPageID
		d.setHeader(h)
		return pageID
	}

	// else pop head, read new head out of the popped page and update the header
	pageID := h.freeListHead

	data := make([]byte, PageSize)
	if err := d.readPage(pageID, data); err != nil {
		panic(err)
	}

	h.freeListHead = common.PageID(binary.BigEndian.Uint32(data))
	d.setHeader(h)
	return pageID
}

func (d *Manager) getHeader() header {
	if d.header != nil {
		return *d.header
	}

	data := make([]byte, PageSize)
	if err := d.readPage(0, data); err != nil {
		panic(err)
	}

	h := readHeader(data)
	d.header = &h
	return h
}

func (d *Manager) setHeader(h header) {
	d.header = &h
	page := make([]byte, PageSize)
	writeHeader(h, page)
	if err := d.writePage(0, page); err != nil {
		panic(err)
	}
}

func (d *Manager) initHeader() {
	d.setHeader(header{
		freeListHead: common.InvalidPageID,
		freeListTail: common.InvalidPageID,
	})
}

type header struct {
	freeListHead common.PageID
	freeListTail common.PageID
}

func readHeader(data []byte) header {
	return header{
		freeListHead: common.PageID(binary.BigEndian.Uint32(data)),
		freeListTail: common.PageID(binary.BigEndian.Uint32(data[4:])),
	}
}

func writeHeader(h header, dest []byte) {
	binary.BigEndian.PutUint32(dest, uint32(h.freeListHead))
	binary.BigEndian.PutUint32(dest[4:], uint32(h.freeListTail))
}

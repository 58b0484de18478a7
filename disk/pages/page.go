package pages

import (
	"sync"

	"tarn/common"
	"tarn/disk"
)

// RawPage is one frame's in-memory image of a physical page. The buffer pool
// owns every RawPage for its whole lifetime and recycles it across page ids
// with Reassign; callers only ever hold borrowed, pin counted references.
//
// Two locking domains apply and never mix: Data is guarded by the page's RW
// latch, which callers take through WLatch/RLatch; the bookkeeping (page id,
// pin count, dirty flag) is only ever touched under the owning pool's mutex
// and needs no synchronization of its own.
type RawPage struct {
	id    common.PageID
	pins  int
	dirty bool
	latch sync.RWMutex

	// Data is the page's content, always disk.PageSize bytes.
	Data []byte
}

// NewRawPage returns the image of an empty frame slot. The pool assigns a real
// page id to it through Reassign once the frame materializes a page.
func NewRawPage(id common.PageID) *RawPage {
	return &RawPage{id: id, Data: make([]byte, disk.PageSize)}
}

// Reassign recycles the frame image for another physical page: content is
// zeroed and the bookkeeping starts over for the given id. Passing the invalid
// id turns the image back into an empty slot.
func (p *RawPage) Reassign(id common.PageID) {
	p.id = id
	p.pins = 0
	p.dirty = false
	for i := range p.Data {
		p.Data[i] = 0
	}
}

func (p *RawPage) PageID() common.PageID {
	return p.id
}

// Pin takes one borrow on the frame. A frame with borrows outstanding must
// never be evicted or reassigned.
func (p *RawPage) Pin() {
	p.pins++
}

// Unpin returns one borrow.
func (p *RawPage) Unpin() {
	p.pins--
}

func (p *RawPage) PinCount() int {
	return p.pins
}

func (p *RawPage) IsDirty() bool {
	return p.dirty
}

// MarkDirty records that the content diverged from disk. The flag only comes
// back off through MarkClean after a successful write back.
func (p *RawPage) MarkDirty() {
	p.dirty = true
}

func (p *RawPage) MarkClean() {
	p.dirty = false
}

func (p *RawPage) WLatch() {
	p.latch.Lock()
}

func (p *RawPage) WUnlatch() {
	p.latch.Unlock()
}

func (p *RawPage) RLatch() {
	p.latch.RLock()
}

func (p *RawPage) RUnLatch() {
	p.latch.RUnlock()
}

package buffer

import (
	"errors"
	"fmt"
	"sync"

	"tarn/common"
	"tarn/container"
	"tarn/disk"
	"tarn/disk/pages"
)

var ErrNoFrame = errors.New("no frame is available: every page is pinned")

// pageTableBucketSize bounds how many page id to frame mappings share one
// bucket before it splits.
const pageTableBucketSize = 8

// BufferPool owns a fixed array of frames and materializes pages into them on
// demand. A frame is found through the free list first and through the
// replacer second; dirty victims are written back before their frame is
// reused. Every public operation runs under one pool mutex for its whole
// duration, including its disk transfers. Per-page content latches are the
// callers' business and never compose with the pool mutex.
type BufferPool struct {
	poolSize    int
	frames      []*pages.RawPage
	pageTable   *container.ExtendibleHashTable[common.PageID, int]
	emptyFrames []int
	replacer    IReplacer
	diskManager disk.IDiskManager
	lock        sync.Mutex
}

func NewBufferPool(poolSize, k int, diskManager disk.IDiskManager) *BufferPool {
	frames := make([]*pages.RawPage, poolSize)
	emptyFrames := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = pages.NewRawPage(common.InvalidPageID)
		emptyFrames[i] = i
	}

	return &BufferPool{
		poolSize:    poolSize,
		frames:      frames,
		pageTable:   container.NewExtendibleHashTable[common.PageID, int](pageTableBucketSize, container.HashPageID),
		emptyFrames: emptyFrames,
		replacer:    NewLRUKReplacer(poolSize, k),
		diskManager: diskManager,
	}
}

// NewPage allocates a fresh page id, materializes the zeroed page in a frame
// and returns it pinned. Returns ErrNoFrame when the free list is empty and
// nothing is evictable.
func (b *BufferPool) NewPage() (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameID, err := b.findFrame()
	if err != nil {
		return nil, err
	}

	pageID := b.diskManager.AllocatePage()

	p := b.frames[frameID]
	p.Reassign(pageID)
	p.Pin()

	b.pageTable.Insert(pageID, frameID)
	b.replacer.RecordAccess(frameID)
	b.replacer.SetEvictable(frameID, false)
	return p, nil
}

// FetchPage returns the resident page or reads it from disk into a frame,
// pinned either way. Returns ErrNoFrame when no frame can be obtained.
func (b *BufferPool) FetchPage(pageID common.PageID) (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameID, ok := b.pageTable.Find(pageID); ok {
		p := b.frames[frameID]
		p.Pin()
		b.replacer.RecordAccess(frameID)
		b.replacer.SetEvictable(frameID, false)
		return p, nil
	}

	frameID, err := b.findFrame()
	if err != nil {
		return nil, err
	}

	p := b.frames[frameID]
	p.Reassign(pageID)
	common.Must(b.diskManager.ReadPage(pageID, p.Data))
	p.Pin()

	b.pageTable.Insert(pageID, frameID)
	b.replacer.RecordAccess(frameID)
	b.replacer.SetEvictable(frameID, false)
	return p, nil
}

// UnpinPage drops one pin. Returns false if the page is not resident or its
// pin count is already zero. Once set, the dirty flag stays set until the page
// is flushed or evicted.
func (b *BufferPool) UnpinPage(pageID common.PageID, isDirty bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}

	p := b.frames[frameID]
	if p.PinCount() <= 0 {
		return false
	}

	if isDirty {
		p.MarkDirty()
	}

	p.Unpin()
	if p.PinCount() == 0 {
		b.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes the resident page to disk regardless of its dirty flag and
// clears the flag. Returns false if the page is not resident.
func (b *BufferPool) FlushPage(pageID common.PageID) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}

	p := b.frames[frameID]
	common.Must(b.diskManager.WritePage(pageID, p.Data))
	p.MarkClean()
	return true
}

// FlushAllPages writes every resident dirty page to disk.
func (b *BufferPool) FlushAllPages() {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, p := range b.frames {
		if p.PageID() == common.InvalidPageID || !p.IsDirty() {
			continue
		}
		common.Must(b.diskManager.WritePage(p.PageID(), p.Data))
		p.MarkClean()
	}
}

// DeletePage drops the page from the pool and gives its id back to the disk
// manager. Returns true if the page is not resident, false if it is still
// pinned.
func (b *BufferPool) DeletePage(pageID common.PageID) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return true
	}

	p := b.frames[frameID]
	if p.PinCount() > 0 {
		return false
	}

	if p.IsDirty() {
		common.Must(b.diskManager.WritePage(pageID, p.Data))
	}

	b.pageTable.Remove(pageID)
	b.replacer.Remove(frameID)
	p.Reassign(common.InvalidPageID)
	b.emptyFrames = append(b.emptyFrames, frameID)
	b.diskManager.DeallocatePage(pageID)
	return true
}

// EmptyFrameSize returns the number of frames which do not hold data of any
// physical page.
func (b *BufferPool) EmptyFrameSize() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.emptyFrames)
}

// findFrame pops the free list or evicts a victim, writing it back first when
// dirty. Caller holds the pool mutex.
func (b *BufferPool) findFrame() (int, error) {
	if len(b.emptyFrames) > 0 {
		frameID := b.emptyFrames[0]
		b.emptyFrames = b.emptyFrames[1:]
		return frameID, nil
	}

	frameID, ok := b.replacer.Evict()
	if !ok {
		return 0, ErrNoFrame
	}

	victim := b.frames[frameID]
	if victim.PinCount() != 0 {
		panic(fmt.Sprintf("a page is chosen as victim while its pin count is not zero. pin count: %v, page id: %v", victim.PinCount(), victim.PageID()))
	}

	if victim.IsDirty() {
		common.Must(b.diskManager.WritePage(victim.PageID(), victim.Data))
		victim.MarkClean()
	}

	b.pageTable.Remove(victim.PageID())
	return frameID, nil
}

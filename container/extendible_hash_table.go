package container

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"tarn/common"
)

type entry[K comparable, V any] struct {
	key K
	val V
}

// bucket holds at most bucketSize entries in insertion order. Several
// directory slots may share one bucket while its local depth is below the
// directory's global depth.
type bucket[K comparable, V any] struct {
	items      []entry[K, V]
	localDepth int
}

func newBucket[K comparable, V any](size, depth int) *bucket[K, V] {
	return &bucket[K, V]{items: make([]entry[K, V], 0, size), localDepth: depth}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, item := range b.items {
		if item.key == key {
			return item.val, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, item := range b.items {
		if item.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// insert overwrites on duplicate key and returns false only when the key is
// new and the bucket is full.
func (b *bucket[K, V]) insert(key K, val V, size int) bool {
	for i, item := range b.items {
		if item.key == key {
			b.items[i].val = val
			return true
		}
	}

	if len(b.items) >= size {
		return false
	}

	b.items = append(b.items, entry[K, V]{key: key, val: val})
	return true
}

// ExtendibleHashTable maps K to V through a power-of-two directory over
// bounded buckets. An overflowing bucket is split on the bit at its local
// depth; when the bucket already sits at the global depth, the directory
// doubles first. All operations are serialized by one mutex.
type ExtendibleHashTable[K comparable, V any] struct {
	globalDepth int
	bucketSize  int
	numBuckets  int
	dir         []*bucket[K, V]
	hasher      func(K) uint64
	lock        sync.Mutex
}

func NewExtendibleHashTable[K comparable, V any](bucketSize int, hasher func(K) uint64) *ExtendibleHashTable[K, V] {
	if bucketSize < 1 {
		panic(fmt.Sprintf("invalid bucket size: %v", bucketSize))
	}

	return &ExtendibleHashTable[K, V]{
		globalDepth: 0,
		bucketSize:  bucketSize,
		numBuckets:  1,
		dir:         []*bucket[K, V]{newBucket[K, V](bucketSize, 0)},
		hasher:      hasher,
	}
}

func (t *ExtendibleHashTable[K, V]) indexOf(key K) int {
	return int(t.hasher(key) & ((1 << t.globalDepth) - 1))
}

func (t *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.dir[t.indexOf(key)].find(key)
}

func (t *ExtendibleHashTable[K, V]) Remove(key K) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	// buckets are never merged back
	return t.dir[t.indexOf(key)].remove(key)
}

// Insert puts the pair into the table, overwriting the value if the key is
// already present. A full bucket is split until the new key fits; one split
// may not be enough when every resident key shares the discriminating bit, so
// the whole operation retries from the directory lookup.
func (t *ExtendibleHashTable[K, V]) Insert(key K, val V) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for {
		idx := t.indexOf(key)
		b := t.dir[idx]

		if b.insert(key, val, t.bucketSize) {
			return
		}

		if b.localDepth == t.globalDepth {
			// directory is too shallow to distinguish a sibling, double it by
			// duplicating the pointers
			t.globalDepth++
			t.dir = append(t.dir, t.dir...)
		}

		t.splitBucket(b)
	}
}

// splitBucket creates the sibling of an overflowing bucket, redistributes the
// entries on the bit at the old local depth and rewires the directory slots
// whose index carries that bit.
func (t *ExtendibleHashTable[K, V]) splitBucket(b *bucket[K, V]) {
	oldDepth := b.localDepth
	sibling := newBucket[K, V](t.bucketSize, oldDepth+1)
	b.localDepth++
	t.numBuckets++

	kept := b.items[:0]
	for _, item := range b.items {
		if (t.hasher(item.key)>>oldDepth)&1 == 1 {
			sibling.items = append(sibling.items, item)
		} else {
			kept = append(kept, item)
		}
	}
	b.items = kept

	for i := range t.dir {
		if t.dir[i] == b && (i>>oldDepth)&1 == 1 {
			t.dir[i] = sibling
		}
	}
}

// GetGlobalDepth returns the global depth of the directory.
func (t *ExtendibleHashTable[K, V]) GetGlobalDepth() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.globalDepth
}

// GetLocalDepth returns the local depth of the bucket the directory slot
// points to, or -1 when the slot index is out of range.
func (t *ExtendibleHashTable[K, V]) GetLocalDepth(dirIndex int) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	if dirIndex < 0 || dirIndex >= len(t.dir) {
		return -1
	}
	return t.dir[dirIndex].localDepth
}

func (t *ExtendibleHashTable[K, V]) GetNumBuckets() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.numBuckets
}

// HashPageID is the hasher page tables use.
func HashPageID(pageID common.PageID) uint64 {
	var b [common.PageIDSize]byte
	binary.BigEndian.PutUint32(b[:], uint32(pageID))
	return xxhash.Sum64(b[:])
}

func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

func HashInt(v int) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return xxhash.Sum64(b[:])
}

package container

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identity hasher makes directory indexes predictable in tests
func identity(k int) uint64 {
	return uint64(k)
}

func TestHashTable_Should_Find_What_Is_Inserted(t *testing.T) {
	table := NewExtendibleHashTable[int, string](4, identity)

	table.Insert(1, "a")
	table.Insert(2, "b")
	table.Insert(3, "c")

	v, ok := table.Find(2)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = table.Find(42)
	assert.False(t, ok)
}

func TestHashTable_Insert_Should_Overwrite_Existing_Key(t *testing.T) {
	table := NewExtendibleHashTable[int, int](2, identity)

	table.Insert(7, 1)
	table.Insert(7, 2)

	v, ok := table.Find(7)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, table.GetNumBuckets())
}

func TestHashTable_Remove_Should_Delete_Key(t *testing.T) {
	table := NewExtendibleHashTable[int, int](2, identity)

	table.Insert(1, 10)
	table.Insert(2, 20)

	assert.True(t, table.Remove(1))
	assert.False(t, table.Remove(1))

	_, ok := table.Find(1)
	assert.False(t, ok)
	v, ok := table.Find(2)
	require.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestHashTable_Overflow_Should_Double_Directory_And_Split(t *testing.T) {
	table := NewExtendibleHashTable[int, int](2, identity)

	// 0b000 and 0b100 land in the single depth zero bucket
	table.Insert(0b000, 0)
	table.Insert(0b100, 4)
	assert.Equal(t, 0, table.GetGlobalDepth())
	assert.Equal(t, 1, table.GetNumBuckets())

	// 0b010 overflows the bucket. one split on bit 0 cannot separate 0b000 and
	// 0b100, so the directory doubles twice and the split on bit 1 is what
	// makes room.
	table.Insert(0b010, 2)
	assert.Equal(t, 2, table.GetGlobalDepth())
	assert.Equal(t, 3, table.GetNumBuckets())

	// slots 0 and 2 point at the split buckets, slots 1 and 3 still share the
	// untouched sibling of the first doubling
	assert.Equal(t, 2, table.GetLocalDepth(0))
	assert.Equal(t, 1, table.GetLocalDepth(1))
	assert.Equal(t, 2, table.GetLocalDepth(2))
	assert.Equal(t, 1, table.GetLocalDepth(3))

	table.Insert(0b110, 6)

	for _, k := range []int{0b000, 0b100, 0b010, 0b110} {
		v, ok := table.Find(k)
		require.True(t, ok, "key %b should be findable", k)
		assert.Equal(t, k, v)
	}
}

func TestHashTable_Directory_Invariants_Hold_After_Random_Operations(t *testing.T) {
	table := NewExtendibleHashTable[int, int](4, HashInt)

	r := rand.New(rand.NewSource(42))
	inserted := map[int]int{}
	for i := 0; i < 10_000; i++ {
		k := r.Intn(4000)
		if r.Intn(10) < 7 {
			table.Insert(k, i)
			inserted[k] = i
		} else {
			table.Remove(k)
			delete(inserted, k)
		}
	}

	for k, v := range inserted {
		got, ok := table.Find(k)
		require.True(t, ok, "key %v should be findable", k)
		require.Equal(t, v, got)
	}

	table.lock.Lock()
	defer table.lock.Unlock()

	globalDepth := table.globalDepth
	require.Equal(t, 1<<globalDepth, len(table.dir))

	sharing := map[*bucket[int, int]]int{}
	for i, b := range table.dir {
		require.LessOrEqual(t, b.localDepth, globalDepth)
		sharing[b]++

		mask := uint64(1<<b.localDepth) - 1
		for _, item := range b.items {
			require.Equal(t, uint64(i)&mask, HashInt(item.key)&mask,
				"key %v sits in the wrong bucket", item.key)
		}
	}

	require.Equal(t, table.numBuckets, len(sharing))
	for b, n := range sharing {
		require.Equal(t, 1<<(globalDepth-b.localDepth), n)
	}
}

func TestHashTable_Is_Safe_For_Concurrent_Use(t *testing.T) {
	table := NewExtendibleHashTable[string, int](8, HashString)

	workers := 8
	perWorker := 1000
	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				table.Insert(fmt.Sprintf("key-%d-%d", w, i), w*perWorker+i)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			v, ok := table.Find(fmt.Sprintf("key-%d-%d", w, i))
			require.True(t, ok)
			require.Equal(t, w*perWorker+i, v)
		}
	}
}

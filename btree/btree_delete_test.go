package btree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarn/common"
)

func TestDelete_Of_Absent_Key_Is_A_NoOp(t *testing.T) {
	tree := newTestTree(4, 4)

	tree.Remove(Int64Key(5))
	assert.True(t, tree.IsEmpty())

	require.True(t, tree.Insert(Int64Key(1), RID{PageID: 1}))
	tree.Remove(Int64Key(5))
	assert.Equal(t, 1, tree.Count())
}

func TestDelete_Borrows_From_The_Right_Sibling(t *testing.T) {
	tree := newTestTree(4, 4)

	// leaves end up as {1,2} and {3,4,5} under one internal root
	for i := int64(1); i <= 5; i++ {
		require.True(t, tree.Insert(Int64Key(i), RID{PageID: common.PageID(i)}))
	}
	require.Equal(t, 2, tree.Height())

	// removing 1 underfills the left leaf; the right one has a spare entry, so
	// 3 moves over and the separator becomes 4
	tree.Remove(Int64Key(1))

	validateTree(t, tree)
	rootRaw := tree.fetchPage(tree.GetRootPageID())
	root := tree.asInternal(rootRaw)
	assert.Equal(t, Int64Key(4), root.GetKeyAt(1))
	tree.pool.UnpinPage(rootRaw.PageID(), false)

	assert.Equal(t, []int64{2, 3, 4, 5}, collect(tree.Begin()))
}

func TestDelete_Borrows_From_The_Left_Sibling(t *testing.T) {
	tree := newTestTree(4, 4)

	// grow leaves {10,20} and {30,40,50}, then pad the left one to {10,20,25}
	for _, k := range []int64{10, 20, 30, 40, 50, 25} {
		require.True(t, tree.Insert(Int64Key(k), RID{PageID: common.PageID(k)}))
	}
	require.Equal(t, 2, tree.Height())

	// shrink the right leaf to one entry; its left sibling can spare its tail
	tree.Remove(Int64Key(40))
	tree.Remove(Int64Key(50))

	validateTree(t, tree)
	rootRaw := tree.fetchPage(tree.GetRootPageID())
	root := tree.asInternal(rootRaw)
	assert.Equal(t, Int64Key(25), root.GetKeyAt(1))
	tree.pool.UnpinPage(rootRaw.PageID(), false)

	assert.Equal(t, []int64{10, 20, 25, 30}, collect(tree.Begin()))
}

func TestDelete_Merges_And_Collapses_The_Root(t *testing.T) {
	tree := newTestTree(4, 4)

	for i := int64(1); i <= 10; i++ {
		require.True(t, tree.Insert(Int64Key(i), RID{PageID: common.PageID(i)}))
	}
	require.Equal(t, 3, tree.Height())

	// removing the low keys forces leaf merges, which cascade into internal
	// merges and shrink the tree back to two levels
	for i := int64(1); i <= 5; i++ {
		tree.Remove(Int64Key(i))
		validateTree(t, tree)
	}
	assert.Equal(t, 2, tree.Height())
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, collect(tree.Begin()))

	// a root internal with one remaining child promotes that child
	for i := int64(6); i <= 9; i++ {
		tree.Remove(Int64Key(i))
		validateTree(t, tree)
	}
	assert.Equal(t, 1, tree.Height())

	val, found := tree.GetValue(Int64Key(10))
	require.True(t, found)
	assert.Equal(t, RID{PageID: 10}, val)

	// the last removal clears the tree
	tree.Remove(Int64Key(10))
	assert.True(t, tree.IsEmpty())
	assert.Equal(t, common.InvalidPageID, tree.GetRootPageID())
}

func TestDelete_Reclaims_Merged_Pages(t *testing.T) {
	tree := newTestTree(4, 4)

	for i := int64(1); i <= 10; i++ {
		require.True(t, tree.Insert(Int64Key(i), RID{PageID: common.PageID(i)}))
	}
	emptyBefore := tree.pool.EmptyFrameSize()

	for i := int64(1); i <= 10; i++ {
		tree.Remove(Int64Key(i))
	}

	// every page of the torn down tree went back to the free list
	assert.Greater(t, tree.pool.EmptyFrameSize(), emptyBefore)
	assert.True(t, tree.IsEmpty())
}

func TestDelete_Round_Trip_Leaves_An_Empty_Tree(t *testing.T) {
	tree := newTestTree(8, 8)

	r := rand.New(rand.NewSource(13))
	keys := r.Perm(1000)
	for _, k := range keys {
		require.True(t, tree.Insert(Int64Key(k), RID{PageID: common.PageID(k)}))
	}

	removal := r.Perm(1000)
	for i, k := range removal {
		tree.Remove(Int64Key(k))
		if i%100 == 0 {
			validateTree(t, tree)
		}
		_, found := tree.GetValue(Int64Key(k))
		require.False(t, found, "key %v should be gone", k)
	}

	assert.True(t, tree.IsEmpty())
	assert.Equal(t, 0, tree.Count())
}

func TestDelete_Interleaved_With_Inserts_Keeps_The_Tree_Valid(t *testing.T) {
	tree := newTestTree(4, 4)

	live := map[int64]bool{}
	r := rand.New(rand.NewSource(99))
	for i := 0; i < 5000; i++ {
		k := int64(r.Intn(500))
		if r.Intn(2) == 0 {
			if tree.Insert(Int64Key(k), RID{PageID: common.PageID(k)}) {
				require.False(t, live[k], "insert of live key %v should have failed", k)
			}
			live[k] = true
		} else {
			tree.Remove(Int64Key(k))
			delete(live, k)
		}
	}

	validateTree(t, tree)
	count := 0
	for k := range live {
		_, found := tree.GetValue(Int64Key(k))
		require.True(t, found, "live key %v should be found", k)
		count++
	}
	assert.Equal(t, count, tree.Count())
}

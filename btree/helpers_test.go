package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tarn/buffer"
	"tarn/common"
	"tarn/disk"
)

func newTestTree(leafMaxSize, internalMaxSize int) *BPlusTree {
	pool := buffer.NewBufferPool(256, 2, disk.NewMemManager())
	return NewBPlusTree("test_idx", pool, &Int64KeySerializer{}, leafMaxSize, internalMaxSize)
}

// validateTree walks the whole tree and checks the structural invariants:
// occupancy bounds on every non root node, strictly increasing keys, separator
// bounds on every subtree and parent pointers that point back correctly.
func validateTree(t *testing.T, tree *BPlusTree) {
	t.Helper()

	rootID := tree.GetRootPageID()
	if rootID == common.InvalidPageID {
		return
	}
	validateNode(t, tree, rootID, true)
}

func validateNode(t *testing.T, tree *BPlusTree, pageID common.PageID, isRoot bool) (Key, Key) {
	t.Helper()

	raw := tree.fetchPage(pageID)
	defer tree.pool.UnpinPage(pageID, false)
	tp := TreePage{RawPage: raw}
	size := tp.GetSize()

	if !isRoot {
		require.GreaterOrEqual(t, size, tp.GetMinSize(), "page %v is underfull", pageID)
		require.LessOrEqual(t, size, tp.GetMaxSize(), "page %v is overfull", pageID)
	}

	if tp.IsLeafPage() {
		leaf := tree.asLeaf(raw)
		for i := 1; i < size; i++ {
			require.True(t, leaf.GetKeyAt(i-1).Less(leaf.GetKeyAt(i)),
				"leaf %v keys are not strictly increasing", pageID)
		}
		if size == 0 {
			return nil, nil
		}
		return leaf.GetKeyAt(0), leaf.GetKeyAt(size - 1)
	}

	internal := tree.asInternal(raw)
	if isRoot {
		require.GreaterOrEqual(t, size, 2, "an internal root must hold at least two children")
	}
	for i := 2; i < size; i++ {
		require.True(t, internal.GetKeyAt(i-1).Less(internal.GetKeyAt(i)),
			"internal %v keys are not strictly increasing", pageID)
	}

	var min, max Key
	for i := 0; i < size; i++ {
		childID := internal.GetValueAt(i)

		childRaw := tree.fetchPage(childID)
		require.Equal(t, pageID, (TreePage{RawPage: childRaw}).GetParentPageID(),
			"child %v does not point back at its parent %v", childID, pageID)
		tree.pool.UnpinPage(childID, false)

		childMin, childMax := validateNode(t, tree, childID, false)
		if i >= 1 {
			require.False(t, childMin.Less(internal.GetKeyAt(i)),
				"subtree %v holds keys below its separator", childID)
		}
		if i+1 < size {
			require.True(t, childMax.Less(internal.GetKeyAt(i+1)),
				"subtree %v holds keys above its separator", childID)
		}

		if i == 0 {
			min = childMin
		}
		max = childMax
	}
	return min, max
}

// collect drains an iterator into a key slice.
func collect(it *IndexIterator) []int64 {
	keys := make([]int64, 0)
	for ; !it.IsEnd(); it.Next() {
		keys = append(keys, int64(it.Key().(Int64Key)))
	}
	return keys
}

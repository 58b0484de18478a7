package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUK_Evict_Should_Follow_Backward_K_Distance_Order(t *testing.T) {
	replacer := NewLRUKReplacer(7, 2)

	for _, f := range []int{1, 2, 3, 4, 1, 2, 5, 1, 2, 3, 4} {
		replacer.RecordAccess(f)
	}
	for f := 1; f <= 6; f++ {
		replacer.SetEvictable(f, true)
	}
	require.Equal(t, 6, replacer.Size())

	// frame 6 has no recorded access at all, frame 5 a single one; both are
	// infinitely distant and the emptier history goes first. the rest order by
	// their second most recent access: 3 at ts 3, 4 at ts 4, 1 at ts 5, 2 at
	// ts 6.
	want := []int{6, 5, 3, 4, 1, 2}
	for i, expected := range want {
		victim, ok := replacer.Evict()
		require.True(t, ok, "evict %v should succeed", i)
		assert.Equal(t, expected, victim)
		assert.Equal(t, len(want)-i-1, replacer.Size())
	}

	_, ok := replacer.Evict()
	assert.False(t, ok)
}

func TestLRUK_Cold_Frames_Go_Before_Hot_Ones(t *testing.T) {
	replacer := NewLRUKReplacer(4, 3)

	// frame 0 is touched three times and is the only one with a full history
	replacer.RecordAccess(0)
	replacer.RecordAccess(0)
	replacer.RecordAccess(0)
	replacer.RecordAccess(1)
	replacer.RecordAccess(2)

	for f := 0; f <= 2; f++ {
		replacer.SetEvictable(f, true)
	}

	victim, ok := replacer.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)

	victim, ok = replacer.Evict()
	require.True(t, ok)
	assert.Equal(t, 2, victim)

	victim, ok = replacer.Evict()
	require.True(t, ok)
	assert.Equal(t, 0, victim)
}

func TestLRUK_History_Is_Capped_At_K_Timestamps(t *testing.T) {
	replacer := NewLRUKReplacer(3, 2)

	// ts 1..4 on frame 0, ts 5 on frame 1. frame 0's kept history is {3, 4},
	// so its distance is shorter than frame 1's infinite one.
	for i := 0; i < 4; i++ {
		replacer.RecordAccess(0)
	}
	replacer.RecordAccess(1)
	replacer.SetEvictable(0, true)
	replacer.SetEvictable(1, true)

	victim, ok := replacer.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}

func TestLRUK_SetEvictable_Should_Adjust_Size(t *testing.T) {
	replacer := NewLRUKReplacer(4, 2)

	replacer.RecordAccess(0)
	replacer.RecordAccess(1)
	assert.Equal(t, 0, replacer.Size())

	replacer.SetEvictable(0, true)
	replacer.SetEvictable(1, true)
	assert.Equal(t, 2, replacer.Size())

	// repeated flips do not double count
	replacer.SetEvictable(1, true)
	assert.Equal(t, 2, replacer.Size())

	replacer.SetEvictable(0, false)
	assert.Equal(t, 1, replacer.Size())
}

func TestLRUK_Remove_Should_Untrack_Evictable_Frames_Only(t *testing.T) {
	replacer := NewLRUKReplacer(4, 2)

	replacer.RecordAccess(0)
	replacer.SetEvictable(0, true)
	replacer.Remove(0)
	assert.Equal(t, 0, replacer.Size())

	// removing an unseen frame is a no-op
	replacer.Remove(2)

	replacer.RecordAccess(1)
	assert.Panics(t, func() { replacer.Remove(1) })
}

func TestLRUK_Frame_Ids_Are_Validated_Strictly(t *testing.T) {
	replacer := NewLRUKReplacer(4, 2)

	assert.Panics(t, func() { replacer.RecordAccess(4) })
	assert.Panics(t, func() { replacer.RecordAccess(-1) })
	assert.Panics(t, func() { replacer.SetEvictable(4, true) })
	assert.Panics(t, func() { replacer.Remove(4) })
	assert.NotPanics(t, func() { replacer.RecordAccess(3) })
}

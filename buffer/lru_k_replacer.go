package buffer

import (
	"fmt"
	"sync"
)

type frameEntry struct {
	// the at most k most recent access timestamps, oldest first
	history   []uint64
	evictable bool
}

var _ IReplacer = &LRUKReplacer{}

// LRUKReplacer evicts the evictable frame with the largest backward k-distance,
// the gap between now and a frame's k-th most recent access. Frames with fewer
// than k recorded accesses count as infinitely distant and go first, ordered
// among themselves by their earliest recorded access, which recovers plain LRU
// for cold frames. Equal finite distances fall back to the smallest frame id.
type LRUKReplacer struct {
	entries       map[int]*frameEntry
	currSize      int
	currTimestamp uint64
	k             int
	replacerSize  int
	lock          sync.Mutex
}

func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	if numFrames < 1 || k < 1 {
		panic(fmt.Sprintf("invalid replacer parameters, num frames: %v, k: %v", numFrames, k))
	}

	return &LRUKReplacer{
		entries:      make(map[int]*frameEntry),
		k:            k,
		replacerSize: numFrames,
	}
}

func (l *LRUKReplacer) RecordAccess(frameID int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.validate(frameID)
	l.currTimestamp++

	e, ok := l.entries[frameID]
	if !ok {
		e = &frameEntry{}
		l.entries[frameID] = e
	}

	e.history = append(e.history, l.currTimestamp)
	if len(e.history) > l.k {
		e.history = e.history[1:]
	}
}

func (l *LRUKReplacer) SetEvictable(frameID int, evictable bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.validate(frameID)

	e, ok := l.entries[frameID]
	if !ok {
		// a frame the replacer has never seen is tracked from here on with an
		// empty history, which makes it the coldest candidate possible
		e = &frameEntry{}
		l.entries[frameID] = e
	}

	if e.evictable == evictable {
		return
	}

	e.evictable = evictable
	if evictable {
		l.currSize++
	} else {
		l.currSize--
	}
}

func (l *LRUKReplacer) Evict() (int, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.currSize == 0 {
		return 0, false
	}

	victim := -1
	victimInf := false
	var victimDist, victimFirst uint64

	for frameID, e := range l.entries {
		if !e.evictable {
			continue
		}

		inf := len(e.history) < l.k
		var dist, first uint64
		if inf {
			if len(e.history) > 0 {
				first = e.history[0]
			}
		} else {
			dist = l.currTimestamp - e.history[len(e.history)-l.k]
		}

		if victim == -1 {
			victim, victimInf, victimDist, victimFirst = frameID, inf, dist, first
			continue
		}

		switch {
		case inf && !victimInf:
			victim, victimInf, victimDist, victimFirst = frameID, inf, dist, first
		case inf && victimInf:
			// plain LRU among cold frames
			if first < victimFirst || (first == victimFirst && frameID < victim) {
				victim, victimFirst = frameID, first
			}
		case !inf && !victimInf:
			if dist > victimDist || (dist == victimDist && frameID < victim) {
				victim, victimDist = frameID, dist
			}
		}
	}

	delete(l.entries, victim)
	l.currSize--
	return victim, true
}

func (l *LRUKReplacer) Remove(frameID int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.validate(frameID)

	e, ok := l.entries[frameID]
	if !ok {
		return
	}

	if !e.evictable {
		panic(fmt.Sprintf("removing a non-evictable frame: %v", frameID))
	}

	delete(l.entries, frameID)
	l.currSize--
}

func (l *LRUKReplacer) Size() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.currSize
}

func (l *LRUKReplacer) validate(frameID int) {
	if frameID < 0 || frameID >= l.replacerSize {
		panic(fmt.Sprintf("frame id is out of range: %v", frameID))
	}
}

package bufferpool

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Replacer tracks the set of frames currently eligible for eviction and
// picks a victim on request. The pool never assumes more than this
// contract, so any policy — LRU, CLOCK, or otherwise — can be plugged in.
//
// Implementations must be safe for concurrent use on their own, but in
// practice the pool serializes every call behind its own mutex, so a
// simple internal lock is enough.
type Replacer interface {
	// Victim removes and returns a frame index from the eviction set, chosen
	// by the implementation's policy (LRUReplacer: the least-recently-unpinned
	// frame; ClockReplacer: the first frame the hand finds with its reference
	// bit clear). ok is false iff the set is empty.
	Victim() (frameIndex int, ok bool)

	// Pin removes frameIndex from the eviction set, if present. Idempotent.
	Pin(frameIndex int)

	// Unpin adds frameIndex to the eviction set as the most-recently-used
	// entry, unless it is already present. Idempotent: re-unpinning a frame
	// already in the set must not move it.
	Unpin(frameIndex int)

	// Size returns the number of frames currently eligible for eviction.
	Size() int
}

// LRUReplacer evicts the frame whose most recent unpin is oldest first. The
// ordered set is backed by hashicorp/golang-lru's simplelru, which already
// gives O(1) Add/Remove/RemoveOldest via an internal container/list plus a
// position index from frame index to queue node, without hand-rolling it
// again.
type LRUReplacer struct {
	mu  sync.Mutex
	lru *simplelru.LRU[int, struct{}]
}

// NewLRUReplacer builds an LRU replacer sized to the pool: each frame is a
// member at most once, so with capacity equal to the pool size the set never
// outgrows it and simplelru never drops a candidate on its own.
func NewLRUReplacer(capacity int) *LRUReplacer {
	// simplelru only errors on non-positive size; the pool always
	// constructs this with poolSize > 0 (validated by NewPoolManager).
	lru, err := simplelru.NewLRU[int, struct{}](capacity, nil)
	if err != nil {
		panic(err)
	}
	return &LRUReplacer{lru: lru}
}

func (r *LRUReplacer) Victim() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, _, ok := r.lru.RemoveOldest()
	return idx, ok
}

func (r *LRUReplacer) Pin(frameIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Remove(frameIndex)
}

func (r *LRUReplacer) Unpin(frameIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// simplelru.Add on an existing key refreshes its recency, which would
	// violate "re-unpin is a no-op". Guard with Contains so an
	// already-present frame keeps its current position.
	if r.lru.Contains(frameIndex) {
		return
	}
	r.lru.Add(frameIndex, struct{}{})
}

func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// ClockReplacer implements the CLOCK approximation of LRU: candidate frames
// sit on a circular list with a reference bit each; the hand sweeps past
// referenced frames clearing their bit and evicts the first one it finds
// already clear. No library in the retrieved pack models CLOCK directly
// (golang-lru only offers strict LRU/2Q/ARC-style caches), so this is
// hand-rolled — see DESIGN.md.
type ClockReplacer struct {
	mu    sync.Mutex
	ring  []int       // frame indices currently in the candidate set, circular
	refed map[int]bool // frame index -> reference bit
	pos   map[int]int  // frame index -> index within ring, for O(1) Pin
	hand  int
}

// NewClockReplacer builds a CLOCK replacer with room for up to capacity
// candidate frames (the pool size).
func NewClockReplacer(capacity int) *ClockReplacer {
	return &ClockReplacer{
		ring:  make([]int, 0, capacity),
		refed: make(map[int]bool, capacity),
		pos:   make(map[int]int, capacity),
	}
}

func (c *ClockReplacer) Victim() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.ring) > 0 {
		if c.hand >= len(c.ring) {
			c.hand = 0
		}
		frameIndex := c.ring[c.hand]
		if c.refed[frameIndex] {
			c.refed[frameIndex] = false
			c.hand++
			continue
		}
		c.removeAt(c.hand)
		return frameIndex, true
	}
	return 0, false
}

func (c *ClockReplacer) Pin(frameIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.pos[frameIndex]; ok {
		c.removeAt(idx)
	}
}

func (c *ClockReplacer) Unpin(frameIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pos[frameIndex]; ok {
		// Already a candidate: its position in the ring stays unchanged, as
		// the Replacer contract requires, but its reference bit is set so it
		// counts as recently used and is passed over once by the hand.
		c.refed[frameIndex] = true
		return
	}
	// A fresh candidate starts with its reference bit clear: it only
	// becomes true if it is touched again (the branch above) while still in
	// the candidate set. Starting it true would give every frame a free
	// pass on the very first sweep, which defeats second-chance entirely
	// for the common case of a batch of frames becoming eligible together.
	c.pos[frameIndex] = len(c.ring)
	c.ring = append(c.ring, frameIndex)
}

func (c *ClockReplacer) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ring)
}

// removeAt deletes the ring entry at position i, keeping pos/hand
// consistent. Must be called with mu held.
func (c *ClockReplacer) removeAt(i int) {
	frameIndex := c.ring[i]
	last := len(c.ring) - 1
	c.ring[i] = c.ring[last]
	c.pos[c.ring[i]] = i
	c.ring = c.ring[:last]
	delete(c.pos, frameIndex)
	delete(c.refed, frameIndex)
	if i < c.hand && c.hand > 0 {
		c.hand--
	}
}

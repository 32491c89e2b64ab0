package bufferpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PoolManager is the buffer pool's public API. A single mutex serializes
// every operation, including the disk I/O it performs: holding the lock
// across I/O is a deliberate simplification that makes each public method a
// single critical section with no intermediate visibility to other callers.
type PoolManager struct {
	mu sync.Mutex

	frames   []*Frame
	dir      *pageDirectory
	replacer Replacer

	disk DiskManager
	log  LogManager

	pageSize      int
	numInstances  int
	instanceIndex int
	nextPageID    PageID

	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer

	// Cumulative counters surfaced via Stats(); independent of the OTel
	// metrics pipeline so Stats() works even with telemetry disabled.
	hitCount      uint64
	missCount     uint64
	evictionCount uint64
}

// Option configures a PoolManager at construction.
type Option func(*PoolManager)

// WithLogger attaches a zap logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *PoolManager) { p.logger = l }
}

// WithMetrics attaches an OTel-backed metrics recorder. Defaults to nil
// (metrics calls become no-ops).
func WithMetrics(m *Metrics) Option {
	return func(p *PoolManager) { p.metrics = m }
}

// WithTracer attaches an OTel tracer for FetchPage/NewPage spans. Defaults
// to a no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *PoolManager) { p.tracer = t }
}

// WithReplacer overrides the default LRU replacer, e.g. with a
// ClockReplacer. Must be called before the pool is used; replacing it later
// would discard the pinned/unpinned bookkeeping already built up.
func WithReplacer(r Replacer) Option {
	return func(p *PoolManager) { p.replacer = r }
}

// NewPoolManager builds a pool of poolSize frames of pageSize bytes each,
// backed by disk for persistence and log for a future WAL integration hook
// (the pool itself never calls into it). numInstances and instanceIndex
// determine this instance's slice of the page id space in a sharded
// deployment; pass numInstances=1, instanceIndex=0 for a single, unsharded
// pool.
func NewPoolManager(poolSize, pageSize, numInstances, instanceIndex int, disk DiskManager, log LogManager, opts ...Option) (*PoolManager, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("bufferpool: pool size must be positive, got %d", poolSize)
	}
	if numInstances <= 0 {
		return nil, fmt.Errorf("bufferpool: num instances must be positive, got %d", numInstances)
	}
	if instanceIndex < 0 || instanceIndex >= numInstances {
		return nil, fmt.Errorf("bufferpool: instance index %d out of range [0,%d)", instanceIndex, numInstances)
	}
	if disk == nil {
		return nil, fmt.Errorf("bufferpool: disk manager must not be nil")
	}
	if log == nil {
		log = NopLogManager{}
	}

	frames := make([]*Frame, poolSize)
	for i := range frames {
		frames[i] = newFrame(i, pageSize)
	}

	p := &PoolManager{
		frames:        frames,
		dir:           newPageDirectory(poolSize),
		replacer:      NewLRUReplacer(poolSize),
		disk:          disk,
		log:           log,
		pageSize:      pageSize,
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
		nextPageID:    PageID(instanceIndex),
		logger:        zap.NewNop(),
		tracer:        noopTracer,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// PageSize returns the fixed page size this pool was constructed with.
func (p *PoolManager) PageSize() int { return p.pageSize }

// allocatePageID hands out the next id for this shard and steps the
// counter by numInstances, preserving pid mod numInstances == instanceIndex
// for the lifetime of the process. Must only be called after a victim frame
// has already been secured: allocating first would waste ids on a failed
// acquisition.
func (p *PoolManager) allocatePageID() PageID {
	pid := p.nextPageID
	p.nextPageID += PageID(p.numInstances)
	return pid
}

// acquireVictim returns a frame ready to be repurposed: either the head of
// the free list, or a frame reclaimed from the replacer with any dirty
// content flushed and its old directory entry removed. Must be called with
// mu held.
func (p *PoolManager) acquireVictim() (*Frame, error) {
	if idx, ok := p.dir.popFree(); ok {
		return p.frames[idx], nil
	}

	idx, ok := p.replacer.Victim()
	if !ok {
		return nil, ErrBufferPoolFull
	}
	frame := p.frames[idx]

	if frame.dirty && frame.pageID != InvalidPageID {
		if err := p.disk.WritePage(frame.pageID, frame.data); err != nil {
			return nil, fmt.Errorf("flushing evicted page %d: %w", frame.pageID, err)
		}
		frame.dirty = false
		p.metrics.recordFlush(context.Background())
		p.logger.Debug("flushed dirty victim before reuse",
			zap.Int64("page_id", int64(frame.pageID)), zap.Int("frame", idx))
	}
	if frame.pageID != InvalidPageID {
		p.dir.remove(frame.pageID)
	}
	p.metrics.recordEviction(context.Background())
	p.evictionCount++
	return frame, nil
}

// NewPage allocates a fresh page, pins it in a frame, and returns both. It
// fails with ErrBufferPoolFull iff every frame is pinned.
func (p *PoolManager) NewPage() (*Frame, PageID, error) {
	_, span := p.tracer.Start(context.Background(), "bufferpool.NewPage")
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	frame, err := p.acquireVictim()
	if err != nil {
		return nil, InvalidPageID, err
	}

	pid := p.allocatePageID()
	frame.reset()
	frame.pageID = pid
	frame.pinCount = 1

	p.dir.insert(pid, frame.index)
	p.replacer.Pin(frame.index)

	p.logger.Debug("new page allocated", zap.Int64("page_id", int64(pid)), zap.Int("frame", frame.index))
	return frame, pid, nil
}

// FetchPage returns the frame holding pid, pinning it, loading it from disk
// first if it is not already resident.
func (p *PoolManager) FetchPage(pid PageID) (*Frame, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(context.Background(), "bufferpool.FetchPage")
	defer span.End()
	defer p.metrics.observeFetch(ctx, start)

	p.mu.Lock()
	defer p.mu.Unlock()

	if pid == InvalidPageID {
		return nil, ErrInvalidPageID
	}

	if idx, ok := p.dir.lookup(pid); ok {
		frame := p.frames[idx]
		frame.pinCount++
		p.replacer.Pin(idx)
		p.hitCount++
		p.metrics.recordHit(ctx)
		p.logger.Debug("fetch hit", zap.Int64("page_id", int64(pid)), zap.Int("frame", idx))
		return frame, nil
	}

	frame, err := p.acquireVictim()
	if err != nil {
		return nil, err
	}

	frame.reset()
	frame.pageID = pid
	frame.pinCount = 1

	p.dir.insert(pid, frame.index)
	p.replacer.Pin(frame.index)

	if err := p.disk.ReadPage(pid, frame.data); err != nil {
		// Disk I/O failures are fatal at this layer: the pool has no
		// recovery path, it only propagates the error. The frame is left
		// claimed and pinned; the caller should treat this as unrecoverable
		// rather than retry against the same frame.
		return nil, fmt.Errorf("loading page %d from disk: %w", pid, err)
	}

	p.missCount++
	p.metrics.recordMiss(ctx)
	p.logger.Debug("fetch miss, loaded from disk", zap.Int64("page_id", int64(pid)), zap.Int("frame", frame.index))
	return frame, nil
}

// UnpinPage decrements pid's pin count and ORs dirty into its dirty flag —
// never clears it; dirty is monotonic within a residency. When the pin
// count reaches zero the frame becomes eligible for eviction.
func (p *PoolManager) UnpinPage(pid PageID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.dir.lookup(pid)
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, pid)
	}
	frame := p.frames[idx]
	if frame.pinCount == 0 {
		p.logger.Warn("unpin on already-unpinned page", zap.Int64("page_id", int64(pid)))
		return fmt.Errorf("%w: page %d", ErrAlreadyUnpinned, pid)
	}

	if dirty {
		frame.markDirty()
	}
	frame.pinCount--
	if frame.pinCount == 0 {
		p.replacer.Unpin(idx)
	}
	return nil
}

// FlushPage writes pid's frame to disk unconditionally and clears its dirty
// flag. It does not require pin_count == 0: the pool mutex already
// serializes this against every mutator.
func (p *PoolManager) FlushPage(pid PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pid == InvalidPageID {
		return ErrInvalidPageID
	}
	idx, ok := p.dir.lookup(pid)
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, pid)
	}
	return p.flushFrame(p.frames[idx])
}

// flushFrame writes frame's data via the disk manager and clears dirty.
// Must be called with mu held.
func (p *PoolManager) flushFrame(frame *Frame) error {
	if err := p.disk.WritePage(frame.pageID, frame.data); err != nil {
		return fmt.Errorf("flushing page %d: %w", frame.pageID, err)
	}
	frame.dirty = false
	p.metrics.recordFlush(context.Background())
	return nil
}

// FlushAllPages flushes every frame holding a valid page; frames with no
// resident page are skipped rather than written.
func (p *PoolManager) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, frame := range p.frames {
		if frame.pageID == InvalidPageID {
			continue
		}
		if err := p.flushFrame(frame); err != nil {
			p.logger.Error("flush failed", zap.Int64("page_id", int64(frame.pageID)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DeletePage removes pid from the pool and returns its frame to the free
// list. Deleting an absent page succeeds vacuously; deleting a pinned page
// fails.
func (p *PoolManager) DeletePage(pid PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.dir.lookup(pid)
	if !ok {
		return nil
	}
	frame := p.frames[idx]
	if frame.pinCount > 0 {
		p.logger.Warn("delete on pinned page", zap.Int64("page_id", int64(pid)))
		return fmt.Errorf("%w: page %d", ErrPagePinned, pid)
	}

	if err := p.disk.DeallocatePage(pid); err != nil {
		return fmt.Errorf("deallocating page %d: %w", pid, err)
	}

	p.dir.remove(pid)
	frame.reset()
	p.dir.pushFree(idx)
	// Belt-and-braces: the frame must not be reachable for victimization
	// once it's back on the free list.
	p.replacer.Pin(idx)
	return nil
}

// InvalidatePage force-drops pid's directory entry and frees its frame
// regardless of outstanding pins, for callers that know out-of-band that a
// page's disk image is stale. It resets the frame's pin count directly
// under the pool mutex rather than looping UnpinPage, which could spin
// forever if the pin count never reached zero through that path.
func (p *PoolManager) InvalidatePage(pid PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.dir.lookup(pid)
	if !ok {
		return
	}
	frame := p.frames[idx]
	p.dir.remove(pid)
	frame.reset()
	p.dir.pushFree(idx)
	p.replacer.Pin(idx)
	p.logger.Debug("page invalidated", zap.Int64("page_id", int64(pid)), zap.Int("frame", idx))
}

// Stats is a point-in-time snapshot of pool occupancy and cumulative
// counters, the queryable analogue of the pool's debug log trail.
type Stats struct {
	PoolSize       int
	FramesFree     int
	FramesPinned   int
	FramesEligible int // eligible for eviction (unpinned, resident)
	Hits           uint64
	Misses         uint64
	Evictions      uint64
}

// Stats returns a snapshot of the pool's current occupancy and cumulative
// counters.
func (p *PoolManager) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	pinned := 0
	for _, f := range p.frames {
		if f.pageID != InvalidPageID && f.pinCount > 0 {
			pinned++
		}
	}
	return Stats{
		PoolSize:       len(p.frames),
		FramesFree:     p.dir.freeCount(),
		FramesPinned:   pinned,
		FramesEligible: p.replacer.Size(),
		Hits:           p.hitCount,
		Misses:         p.missCount,
		Evictions:      p.evictionCount,
	}
}

package bufferpool

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParallelPoolManager is an optional sharded front: N independent
// PoolManager instances, each owning its own slice of the page id space
// (pid mod N == shard index), so no cross-shard coordination is ever
// required for a single page's operations. It has no mutex of its own —
// every instance's own mutex provides all the ordering guarantees callers
// see.
type ParallelPoolManager struct {
	instances []*PoolManager
	shardIDs  []uuid.UUID
	nextNew   uint64 // round-robin counter for NewPage, advanced atomically
	logger    *zap.Logger
}

// NewParallelPoolManager builds n PoolManager shards, one per disk[i]/log[i]
// pair, each sized poolSizePerInstance. Every shard is stamped with a UUID
// at construction so its log lines can be correlated across a multi-shard
// deployment — the sharded analogue of a request/session id.
func NewParallelPoolManager(n, poolSizePerInstance, pageSize int, disks []DiskManager, logs []LogManager, logger *zap.Logger, opts ...Option) (*ParallelPoolManager, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bufferpool: num instances must be positive, got %d", n)
	}
	if len(disks) != n {
		return nil, fmt.Errorf("bufferpool: need %d disk managers, got %d", n, len(disks))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	instances := make([]*PoolManager, n)
	shardIDs := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		var lm LogManager
		if i < len(logs) {
			lm = logs[i]
		}
		shardID := uuid.New()
		shardLogger := logger.With(zap.Int("shard", i), zap.String("shard_id", shardID.String()))
		shardOpts := append([]Option{WithLogger(shardLogger)}, opts...)

		pm, err := NewPoolManager(poolSizePerInstance, pageSize, n, i, disks[i], lm, shardOpts...)
		if err != nil {
			return nil, fmt.Errorf("building shard %d: %w", i, err)
		}
		instances[i] = pm
		shardIDs[i] = shardID
	}

	return &ParallelPoolManager{
		instances: instances,
		shardIDs:  shardIDs,
		logger:    logger,
	}, nil
}

// shardFor returns the instance owning pid: pid mod N.
func (p *ParallelPoolManager) shardFor(pid PageID) *PoolManager {
	return p.instances[uint64(pid)%uint64(len(p.instances))]
}

// NewPage allocates a fresh page on a round-robin shard.
func (p *ParallelPoolManager) NewPage() (*Frame, PageID, error) {
	i := atomic.AddUint64(&p.nextNew, 1) % uint64(len(p.instances))
	return p.instances[i].NewPage()
}

// FetchPage routes to pid's owning shard.
func (p *ParallelPoolManager) FetchPage(pid PageID) (*Frame, error) {
	if pid == InvalidPageID {
		return nil, ErrInvalidPageID
	}
	return p.shardFor(pid).FetchPage(pid)
}

// UnpinPage routes to pid's owning shard.
func (p *ParallelPoolManager) UnpinPage(pid PageID, dirty bool) error {
	return p.shardFor(pid).UnpinPage(pid, dirty)
}

// FlushPage routes to pid's owning shard.
func (p *ParallelPoolManager) FlushPage(pid PageID) error {
	return p.shardFor(pid).FlushPage(pid)
}

// DeletePage routes to pid's owning shard.
func (p *ParallelPoolManager) DeletePage(pid PageID) error {
	return p.shardFor(pid).DeletePage(pid)
}

// FlushAllPages flushes every shard in turn, returning the first error
// encountered.
func (p *ParallelPoolManager) FlushAllPages() error {
	var firstErr error
	for i, inst := range p.instances {
		if err := inst.FlushAllPages(); err != nil {
			p.logger.Error("shard flush failed", zap.Int("shard", i), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Instance returns the i'th shard's PoolManager directly, for callers that
// need shard-local operations (e.g. InvalidatePage, Stats).
func (p *ParallelPoolManager) Instance(i int) *PoolManager {
	return p.instances[i]
}

// NumInstances returns the number of shards.
func (p *ParallelPoolManager) NumInstances() int {
	return len(p.instances)
}

// Stats aggregates Stats() across every shard.
func (p *ParallelPoolManager) Stats() []Stats {
	stats := make([]Stats, len(p.instances))
	for i, inst := range p.instances {
		stats[i] = inst.Stats()
	}
	return stats
}

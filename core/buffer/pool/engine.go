package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ksharma-417/yureidb/core/buffer/checksum"
	"github.com/ksharma-417/yureidb/core/buffer/crypt"
	"github.com/ksharma-417/yureidb/core/buffer/flushio"
	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
	"github.com/ksharma-417/yureidb/core/redo"
	"github.com/ksharma-417/yureidb/core/syncarr"
	"github.com/ksharma-417/yureidb/pkg/logger"
)

// engineDeps carries the shared collaborators into instance construction.
type engineDeps struct {
	logger *zap.Logger
	reg    *syncarr.Registry
	io     flushio.Manager
	lsn    redo.LSNSource
	alg    checksum.Algorithm
	enc    crypt.Encryptor
}

// Engine is the process-wide buffer pool context: the instance array, the
// wait-array registry, and the background flusher. All global mutable
// state lives here; Open and Close are the init/teardown pair.
type Engine struct {
	ID     uuid.UUID
	cfg    Config
	logger *zap.Logger

	reg       *syncarr.Registry
	instances []*Instance

	flusherCancel context.CancelFunc
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// Options are the optional collaborators of Open.
type Options struct {
	// LSNSource is the redo-log collaborator; nil disables log-ahead
	// syncing (pages are flushed unconditionally).
	LSNSource redo.LSNSource
	// Encryptor is the page encryption hook; nil means pass-through.
	Encryptor crypt.Encryptor
}

// Open builds the pool instances and starts the background machinery. io is
// the single-page I/O collaborator and must outlive the engine. The engine
// derives its own identity-scoped logger from the root one it is handed.
func Open(cfg Config, log *zap.Logger, io flushio.Manager, opts Options) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid buffer pool config: %w", err)
	}
	alg, err := checksum.Parse(cfg.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}
	enc := opts.Encryptor
	if enc == nil {
		enc = crypt.Noop{}
	}

	id := uuid.New()
	log = logger.ForEngine(log, id.String())
	e := &Engine{
		ID:     id,
		cfg:    cfg,
		logger: log,
	}
	e.reg = syncarr.NewRegistry(syncarr.Config{
		Instances:      cfg.WaitArrayInstances,
		Size:           cfg.WaitArraySize,
		FatalThreshold: time.Duration(cfg.FatalSemaphoreWaitSeconds) * time.Second,
		DeadlockDetect: cfg.DeadlockDetect,
	}, log)

	deps := engineDeps{
		logger: log,
		reg:    e.reg,
		io:     io,
		lsn:    opts.LSNSource,
		alg:    alg,
		enc:    enc,
	}
	for i := 0; i < cfg.InstanceCount; i++ {
		e.instances = append(e.instances, newInstance(i, cfg, deps))
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.flusherCancel = cancel
	e.wg.Add(1)
	go e.flusher(ctx)

	log.Info("buffer pool opened",
		zap.Int("instances", cfg.InstanceCount),
		zap.Int("pages_per_instance", cfg.pagesPerInstance()),
		zap.Int("page_size", cfg.PageSize),
	)
	return e, nil
}

// Close stops the flusher, writes out every dirty page, and shuts the
// wait-array registry down. Pool contents are ephemeral; Close does not
// attempt durability beyond the final flush.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.flusherCancel()
		e.wg.Wait()
		e.FlushAll()
		e.reg.Close()
		e.logger.Info("buffer pool closed")
	})
}

// instanceFor shards a page identity onto its owning instance.
func (e *Engine) instanceFor(id pagemanager.PageID) *Instance {
	return e.instances[id.Fold()%uint64(len(e.instances))]
}

// Instance exposes a shard by index for tests and diagnostics.
func (e *Engine) Instance(i int) *Instance {
	return e.instances[i]
}

// Instances returns the shard count.
func (e *Engine) Instances() int {
	return len(e.instances)
}

// Registry exposes the wait-array registry the engine's latches use.
func (e *Engine) Registry() *syncarr.Registry {
	return e.reg
}

// Get routes a page get to its instance.
func (e *Engine) Get(id pagemanager.PageID, mode GetMode, latch LatchMode) (*pagemanager.Block, error) {
	return e.instanceFor(id).Get(id, mode, latch)
}

// Create routes a page creation to its instance.
func (e *Engine) Create(id pagemanager.PageID) (*pagemanager.Block, error) {
	return e.instanceFor(id).Create(id)
}

// Release undoes one Get or Create.
func (e *Engine) Release(b *pagemanager.Block, latch LatchMode) {
	e.instanceFor(b.ID).Release(b, latch)
}

// MarkModified records a page modification at lsn.
func (e *Engine) MarkModified(b *pagemanager.Block, lsn pagemanager.LSN) {
	e.instanceFor(b.ID).MarkModified(b, lsn)
}

// WatchSet installs a watch for a missing page on its instance.
func (e *Engine) WatchSet(id pagemanager.PageID) (*pagemanager.Block, error) {
	return e.instanceFor(id).WatchSet(id)
}

// WatchOccurred reports whether a watched page has appeared.
func (e *Engine) WatchOccurred(id pagemanager.PageID) bool {
	return e.instanceFor(id).WatchOccurred(id)
}

// WatchUnset drops a watch.
func (e *Engine) WatchUnset(id pagemanager.PageID) {
	e.instanceFor(id).WatchUnset(id)
}

// BeginRecovery switches every instance's flush list to ordered inserts
// backed by the red-black mirror.
func (e *Engine) BeginRecovery() {
	for _, in := range e.instances {
		in.beginRecovery()
	}
}

// EndRecovery discards the mirrors.
func (e *Engine) EndRecovery() {
	for _, in := range e.instances {
		in.endRecovery()
	}
}

// OldestModification returns the smallest oldest-modification LSN across
// all instances, 0 when every flush list is empty. Checkpoints may advance
// to any LSN below it.
func (e *Engine) OldestModification() pagemanager.LSN {
	var oldest pagemanager.LSN
	for _, in := range e.instances {
		lsn := in.OldestModification()
		if lsn != 0 && (oldest == 0 || lsn < oldest) {
			oldest = lsn
		}
	}
	return oldest
}

// FlushUpTo drives every instance's flush list until no page older than
// target remains, for checkpointing. Returns pages written.
func (e *Engine) FlushUpTo(target pagemanager.LSN) int {
	total := 0
	for _, in := range e.instances {
		for {
			n := in.FlushBatch(FlushList, e.cfg.FlushBatchSize, target)
			total += n
			if in.OldestModification() == 0 || in.OldestModification() > target {
				break
			}
			if n == 0 {
				// Another batch holds the slot, or the remaining pages are
				// mid-write; let them finish.
				in.WaitNoFlush(FlushList)
				time.Sleep(time.Millisecond)
			}
		}
	}
	return total
}

// FlushAll drains every dirty page.
func (e *Engine) FlushAll() int {
	total := 0
	for _, in := range e.instances {
		for {
			n := in.FlushBatch(FlushList, e.cfg.FlushBatchSize, 0)
			total += n
			if in.OldestModification() == 0 {
				break
			}
			if n == 0 {
				in.WaitNoFlush(FlushList)
				time.Sleep(time.Millisecond)
			}
		}
	}
	return total
}

// Stats aggregates the per-instance snapshots.
func (e *Engine) Stats() StatsSnapshot {
	var s StatsSnapshot
	for _, in := range e.instances {
		s = s.add(in.Stats())
	}
	return s
}

// Validate runs the structural invariant checks on every instance.
func (e *Engine) Validate() error {
	for i, in := range e.instances {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("instance %d: %w", i, err)
		}
	}
	return nil
}

// flusher is the background write-back loop: one flush-list batch and one
// LRU-tail batch per instance per interval, rate-limited so a bursty
// restart cannot saturate the I/O collaborator.
func (e *Engine) flusher(ctx context.Context) {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.FlushIntervalMS) * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		for _, in := range e.instances {
			in.FlushBatch(FlushList, e.cfg.FlushBatchSize, 0)
			in.FlushBatch(FlushLRU, e.cfg.FlushBatchSize, 0)
		}
		if e.cfg.InvariantChecks {
			if err := e.Validate(); err != nil {
				e.logger.Error("pool invariant violation", zap.Error(err))
			}
		}
	}
}

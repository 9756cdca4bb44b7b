package syncarr

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Defaults for the registry. The warn threshold mirrors the classic
// semaphore-wait warning; the fatal threshold is configurable because
// correctness of the engine assumes forward progress of every latch
// acquisition.
const (
	DefaultArrayInstances = 2
	DefaultArraySize      = 1024
	DefaultWarnThreshold  = 30 * time.Second
	DefaultFatalThreshold = 600 * time.Second
	sweepInterval         = time.Second
)

// Config tunes a Registry.
type Config struct {
	// Instances is the number of wait-array partitions.
	Instances int `yaml:"instances"`
	// Size is the cell count per instance.
	Size int `yaml:"size"`
	// WarnThreshold is the wait age past which a cell is reported.
	WarnThreshold time.Duration `yaml:"warn_threshold"`
	// FatalThreshold is the wait age past which the process aborts.
	FatalThreshold time.Duration `yaml:"fatal_threshold"`
	// DeadlockDetect enables cycle detection on every Wait. Debug-grade:
	// it serializes on the registry and is meant for test builds.
	DeadlockDetect bool `yaml:"deadlock_detect"`
}

func (c Config) withDefaults() Config {
	if c.Instances <= 0 {
		c.Instances = DefaultArrayInstances
	}
	if c.Size <= 0 {
		c.Size = DefaultArraySize
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = DefaultWarnThreshold
	}
	if c.FatalThreshold <= 0 {
		c.FatalThreshold = DefaultFatalThreshold
	}
	return c
}

// Registry owns the wait-array instances and the background sweep. Latches
// hold a *Registry and pick an instance round-robin per reservation.
type Registry struct {
	cfg     Config
	arrays  []*Array
	next    atomic.Uint64
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	// FatalHook, when non-nil, replaces the panic on a fatal long wait or a
	// detected deadlock. Tests install it to observe the abort.
	FatalHook func(msg string)
}

// NewRegistry creates the wait arrays and starts the 1 Hz sweep goroutine.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Instances; i++ {
		r.arrays = append(r.arrays, newArray(cfg.Size, logger, r))
	}
	r.wg.Add(1)
	go r.sweeper()
	return r
}

// Close stops the sweep goroutine. Outstanding waiters are unaffected.
func (r *Registry) Close() {
	r.stopped.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Pick returns the array instance for a new reservation, round-robin.
func (r *Registry) Pick() *Array {
	n := r.next.Add(1)
	return r.arrays[n%uint64(len(r.arrays))]
}

// Arrays exposes the instances for validation and diagnostics.
func (r *Registry) Arrays() []*Array {
	return r.arrays
}

// DeadlockDetect reports whether cycle detection is enabled.
func (r *Registry) DeadlockDetect() bool {
	return r.cfg.DeadlockDetect
}

func (r *Registry) sweeper() {
	defer r.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			for _, a := range r.arrays {
				a.signalIfFree()
			}
			r.monitor()
		}
	}
}

// monitor is the long-wait sweep: it warns about cells older than the warn
// threshold and aborts the process past the fatal threshold. With deadlock
// detection on it also re-runs cycle detection for every parked cell, which
// closes the race where two goroutines park before either can see the other
// in the wait-for graph.
func (r *Registry) monitor() {
	now := time.Now()
	fatal := false
	type parked struct {
		goid int64
		obj  WaitObject
		req  RequestType
	}
	var recheck []parked
	for _, a := range r.arrays {
		a.mu.Lock()
		for i := range a.cells {
			c := &a.cells[i]
			if c.obj == nil || !c.waiting {
				continue
			}
			age := now.Sub(c.reservedAt)
			if age > r.cfg.WarnThreshold {
				a.dumpCell(c, age)
			}
			if age > r.cfg.FatalThreshold {
				fatal = true
			}
			if r.cfg.DeadlockDetect {
				recheck = append(recheck, parked{c.goid, c.obj, c.req})
			}
		}
		a.mu.Unlock()
	}
	for _, p := range recheck {
		r.checkDeadlock(p.goid, p.obj, p.req)
	}
	if fatal {
		r.fatal("semaphore wait has lasted beyond the fatal threshold; aborting")
	}
}

func (r *Registry) fatal(msg string) {
	r.logger.Error(msg)
	if r.FatalHook != nil {
		r.FatalHook(msg)
		return
	}
	panic(msg)
}

package pool

import (
	"fmt"

	"github.com/ksharma-417/yureidb/core/buffer/pagemanager"
)

// MaxInstances bounds pool sharding; the instance choice hashes the page
// identity, so the count is fixed for the life of the engine.
const MaxInstances = 64

// Config is the engine's configuration surface.
type Config struct {
	// TotalPoolBytes is the aggregate pool size across instances.
	TotalPoolBytes uint64 `yaml:"total_pool_bytes"`
	// InstanceCount shards the pool 1..64 ways; immutable after Open.
	InstanceCount int `yaml:"instance_count"`
	// PageSize is the uncompressed page size in bytes.
	PageSize int `yaml:"page_size"`
	// LRUOldRatioPct is the fraction of the LRU kept as the old segment.
	LRUOldRatioPct int `yaml:"lru_old_ratio_pct"`
	// LRUOldThresholdMS is the minimum residency in the old segment before
	// a re-access promotes a block to the young segment.
	LRUOldThresholdMS int `yaml:"lru_old_threshold_ms"`
	// FlushScanDepth bounds how many LRU tail blocks one eviction or flush
	// sweep examines.
	FlushScanDepth int `yaml:"flush_scan_depth"`
	// PageHashStripes is the lock stripe count of the page hash.
	PageHashStripes int `yaml:"page_hash_stripes"`
	// WaitArraySize is the cell count per wait-array instance.
	WaitArraySize int `yaml:"wait_array_size"`
	// WaitArrayInstances is the wait-array partition count.
	WaitArrayInstances int `yaml:"wait_array_instances"`
	// ChecksumAlgorithm selects the accepted page checksum variants:
	// crc32, innodb, none, or a strict_* form.
	ChecksumAlgorithm string `yaml:"checksum_algorithm"`
	// FatalSemaphoreWaitSeconds aborts the process when any latch wait
	// exceeds it.
	FatalSemaphoreWaitSeconds int `yaml:"fatal_semaphore_wait_seconds"`
	// FlushBatchSize bounds pages written per background flush batch.
	FlushBatchSize int `yaml:"flush_batch_size"`
	// FlushIntervalMS paces the background flusher.
	FlushIntervalMS int `yaml:"flush_interval_ms"`
	// WatchSlots is the watch sentinel count per instance, provisioned as
	// purge threads + 1.
	WatchSlots int `yaml:"watch_slots"`
	// ScratchSlots sizes the encryption/compression scratch buffer array.
	ScratchSlots int `yaml:"scratch_slots"`
	// DeadlockDetect enables the debug wait-array cycle detector.
	DeadlockDetect bool `yaml:"deadlock_detect"`
	// InvariantChecks enables the debug pool validation after structural
	// operations.
	InvariantChecks bool `yaml:"invariant_checks"`
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = pagemanager.DefaultPageSize
	}
	if c.TotalPoolBytes == 0 {
		c.TotalPoolBytes = 64 << 20
	}
	if c.InstanceCount <= 0 {
		c.InstanceCount = 1
	}
	if c.LRUOldRatioPct <= 0 {
		c.LRUOldRatioPct = 37
	}
	if c.LRUOldThresholdMS <= 0 {
		c.LRUOldThresholdMS = 1000
	}
	if c.FlushScanDepth <= 0 {
		c.FlushScanDepth = 100
	}
	if c.PageHashStripes <= 0 {
		c.PageHashStripes = 1024
	}
	if c.WaitArraySize <= 0 {
		c.WaitArraySize = 1024
	}
	if c.WaitArrayInstances <= 0 {
		c.WaitArrayInstances = 2
	}
	if c.FatalSemaphoreWaitSeconds <= 0 {
		c.FatalSemaphoreWaitSeconds = 600
	}
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = 64
	}
	if c.FlushIntervalMS <= 0 {
		c.FlushIntervalMS = 1000
	}
	if c.WatchSlots <= 0 {
		c.WatchSlots = 4
	}
	if c.ScratchSlots <= 0 {
		c.ScratchSlots = 8
	}
	return c
}

func (c Config) validate() error {
	if c.InstanceCount > MaxInstances {
		return fmt.Errorf("instance_count %d exceeds the maximum of %d", c.InstanceCount, MaxInstances)
	}
	if c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page_size %d is not a power of two", c.PageSize)
	}
	pages := c.TotalPoolBytes / uint64(c.PageSize) / uint64(c.InstanceCount)
	if pages < 1 {
		return fmt.Errorf("total_pool_bytes %d yields no pages per instance", c.TotalPoolBytes)
	}
	if c.LRUOldRatioPct < 5 || c.LRUOldRatioPct > 95 {
		return fmt.Errorf("lru_old_ratio_pct %d out of range [5, 95]", c.LRUOldRatioPct)
	}
	return nil
}

// pagesPerInstance derives the per-shard frame count.
func (c Config) pagesPerInstance() int {
	return int(c.TotalPoolBytes / uint64(c.PageSize) / uint64(c.InstanceCount))
}

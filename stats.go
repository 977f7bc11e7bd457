package asyncmc

import (
	"sync/atomic"
)

// PoolStats contains statistics about a connection pool.
// All fields are safe for concurrent access.
type PoolStats struct {
	// Lifetime counters
	AcquireCount      uint64 // total acquire attempts
	AcquireWaitCount  uint64 // acquires that had to wait
	CreatedConns      uint64 // total connections created
	DestroyedConns    uint64 // total connections destroyed
	AcquireErrors     uint64 // failed acquire attempts
	AcquireWaitTimeNs uint64 // total nanoseconds spent waiting

	// Current state gauges
	TotalConns  int32 // connections in pool (active + idle)
	IdleConns   int32 // idle connections available
	ActiveConns int32 // connections currently in use
}

// ClientStats contains statistics about client operations.
//
// For Prometheus integration, expose the counters with an operation label
// and derive the hit rate as GetHits/Gets.
type ClientStats struct {
	Gets       uint64 // total Get operations
	Sets       uint64 // total Set operations
	Adds       uint64 // total Add operations
	Deletes    uint64 // total Delete operations
	Increments uint64 // total Increment operations
	GetHits    uint64 // Get operations that found the key
	Errors     uint64 // total errors across all operations

	// KindMismatches counts replies rejected because their kind did not
	// match the awaiting request. A non-zero value indicates protocol
	// corruption on some connection.
	KindMismatches uint64
}

// clientStatsCollector accumulates ClientStats counters.
type clientStatsCollector struct {
	gets       atomic.Uint64
	sets       atomic.Uint64
	adds       atomic.Uint64
	deletes    atomic.Uint64
	increments atomic.Uint64
	getHits    atomic.Uint64
	errors     atomic.Uint64

	kindMismatches atomic.Uint64
}

func (c *clientStatsCollector) recordError(err error) {
	if err != nil {
		c.errors.Add(1)
	}
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:           c.gets.Load(),
		Sets:           c.sets.Load(),
		Adds:           c.adds.Load(),
		Deletes:        c.deletes.Load(),
		Increments:     c.increments.Load(),
		GetHits:        c.getHits.Load(),
		Errors:         c.errors.Load(),
		KindMismatches: c.kindMismatches.Load(),
	}
}

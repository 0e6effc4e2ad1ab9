// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"maps"
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	ProviderList  *OperationSnapshot `json:"providerList,omitempty"`
	ProviderFetch *OperationSnapshot `json:"providerFetch,omitempty"`
	StoreQuery    *OperationSnapshot `json:"storeQuery,omitempty"`
	Job           *OperationSnapshot `json:"job,omitempty"`
	Counters      map[string]int64   `json:"counters"`
}

// Operation names for the collector.
const (
	OpProviderList  = "provider_list"
	OpProviderFetch = "provider_fetch"
	OpStoreQuery    = "store_query"
	OpJob           = "job"
)

// Counter names for the collector.
const (
	CounterDocumentsStored = "documents_stored"
	CounterDedupSkipped    = "dedup_skipped"
	CounterOwnersSkipped   = "owners_skipped"
	CounterJobsCompleted   = "jobs_completed"
	CounterJobsFailed      = "jobs_failed"
	CounterMergeConflicts  = "merge_conflicts"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and safe to call on a nil *Collector.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counters:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, nil)
}

// RecordResult records timing and counts the call as an error when err is non-nil.
func (c *Collector) RecordResult(op string, duration time.Duration, err error) {
	c.record(op, duration, err)
}

func (c *Collector) record(op string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if err != nil {
		m.Errors++
	}

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Add increments a named counter.
func (c *Collector) Add(counter string, delta int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[counter] += delta
	c.mu.Unlock()
}

// Counter returns the current value of a named counter.
func (c *Collector) Counter(counter string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[counter]
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		ProviderList:  snapshotOp(c.ops[OpProviderList]),
		ProviderFetch: snapshotOp(c.ops[OpProviderFetch]),
		StoreQuery:    snapshotOp(c.ops[OpStoreQuery]),
		Job:           snapshotOp(c.ops[OpJob]),
		Counters:      maps.Clone(c.counters),
	}
}

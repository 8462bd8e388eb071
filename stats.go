// stats.go: Per-shard statistics counters and their Prometheus export
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// statShard holds one CPU's slice of counters. Splitting counters per
// shard (rather than one set of global atomics) keeps the hot lookup
// path from bouncing a single cache line between cores under load —
// the same reason the teacher shards its hit/miss counters per cacheShard
// in metis.go, generalized here to a fixed small shard count instead of
// being tied to the bucket table's shard count.
type statShard struct {
	lookups     atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	allocations atomic.Int64
}

// Stats is the live, per-shard counter set described in spec.md §6.
type Stats struct {
	shards []statShard
	mask   uint32
	next   atomic.Uint32
}

// NewStats creates a Stats with one shard per CPU (rounded to a power of
// two, minimum 1).
func NewStats() *Stats {
	n := nextPowerOf2(runtime.GOMAXPROCS(0))
	if n < 1 {
		n = 1
	}
	return &Stats{shards: make([]statShard, n), mask: uint32(n - 1)}
}

// shardFor round-robins across shards. A real per-CPU counter would need
// a cgo call to getcpu(); round-robin is cheaper and spreads contention
// just as well for the access pattern here (short, frequent increments
// with no per-key affinity requirement).
func (s *Stats) shardFor() *statShard {
	idx := s.next.Add(1) & s.mask
	return &s.shards[idx]
}

// IncLookups records one lookup attempt.
func (s *Stats) IncLookups() { s.shardFor().lookups.Add(1) }

// IncHits records one cache hit.
func (s *Stats) IncHits() { s.shardFor().hits.Add(1) }

// IncMisses records one cache miss.
func (s *Stats) IncMisses() { s.shardFor().misses.Add(1) }

// IncAllocations records one Entry allocation.
func (s *Stats) IncAllocations() { s.shardFor().allocations.Add(1) }

// Snapshot is the summed-on-read view of Stats.
type Snapshot struct {
	Lookups     int64
	Hits        int64
	Misses      int64
	Allocations int64
}

// Snapshot sums every shard's counters.
func (s *Stats) Snapshot() Snapshot {
	var snap Snapshot
	for i := range s.shards {
		snap.Lookups += s.shards[i].lookups.Load()
		snap.Hits += s.shards[i].hits.Load()
		snap.Misses += s.shards[i].misses.Load()
		snap.Allocations += s.shards[i].allocations.Load()
	}
	return snap
}

// HashStats is the diagnostic summary returned by get_hash_stats (§6):
// live entry count, buckets in use vs total, and the longest chain.
type HashStats struct {
	Entries      int
	BucketsUsed  int
	BucketsTotal int
	LongestChain int
	Reclaims     int64
	Frees        int64
	Pending      int
}

// Collector returns a prometheus.Collector exposing Stats and the given
// HashStats source as gauges/counters, per SPEC_FULL.md's additive
// statistics-export section. hashStats is called lazily on every Collect
// so dashboards see the current state rather than a value frozen at
// registration time.
func (s *Stats) Collector(hashStats func() HashStats) prometheus.Collector {
	return &promCollector{stats: s, hashStats: hashStats}
}

type promCollector struct {
	stats     *Stats
	hashStats func() HashStats
}

var (
	lookupsDesc = prometheus.NewDesc("avc_lookups_total", "Total permission-check lookups.", nil, nil)
	hitsDesc    = prometheus.NewDesc("avc_hits_total", "Total cache hits.", nil, nil)
	missesDesc  = prometheus.NewDesc("avc_misses_total", "Total cache misses.", nil, nil)
	activeDesc  = prometheus.NewDesc("avc_active_entries", "Entries currently linked in the bucket table.", nil, nil)
	reclaimDesc = prometheus.NewDesc("avc_reclaims_total", "Entries unlinked by the eviction path.", nil, nil)
)

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- lookupsDesc
	ch <- hitsDesc
	ch <- missesDesc
	ch <- activeDesc
	ch <- reclaimDesc
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(lookupsDesc, prometheus.CounterValue, float64(snap.Lookups))
	ch <- prometheus.MustNewConstMetric(hitsDesc, prometheus.CounterValue, float64(snap.Hits))
	ch <- prometheus.MustNewConstMetric(missesDesc, prometheus.CounterValue, float64(snap.Misses))
	if c.hashStats != nil {
		hs := c.hashStats()
		ch <- prometheus.MustNewConstMetric(activeDesc, prometheus.GaugeValue, float64(hs.Entries))
		ch <- prometheus.MustNewConstMetric(reclaimDesc, prometheus.CounterValue, float64(hs.Reclaims))
	}
}

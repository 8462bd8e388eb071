// cmd/avc-bench/main.go: throughput/latency profiler for the AVC
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/avc"
)

const (
	duration     = 5 * time.Second
	workers      = 8
	keySpaceSize = 10_000
)

// benchPolicy is a policy engine standing in for a real mandatory
// access control policy: permissions are derived deterministically
// from the key so the result is stable across calls, and a small
// artificial delay models the cost compute_av is expected to have in
// production (§1's "decisions are expensive to compute").
type benchPolicy struct{}

func (benchPolicy) ComputeAV(key avc.Key) (avc.Decision, *avc.ExtendedDecisionList, error) {
	time.Sleep(50 * time.Microsecond)
	return avc.Decision{Allowed: uint32(key.SSID ^ key.TSID) | 0x1, Seqno: 1}, nil, nil
}

func (benchPolicy) ComputeExtended(key avc.Key, opType uint8) (*avc.ExtendedDecision, error) {
	return &avc.ExtendedDecision{Type: opType}, nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg := avc.DefaultConfig()
	cfg.Threshold = keySpaceSize / 2
	cache := avc.New(cfg, benchPolicy{}, avc.NopAuditSink{})
	defer cache.Disable()

	cpuFile, err := os.Create("cpu.prof")
	if err == nil {
		_ = pprof.StartCPUProfile(cpuFile)
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	fmt.Println("[WARMUP] Priming cache with a cold pass over the key space...")
	for i := 0; i < keySpaceSize/10; i++ {
		key := avc.Key{SSID: avc.SID(i), TSID: avc.SID(i + 1), TClass: 1}
		_ = cache.HasPerm(key, 0b1, 0)
	}
	fmt.Println("[WARMUP] done")

	var checkStat, denyStat opStat
	var totalOps, totalDenied int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	fmt.Printf("[BENCHMARK] starting %d workers for %v\n", workers, duration)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			localRand := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
			for {
				select {
				case <-stop:
					return
				default:
					ssid := avc.SID(localRand.Intn(keySpaceSize))
					tsid := avc.SID(localRand.Intn(keySpaceSize))
					key := avc.Key{SSID: ssid, TSID: tsid, TClass: 1}

					start := time.Now()
					err := cache.HasPerm(key, 0b1, 0)
					elapsed := time.Since(start)

					if err != nil {
						denyStat.Record(elapsed)
						atomic.AddInt64(&totalDenied, 1)
					} else {
						checkStat.Record(elapsed)
					}
					atomic.AddInt64(&totalOps, 1)
				}
			}
		}(i)
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
	fmt.Println("[BENCHMARK] all workers stopped")

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	hs := cache.GetHashStats()

	fmt.Println("--- Results ---")
	fmt.Printf("Total checks:  %d (%d denied)\n", totalOps, totalDenied)
	fmt.Printf("Allow:  avg=%v min=%v max=%v\n", checkStat.Avg(), checkStat.Min, checkStat.Max)
	fmt.Printf("Deny:   avg=%v min=%v max=%v\n", denyStat.Avg(), denyStat.Min, denyStat.Max)
	fmt.Printf("Checks/sec: %.2f\n", float64(totalOps)/duration.Seconds())
	fmt.Printf("Entries: %d, longest chain: %d, reclaims: %d\n", hs.Entries, hs.LongestChain, hs.Reclaims)
	fmt.Printf("Heap alloc: %d MB, GCs: %d\n", memStats.HeapAlloc/1024/1024, memStats.NumGC)

	if csvFile, err := os.Create("avc_bench_results.csv"); err == nil {
		defer csvFile.Close()
		writer := csv.NewWriter(csvFile)
		defer writer.Flush()
		_ = writer.Write([]string{"metric", "value"})
		_ = writer.Write([]string{"total_ops", fmt.Sprintf("%d", totalOps)})
		_ = writer.Write([]string{"total_denied", fmt.Sprintf("%d", totalDenied)})
		_ = writer.Write([]string{"allow_avg_ns", fmt.Sprintf("%d", checkStat.Avg().Nanoseconds())})
		_ = writer.Write([]string{"checks_per_sec", fmt.Sprintf("%.2f", float64(totalOps)/duration.Seconds())})
		_ = writer.Write([]string{"longest_chain", fmt.Sprintf("%d", hs.LongestChain)})
	}

	if jsonFile, err := os.Create("avc_bench_results.json"); err == nil {
		defer jsonFile.Close()
		encoder := json.NewEncoder(jsonFile)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(map[string]any{
			"total_ops":      totalOps,
			"total_denied":   totalDenied,
			"allow_avg_ns":   checkStat.Avg().Nanoseconds(),
			"deny_avg_ns":    denyStat.Avg().Nanoseconds(),
			"checks_per_sec": float64(totalOps) / duration.Seconds(),
			"hash_stats":     hs,
		})
	}
}

// opStat keeps track of latency metrics for one class of outcome.
type opStat struct {
	Min   time.Duration
	Max   time.Duration
	Total time.Duration
	Count int64
}

// Record registers a single operation latency.
func (s *opStat) Record(d time.Duration) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Total += d
	s.Count++
}

// Avg returns the average latency for the recorded operations.
func (s *opStat) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return time.Duration(int64(s.Total) / s.Count)
}

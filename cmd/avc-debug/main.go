// cmd/avc-debug/main.go: diagnostic inspector for a running AVC workload
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/agilira/avc"
)

const version = "0.1.0"

var (
	jsonOutput bool
	keys       int
	workers    int
	ops        int
)

var rootCmd = &cobra.Command{
	Use:   "avc-debug",
	Short: "Drive a synthetic workload against an AVC and report hash diagnostics",
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Run a synthetic workload and print GetHashStats / Stats",
	RunE:  runInspect,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("avc-debug version %s\n", version)
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	inspectCmd.Flags().IntVar(&keys, "keys", 2000, "ssid and tsid are each drawn from [0, keys)")
	inspectCmd.Flags().IntVar(&workers, "workers", 8, "concurrent goroutines driving HasPerm")
	inspectCmd.Flags().IntVar(&ops, "ops", 50000, "total HasPerm calls across all workers")
	rootCmd.AddCommand(inspectCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mockPolicy is a synthetic policy engine: permission bits 0-15 are
// granted for every key, so every check of bit 0 is allowed.
type mockPolicy struct{}

func (mockPolicy) ComputeAV(key avc.Key) (avc.Decision, *avc.ExtendedDecisionList, error) {
	return avc.Decision{Allowed: 0xffff, Seqno: 1}, nil, nil
}

func (mockPolicy) ComputeExtended(key avc.Key, opType uint8) (*avc.ExtendedDecision, error) {
	return &avc.ExtendedDecision{Type: opType}, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg := avc.DefaultConfig()
	cache := avc.New(cfg, mockPolicy{}, avc.NopAuditSink{})

	var wg sync.WaitGroup
	perWorker := ops / workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				key := avc.Key{SSID: avc.SID(r.Intn(keys)), TSID: avc.SID(r.Intn(keys)), TClass: 0}
				_ = cache.HasPerm(key, 0b1, 0)
			}
		}(int64(w) + 1)
	}
	wg.Wait()

	hs := cache.GetHashStats()
	snap := cache.Stats()

	if jsonOutput {
		out, _ := json.MarshalIndent(map[string]any{"hash_stats": hs, "stats": snap}, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("entries:       %d\n", hs.Entries)
	fmt.Printf("buckets used:  %d / %d\n", hs.BucketsUsed, hs.BucketsTotal)
	fmt.Printf("longest chain: %d\n", hs.LongestChain)
	fmt.Printf("reclaims:      %d\n", hs.Reclaims)
	fmt.Printf("frees:         %d\n", hs.Frees)
	fmt.Printf("pending:       %d\n", hs.Pending)
	fmt.Println()
	fmt.Printf("lookups:       %d\n", snap.Lookups)
	fmt.Printf("hits:          %d\n", snap.Hits)
	fmt.Printf("misses:        %d\n", snap.Misses)
	fmt.Printf("allocations:   %d\n", snap.Allocations)

	cache.Disable()
	return nil
}

// config_validator_test.go
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import "testing"

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	result := ValidateConfig(DefaultConfig())
	if !result.IsValid {
		t.Fatalf("expected the default config to be valid, warnings=%v", result.Warnings)
	}
}

func TestValidateConfigRejectsNonPositiveFields(t *testing.T) {
	cases := []Config{
		{Threshold: 0, ReclaimBatch: 16, Slots: 512, ReaperInterval: DefaultConfig().ReaperInterval},
		{Threshold: 512, ReclaimBatch: 0, Slots: 512, ReaperInterval: DefaultConfig().ReaperInterval},
		{Threshold: 512, ReclaimBatch: 16, Slots: 0, ReaperInterval: DefaultConfig().ReaperInterval},
		{Threshold: 512, ReclaimBatch: 16, Slots: 512, ReaperInterval: 0},
	}
	for i, cfg := range cases {
		if result := ValidateConfig(cfg); result.IsValid {
			t.Fatalf("case %d: expected config %+v to be invalid", i, cfg)
		}
	}
}

func TestValidateConfigWarnsOnSmallThreshold(t *testing.T) {
	cfg := Config{Threshold: 8, ReclaimBatch: 4, Slots: 64, ReaperInterval: DefaultConfig().ReaperInterval}
	result := ValidateConfig(cfg)
	if !result.IsValid {
		t.Fatal("a small threshold should still be valid, just warned about")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about a very small threshold")
	}
}

func TestValidateConfigSuggestsPowerOfTwoSlots(t *testing.T) {
	cfg := Config{Threshold: 512, ReclaimBatch: 16, Slots: 500, ReaperInterval: DefaultConfig().ReaperInterval}
	result := ValidateConfig(cfg)
	if len(result.Suggestions) == 0 {
		t.Fatal("expected a suggestion for a non-power-of-two slots value")
	}
}

func TestValidateConfigSuggestsReclaimBatchNotExceedThreshold(t *testing.T) {
	cfg := Config{Threshold: 16, ReclaimBatch: 64, Slots: 64, ReaperInterval: DefaultConfig().ReaperInterval}
	result := ValidateConfig(cfg)
	if len(result.Suggestions) == 0 {
		t.Fatal("expected a suggestion when reclaim_batch exceeds threshold")
	}
}

func TestRecommendationUseCases(t *testing.T) {
	dev := Recommendation("development")
	if dev.Threshold != 128 || !dev.StatsEnabled {
		t.Fatalf("unexpected development recommendation: %+v", dev)
	}

	lowMem := Recommendation("low-memory")
	if lowMem.Threshold != 256 || lowMem.StatsEnabled {
		t.Fatalf("unexpected low-memory recommendation: %+v", lowMem)
	}

	ht := Recommendation("high-throughput")
	if ht.Threshold != 16384 || !ht.StatsEnabled {
		t.Fatalf("unexpected high-throughput recommendation: %+v", ht)
	}
	if nextPowerOf2(ht.Slots) != ht.Slots {
		t.Fatal("expected high-throughput slots to be a power of two")
	}

	def := Recommendation("unknown-use-case")
	if def != DefaultConfig() {
		t.Fatalf("expected an unknown use case to fall back to defaults, got %+v", def)
	}
}

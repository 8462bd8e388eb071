// cmd/avc-cli/main.go: CLI for generating and inspecting AVC configuration
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agilira/avc"
)

var outputPath string

var rootCmd = &cobra.Command{
	Use:   "avc-cli",
	Short: "Generate and inspect access vector cache configuration",
}

var genCmd = &cobra.Command{
	Use:   "generate",
	Short: "Interactively generate an avc.json configuration file",
	RunE:  runGenerate,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend [use-case]",
	Short: "Print a recommended configuration for a named use case",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecommend,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration resolved by LoadConfig",
	RunE:  runValidate,
}

func init() {
	genCmd.Flags().StringVarP(&outputPath, "output", "o", "avc.json", "path to write the generated config")
	rootCmd.AddCommand(genCmd, recommendCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Access Vector Cache configuration generator")
	fmt.Println("============================================")
	fmt.Println()
	fmt.Println("What's your primary use case?")
	fmt.Println("1. Development/Testing (small, fast eviction)")
	fmt.Println("2. Low-memory (small soft bound)")
	fmt.Println("3. High-throughput (large soft bound, many slots)")
	fmt.Println("4. Defaults")
	fmt.Print("Choose (1-4): ")

	choice, _ := reader.ReadString('\n')
	choice = strings.TrimSpace(choice)

	var cfg avc.Config
	switch choice {
	case "1":
		cfg = avc.Recommendation("development")
	case "2":
		cfg = avc.Recommendation("low-memory")
	case "3":
		cfg = avc.Recommendation("high-throughput")
	default:
		cfg = avc.DefaultConfig()
	}

	result := avc.ValidateConfig(cfg)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("suggestion: %s\n", s)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}

	fmt.Printf("\nwrote %s\n", outputPath)
	return nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	cfg := avc.Recommendation(args[0])
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := avc.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("source: %s\n", avc.ConfigSource())
	result := avc.ValidateConfig(cfg)
	if !result.IsValid {
		fmt.Println("configuration is INVALID")
	}
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("suggestion: %s\n", s)
	}
	if result.IsValid {
		os.Exit(0)
	}
	os.Exit(1)
	return nil
}

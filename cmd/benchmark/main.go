// Package main provides a command-line tool for running performance
// benchmarks on the overlay core: path builds, the onion codec, the IWP
// handshake and fragment reassembly, and steady-state memory usage.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/go-llarp/pkg/benchmark"
	"github.com/opd-ai/go-llarp/pkg/logger"
)

var (
	version   = "0.1.0-dev"
	buildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	runPaths := flag.Bool("paths", true, "Run path build and onion codec benchmarks")
	runLink := flag.Bool("link", true, "Run link handshake and fragment reassembly benchmarks")
	runMemory := flag.Bool("memory", true, "Run memory usage benchmarks")
	runAll := flag.Bool("all", false, "Run all benchmarks (overrides individual flags)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Global timeout for all benchmarks")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-llarp benchmark tool version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout)

	log.Info("Starting go-llarp performance benchmarks",
		"version", version,
		"build_time", buildTime)

	suite := benchmark.NewSuite(log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		log.Warn("Received interrupt signal, canceling benchmarks...")
		cancel()
	}()

	if *runAll {
		*runPaths = true
		*runLink = true
		*runMemory = true
	}

	var hasErrors bool

	if *runPaths {
		log.Info("Running path benchmarks...")
		if err := suite.BenchmarkPathBuild(ctx); err != nil {
			log.Error("Path build benchmark failed", "error", err)
			hasErrors = true
		}
		if err := suite.BenchmarkOnionCodec(ctx); err != nil {
			log.Error("Onion codec benchmark failed", "error", err)
			hasErrors = true
		}
	}

	if *runLink {
		log.Info("Running link layer benchmarks...")
		if err := suite.BenchmarkLinkHandshake(ctx); err != nil {
			log.Error("Link handshake benchmark failed", "error", err)
			hasErrors = true
		}
		if err := suite.BenchmarkFragmentReassembly(ctx); err != nil {
			log.Error("Fragment reassembly benchmark failed", "error", err)
			hasErrors = true
		}
	}

	if *runMemory {
		log.Info("Running memory usage benchmarks...")
		if err := suite.BenchmarkMemoryUsage(ctx); err != nil {
			log.Error("Memory usage benchmark failed", "error", err)
			hasErrors = true
		}
	}

	suite.PrintSummary()

	results := suite.Results()
	passCount := 0
	failCount := 0
	for _, r := range results {
		if r.Success {
			passCount++
		} else {
			failCount++
		}
	}

	separator := "================================================================================"
	fmt.Println("\n" + separator)
	fmt.Printf("FINAL RESULTS: %d PASSED, %d FAILED (out of %d total)\n",
		passCount, failCount, len(results))
	fmt.Println(separator)

	if hasErrors || failCount > 0 {
		os.Exit(1)
	}
}

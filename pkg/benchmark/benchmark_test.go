package benchmark

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/go-llarp/pkg/logger"
)

func TestLatencyTracker(t *testing.T) {
	tracker := NewLatencyTracker(10)

	latencies := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		150 * time.Millisecond,
		300 * time.Millisecond,
		250 * time.Millisecond,
	}

	for _, l := range latencies {
		tracker.Record(l)
	}

	if tracker.Count() != len(latencies) {
		t.Errorf("Expected count %d, got %d", len(latencies), tracker.Count())
	}

	expectedMax := 300 * time.Millisecond
	if tracker.Max() != expectedMax {
		t.Errorf("Expected max %v, got %v", expectedMax, tracker.Max())
	}

	p50 := tracker.Percentile(0.50)
	if p50 < 100*time.Millisecond || p50 > 300*time.Millisecond {
		t.Errorf("P50 %v out of reasonable range", p50)
	}

	p95 := tracker.Percentile(0.95)
	if p95 < 250*time.Millisecond || p95 > 300*time.Millisecond {
		t.Errorf("P95 %v should be close to max", p95)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(10)

	if tracker.Count() != 0 {
		t.Errorf("Expected count 0, got %d", tracker.Count())
	}

	if tracker.Max() != 0 {
		t.Errorf("Expected max 0, got %v", tracker.Max())
	}

	if tracker.Percentile(0.95) != 0 {
		t.Errorf("Expected percentile 0, got %v", tracker.Percentile(0.95))
	}
}

// TestLatencyTrackerConcurrent ensures the tracker tolerates concurrent
// recorders and readers.
func TestLatencyTrackerConcurrent(t *testing.T) {
	tracker := NewLatencyTracker(1000)

	numGoroutines := 10
	numRecordsPerGoroutine := 100

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < numRecordsPerGoroutine; j++ {
				tracker.Record(time.Duration(id*100+j) * time.Microsecond)
			}
			done <- true
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	expectedCount := numGoroutines * numRecordsPerGoroutine
	if tracker.Count() != expectedCount {
		t.Errorf("Expected count %d, got %d", expectedCount, tracker.Count())
	}

	done2 := make(chan bool, 3)
	go func() {
		tracker.Record(999 * time.Millisecond)
		done2 <- true
	}()
	go func() {
		_ = tracker.Percentile(0.95)
		done2 <- true
	}()
	go func() {
		_ = tracker.Max()
		done2 <- true
	}()
	for i := 0; i < 3; i++ {
		<-done2
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    uint64
		expected string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{50 * 1024 * 1024, "50.0 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestGetMemorySnapshot(t *testing.T) {
	snapshot := GetMemorySnapshot()

	if snapshot.Alloc == 0 {
		t.Error("Expected non-zero memory allocation")
	}

	if snapshot.TotalAlloc == 0 {
		t.Error("Expected non-zero total allocation")
	}

	if snapshot.Sys == 0 {
		t.Error("Expected non-zero system memory")
	}
}

func TestSuiteBasic(t *testing.T) {
	log := logger.NewDefault()
	suite := NewSuite(log)

	if suite == nil {
		t.Fatal("NewSuite returned nil")
	}

	if len(suite.Results()) != 0 {
		t.Errorf("Expected 0 results, got %d", len(suite.Results()))
	}

	suite.addResult(Result{
		Name:     "Test",
		Duration: time.Second,
		Success:  true,
	})

	if len(suite.Results()) != 1 {
		t.Errorf("Expected 1 result, got %d", len(suite.Results()))
	}
}

func TestBuildEnvironment(t *testing.T) {
	_, builder, _, err := buildEnvironment(3)
	if err != nil {
		t.Fatalf("buildEnvironment: %v", err)
	}
	if builder == nil {
		t.Fatal("buildEnvironment returned nil builder")
	}
}

func TestBenchmarkOnionCodec(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping benchmark in short mode")
	}

	log := logger.NewDefault()
	suite := NewSuite(log)

	if err := suite.BenchmarkOnionCodec(context.Background()); err != nil {
		t.Fatalf("BenchmarkOnionCodec failed: %v", err)
	}

	results := suite.Results()
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected one successful result, got %+v", results)
	}
}

func TestBenchmarkFragmentReassembly(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping benchmark in short mode")
	}

	log := logger.NewDefault()
	suite := NewSuite(log)

	if err := suite.BenchmarkFragmentReassembly(context.Background()); err != nil {
		t.Fatalf("BenchmarkFragmentReassembly failed: %v", err)
	}

	results := suite.Results()
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected one successful result, got %+v", results)
	}
	if results[0].TotalOperations == 0 {
		t.Error("expected nonzero operations")
	}
}

package benchmark

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/opd-ai/go-llarp/pkg/path"
)

// BenchmarkMemoryUsage measures steady-state memory with a realistic
// working set: a populated router-contact store, several established
// paths with live transit entries at each relay, and an active session
// pair.
func (s *Suite) BenchmarkMemoryUsage(ctx context.Context) error {
	const relays = 9
	const paths = 3

	s.log.Info("Benchmarking memory usage", "relays", relays, "paths", paths)

	runtime.GC()
	before := GetMemorySnapshot()
	start := time.Now()

	provider, builder, hops, err := buildEnvironment(relays)
	if err != nil {
		s.addResult(Result{Name: "Memory Usage", Error: err})
		return err
	}

	var owned []*path.Owned
	for i := 0; i < paths; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		o, err := builder.Build(ctx, 3, path.Constraints{}, time.Now())
		if err != nil {
			s.addResult(Result{Name: "Memory Usage", Error: err})
			return err
		}
		owned = append(owned, o)
	}

	// Keep an established session pair live alongside the paths.
	initiator, responder, err := establishedSessionPair(provider)
	if err != nil {
		s.addResult(Result{Name: "Memory Usage", Error: err})
		return err
	}

	runtime.GC()
	after := GetMemorySnapshot()
	elapsed := time.Since(start)

	transitEntries := 0
	for _, h := range hops {
		transitEntries += h.table.Len()
	}

	s.addResult(Result{
		Name:            "Memory Usage",
		Duration:        elapsed,
		MemoryAllocated: after.TotalAlloc - before.TotalAlloc,
		MemoryInUse:     after.Alloc,
		Success:         true,
		AdditionalMetrics: map[string]interface{}{
			"relays":          relays,
			"owned_paths":     len(owned),
			"transit_entries": transitEntries,
			"session_state":   fmt.Sprintf("%s/%s", initiator.State, responder.State),
		},
	})
	return nil
}

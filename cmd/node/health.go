package main

import (
	"time"

	"github.com/opd-ai/go-llarp/pkg/health"
	"github.com/opd-ai/go-llarp/pkg/metrics"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// newHealthMonitor wires the health checkers to the live metrics and the
// router contact store.
func newHealthMonitor(m *metrics.Metrics, store *rc.Store) *health.Monitor {
	monitor := health.NewMonitor()

	monitor.RegisterChecker(health.NewPathHealthChecker(func() health.PathStats {
		snap := m.Snapshot()
		return health.PathStats{
			ActivePaths:  int(snap.ActivePaths),
			MinRequired:  1,
			FailedBuilds: int(snap.PathBuildFailure),
		}
	}))

	monitor.RegisterChecker(health.NewLinkSessionHealthChecker(func() health.LinkSessionStats {
		snap := m.Snapshot()
		return health.LinkSessionStats{
			TotalSessions:       int(snap.LinkSessionAttempts),
			EstablishedSessions: int(snap.ActiveLinkSessions),
			FailedSessions:      int(snap.LinkSessionFailures),
			AverageLatency:      snap.HandshakeTimeAvg,
			HandshakeAttempts:   int(snap.LinkSessionAttempts),
		}
	}))

	monitor.RegisterChecker(health.NewRCStoreHealthChecker(func() health.RCStoreStats {
		last := store.LastUpdated()
		var age time.Duration
		if !last.IsZero() {
			age = time.Since(last)
		}
		return health.RCStoreStats{
			LastRefresh: last,
			RefreshAge:  age,
			RouterCount: store.Len(),
		}
	}))

	return monitor
}

package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}
	if m.PathBuilds == nil {
		t.Error("PathBuilds not initialized")
	}
	if m.ActivePaths == nil {
		t.Error("ActivePaths not initialized")
	}
	if m.PathBuildTime == nil {
		t.Error("PathBuildTime not initialized")
	}
}

func TestIsolatedRegistries(t *testing.T) {
	// Two instances must not collide: each owns its own registry.
	a := New()
	b := New()

	a.PathBuilds.Inc()

	if got := counterValue(b.PathBuilds); got != 0 {
		t.Errorf("second instance saw %d path builds, want 0", got)
	}
	if got := counterValue(a.PathBuilds); got != 1 {
		t.Errorf("first instance saw %d path builds, want 1", got)
	}
}

func TestRecordPathBuild(t *testing.T) {
	m := New()

	m.RecordPathBuild(true, 2*time.Second)

	if got := counterValue(m.PathBuilds); got != 1 {
		t.Errorf("path builds = %d, want 1", got)
	}
	if got := counterValue(m.PathBuildSuccess); got != 1 {
		t.Errorf("path build success = %d, want 1", got)
	}
	if got := counterValue(m.PathBuildFailure); got != 0 {
		t.Errorf("path build failure = %d, want 0", got)
	}

	m.RecordPathBuild(false, time.Second)

	if got := counterValue(m.PathBuilds); got != 2 {
		t.Errorf("path builds = %d, want 2", got)
	}
	if got := counterValue(m.PathBuildSuccess); got != 1 {
		t.Errorf("path build success = %d, want 1", got)
	}
	if got := counterValue(m.PathBuildFailure); got != 1 {
		t.Errorf("path build failure = %d, want 1", got)
	}
}

func TestRecordLinkSession(t *testing.T) {
	m := New()

	m.RecordLinkSession(true, 2)

	if got := counterValue(m.LinkSessionAttempts); got != 1 {
		t.Errorf("session attempts = %d, want 1", got)
	}
	if got := counterValue(m.LinkSessionSuccess); got != 1 {
		t.Errorf("session success = %d, want 1", got)
	}
	if got := counterValue(m.LinkSessionRetries); got != 2 {
		t.Errorf("session retries = %d, want 2", got)
	}

	m.RecordLinkSession(false, 3)

	if got := counterValue(m.LinkSessionAttempts); got != 2 {
		t.Errorf("session attempts = %d, want 2", got)
	}
	if got := counterValue(m.LinkSessionFailures); got != 1 {
		t.Errorf("session failures = %d, want 1", got)
	}
	if got := counterValue(m.LinkSessionRetries); got != 5 {
		t.Errorf("session retries = %d, want 5", got)
	}
}

func TestRecordHandshake(t *testing.T) {
	m := New()

	m.RecordHandshake(100 * time.Millisecond)
	m.RecordHandshake(200 * time.Millisecond)

	mean := histogramMean(m.HandshakeTime)
	if mean < 140*time.Millisecond || mean > 160*time.Millisecond {
		t.Errorf("handshake mean = %v, want ~150ms", mean)
	}
}

func TestHistogramMeanEmpty(t *testing.T) {
	m := New()
	if mean := histogramMean(m.PathBuildTime); mean != 0 {
		t.Errorf("mean of empty histogram = %v, want 0", mean)
	}
}

func TestGaugeUpDown(t *testing.T) {
	m := New()

	m.ActivePaths.Set(42)
	if got := gaugeValue(m.ActivePaths); got != 42 {
		t.Errorf("after Set(42) = %d, want 42", got)
	}
	m.ActivePaths.Inc()
	if got := gaugeValue(m.ActivePaths); got != 43 {
		t.Errorf("after Inc() = %d, want 43", got)
	}
	m.ActivePaths.Dec()
	if got := gaugeValue(m.ActivePaths); got != 42 {
		t.Errorf("after Dec() = %d, want 42", got)
	}
	m.ActivePaths.Add(10)
	if got := gaugeValue(m.ActivePaths); got != 52 {
		t.Errorf("after Add(10) = %d, want 52", got)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := New()
	const goroutines = 50
	const increments = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				m.FragmentsSent.Inc()
				m.ActiveFlows.Inc()
				m.ActiveFlows.Dec()
			}
		}()
	}
	wg.Wait()

	if got := counterValue(m.FragmentsSent); got != goroutines*increments {
		t.Errorf("FragmentsSent = %d, want %d", got, goroutines*increments)
	}
	if got := gaugeValue(m.ActiveFlows); got != 0 {
		t.Errorf("ActiveFlows = %d, want 0", got)
	}
}

func TestRegistryGather(t *testing.T) {
	m := New()
	m.IntrosetPublishes.Inc()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := false
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "llarp_") {
			t.Errorf("metric family %q not in llarp namespace", mf.GetName())
		}
		if mf.GetName() == "llarp_introset_publishes_total" {
			found = true
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("gathered introset_publishes_total = %v, want 1", v)
			}
		}
	}
	if !found {
		t.Error("llarp_introset_publishes_total not gathered")
	}
}

func TestSnapshot(t *testing.T) {
	m := New()

	m.RecordPathBuild(true, 2*time.Second)
	m.RecordPathBuild(false, time.Second)
	m.RecordLinkSession(true, 1)
	m.ActivePaths.Set(3)
	m.IntroductionPointsActive.Set(2)
	m.IntrosetPublishes.Inc()
	m.FlowData.Add(2048)

	snap := m.Snapshot()

	if snap.PathBuilds != 2 {
		t.Errorf("snapshot path builds = %d, want 2", snap.PathBuilds)
	}
	if snap.PathBuildSuccess != 1 {
		t.Errorf("snapshot path build success = %d, want 1", snap.PathBuildSuccess)
	}
	if snap.PathBuildFailure != 1 {
		t.Errorf("snapshot path build failure = %d, want 1", snap.PathBuildFailure)
	}
	if snap.ActivePaths != 3 {
		t.Errorf("snapshot active paths = %d, want 3", snap.ActivePaths)
	}
	if snap.IntroductionPointsActive != 2 {
		t.Errorf("snapshot introduction points active = %d, want 2", snap.IntroductionPointsActive)
	}
	if snap.IntrosetPublishes != 1 {
		t.Errorf("snapshot introset publishes = %d, want 1", snap.IntrosetPublishes)
	}
	if snap.FlowData != 2048 {
		t.Errorf("snapshot flow data = %d, want 2048", snap.FlowData)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("snapshot uptime = %d, want >= 0", snap.UptimeSeconds)
	}
}

func TestSnapshotIndependence(t *testing.T) {
	m := New()

	m.PathBuilds.Inc()
	snap1 := m.Snapshot()

	m.PathBuilds.Inc()
	snap2 := m.Snapshot()

	if snap1.PathBuilds != 1 {
		t.Errorf("snap1 path builds = %d, want 1", snap1.PathBuilds)
	}
	if snap2.PathBuilds != 2 {
		t.Errorf("snap2 path builds = %d, want 2", snap2.PathBuilds)
	}
}

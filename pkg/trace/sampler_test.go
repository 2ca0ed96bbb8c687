package trace

import "testing"

func TestAlwaysSample(t *testing.T) {
	s := AlwaysSample()
	for _, op := range []string{OpPathBuild, OpLinkHandshake, "anything"} {
		if !s.ShouldSample(op) {
			t.Errorf("AlwaysSample rejected %q", op)
		}
	}
}

func TestNeverSample(t *testing.T) {
	s := NeverSample()
	for _, op := range []string{OpPathBuild, OpFlowEstablish} {
		if s.ShouldSample(op) {
			t.Errorf("NeverSample accepted %q", op)
		}
	}
}

func TestOpSample(t *testing.T) {
	s := OpSample(OpPathBuild, OpIntrosetLookup)

	if !s.ShouldSample(OpPathBuild) {
		t.Error("OpSample rejected a listed op")
	}
	if !s.ShouldSample(OpIntrosetLookup) {
		t.Error("OpSample rejected a listed op")
	}
	if s.ShouldSample(OpFlowEstablish) {
		t.Error("OpSample accepted an unlisted op")
	}
	if s.ShouldSample(OpLinkHandshake) {
		t.Error("OpSample accepted an unlisted op")
	}
}

func TestRateLimitSample(t *testing.T) {
	s := RateLimitSample(5)

	admitted := 0
	for i := 0; i < 100; i++ {
		if s.ShouldSample(OpPathBuild) {
			admitted++
		}
	}
	// The bucket starts full: the burst is admitted, the flood is not.
	if admitted < 1 || admitted > 10 {
		t.Errorf("admitted %d of 100 spans with a 5/s limit, want roughly the burst", admitted)
	}
}

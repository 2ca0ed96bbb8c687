package trace

import (
	"time"

	"golang.org/x/time/rate"
)

// samplerFunc adapts a plain predicate to the Sampler interface.
type samplerFunc func(name string) bool

func (f samplerFunc) ShouldSample(name string) bool { return f(name) }

// AlwaysSample returns a sampler that samples every span.
func AlwaysSample() Sampler {
	return samplerFunc(func(string) bool { return true })
}

// NeverSample returns a sampler that samples nothing.
func NeverSample() Sampler {
	return samplerFunc(func(string) bool { return false })
}

// OpSample returns a sampler that samples only the named operations,
// e.g. OpSample(OpPathBuild, OpIntrosetLookup) to trace path builds and
// lookups while leaving per-flow spans untraced.
func OpSample(ops ...string) Sampler {
	wanted := make(map[string]bool, len(ops))
	for _, op := range ops {
		wanted[op] = true
	}
	return samplerFunc(func(name string) bool { return wanted[name] })
}

// RateLimitSample returns a sampler that admits at most maxPerSecond
// spans per second (burst of the same size), so a busy relay's transit
// load cannot flood the exporter.
func RateLimitSample(maxPerSecond int) Sampler {
	limiter := rate.NewLimiter(rate.Limit(maxPerSecond), maxPerSecond)
	return samplerFunc(func(string) bool {
		return limiter.AllowN(time.Now(), 1)
	})
}

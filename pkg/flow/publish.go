package flow

import (
	"time"
)

// PathSpread is the number of outbound paths an endpoint maintains for
// publishing and lookups; PublishInterval is half the spread window.
const PathSpread = 2

// PublishInterval is the default interval between introset republication
// attempts.
const PublishInterval = 5 * time.Minute / PathSpread

// RetryCooldown is the initial backoff after a failed publish attempt.
const RetryCooldown = 1 * time.Second

// MaxRetryCooldown caps the exponential backoff applied to repeated
// publish failures.
const MaxRetryCooldown = 1 * time.Minute

// Publisher tracks one endpoint's introset publication schedule: the
// periodic interval, and exponential cooldown on failure up to a cap.
type Publisher struct {
	lastPublished time.Time
	lastAttempt   time.Time
	backoff       time.Duration
	seq           uint64
}

// NewPublisher returns a Publisher with no publish history.
func NewPublisher() *Publisher {
	return &Publisher{backoff: RetryCooldown}
}

// Due reports whether a (re)publish should be attempted now. It is never
// due while the current cooldown since the last attempt is running;
// otherwise it is due if nothing has been published yet, if
// PublishInterval has passed since the last publish, or if the introset's
// earliest introduction is approaching expiry.
func (p *Publisher) Due(current *IntroSet, now time.Time) bool {
	if !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.backoff {
		return false
	}
	if p.lastPublished.IsZero() {
		return true
	}
	if now.Sub(p.lastPublished) >= PublishInterval {
		return true
	}
	return current != nil && current.ShouldRepublish(now, PublishInterval)
}

// NextSeq returns the next sequence number to stamp on a freshly built
// introset.
func (p *Publisher) NextSeq() uint64 {
	p.seq++
	return p.seq
}

// RecordSuccess resets the backoff and records the publish time, called
// once the target DHT node acknowledges the publish; a publish without an
// acknowledgement counts as failed.
func (p *Publisher) RecordSuccess(now time.Time) {
	p.lastPublished = now
	p.lastAttempt = now
	p.backoff = RetryCooldown
}

// RecordFailure records a failed attempt and doubles the backoff up to
// MaxRetryCooldown.
func (p *Publisher) RecordFailure(now time.Time) {
	p.lastAttempt = now
	p.backoff *= 2
	if p.backoff > MaxRetryCooldown {
		p.backoff = MaxRetryCooldown
	}
}

package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// BenchmarkLinkHandshake measures the three-message IWP handshake
// (Intro/IntroAck/SessionStart) end to end, including ephemeral key
// generation and session-key derivation on both sides.
func (s *Suite) BenchmarkLinkHandshake(ctx context.Context) error {
	const iterations = 50

	s.log.Info("Benchmarking link handshake", "iterations", iterations)

	provider := crypto.New()
	tracker := NewLatencyTracker(iterations)
	start := time.Now()

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hsStart := time.Now()
		initiator, responder, err := establishedSessionPair(provider)
		if err != nil {
			s.addResult(Result{Name: "Link Handshake", Error: err})
			return err
		}
		tracker.Record(time.Since(hsStart))

		if !bytes.Equal(initiator.SessionKey, responder.SessionKey) {
			err := fmt.Errorf("benchmark: handshake %d: session keys diverge", i)
			s.addResult(Result{Name: "Link Handshake", Error: err})
			return err
		}
	}

	elapsed := time.Since(start)

	s.addResult(Result{
		Name:             "Link Handshake",
		Duration:         elapsed,
		TotalOperations:  iterations,
		OperationsPerSec: float64(iterations) / elapsed.Seconds(),
		P50Latency:       tracker.Percentile(0.50),
		P95Latency:       tracker.Percentile(0.95),
		P99Latency:       tracker.Percentile(0.99),
		MaxLatency:       tracker.Max(),
		Success:          true,
	})
	return nil
}

// BenchmarkFragmentReassembly measures reliable message transport through
// an established session pair: fragmentation, frame encryption, receiver
// reassembly with hash verification, and in-order delivery. Each message
// is large enough to need the full XMIT + FRAG split.
func (s *Suite) BenchmarkFragmentReassembly(ctx context.Context) error {
	const iterations = 200
	const messageSize = 7 * 1024 // 6 FRAG fragments plus a full-size last fragment in the XMIT

	s.log.Info("Benchmarking fragment reassembly", "iterations", iterations, "message_bytes", messageSize)

	provider := crypto.New()
	sender, receiver, err := establishedSessionPair(provider)
	if err != nil {
		s.addResult(Result{Name: "Fragment Reassembly", Error: err})
		return err
	}

	body := make([]byte, messageSize)
	for i := range body {
		body[i] = byte(i * 7)
	}

	tracker := NewLatencyTracker(iterations)
	start := time.Now()
	deliveredTotal := 0

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		opStart := now

		_, frames, err := sender.EnqueueMessage(body, now)
		if err != nil {
			s.addResult(Result{Name: "Fragment Reassembly", Error: err})
			return err
		}

		for _, f := range frames {
			delivered, toSend, err := receiver.HandleFrame(f, now)
			if err != nil {
				s.addResult(Result{Name: "Fragment Reassembly", Error: err})
				return err
			}
			for _, msg := range delivered {
				if !bytes.Equal(msg, body) {
					err := fmt.Errorf("benchmark: reassembly %d: message corrupted", i)
					s.addResult(Result{Name: "Fragment Reassembly", Error: err})
					return err
				}
				deliveredTotal++
			}
			// Feed ACKS back so the sender retires its outbound state.
			for _, ack := range toSend {
				if _, _, err := sender.HandleFrame(ack, now); err != nil {
					s.addResult(Result{Name: "Fragment Reassembly", Error: err})
					return err
				}
			}
		}
		tracker.Record(time.Since(opStart))
	}

	elapsed := time.Since(start)

	if deliveredTotal != iterations {
		err := fmt.Errorf("benchmark: reassembly: delivered %d of %d messages", deliveredTotal, iterations)
		s.addResult(Result{Name: "Fragment Reassembly", Error: err})
		return err
	}

	s.addResult(Result{
		Name:             "Fragment Reassembly",
		Duration:         elapsed,
		TotalOperations:  iterations,
		OperationsPerSec: float64(iterations) / elapsed.Seconds(),
		P50Latency:       tracker.Percentile(0.50),
		P95Latency:       tracker.Percentile(0.95),
		P99Latency:       tracker.Percentile(0.99),
		MaxLatency:       tracker.Max(),
		Success:          true,
		AdditionalMetrics: map[string]interface{}{
			"message_bytes": messageSize,
			"bytes_per_sec": float64(iterations*messageSize) / elapsed.Seconds(),
		},
	})
	return nil
}

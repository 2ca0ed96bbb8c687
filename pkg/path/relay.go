package path

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/cloudflare/circl/kem/kyber/kyber768"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// HopIdentity is the long-term key material a relay uses to open sealed
// LR_CommitMessage records addressed to it and, at the terminus, to sign
// the LR_StatusMessage it returns.
type HopIdentity struct {
	EncryptionSecret []byte
	KEMSecret        *kyber768.PrivateKey
	SigningSecret    ed25519.PrivateKey
}

// Outcome is what a relay must do next after processing one record of an
// incoming LR_CommitMessage.
type Outcome struct {
	// Entry is the transit entry this hop installed.
	Entry *Entry
	// Terminal is true if this hop is the path's terminus: the caller
	// should return Status upstream instead of forwarding.
	Terminal bool
	// Status is the signed LR_StatusMessage to return when Terminal.
	Status *StatusMessage
	// Forward is the stripped CommitMessage to send to NextRouter/NextPath
	// when Terminal is false.
	Forward    *CommitMessage
	NextRouter rc.RouterID
	NextPath   ID
}

// HandleCommit processes the next unopened record of an incoming
// LR_CommitMessage arriving from upstreamRouter tagged ingressPath: open
// the record, install a transit entry, and either forward the stripped
// remainder or (at the terminus) report that a LR_StatusMessage is due.
func HandleCommit(provider crypto.Provider, identity HopIdentity, table *Table, upstreamRouter rc.RouterID, ingressPath ID, commit *CommitMessage, now time.Time) (*Outcome, error) {
	if len(commit.Records) == 0 {
		return nil, fmt.Errorf("path: handle commit: no records remain")
	}

	rec, combined, err := openRecord(provider, identity.EncryptionSecret, identity.KEMSecret, commit.Records[0])
	if err != nil {
		return nil, fmt.Errorf("path: handle commit: %w", err)
	}
	forward, backward := deriveHopKeys(provider, combined)

	entry := &Entry{
		UpstreamRouter: upstreamRouter,
		IngressPath:    ingressPath,
		ForwardKey:     forward,
		BackwardKey:    backward,
		Terminal:       rec.Terminal,
		Introduction:   rec.Terminal && rec.Introduction,
		ExpiresAt:      now.Add(rec.Lifetime),
	}
	if !rec.Terminal {
		entry.DownstreamRouter = rec.NextRouter
		entry.EgressPath = rec.NextPath
	}
	if err := table.Insert(entry); err != nil {
		return nil, fmt.Errorf("path: handle commit: %w", err)
	}

	outcome := &Outcome{Entry: entry, Terminal: rec.Terminal}
	if rec.Terminal {
		if len(identity.SigningSecret) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("path: handle commit: relay has no signing key for the status message")
		}
		status := &StatusMessage{Path: ingressPath, Status: StatusOK}
		status.Sign(provider, identity.SigningSecret, ingressPath)
		outcome.Status = status
		return outcome, nil
	}

	outcome.NextRouter = rec.NextRouter
	outcome.NextPath = rec.NextPath
	outcome.Forward = &CommitMessage{
		PathLifetime: commit.PathLifetime,
		Records:      commit.Records[1:],
	}
	return outcome, nil
}

package flow

import "crypto/subtle"

// AuthPolicy gates flow establishment on an optional bearer token. A nil
// AuthPolicy on an Endpoint means authentication is not configured and
// every open frame is accepted.
type AuthPolicy interface {
	// Accept reports whether token is acceptable for a new inbound flow.
	Accept(token []byte) bool
}

// BearerTokenPolicy accepts a fixed set of pre-shared tokens.
type BearerTokenPolicy struct {
	tokens map[string]bool
}

// NewBearerTokenPolicy returns a policy accepting exactly the given tokens.
func NewBearerTokenPolicy(tokens ...[]byte) *BearerTokenPolicy {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[string(t)] = true
	}
	return &BearerTokenPolicy{tokens: set}
}

// Accept reports whether token matches one of the configured tokens,
// comparing in constant time against each candidate.
func (p *BearerTokenPolicy) Accept(token []byte) bool {
	for candidate := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), token) == 1 {
			return true
		}
	}
	return false
}

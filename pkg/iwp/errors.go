package iwp

import llarperrors "github.com/opd-ai/go-llarp/pkg/errors"

func authenticatorMismatchErr() error {
	return llarperrors.New(llarperrors.KindAuthenticatorMismatch, "iwp: frame authenticator mismatch")
}

func handshakeFailureErr(reason string) error {
	return llarperrors.New(llarperrors.KindHandshakeFailure, "iwp: handshake failed: "+reason)
}

func sessionTimeoutErr() error {
	return llarperrors.New(llarperrors.KindSessionTimeout, "iwp: session timed out")
}

func fragmentHashMismatchErr() error {
	return llarperrors.New(llarperrors.KindFragmentHashMismatch, "iwp: reassembled message hash mismatch")
}

func congestedErr(what string) error {
	return llarperrors.New(llarperrors.KindCongested, "iwp: congested: "+what)
}

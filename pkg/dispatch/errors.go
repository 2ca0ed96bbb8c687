package dispatch

import (
	"fmt"

	llarperrors "github.com/opd-ai/go-llarp/pkg/errors"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

func unknownPeerErr(id rc.RouterID) error {
	return llarperrors.New(llarperrors.KindInternal, fmt.Sprintf("dispatch: no session for router %s", id))
}

func sessionNotEstablishedErr(id rc.RouterID) error {
	return llarperrors.New(llarperrors.KindInternal, fmt.Sprintf("dispatch: session to %s is not established", id)).
		WithContext("router", id.String())
}

func noTransitEntryErr() error {
	return llarperrors.New(llarperrors.KindInternal, "dispatch: no transit entry for routing message")
}

func congestedErr(reason string) error {
	return llarperrors.New(llarperrors.KindCongested, "dispatch: "+reason)
}

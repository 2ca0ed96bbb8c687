package flow

import llarperrors "github.com/opd-ai/go-llarp/pkg/errors"

func introSetStaleErr(addr ServiceAddress) error {
	return llarperrors.New(llarperrors.KindIntroSetStale, "flow: introset stale for "+addr.String())
}

func introSetLookupFailedErr(addr ServiceAddress) error {
	return llarperrors.New(llarperrors.KindIntroSetLookupFailed, "flow: introset lookup failed for "+addr.String())
}

func flowRejectedByAuthErr(reason string) error {
	return llarperrors.New(llarperrors.KindFlowRejectedByAuth, "flow: rejected by auth policy: "+reason)
}

func replayDetectedErr(tag ConvoTag, seq uint64) error {
	return llarperrors.New(llarperrors.KindReplayDetected, "flow: replay detected").
		WithContext("convo_tag", tag.String()).
		WithContext("seq", seq)
}

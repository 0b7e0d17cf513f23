package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dense-identity/callsig/internal/voip"
)

// logRenderer shows incoming-call alerts as log lines.
type logRenderer struct{}

func (logRenderer) ShowIncomingCall(call voip.IncomingCall) error {
	log.Info().
		Str("peer", call.Peer).
		Uint64("call_id", uint64(call.CallID)).
		Bool("video", call.Video).
		Msg("incoming call")
	return nil
}

func (logRenderer) CancelIncomingCall(peer string, reason voip.CancelReason) error {
	log.Info().Str("peer", peer).Str("reason", string(reason)).Msg("incoming call alert removed")
	return nil
}

func (logRenderer) CancelFullScreen(string) error { return nil }

func logEvents(ctx context.Context, events <-chan voip.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch e := e.(type) {
			case voip.StateChangedEvent:
				log.Debug().
					Str("from", e.Previous.Phase.String()).
					Str("to", e.Current.Phase.String()).
					Uint64("call_id", uint64(e.Current.CallID)).
					Msg("call state")
			case voip.PeerRingingEvent:
				log.Info().Str("peer", e.Peer).Msg("peer is ringing")
			case voip.MissedCallEvent:
				log.Info().Str("peer", e.Peer).Str("reason", e.Reason.String()).Msg("missed call")
			case voip.CallCompletedEvent:
				log.Info().Str("peer", e.Peer).Dur("duration", e.Duration).Msg("call completed")
			case voip.CallAbortedEvent:
				log.Info().Str("peer", e.Peer).Str("reason", e.Reason.String()).Msg("call aborted")
			case voip.CallRejectedEvent:
				log.Info().Str("peer", e.Peer).Str("reason", e.Reason.String()).Msg("call rejected")
			}
		}
	}
}

package history

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dense-identity/callsig/internal/voip"
)

// Recorder writes call outcomes published on a voip.Bus into a Store.
type Recorder struct {
	store *Store
	log   zerolog.Logger
}

func NewRecorder(store *Store, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: logger.With().Str("component", "history").Logger()}
}

// Subscribe returns the outcome events a Recorder consumes.
func Subscribe(bus *voip.Bus) (<-chan voip.Event, func()) {
	return bus.Subscribe(
		voip.EventMissedCall,
		voip.EventCallCompleted,
		voip.EventCallAborted,
		voip.EventCallRejected,
	)
}

// Run records events until ctx is done or events is closed.
func (r *Recorder) Run(ctx context.Context, events <-chan voip.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			rec, ok := recordFor(e)
			if !ok {
				continue
			}
			if _, err := r.store.Add(ctx, rec); err != nil {
				r.log.Error().Err(err).Str("peer", rec.Peer).Msg("failed to record call")
				continue
			}
			r.log.Debug().
				Str("peer", rec.Peer).
				Uint64("call_id", uint64(rec.CallID)).
				Str("outcome", string(rec.Outcome)).
				Msg("recorded call")
		}
	}
}

func recordFor(e voip.Event) (Record, bool) {
	switch ev := e.(type) {
	case voip.MissedCallEvent:
		return Record{Peer: ev.Peer, CallID: ev.CallID, Outcome: OutcomeMissed, Incoming: true, Reason: ev.Reason, At: ev.At}, true
	case voip.CallCompletedEvent:
		return Record{Peer: ev.Peer, CallID: ev.CallID, Outcome: OutcomeCompleted, Incoming: ev.Incoming, Duration: ev.Duration, At: ev.At}, true
	case voip.CallAbortedEvent:
		return Record{Peer: ev.Peer, CallID: ev.CallID, Outcome: OutcomeAborted, Reason: ev.Reason, At: ev.At}, true
	case voip.CallRejectedEvent:
		return Record{Peer: ev.Peer, CallID: ev.CallID, Outcome: OutcomeRejected, Incoming: true, Reason: ev.Reason, At: ev.At}, true
	}
	return Record{}, false
}

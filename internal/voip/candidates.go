package voip

import (
	"github.com/pion/webrtc/v4"

	"github.com/dense-identity/callsig/internal/signaling"
)

// cachedBatch is one candidates message received before a session could use it.
type cachedBatch struct {
	Peer       string
	CallID     signaling.CallID
	Candidates []webrtc.ICECandidateInit
}

// candidateCache keeps early ICE candidates. Batches are kept in one list in
// arrival order.
type candidateCache struct {
	batches []cachedBatch
}

func (c *candidateCache) add(peer string, callID signaling.CallID, candidates []webrtc.ICECandidateInit) {
	c.batches = append(c.batches, cachedBatch{Peer: peer, CallID: callID, Candidates: candidates})
}

// flush returns the batches peer sent for callID, oldest first, and empties
// the cache. Everything else is dropped.
func (c *candidateCache) flush(peer string, callID signaling.CallID) []cachedBatch {
	var out []cachedBatch
	for _, b := range c.batches {
		if b.Peer == peer && b.CallID == callID {
			out = append(out, b)
		}
	}
	c.batches = nil
	return out
}

func (c *candidateCache) discard() {
	c.batches = nil
}

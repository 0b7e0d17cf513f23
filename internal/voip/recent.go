package voip

import (
	"github.com/dense-identity/callsig/internal/signaling"
)

// recentCallIDs remembers the last few call ids that ended in this process.
// Oldest ids are evicted first once the capacity is reached.
type recentCallIDs struct {
	capacity int
	order    []signaling.CallID
	set      map[signaling.CallID]struct{}
}

func newRecentCallIDs(capacity int) *recentCallIDs {
	if capacity <= 0 {
		capacity = 1
	}
	return &recentCallIDs{
		capacity: capacity,
		order:    make([]signaling.CallID, 0, capacity),
		set:      make(map[signaling.CallID]struct{}, capacity),
	}
}

// add records id. NoCallID is never recorded.
func (r *recentCallIDs) add(id signaling.CallID) {
	if id == signaling.NoCallID {
		return
	}
	if _, ok := r.set[id]; ok {
		return
	}
	if len(r.order) == r.capacity {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
	r.order = append(r.order, id)
	r.set[id] = struct{}{}
}

func (r *recentCallIDs) contains(id signaling.CallID) bool {
	_, ok := r.set[id]
	return ok
}

package broadcast

import (
	"context"
	"time"
)

// Repository stores broadcast calls. Calls are never deleted.
//
// Mutate is the only write path after Insert. Implementations serialize
// Mutate per call id and persist the returned Delta conditionally, so two
// donors answering the same call can never overwrite each other.
type Repository interface {
	Insert(ctx context.Context, c BroadcastCall) error
	Get(ctx context.Context, callID string) (BroadcastCall, error)

	// ListActiveForParticipant returns ringing or connected calls where userID
	// is the requester or holds a slot, newest first.
	ListActiveForParticipant(ctx context.Context, userID string) ([]BroadcastCall, error)
	// ListForParticipant is ListActiveForParticipant over every status,
	// returning at most limit calls.
	ListForParticipant(ctx context.Context, userID string, limit int) ([]BroadcastCall, error)
	// ListStartedBetween returns calls with from <= callStarted < to.
	ListStartedBetween(ctx context.Context, from, to time.Time) ([]BroadcastCall, error)
	// ListDue returns ids of active calls whose ring lease elapsed at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)

	Mutate(ctx context.Context, callID string, fn Transition) (BroadcastCall, Delta, error)
}

// due reports whether the sweeper has work on c at now.
func due(c *BroadcastCall, now time.Time) bool {
	if !c.Status.Active() || c.RingDeadline.IsZero() || now.Before(c.RingDeadline) {
		return false
	}
	if c.Status == StatusRinging {
		return true
	}
	for _, s := range c.Slots {
		if s.Status == SlotRinging {
			return true
		}
	}
	return false
}

func (c *BroadcastCall) hasParticipant(userID string) bool {
	return c.IsRequester(userID) || c.slotIndex(userID) >= 0
}

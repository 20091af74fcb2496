package reporting

import (
	"context"
	"sync"
	"time"

	"blood-broadcast/internal/broadcast"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []broadcast.BroadcastCall
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListStartedBetween(ctx context.Context, from, to time.Time) ([]broadcast.BroadcastCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcast.BroadcastCall, 0)
	for _, c := range r.Calls {
		started := c.Timeline.CallStarted
		if started.Before(from) || !started.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

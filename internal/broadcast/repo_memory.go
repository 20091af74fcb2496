package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps calls in process. Each call has its own mutex so Mutate
// on one call never blocks another. Useful for tests and local runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	calls map[string]*memoryEntry
}

type memoryEntry struct {
	mu   sync.Mutex
	call BroadcastCall
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]*memoryEntry{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, c BroadcastCall) error {
	if c.CallID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.CallID]; ok {
		return ErrDuplicateCall
	}
	r.calls[c.CallID] = &memoryEntry{call: c.clone()}
	return nil
}

func (r *MemoryRepo) entry(callID string) (*memoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[callID]
	return e, ok
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (BroadcastCall, error) {
	e, ok := r.entry(callID)
	if !ok {
		return BroadcastCall{}, ErrCallNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call.clone(), nil
}

// snapshot copies every call; each entry is locked only while copied.
func (r *MemoryRepo) snapshot() []BroadcastCall {
	r.mu.RLock()
	entries := make([]*memoryEntry, 0, len(r.calls))
	for _, e := range r.calls {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]BroadcastCall, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.call.clone())
		e.mu.Unlock()
	}
	return out
}

func newestFirst(calls []BroadcastCall) {
	sort.Slice(calls, func(i, j int) bool {
		a, b := calls[i].Timeline.CallStarted, calls[j].Timeline.CallStarted
		if !a.Equal(b) {
			return a.After(b)
		}
		return calls[i].CallID > calls[j].CallID
	})
}

func (r *MemoryRepo) ListActiveForParticipant(ctx context.Context, userID string) ([]BroadcastCall, error) {
	out := make([]BroadcastCall, 0)
	for _, c := range r.snapshot() {
		if c.Status.Active() && c.hasParticipant(userID) {
			out = append(out, c)
		}
	}
	newestFirst(out)
	return out, nil
}

func (r *MemoryRepo) ListForParticipant(ctx context.Context, userID string, limit int) ([]BroadcastCall, error) {
	out := make([]BroadcastCall, 0)
	for _, c := range r.snapshot() {
		if c.hasParticipant(userID) {
			out = append(out, c)
		}
	}
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListStartedBetween(ctx context.Context, from, to time.Time) ([]BroadcastCall, error) {
	out := make([]BroadcastCall, 0)
	for _, c := range r.snapshot() {
		started := c.Timeline.CallStarted
		if started.Before(from) || !started.Before(to) {
			continue
		}
		out = append(out, c)
	}
	newestFirst(out)
	return out, nil
}

func (r *MemoryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	calls := r.snapshot()
	sort.Slice(calls, func(i, j int) bool { return calls[i].RingDeadline.Before(calls[j].RingDeadline) })
	out := make([]string, 0)
	for i := range calls {
		if limit > 0 && len(out) == limit {
			break
		}
		if due(&calls[i], now) {
			out = append(out, calls[i].CallID)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Mutate(ctx context.Context, callID string, fn Transition) (BroadcastCall, Delta, error) {
	e, ok := r.entry(callID)
	if !ok {
		return BroadcastCall{}, Delta{}, ErrCallNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return BroadcastCall{}, Delta{}, err
	}

	work := e.call.clone()
	d, err := fn(&work)
	if err != nil {
		return e.call.clone(), d, err
	}
	e.call = work
	return work.clone(), d, nil
}

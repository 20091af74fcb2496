package donors

import (
	"context"
	"sync"

	"blood-broadcast/internal/geo"
)

// MemoryDirectory is an in-memory profile store with a haversine locator.
// Useful for tests and local development.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryDirectory(profiles ...Profile) *MemoryDirectory {
	d := &MemoryDirectory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

func (d *MemoryDirectory) Upsert(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

func (d *MemoryDirectory) SetAvailable(id string, available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.profiles[id]; ok {
		p.Available = available
		d.profiles[id] = p
	}
}

func (d *MemoryDirectory) Profile(ctx context.Context, userID string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) Locate(ctx context.Context, q Query) ([]Candidate, error) {
	q, run, err := normalize(q)
	if err != nil {
		return nil, err
	}
	if !run {
		return []Candidate{}, nil
	}

	box := geo.BoundingBox(q.Origin, q.RadiusKm)

	d.mu.RLock()
	in := make([]Candidate, 0, len(d.profiles))
	for _, p := range d.profiles {
		if p.Location.IsZero() || !box.Contains(p.Location) {
			continue
		}
		in = append(in, Candidate{Profile: p, DistanceKm: geo.HaversineKm(q.Origin, p.Location)})
	}
	d.mu.RUnlock()

	return rank(q, in), nil
}

package broadcast

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"blood-broadcast/internal/audit"
	"blood-broadcast/internal/donors"
	"blood-broadcast/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = geo.Point{Lng: 77.2090, Lat: 28.6139}

func northOf(km float64) geo.Point {
	return geo.Point{Lng: origin.Lng, Lat: origin.Lat + km/111.195}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepo
	dir    *donors.MemoryDirectory
	clock  *fakeClock
	events *audit.MemoryRepo
}

func requesterProfile() donors.Profile {
	return donors.Profile{
		ID: "req", FullName: "Asha Rao", Phone: "+91-900-000-0001", Email: "asha@example.org",
		BloodType: donors.BloodTypeAPos, Location: origin, Available: true,
	}
}

func donorProfile(id string, bt donors.BloodType, km float64) donors.Profile {
	return donors.Profile{
		ID: id, FullName: "Donor " + id, Phone: "+91-phone-" + id, Email: id + "@example.org",
		BloodType: bt, Location: northOf(km), Available: true,
	}
}

func newFixture(t *testing.T, opts Options, profiles ...donors.Profile) *fixture {
	t.Helper()
	dir := donors.NewMemoryDirectory(append([]donors.Profile{requesterProfile()}, profiles...)...)
	repo := NewMemoryRepo()
	events := audit.NewMemoryRepo()
	if opts.Events == nil {
		opts.Events = audit.NewService(events)
	}
	svc := NewService(repo, dir, dir, opts)
	clock := newFakeClock()
	svc.clock = clock.Now
	seq := 0
	var mu sync.Mutex
	svc.newID = func(now time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("CALL%d%05d", now.UnixMilli(), seq)
	}
	return &fixture{svc: svc, repo: repo, dir: dir, clock: clock, events: events}
}

// threeDonors is the O- scenario: A, B and C within range, X too far, Y wrong type.
func threeDonors() []donors.Profile {
	return []donors.Profile{
		donorProfile("A", donors.BloodTypeONeg, 1),
		donorProfile("B", donors.BloodTypeONeg, 2),
		donorProfile("C", donors.BloodTypeONeg, 3),
		donorProfile("X", donors.BloodTypeONeg, 45),
		donorProfile("Y", donors.BloodTypeBPos, 1),
	}
}

func (f *fixture) create(t *testing.T, req CreateRequest) CallView {
	t.Helper()
	v, err := f.svc.CreateCall(context.Background(), "req", req)
	require.NoError(t, err)
	return v
}

func (f *fixture) get(t *testing.T, callID string) BroadcastCall {
	t.Helper()
	c, err := f.repo.Get(context.Background(), callID)
	require.NoError(t, err)
	return c
}

// assertInvariants checks the record-level rules every stored call must satisfy.
func assertInvariants(t *testing.T, c BroadcastCall) {
	t.Helper()

	seen := map[string]bool{}
	acceptSlots := map[string]time.Time{}
	for _, s := range c.Slots {
		assert.False(t, seen[s.DonorID], "duplicate donor %s", s.DonorID)
		seen[s.DonorID] = true
		if s.Status.Terminal() {
			assert.NotNil(t, s.ResponseTime, "terminal slot %s has no response time", s.DonorID)
		} else {
			assert.Nil(t, s.ResponseTime)
		}
		if s.Status == SlotAccept {
			acceptSlots[s.DonorID] = *s.ResponseTime
		}
	}

	assert.LessOrEqual(t, len(c.AcceptedDonors), len(acceptSlots))
	for _, a := range c.AcceptedDonors {
		_, ok := acceptSlots[a.DonorID]
		assert.True(t, ok, "accepted donor %s has no accept slot", a.DonorID)
	}

	hasAccepted := len(c.AcceptedDonors) > 0
	assert.Equal(t, hasAccepted, c.Status == StatusConnected || c.Status == StatusEnded,
		"accepted=%v status=%s", hasAccepted, c.Status)

	if !hasAccepted {
		assert.Nil(t, c.Timeline.FirstAcceptedAt)
		return
	}
	require.NotNil(t, c.Timeline.FirstAcceptedAt)
	var earliest time.Time
	for _, at := range acceptSlots {
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}
	assert.True(t, earliest.Equal(*c.Timeline.FirstAcceptedAt), "first accepted %s, earliest accept %s", c.Timeline.FirstAcceptedAt, earliest)
}

func acceptedIDs(c BroadcastCall) []string {
	out := make([]string, 0, len(c.AcceptedDonors))
	for _, a := range c.AcceptedDonors {
		out = append(out, a.DonorID)
	}
	return out
}

func slotStatus(c BroadcastCall, donorID string) SlotStatus {
	for _, s := range c.Slots {
		if s.DonorID == donorID {
			return s.Status
		}
	}
	return ""
}

package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"blood-broadcast/internal/audit"
	"blood-broadcast/internal/donors"
	"blood-broadcast/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCall_SeedsOneRingingSlotPerNearbyDonor(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)

	v := f.create(t, CreateRequest{BloodType: "o-", Units: 2, Hospital: " City Hospital "})

	assert.Regexp(t, `^CALL\d+`, v.CallID)
	assert.Equal(t, KindCall, v.Kind)
	assert.Equal(t, StatusRinging, v.Status)
	assert.Equal(t, 3, v.Counts.Notified)
	assert.Equal(t, UrgencyCritical, v.BloodRequest.Urgency)
	assert.Equal(t, "City Hospital", v.BloodRequest.Hospital)

	c := f.get(t, v.CallID)
	require.Len(t, c.Slots, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{c.Slots[0].DonorID, c.Slots[1].DonorID, c.Slots[2].DonorID})
	for _, s := range c.Slots {
		assert.Equal(t, SlotRinging, s.Status)
		assert.Nil(t, s.ResponseTime)
	}
	assert.Equal(t, f.clock.Now(), c.Timeline.CallStarted)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), c.RingDeadline)
	assert.Equal(t, "+91-900-000-0001", c.Requester.Phone)
	assertInvariants(t, c)

	evs := f.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeCallCreated, evs[0].Type)
}

func TestCreateCall_AlertKindWidensSearch(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)

	v := f.create(t, CreateRequest{Kind: KindAlert, BloodType: donors.BloodTypeONeg})
	assert.Equal(t, 4, v.Counts.Notified, "alert radius reaches the donor 45 km away")
}

func TestCreateCall_WildcardBloodType(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	v := f.create(t, CreateRequest{BloodType: "ANY"})
	assert.Equal(t, 4, v.Counts.Notified)
}

func TestCreateCall_RejectsBadInput(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for name, req := range map[string]CreateRequest{
		"blood type": {BloodType: "Q+"},
		"units":      {BloodType: "A+", Units: -1},
		"urgency":    {BloodType: "A+", Urgency: "someday"},
		"kind":       {BloodType: "A+", Kind: "sms"},
	} {
		_, err := f.svc.CreateCall(ctx, "req", req)
		assert.ErrorIs(t, err, ErrInvalidArgument, name)
	}

	_, err := f.svc.CreateCall(ctx, "ghost", CreateRequest{BloodType: "A+"})
	assert.ErrorIs(t, err, ErrRequesterNotFound)
}

// Scenario 1: acceptance is additive and rejection leaves the call alone.
func TestRespond_MultipleAcceptancesStayConnected(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg, Units: 2})
	startedAt := f.clock.Now()

	f.clock.Advance(2 * time.Second)
	av, err := f.svc.Respond(ctx, v.CallID, "A", DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, av.Status)
	assert.Equal(t, "+91-900-000-0001", av.Requester.Phone, "accepting donor sees requester contact")

	f.clock.Advance(10 * time.Second)
	_, err = f.svc.Respond(ctx, v.CallID, "B", DecisionAccept)
	require.NoError(t, err)

	c := f.get(t, v.CallID)
	assert.Equal(t, StatusConnected, c.Status)
	assert.Equal(t, []string{"A", "B"}, acceptedIDs(c))
	assert.Equal(t, startedAt.Add(2*time.Second), *c.Timeline.FirstAcceptedAt)

	f.clock.Advance(time.Second)
	_, err = f.svc.Respond(ctx, v.CallID, "C", DecisionReject)
	require.NoError(t, err)

	c = f.get(t, v.CallID)
	assert.Equal(t, StatusConnected, c.Status)
	assert.Equal(t, []string{"A", "B"}, acceptedIDs(c))
	assert.Equal(t, SlotReject, slotStatus(c, "C"))
	assert.Equal(t, startedAt.Add(2*time.Second), *c.Timeline.FirstResponse)
	assertInvariants(t, c)

	a := c.AcceptedDonors[0]
	assert.Equal(t, "A@example.org", a.Email)
	assert.Equal(t, donors.BloodTypeONeg, a.BloodType)
}

func TestRespond_RejectOnlyKeepsRinging(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	_, err := f.svc.Respond(context.Background(), v.CallID, "A", DecisionReject)
	require.NoError(t, err)

	c := f.get(t, v.CallID)
	assert.Equal(t, StatusRinging, c.Status)
	assert.NotNil(t, c.Timeline.FirstResponse)
	assert.Nil(t, c.Timeline.FirstAcceptedAt)
	assertInvariants(t, c)
}

// Scenario 2: a terminal slot cannot be changed.
func TestRespond_SecondResponseIsRejected(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	_, err := f.svc.Respond(ctx, v.CallID, "A", DecisionAccept)
	require.NoError(t, err)
	before := f.get(t, v.CallID)

	f.clock.Advance(time.Second)
	_, err = f.svc.Respond(ctx, v.CallID, "A", DecisionReject)
	assert.ErrorIs(t, err, ErrAlreadyResponded)
	_, err = f.svc.Respond(ctx, v.CallID, "A", DecisionAccept)
	assert.ErrorIs(t, err, ErrAlreadyResponded)

	assert.Equal(t, before, f.get(t, v.CallID))
}

// Scenario 3: no coordinates means no donors, and the requester can close it.
func TestCreateCall_WithoutLocationNotifiesNobody(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	p := requesterProfile()
	p.Location = geo.Point{}
	f.dir.Upsert(p)

	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	assert.Equal(t, 0, v.Counts.Notified)
	assert.Equal(t, StatusRinging, v.Status)
	assert.Empty(t, f.get(t, v.CallID).Slots)

	ended, err := f.svc.EndCall(context.Background(), v.CallID, "req")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, ended.Status)
	require.NotNil(t, ended.Timeline.EndedAt)
	require.NotNil(t, ended.DurationSeconds)
	assert.Equal(t, int64(0), *ended.DurationSeconds)
}

// Scenario 4: only listed donors may respond.
func TestRespond_NonParticipant(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	before := f.get(t, v.CallID)

	_, err := f.svc.Respond(context.Background(), v.CallID, "D", DecisionAccept)
	assert.ErrorIs(t, err, ErrNotAParticipant)
	assert.Equal(t, before, f.get(t, v.CallID))
}

// Scenario 5: only the requester may end.
func TestEndCall_OnlyRequester(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	_, err := f.svc.EndCall(ctx, v.CallID, "B")
	assert.ErrorIs(t, err, ErrNotRequester)
	_, err = f.svc.CancelCall(ctx, v.CallID, "someone")
	assert.ErrorIs(t, err, ErrNotRequester)
	assert.Equal(t, StatusRinging, f.get(t, v.CallID).Status)
}

func TestEndCall_ConnectedEndsAndRetiresRings(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	_, err := f.svc.Respond(ctx, v.CallID, "A", DecisionAccept)
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)

	ended, err := f.svc.EndCall(ctx, v.CallID, "req")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	assert.Equal(t, int64(90), *ended.DurationSeconds)

	c := f.get(t, v.CallID)
	assert.Equal(t, SlotMissed, slotStatus(c, "B"))
	assert.Equal(t, SlotMissed, slotStatus(c, "C"))
	assertInvariants(t, c)

	_, err = f.svc.Respond(ctx, v.CallID, "B", DecisionAccept)
	assert.ErrorIs(t, err, ErrCallInactive)
	_, err = f.svc.EndCall(ctx, v.CallID, "req")
	assert.ErrorIs(t, err, ErrCallInactive)
}

func TestCancelCall(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()

	ringing := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	v, err := f.svc.CancelCall(ctx, ringing.CallID, "req")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, v.Status)
	assertInvariants(t, f.get(t, ringing.CallID))

	connected := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	_, err = f.svc.Respond(ctx, connected.CallID, "A", DecisionAccept)
	require.NoError(t, err)
	_, err = f.svc.CancelCall(ctx, connected.CallID, "req")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusConnected, f.get(t, connected.CallID).Status)
}

func TestRespond_AfterRingDeadline(t *testing.T) {
	f := newFixture(t, Options{RingTimeout: 20 * time.Second}, threeDonors()...)
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	f.clock.Advance(20 * time.Second)
	_, err := f.svc.Respond(context.Background(), v.CallID, "A", DecisionAccept)
	assert.ErrorIs(t, err, ErrRingExpired)
	assert.Equal(t, SlotRinging, slotStatus(f.get(t, v.CallID), "A"), "lazy check does not write")
}

func TestExpireDue_CancelsUnansweredCall(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	n, err := f.svc.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is due inside the lease")

	f.clock.Advance(31 * time.Second)
	n, err = f.svc.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c := f.get(t, v.CallID)
	assert.Equal(t, StatusCancelled, c.Status)
	require.NotNil(t, c.Timeline.EndedAt)
	for _, s := range c.Slots {
		assert.Equal(t, SlotMissed, s.Status)
		assert.Equal(t, f.clock.Now(), *s.ResponseTime)
	}
	assertInvariants(t, c)

	n, err = f.svc.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "sweep is idempotent")
}

func TestExpireDue_ConnectedCallKeepsAcceptances(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	_, err := f.svc.Respond(ctx, v.CallID, "B", DecisionAccept)
	require.NoError(t, err)
	f.clock.Advance(45 * time.Second)

	_, err = f.svc.ExpireDue(ctx, 10)
	require.NoError(t, err)

	c := f.get(t, v.CallID)
	assert.Equal(t, StatusConnected, c.Status)
	assert.Equal(t, SlotAccept, slotStatus(c, "B"))
	assert.Equal(t, SlotMissed, slotStatus(c, "A"))
	assert.Equal(t, SlotMissed, slotStatus(c, "C"))
	assert.Nil(t, c.Timeline.EndedAt)
	assertInvariants(t, c)

	kinds := map[audit.EventType]int{}
	for _, e := range f.events.Events() {
		kinds[e.Type]++
	}
	assert.Equal(t, 1, kinds[audit.EventTypeRingsExpired])
	assert.Equal(t, 1, kinds[audit.EventTypeDonorAccepted])
}

func TestListActive_ParticipantsOnlyNewestFirst(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()

	first := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	f.clock.Advance(time.Second)
	second := f.create(t, CreateRequest{BloodType: donors.BloodTypeBPos})
	f.clock.Advance(time.Second)
	closed := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	_, err := f.svc.CancelCall(ctx, closed.CallID, "req")
	require.NoError(t, err)

	mine, err := f.svc.ListActive(ctx, "req")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.CallID, mine[0].CallID)
	assert.Equal(t, first.CallID, mine[1].CallID)
	assert.Equal(t, ViewerRequester, mine[0].ViewerRole)

	forA, err := f.svc.ListActive(ctx, "A")
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, first.CallID, forA[0].CallID)
	assert.Equal(t, ViewerDonor, forA[0].ViewerRole)
	require.Len(t, forA[0].Slots, 1)
	assert.Equal(t, SlotRinging, forA[0].Slots[0].Status)

	none, err := f.svc.ListActive(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHistory_IncludesClosedCallsNewestFirst(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()

	first := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	f.clock.Advance(time.Second)
	second := f.create(t, CreateRequest{BloodType: donors.BloodTypeBPos})
	f.clock.Advance(time.Second)
	closed := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})
	_, err := f.svc.CancelCall(ctx, closed.CallID, "req")
	require.NoError(t, err)

	mine, err := f.svc.History(ctx, "req", 0)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, []string{closed.CallID, second.CallID, first.CallID},
		[]string{mine[0].CallID, mine[1].CallID, mine[2].CallID})
	assert.Equal(t, StatusCancelled, mine[0].Status)

	forA, err := f.svc.History(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, closed.CallID, forA[0].CallID)
	assert.Equal(t, ViewerDonor, forA[0].ViewerRole)
	require.Len(t, forA[0].Slots, 1)
	assert.Equal(t, SlotMissed, forA[0].Slots[0].Status)
	assert.Empty(t, forA[0].Requester.Phone)

	latest, err := f.svc.History(ctx, "req", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, closed.CallID, latest[0].CallID)

	none, err := f.svc.History(ctx, "stranger", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.History(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAcceptedDonors(t *testing.T) {
	f := newFixture(t, Options{}, threeDonors()...)
	ctx := context.Background()
	v := f.create(t, CreateRequest{BloodType: donors.BloodTypeONeg})

	_, err := f.svc.AcceptedDonors(ctx, v.CallID, "req")
	assert.ErrorIs(t, err, ErrNoAcceptedDonors)

	_, err = f.svc.Respond(ctx, v.CallID, "C", DecisionAccept)
	require.NoError(t, err)

	list, err := f.svc.AcceptedDonors(ctx, v.CallID, "req")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "+91-phone-C", list[0].Phone)

	_, err = f.svc.AcceptedDonors(ctx, v.CallID, "C")
	assert.ErrorIs(t, err, ErrNotRequester)

	_, err = f.svc.AcceptedDonors(ctx, "CALL-missing", "req")
	assert.ErrorIs(t, err, ErrCallNotFound)
}

type countingThrottle struct {
	allow    bool
	err      error
	released int
}

func (c *countingThrottle) Allow(ctx context.Context, requesterID string) (bool, error) {
	return c.allow, c.err
}

func (c *countingThrottle) Release(ctx context.Context, requesterID string) error {
	c.released++
	return nil
}

type brokenLocator struct{}

func (brokenLocator) Locate(ctx context.Context, q donors.Query) ([]donors.Candidate, error) {
	return nil, errors.New("index offline")
}

func TestCreateCall_Throttle(t *testing.T) {
	denied := &countingThrottle{allow: false}
	f := newFixture(t, Options{Throttle: denied}, threeDonors()...)
	_, err := f.svc.CreateCall(context.Background(), "req", CreateRequest{BloodType: "O-"})
	assert.ErrorIs(t, err, ErrThrottled)

	down := &countingThrottle{err: errors.New("redis down")}
	f = newFixture(t, Options{Throttle: down}, threeDonors()...)
	_, err = f.svc.CreateCall(context.Background(), "req", CreateRequest{BloodType: "O-"})
	assert.NoError(t, err, "an unavailable limiter fails open")
}

func TestCreateCall_ReleasesThrottleSlotOnFailure(t *testing.T) {
	th := &countingThrottle{allow: true}
	dir := donors.NewMemoryDirectory(requesterProfile())
	svc := NewService(NewMemoryRepo(), dir, brokenLocator{}, Options{Throttle: th})

	_, err := svc.CreateCall(context.Background(), "req", CreateRequest{BloodType: "O-"})
	require.Error(t, err)
	assert.Equal(t, 1, th.released)
}

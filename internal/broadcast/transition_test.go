package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringingCall(now time.Time, donorIDs ...string) BroadcastCall {
	c := BroadcastCall{
		CallID:       "CALL1",
		Kind:         KindCall,
		Requester:    Requester{ID: "req"},
		Status:       StatusRinging,
		Timeline:     Timeline{CallStarted: now},
		RingTimeout:  30 * time.Second,
		RingDeadline: now.Add(30 * time.Second),
	}
	for _, id := range donorIDs {
		c.Slots = append(c.Slots, Slot{DonorID: id, DonorName: "n-" + id, DonorPhone: "p-" + id, Status: SlotRinging})
	}
	return c
}

func TestStatus_Monotonic(t *testing.T) {
	all := []Status{StatusRinging, StatusConnected, StatusEnded, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusRinging, StatusConnected}: true,
		{StatusRinging, StatusCancelled}: true,
		{StatusConnected, StatusEnded}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], from.canTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestApplyResponse_DeltaDescribesWrites(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := ringingCall(now, "a", "b")

	d, err := c.ApplyResponse("a", DecisionAccept, now.Add(time.Second), AcceptedDonor{Email: "a@x"})
	require.NoError(t, err)

	require.Len(t, d.Slots, 1)
	assert.Equal(t, SlotChange{DonorID: "a", To: SlotAccept, At: now.Add(time.Second)}, d.Slots[0])
	require.Len(t, d.Accepted, 1)
	assert.Equal(t, "n-a", d.Accepted[0].Name, "blank contact fields fall back to the slot")
	assert.Equal(t, "p-a", d.Accepted[0].Phone)
	assert.Equal(t, "a@x", d.Accepted[0].Email)
	assert.Equal(t, StatusRinging, d.StatusFrom)
	assert.Equal(t, StatusConnected, d.StatusTo)
	assert.NotNil(t, d.FirstResponse)
	assert.NotNil(t, d.FirstAcceptedAt)

	d, err = c.ApplyResponse("b", DecisionReject, now.Add(2*time.Second), AcceptedDonor{})
	require.NoError(t, err)
	assert.Empty(t, d.StatusTo)
	assert.Nil(t, d.FirstResponse, "first response is set once")
	assert.Empty(t, d.Accepted)
}

func TestApplyResponse_ChecksInOrder(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	c := ringingCall(now, "a")
	_, err := c.ApplyResponse("a", "maybe", now, AcceptedDonor{})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	c.Status = StatusEnded
	_, err = c.ApplyResponse("zzz", DecisionAccept, now, AcceptedDonor{})
	assert.ErrorIs(t, err, ErrCallInactive, "inactive wins over non-participant")

	c = ringingCall(now, "a")
	_, err = c.ApplyResponse("zzz", DecisionAccept, now, AcceptedDonor{})
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestApplyResponse_FirstAcceptedKeepsEarliest(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := ringingCall(now, "a", "b")

	_, err := c.ApplyResponse("a", DecisionAccept, now.Add(5*time.Second), AcceptedDonor{})
	require.NoError(t, err)
	_, err = c.ApplyResponse("b", DecisionAccept, now.Add(3*time.Second), AcceptedDonor{})
	require.NoError(t, err)

	assert.Equal(t, now.Add(3*time.Second), *c.Timeline.FirstAcceptedAt)
	assertInvariants(t, c)
}

func TestApplyResponse_DuplicateAcceptedEntryIsNotRepeated(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := ringingCall(now, "a")
	c.AcceptedDonors = []AcceptedDonor{{DonorID: "a", AcceptedAt: now}}

	d, err := c.ApplyResponse("a", DecisionAccept, now.Add(time.Second), AcceptedDonor{})
	require.NoError(t, err)
	assert.Empty(t, d.Accepted)
	assert.Len(t, c.AcceptedDonors, 1)
}

func TestExpireRinging_InsideLeaseIsNoop(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := ringingCall(now, "a")
	d, err := c.ExpireRinging(now.Add(29 * time.Second))
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Equal(t, SlotRinging, c.Slots[0].Status)
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := ringingCall(now, "a")
	_, err := c.ApplyResponse("a", DecisionAccept, now, AcceptedDonor{})
	require.NoError(t, err)

	cp := c.clone()
	cp.Slots[0].Status = SlotReject
	*cp.Slots[0].ResponseTime = now.Add(time.Hour)
	cp.AcceptedDonors[0].Name = "other"

	assert.Equal(t, SlotAccept, c.Slots[0].Status)
	assert.Equal(t, now, *c.Slots[0].ResponseTime)
	assert.Equal(t, "n-a", c.AcceptedDonors[0].Name)
}

func TestNewCallID(t *testing.T) {
	now := time.UnixMilli(1712345678901)
	id := NewCallID(now)
	assert.Regexp(t, `^CALL1712345678901[A-Z0-9]{5}$`, id)
	assert.NotEqual(t, id, NewCallID(now))
}

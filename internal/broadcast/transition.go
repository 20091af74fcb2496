package broadcast

import "time"

// SlotChange moves one slot out of ringing.
type SlotChange struct {
	DonorID string
	To      SlotStatus
	At      time.Time
}

// Delta is the minimal set of writes a transition produced. Stores persist it
// with conditional statements instead of rewriting the whole call.
type Delta struct {
	Slots    []SlotChange
	Accepted []AcceptedDonor

	// StatusFrom is the status the transition observed; StatusTo is empty when unchanged.
	StatusFrom Status
	StatusTo   Status

	FirstResponse   *time.Time
	FirstAcceptedAt *time.Time
	EndedAt         *time.Time
}

func (d Delta) Empty() bool {
	return len(d.Slots) == 0 && len(d.Accepted) == 0 && d.StatusTo == "" &&
		d.FirstResponse == nil && d.FirstAcceptedAt == nil && d.EndedAt == nil
}

// Transition mutates c in place and reports what changed. Returning an error
// discards every change.
type Transition func(c *BroadcastCall) (Delta, error)

func (c *BroadcastCall) setStatus(d *Delta, next Status) error {
	if !c.Status.canTransitionTo(next) {
		return ErrInvalidTransition
	}
	c.Status = next
	d.StatusTo = next
	return nil
}

func (c *BroadcastCall) retireSlot(d *Delta, i int, to SlotStatus, now time.Time) {
	at := now
	c.Slots[i].Status = to
	c.Slots[i].ResponseTime = &at
	d.Slots = append(d.Slots, SlotChange{DonorID: c.Slots[i].DonorID, To: to, At: now})
}

func (c *BroadcastCall) markEnded(d *Delta, now time.Time) {
	if c.Timeline.EndedAt != nil {
		return
	}
	at := now
	c.Timeline.EndedAt = &at
	d.EndedAt = &at
}

// ApplyResponse records a donor's decision. contact supplies the snapshot
// appended to AcceptedDonors; blank fields fall back to the ring-time slot.
func (c *BroadcastCall) ApplyResponse(donorID string, decision Decision, now time.Time, contact AcceptedDonor) (Delta, error) {
	d := Delta{StatusFrom: c.Status}
	if _, err := ParseDecision(string(decision)); err != nil {
		return d, err
	}
	if !c.Status.Active() {
		return d, ErrCallInactive
	}
	i := c.slotIndex(donorID)
	if i < 0 {
		return d, ErrNotAParticipant
	}
	if c.Slots[i].Status.Terminal() {
		return d, ErrAlreadyResponded
	}
	if !c.RingDeadline.IsZero() && !now.Before(c.RingDeadline) {
		return d, ErrRingExpired
	}

	c.retireSlot(&d, i, SlotStatus(decision), now)

	if c.Timeline.FirstResponse == nil {
		at := now
		c.Timeline.FirstResponse = &at
		d.FirstResponse = &at
	}

	if decision == DecisionReject {
		return d, nil
	}

	if !c.hasAccepted(donorID) {
		contact.DonorID = donorID
		if contact.Name == "" {
			contact.Name = c.Slots[i].DonorName
		}
		if contact.Phone == "" {
			contact.Phone = c.Slots[i].DonorPhone
		}
		contact.AcceptedAt = now
		c.AcceptedDonors = append(c.AcceptedDonors, contact)
		d.Accepted = append(d.Accepted, contact)
	}
	// keep the earliest accept even if a writer with an older clock lands later
	if c.Timeline.FirstAcceptedAt == nil || now.Before(*c.Timeline.FirstAcceptedAt) {
		at := now
		c.Timeline.FirstAcceptedAt = &at
		d.FirstAcceptedAt = &at
	}
	if c.Status == StatusRinging {
		if err := c.setStatus(&d, StatusConnected); err != nil {
			return d, err
		}
	}
	return d, nil
}

// End closes the call on behalf of the requester. A connected call ends; a
// call nobody accepted is cancelled. Outstanding rings are retired as missed.
func (c *BroadcastCall) End(requesterID string, now time.Time) (Delta, error) {
	d := Delta{StatusFrom: c.Status}
	if !c.IsRequester(requesterID) {
		return d, ErrNotRequester
	}
	var next Status
	switch c.Status {
	case StatusConnected:
		next = StatusEnded
	case StatusRinging:
		next = StatusCancelled
	default:
		return d, ErrCallInactive
	}
	c.retireRinging(&d, now)
	if err := c.setStatus(&d, next); err != nil {
		return d, err
	}
	c.markEnded(&d, now)
	return d, nil
}

// Cancel withdraws a call that no donor has accepted.
func (c *BroadcastCall) Cancel(requesterID string, now time.Time) (Delta, error) {
	d := Delta{StatusFrom: c.Status}
	if !c.IsRequester(requesterID) {
		return d, ErrNotRequester
	}
	switch c.Status {
	case StatusRinging:
	case StatusConnected:
		return d, ErrInvalidTransition
	default:
		return d, ErrCallInactive
	}
	c.retireRinging(&d, now)
	if err := c.setStatus(&d, StatusCancelled); err != nil {
		return d, err
	}
	c.markEnded(&d, now)
	return d, nil
}

// ExpireRinging enforces the ring lease: slots still ringing at or after the
// deadline become missed, and a call left with no acceptance and no live ring
// is cancelled. Calls inside their lease are untouched.
func (c *BroadcastCall) ExpireRinging(now time.Time) (Delta, error) {
	d := Delta{StatusFrom: c.Status}
	if !c.Status.Active() || c.RingDeadline.IsZero() || now.Before(c.RingDeadline) {
		return d, nil
	}
	c.retireRinging(&d, now)
	if c.Status == StatusRinging && len(c.AcceptedDonors) == 0 {
		if err := c.setStatus(&d, StatusCancelled); err != nil {
			return d, err
		}
		c.markEnded(&d, now)
	}
	return d, nil
}

func (c *BroadcastCall) retireRinging(d *Delta, now time.Time) {
	for i := range c.Slots {
		if c.Slots[i].Status == SlotRinging {
			c.retireSlot(d, i, SlotMissed, now)
		}
	}
}

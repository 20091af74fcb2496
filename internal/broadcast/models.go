package broadcast

import (
	"time"

	"blood-broadcast/internal/donors"
	"blood-broadcast/internal/geo"
)

// Status of a broadcast call. It only moves forward:
// ringing -> connected -> ended, ringing -> cancelled.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Active reports whether the call still accepts responses.
func (s Status) Active() bool {
	return s == StatusRinging || s == StatusConnected
}

func (s Status) canTransitionTo(next Status) bool {
	switch s {
	case StatusRinging:
		return next == StatusConnected || next == StatusCancelled
	case StatusConnected:
		return next == StatusEnded
	default:
		return false
	}
}

type SlotStatus string

const (
	SlotRinging SlotStatus = "ringing"
	SlotAccept  SlotStatus = "accept"
	SlotReject  SlotStatus = "reject"
	SlotMissed  SlotStatus = "missed"
)

func (s SlotStatus) Terminal() bool { return s != SlotRinging }

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionAccept, DecisionReject:
		return Decision(s), nil
	default:
		return "", ErrInvalidDecision
	}
}

// Kind is the call-to-action framing. Both kinds share one lifecycle and
// differ only in discovery radius and fan-out cap.
type Kind string

const (
	KindCall  Kind = "call"
	KindAlert Kind = "alert"
)

type Urgency string

const (
	UrgencyCritical  Urgency = "critical"
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
)

func (u Urgency) valid() bool {
	switch u {
	case UrgencyCritical, UrgencyEmergency, UrgencyUrgent:
		return true
	}
	return false
}

// Requester is a snapshot taken at creation time, not a live reference.
type Requester struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Phone    string    `json:"phone,omitempty"`
	Email    string    `json:"email,omitempty"`
	Location geo.Point `json:"location"`
}

type BloodRequest struct {
	BloodType   donors.BloodType `json:"blood_type"`
	Units       int              `json:"units"`
	Urgency     Urgency          `json:"urgency"`
	Hospital    string           `json:"hospital,omitempty"`
	Address     string           `json:"address,omitempty"`
	PatientName string           `json:"patient_name,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// Slot tracks one donor's response to one call.
type Slot struct {
	DonorID      string     `json:"donor_id"`
	DonorName    string     `json:"donor_name"`
	DonorPhone   string     `json:"donor_phone,omitempty"`
	DistanceKm   float64    `json:"distance_km"`
	Status       SlotStatus `json:"status"`
	ResponseTime *time.Time `json:"response_time,omitempty"`
}

// AcceptedDonor is the contact snapshot released to the requester on accept.
type AcceptedDonor struct {
	DonorID    string           `json:"donor_id"`
	Name       string           `json:"name"`
	Phone      string           `json:"phone,omitempty"`
	Email      string           `json:"email,omitempty"`
	BloodType  donors.BloodType `json:"blood_type,omitempty"`
	AcceptedAt time.Time        `json:"accepted_at"`
}

// Timeline fields are each set at most once.
type Timeline struct {
	CallStarted     time.Time  `json:"call_started"`
	FirstResponse   *time.Time `json:"first_response,omitempty"`
	FirstAcceptedAt *time.Time `json:"first_accepted_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

type BroadcastCall struct {
	CallID         string          `json:"call_id"`
	Kind           Kind            `json:"kind"`
	Requester      Requester       `json:"requester"`
	BloodRequest   BloodRequest    `json:"blood_request"`
	Status         Status          `json:"status"`
	Slots          []Slot          `json:"donor_responses"`
	AcceptedDonors []AcceptedDonor `json:"accepted_donors"`
	Timeline       Timeline        `json:"timeline"`

	RingTimeout time.Duration `json:"-"`
	// RingDeadline is the server-owned lease on ringing slots.
	RingDeadline time.Time `json:"ring_deadline"`
}

// Counts are derived from the slots; they are never stored.
type Counts struct {
	Notified  int `json:"notified"`
	Responded int `json:"responded"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Missed    int `json:"missed"`
}

func (c *BroadcastCall) Counts() Counts {
	out := Counts{Notified: len(c.Slots)}
	for _, s := range c.Slots {
		switch s.Status {
		case SlotAccept:
			out.Accepted++
			out.Responded++
		case SlotReject:
			out.Rejected++
			out.Responded++
		case SlotMissed:
			out.Missed++
		}
	}
	return out
}

// DurationSeconds is set once the call has ended or been cancelled.
func (c *BroadcastCall) DurationSeconds() (int64, bool) {
	if c.Timeline.EndedAt == nil {
		return 0, false
	}
	return int64(c.Timeline.EndedAt.Sub(c.Timeline.CallStarted) / time.Second), true
}

func (c *BroadcastCall) IsRequester(userID string) bool {
	return userID != "" && c.Requester.ID == userID
}

func (c *BroadcastCall) slotIndex(donorID string) int {
	for i := range c.Slots {
		if c.Slots[i].DonorID == donorID {
			return i
		}
	}
	return -1
}

func (c *BroadcastCall) hasAccepted(donorID string) bool {
	for _, a := range c.AcceptedDonors {
		if a.DonorID == donorID {
			return true
		}
	}
	return false
}

func (c *BroadcastCall) clone() BroadcastCall {
	out := *c
	out.Slots = make([]Slot, len(c.Slots))
	for i, s := range c.Slots {
		s.ResponseTime = cloneTime(s.ResponseTime)
		out.Slots[i] = s
	}
	out.AcceptedDonors = append([]AcceptedDonor(nil), c.AcceptedDonors...)
	out.Timeline.FirstResponse = cloneTime(c.Timeline.FirstResponse)
	out.Timeline.FirstAcceptedAt = cloneTime(c.Timeline.FirstAcceptedAt)
	out.Timeline.EndedAt = cloneTime(c.Timeline.EndedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

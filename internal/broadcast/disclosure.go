package broadcast

import (
	"time"

	"blood-broadcast/internal/geo"
)

type ViewerRole string

const (
	ViewerRequester ViewerRole = "requester"
	ViewerDonor     ViewerRole = "donor"
	ViewerObserver  ViewerRole = "observer"
)

// RequesterView carries contact fields only when the viewer may see them.
type RequesterView struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Phone    string     `json:"phone,omitempty"`
	Email    string     `json:"email,omitempty"`
	Location *geo.Point `json:"location,omitempty"`
}

type SlotView struct {
	DonorID      string     `json:"donor_id"`
	DonorName    string     `json:"donor_name"`
	DonorPhone   string     `json:"donor_phone,omitempty"`
	DistanceKm   float64    `json:"distance_km"`
	Status       SlotStatus `json:"status"`
	ResponseTime *time.Time `json:"response_time,omitempty"`
}

// CallView is the only shape a call leaves the service in.
type CallView struct {
	CallID       string        `json:"call_id"`
	Kind         Kind          `json:"kind"`
	Status       Status        `json:"status"`
	ViewerRole   ViewerRole    `json:"viewer_role"`
	Requester    RequesterView `json:"requester"`
	BloodRequest BloodRequest  `json:"blood_request"`

	// Requester sees every slot; a donor sees only their own.
	Slots          []SlotView      `json:"donor_responses,omitempty"`
	AcceptedDonors []AcceptedDonor `json:"accepted_donors,omitempty"`

	Timeline        Timeline  `json:"timeline"`
	RingDeadline    time.Time `json:"ring_deadline"`
	RingTimeoutMs   int64     `json:"ring_timeout_ms"`
	Counts          Counts    `json:"counts"`
	DurationSeconds *int64    `json:"duration_seconds,omitempty"`
}

func (c *BroadcastCall) RoleOf(viewerID string) ViewerRole {
	switch {
	case c.IsRequester(viewerID):
		return ViewerRequester
	case viewerID != "" && c.slotIndex(viewerID) >= 0:
		return ViewerDonor
	default:
		return ViewerObserver
	}
}

// Disclose redacts c for viewerID. It never mutates c.
//
//   - requester: own contact, every slot (phones only for accepting donors),
//     accepted donors once there is at least one
//   - donor: own slot without the echoed phone; requester contact only after
//     this donor accepted
//   - observer: status, blood request and counts
func Disclose(c BroadcastCall, viewerID string) CallView {
	role := c.RoleOf(viewerID)
	v := CallView{
		CallID:       c.CallID,
		Kind:         c.Kind,
		Status:       c.Status,
		ViewerRole:   role,
		Requester:    RequesterView{ID: c.Requester.ID, Name: c.Requester.Name},
		BloodRequest: c.BloodRequest,
		Timeline: Timeline{
			CallStarted:     c.Timeline.CallStarted,
			FirstResponse:   cloneTime(c.Timeline.FirstResponse),
			FirstAcceptedAt: cloneTime(c.Timeline.FirstAcceptedAt),
			EndedAt:         cloneTime(c.Timeline.EndedAt),
		},
		RingDeadline:  c.RingDeadline,
		RingTimeoutMs: c.RingTimeout.Milliseconds(),
		Counts:        c.Counts(),
	}
	if secs, ok := c.DurationSeconds(); ok {
		v.DurationSeconds = &secs
	}

	switch role {
	case ViewerRequester:
		v.Requester = fullRequester(c.Requester)
		v.Slots = make([]SlotView, 0, len(c.Slots))
		for _, s := range c.Slots {
			sv := slotView(s)
			if s.Status != SlotAccept {
				sv.DonorPhone = ""
			}
			v.Slots = append(v.Slots, sv)
		}
		if len(c.AcceptedDonors) > 0 {
			v.AcceptedDonors = append([]AcceptedDonor(nil), c.AcceptedDonors...)
		}

	case ViewerDonor:
		s := c.Slots[c.slotIndex(viewerID)]
		sv := slotView(s)
		sv.DonorPhone = ""
		v.Slots = []SlotView{sv}
		if s.Status == SlotAccept {
			v.Requester = fullRequester(c.Requester)
		}
	}
	return v
}

func fullRequester(r Requester) RequesterView {
	loc := r.Location
	return RequesterView{ID: r.ID, Name: r.Name, Phone: r.Phone, Email: r.Email, Location: &loc}
}

func slotView(s Slot) SlotView {
	return SlotView{
		DonorID:      s.DonorID,
		DonorName:    s.DonorName,
		DonorPhone:   s.DonorPhone,
		DistanceKm:   s.DistanceKm,
		Status:       s.Status,
		ResponseTime: cloneTime(s.ResponseTime),
	}
}

package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest selects calls started inside Range. Kind is optional.
type SummaryRequest struct {
	Range TimeRange `json:"range"`
	Kind  string    `json:"kind,omitempty"`
}

type BroadcastSummary struct {
	Range TimeRange `json:"range"`
	Kind  string    `json:"kind,omitempty"`

	TotalCalls     int `json:"total_calls"`
	RingingCalls   int `json:"ringing_calls"`
	ConnectedCalls int `json:"connected_calls"`
	EndedCalls     int `json:"ended_calls"`
	CancelledCalls int `json:"cancelled_calls"`

	// Slot outcomes across every call in range.
	DonorsNotified int `json:"donors_notified"`
	Accepted       int `json:"accepted"`
	Rejected       int `json:"rejected"`
	Missed         int `json:"missed"`
	StillRinging   int `json:"still_ringing"`

	// AcceptanceRate is accepted slots over notified slots.
	AcceptanceRate float64 `json:"acceptance_rate"`
	// FulfilmentRate is calls with at least one acceptance over all calls.
	FulfilmentRate float64 `json:"fulfilment_rate"`

	MeanSecondsToFirstAccept float64 `json:"mean_seconds_to_first_accept"`
	ZeroDonorCalls           int     `json:"zero_donor_calls"`

	ByBloodType map[string]int `json:"by_blood_type"`
}

package reporting

import (
	"context"
	"errors"
	"time"

	"blood-broadcast/internal/broadcast"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRange bounds one summary so a single admin request cannot scan all history.
const maxRange = 92 * 24 * time.Hour

// Repository reads calls for aggregation. broadcast.MemoryRepo and
// broadcast.PostgresRepo both satisfy it.
type Repository interface {
	ListStartedBetween(ctx context.Context, from, to time.Time) ([]broadcast.BroadcastCall, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (BroadcastSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return BroadcastSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > maxRange {
		return BroadcastSummary{}, ErrInvalidRequest
	}
	if req.Kind != "" && req.Kind != string(broadcast.KindCall) && req.Kind != string(broadcast.KindAlert) {
		return BroadcastSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return BroadcastSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListStartedBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return BroadcastSummary{}, err
	}

	out := BroadcastSummary{Range: req.Range, Kind: req.Kind, ByBloodType: map[string]int{}}
	var (
		fulfilled    int
		acceptDelays time.Duration
	)
	for _, c := range rows {
		if req.Kind != "" && string(c.Kind) != req.Kind {
			continue
		}
		out.TotalCalls++
		out.ByBloodType[string(c.BloodRequest.BloodType)]++

		switch c.Status {
		case broadcast.StatusRinging:
			out.RingingCalls++
		case broadcast.StatusConnected:
			out.ConnectedCalls++
		case broadcast.StatusEnded:
			out.EndedCalls++
		case broadcast.StatusCancelled:
			out.CancelledCalls++
		}

		n := c.Counts()
		out.DonorsNotified += n.Notified
		out.Accepted += n.Accepted
		out.Rejected += n.Rejected
		out.Missed += n.Missed
		out.StillRinging += n.Notified - n.Responded - n.Missed
		if n.Notified == 0 {
			out.ZeroDonorCalls++
		}

		if c.Timeline.FirstAcceptedAt != nil {
			fulfilled++
			acceptDelays += c.Timeline.FirstAcceptedAt.Sub(c.Timeline.CallStarted)
		}
	}

	if out.DonorsNotified > 0 {
		out.AcceptanceRate = float64(out.Accepted) / float64(out.DonorsNotified)
	}
	if out.TotalCalls > 0 {
		out.FulfilmentRate = float64(fulfilled) / float64(out.TotalCalls)
	}
	if fulfilled > 0 {
		out.MeanSecondsToFirstAccept = acceptDelays.Seconds() / float64(fulfilled)
	}
	return out, nil
}

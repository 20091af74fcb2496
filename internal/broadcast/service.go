package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"blood-broadcast/internal/audit"
	"blood-broadcast/internal/donors"
	"blood-broadcast/pkg/logger"
)

// respondAttempts bounds the retry of a donor's own slot after a lost CAS.
const respondAttempts = 3

const (
	defaultHistory = 50
	maxHistory     = 200
)

// KindProfile is the discovery envelope for one call kind.
type KindProfile struct {
	RadiusKm  float64
	MaxDonors int
}

func DefaultKinds() map[Kind]KindProfile {
	return map[Kind]KindProfile{
		KindCall:  {RadiusKm: 30, MaxDonors: 15},
		KindAlert: {RadiusKm: 50, MaxDonors: 20},
	}
}

// EventRecorder receives lifecycle events. Failures are logged, never returned.
type EventRecorder interface {
	Append(ctx context.Context, e audit.Event) error
}

type Options struct {
	Kinds       map[Kind]KindProfile
	RingTimeout time.Duration
	Throttle    Throttle
	Events      EventRecorder
}

// Service runs the broadcast lifecycle: create, respond, end/cancel, expire.
type Service struct {
	repo     Repository
	profiles donors.ProfileSource
	locator  donors.Locator

	kinds       map[Kind]KindProfile
	ringTimeout time.Duration
	throttle    Throttle
	events      EventRecorder

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func(time.Time) string
}

func NewService(repo Repository, profiles donors.ProfileSource, locator donors.Locator, opts Options) *Service {
	kinds := DefaultKinds()
	for k, p := range opts.Kinds {
		if p.RadiusKm > 0 && p.MaxDonors > 0 {
			kinds[k] = p
		}
	}
	ringTimeout := opts.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	return &Service{
		repo:        repo,
		profiles:    profiles,
		locator:     locator,
		kinds:       kinds,
		ringTimeout: ringTimeout,
		throttle:    opts.Throttle,
		events:      opts.Events,
		clock:       time.Now,
		newID:       NewCallID,
	}
}

type CreateRequest struct {
	Kind        Kind             `json:"kind"`
	BloodType   donors.BloodType `json:"blood_type"`
	Units       int              `json:"units"`
	Urgency     Urgency          `json:"urgency"`
	Hospital    string           `json:"hospital"`
	Address     string           `json:"address"`
	PatientName string           `json:"patient_name"`
	Notes       string           `json:"notes"`
}

func (r *CreateRequest) normalize() error {
	if r.Kind == "" {
		r.Kind = KindCall
	}
	if r.Kind != KindCall && r.Kind != KindAlert {
		return fmt.Errorf("%w: kind must be call or alert", ErrInvalidArgument)
	}
	bt, ok := donors.ParseBloodType(string(r.BloodType))
	if !ok {
		return fmt.Errorf("%w: unknown blood type %q", ErrInvalidArgument, r.BloodType)
	}
	r.BloodType = bt
	if r.Units == 0 {
		r.Units = 1
	}
	if r.Units < 1 {
		return fmt.Errorf("%w: units must be at least 1", ErrInvalidArgument)
	}
	r.Urgency = Urgency(strings.ToLower(strings.TrimSpace(string(r.Urgency))))
	if r.Urgency == "" {
		r.Urgency = UrgencyCritical
	}
	if !r.Urgency.valid() {
		return fmt.Errorf("%w: urgency must be critical, emergency or urgent", ErrInvalidArgument)
	}
	return nil
}

// CreateCall locates donors around the requester and stores a ringing call
// with one slot per donor. Finding nobody is not an error.
func (s *Service) CreateCall(ctx context.Context, requesterID string, req CreateRequest) (CallView, error) {
	if requesterID == "" {
		return CallView{}, ErrInvalidArgument
	}
	if err := req.normalize(); err != nil {
		return CallView{}, err
	}
	log := logger.From(ctx)

	requester, err := s.profiles.Profile(ctx, requesterID)
	if err != nil {
		if errors.Is(err, donors.ErrProfileNotFound) {
			return CallView{}, ErrRequesterNotFound
		}
		return CallView{}, fmt.Errorf("load requester: %w", err)
	}
	requester.ID = requesterID

	acquired := false
	if s.throttle != nil {
		ok, err := s.throttle.Allow(ctx, requesterID)
		switch {
		case err != nil:
			// an unavailable limiter must not block an emergency
			log.Warn("create throttle unavailable", "err", err)
		case !ok:
			return CallView{}, ErrThrottled
		default:
			acquired = true
		}
	}

	c, err := s.storeCall(ctx, requester, req)
	if err != nil {
		if acquired {
			if rerr := s.throttle.Release(context.WithoutCancel(ctx), requesterID); rerr != nil {
				log.Warn("create throttle release failed", "err", rerr)
			}
		}
		return CallView{}, err
	}

	log.Info("broadcast created", "call_id", c.CallID, "kind", c.Kind, "blood_type", c.BloodRequest.BloodType, "notified", len(c.Slots))
	s.record(ctx, audit.Event{CallID: c.CallID, Type: audit.EventTypeCallCreated, ActorUserID: requesterID,
		Message: fmt.Sprintf("%d donors notified", len(c.Slots))})

	return Disclose(c, requesterID), nil
}

func (s *Service) storeCall(ctx context.Context, requester donors.Profile, req CreateRequest) (BroadcastCall, error) {
	requesterID := requester.ID
	kp := s.kinds[req.Kind]
	found, err := s.locator.Locate(ctx, donors.Query{
		Origin:    requester.Location,
		BloodType: req.BloodType,
		RadiusKm:  kp.RadiusKm,
		Limit:     kp.MaxDonors,
		ExcludeID: requesterID,
	})
	if err != nil {
		return BroadcastCall{}, fmt.Errorf("locate donors: %w", err)
	}

	now := s.clock().UTC()
	c := BroadcastCall{
		Kind: req.Kind,
		Requester: Requester{
			ID:       requester.ID,
			Name:     requester.FullName,
			Phone:    requester.Phone,
			Email:    requester.Email,
			Location: requester.Location,
		},
		BloodRequest: BloodRequest{
			BloodType:   req.BloodType,
			Units:       req.Units,
			Urgency:     req.Urgency,
			Hospital:    strings.TrimSpace(req.Hospital),
			Address:     strings.TrimSpace(req.Address),
			PatientName: strings.TrimSpace(req.PatientName),
			Notes:       strings.TrimSpace(req.Notes),
		},
		Status:         StatusRinging,
		Slots:          make([]Slot, 0, len(found)),
		AcceptedDonors: []AcceptedDonor{},
		Timeline:       Timeline{CallStarted: now},
		RingTimeout:    s.ringTimeout,
		RingDeadline:   now.Add(s.ringTimeout),
	}
	seen := make(map[string]struct{}, len(found))
	for _, d := range found {
		if _, dup := seen[d.ID]; dup || d.ID == requesterID {
			continue
		}
		seen[d.ID] = struct{}{}
		c.Slots = append(c.Slots, Slot{
			DonorID:    d.ID,
			DonorName:  d.FullName,
			DonorPhone: d.Phone,
			DistanceKm: d.DistanceKm,
			Status:     SlotRinging,
		})
	}

	for attempt := 0; ; attempt++ {
		c.CallID = s.newID(now)
		err = s.repo.Insert(ctx, c)
		if !errors.Is(err, ErrDuplicateCall) || attempt == 2 {
			break
		}
	}
	if err != nil {
		return BroadcastCall{}, fmt.Errorf("store call: %w", err)
	}
	return c, nil
}

// Respond applies a donor's accept or reject. Only the donor's own slot is
// retried when a concurrent writer wins the conditional update.
func (s *Service) Respond(ctx context.Context, callID, donorID string, decision Decision) (CallView, error) {
	if callID == "" || donorID == "" {
		return CallView{}, ErrInvalidArgument
	}
	if _, err := ParseDecision(string(decision)); err != nil {
		return CallView{}, err
	}

	var contact AcceptedDonor
	if decision == DecisionAccept {
		contact = s.contactFor(ctx, donorID)
	}

	var (
		c   BroadcastCall
		err error
	)
	for attempt := 0; attempt < respondAttempts; attempt++ {
		c, _, err = s.repo.Mutate(ctx, callID, func(c *BroadcastCall) (Delta, error) {
			return c.ApplyResponse(donorID, decision, s.clock().UTC(), contact)
		})
		if !errors.Is(err, ErrConflict) {
			break
		}
		logger.From(ctx).Warn("respond lost a concurrent update, retrying", "call_id", callID, "attempt", attempt+1)
	}
	if err != nil {
		return CallView{}, err
	}

	et := audit.EventTypeDonorRejected
	if decision == DecisionAccept {
		et = audit.EventTypeDonorAccepted
	}
	logger.From(ctx).Info("donor responded", "call_id", callID, "donor_id", donorID, "decision", decision, "status", c.Status)
	s.record(ctx, audit.Event{CallID: callID, Type: et, ActorUserID: donorID, DonorID: donorID})

	return Disclose(c, donorID), nil
}

// contactFor snapshots the donor's current contact details; the slot's
// ring-time snapshot is used when the profile cannot be read.
func (s *Service) contactFor(ctx context.Context, donorID string) AcceptedDonor {
	p, err := s.profiles.Profile(ctx, donorID)
	if err != nil {
		if !errors.Is(err, donors.ErrProfileNotFound) {
			logger.From(ctx).Warn("donor profile unavailable", "donor_id", donorID, "err", err)
		}
		return AcceptedDonor{}
	}
	return AcceptedDonor{Name: p.FullName, Phone: p.Phone, Email: p.Email, BloodType: p.BloodType}
}

func (s *Service) ListActive(ctx context.Context, participantID string) ([]CallView, error) {
	if participantID == "" {
		return nil, ErrInvalidArgument
	}
	calls, err := s.repo.ListActiveForParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	out := make([]CallView, 0, len(calls))
	for _, c := range calls {
		out = append(out, Disclose(c, participantID))
	}
	return out, nil
}

// History lists every call the participant took part in, newest first and
// disclosure-filtered. limit is clamped to [1, maxHistory].
func (s *Service) History(ctx context.Context, participantID string, limit int) ([]CallView, error) {
	if participantID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = defaultHistory
	}
	limit = min(limit, maxHistory)
	calls, err := s.repo.ListForParticipant(ctx, participantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CallView, 0, len(calls))
	for _, c := range calls {
		out = append(out, Disclose(c, participantID))
	}
	return out, nil
}

func (s *Service) GetCall(ctx context.Context, callID, viewerID string) (CallView, error) {
	if callID == "" {
		return CallView{}, ErrInvalidArgument
	}
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return CallView{}, err
	}
	return Disclose(c, viewerID), nil
}

// AcceptedDonors returns the contact list of accepting donors to the requester.
func (s *Service) AcceptedDonors(ctx context.Context, callID, requesterID string) ([]AcceptedDonor, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.IsRequester(requesterID) {
		return nil, ErrNotRequester
	}
	if len(c.AcceptedDonors) == 0 {
		return nil, ErrNoAcceptedDonors
	}
	return append([]AcceptedDonor(nil), c.AcceptedDonors...), nil
}

func (s *Service) EndCall(ctx context.Context, callID, requesterID string) (CallView, error) {
	return s.close(ctx, callID, requesterID, func(c *BroadcastCall) (Delta, error) {
		return c.End(requesterID, s.clock().UTC())
	})
}

func (s *Service) CancelCall(ctx context.Context, callID, requesterID string) (CallView, error) {
	return s.close(ctx, callID, requesterID, func(c *BroadcastCall) (Delta, error) {
		return c.Cancel(requesterID, s.clock().UTC())
	})
}

func (s *Service) close(ctx context.Context, callID, requesterID string, fn Transition) (CallView, error) {
	if callID == "" || requesterID == "" {
		return CallView{}, ErrInvalidArgument
	}
	c, _, err := s.repo.Mutate(ctx, callID, fn)
	if err != nil {
		return CallView{}, err
	}

	et := audit.EventTypeCallEnded
	if c.Status == StatusCancelled {
		et = audit.EventTypeCallCancelled
	}
	logger.From(ctx).Info("broadcast closed", "call_id", callID, "status", c.Status)
	s.record(ctx, audit.Event{CallID: callID, Type: et, ActorUserID: requesterID})

	return Disclose(c, requesterID), nil
}

// ExpireDue enforces the ring lease on up to limit calls and reports how many changed.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.clock().UTC()
	ids, err := s.repo.ListDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due calls: %w", err)
	}

	changed := 0
	var errs []error
	for _, id := range ids {
		c, d, err := s.repo.Mutate(ctx, id, func(c *BroadcastCall) (Delta, error) {
			return c.ExpireRinging(s.clock().UTC())
		})
		if errors.Is(err, ErrConflict) {
			// next sweep picks it up
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		if d.Empty() {
			continue
		}
		changed++
		s.record(ctx, audit.Event{CallID: id, Type: audit.EventTypeRingsExpired,
			Message: fmt.Sprintf("%d rings missed, status %s", len(d.Slots), c.Status)})
	}
	return changed, errors.Join(errs...)
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "call_id", e.CallID, "type", e.Type, "err", err)
	}
}

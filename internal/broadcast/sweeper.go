package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// LeaseFunc claims the sweep for this instance for ttl. It returns false when
// another instance holds the claim.
type LeaseFunc func(ctx context.Context, ttl time.Duration) (bool, error)

// Sweeper retires expired rings on a cron schedule so stale calls close even
// when every client has gone away.
type Sweeper struct {
	svc      *Service
	schedule string
	batch    int
	lease    LeaseFunc
	leaseTTL time.Duration
	log      *slog.Logger

	mu sync.Mutex
	c  *cron.Cron
}

type SweeperOption func(*Sweeper)

// WithLease makes every sweep claim fn first. A ttl of zero derives the
// claim length from the schedule.
func WithLease(fn LeaseFunc, ttl time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.lease = fn
		s.leaseTTL = ttl
	}
}

func WithBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSweeper(svc *Service, schedule string, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		svc:      svc,
		schedule: schedule,
		batch:    200,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = leaseTTLFor(schedule)
	}
	return s
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// leaseTTLFor returns nine tenths of the gap between two ticks of schedule,
// so a claim always lapses before the next tick on any instance.
func leaseTTLFor(schedule string) time.Duration {
	const fallback = 4 * time.Second
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return fallback
	}
	first := sched.Next(time.Now())
	gap := sched.Next(first).Sub(first)
	if gap <= 0 {
		return fallback
	}
	return max(gap*9/10, 100*time.Millisecond)
}

// Start registers the sweep and starts the scheduler. Sweeps stop when ctx
// is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("ring sweep failed", "err", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("ring sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce performs one sweep, honouring the cross-instance lease when set.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.lease != nil {
		ok, err := s.lease(ctx, s.leaseTTL)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
	}
	n, err := s.svc.ExpireDue(ctx, s.batch)
	if n > 0 {
		s.log.Info("rings expired", "calls", n)
	}
	return n, err
}

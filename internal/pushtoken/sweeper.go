package pushtoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storchat/api/internal/logging"
)

// DefaultSweepSchedule runs the sweep once a day at midnight.
const DefaultSweepSchedule = "@daily"

const sweepTimeout = 10 * time.Minute

// Sweeper runs Service.Sweep on a cron schedule so that users who never
// register again still lose their expired tokens.
type Sweeper struct {
	service  *Service
	log      *logging.Logger
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewSweeper creates a sweeper. An empty schedule means DefaultSweepSchedule.
func NewSweeper(service *Service, schedule string, log *logging.Logger) *Sweeper {
	if log == nil {
		log = logging.Default()
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		service:  service,
		log:      log,
		schedule: schedule,
	}
}

func (s *Sweeper) Name() string { return "push-token-sweeper" }

// Start registers the job and starts the scheduler. Calling Start twice is a
// no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = c
	s.running = true
	c.Start()

	s.log.WithField("schedule", s.schedule).Info("push token sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish or for ctx
// to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	done := c.Stop()
	cancel()

	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("push token sweeper stopped")
	return nil
}

// RunOnce performs a single sweep outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	return s.service.Sweep(ctx)
}

func (s *Sweeper) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	start := time.Now()
	touched, err := s.RunOnce(ctx)
	entry := s.log.WithFields(map[string]interface{}{
		"users_updated": touched,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("push token sweep failed")
		return
	}
	entry.Info("push token sweep completed")
}

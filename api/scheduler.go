/*
scheduler.go - Stale draft sweeper

PURPOSE:
  Drafts are edit sessions. A console tab that is closed without submitting
  leaves its draft behind; the sweeper deletes drafts that have not been
  touched for longer than the configured TTL.

DESIGN:
  - A robfig/cron job on a configurable schedule (default "@every 15m")
  - Overlapping runs are skipped, not queued
  - Each run deletes drafts whose updated_at is older than now - TTL
  - Swept drafts are counted in the installments_drafts_swept_total metric

USAGE:
  sweeper, err := NewDraftSweeper(store, SweeperConfig{TTL: 24 * time.Hour})
  sweeper.Start()
  // ... later
  <-sweeper.Stop().Done()

SEE ALSO:
  - draft/store.go: Store.DeleteStale
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/policy-installments/draft"
	"github.com/warp/policy-installments/observability"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the sweeper every 15 minutes.
const DefaultSweepSchedule = "@every 15m"

// SweeperConfig configures a DraftSweeper.
type SweeperConfig struct {
	TTL      time.Duration
	Schedule string // cron expression; DefaultSweepSchedule when empty
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// DraftSweeper deletes stale drafts on a schedule.
type DraftSweeper struct {
	store   draft.Store
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewDraftSweeper creates a sweeper. The schedule is validated here so a bad
// SWEEP_SCHEDULE fails at startup.
func NewDraftSweeper(store draft.Store, cfg SweeperConfig) (*DraftSweeper, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("sweeper ttl must be positive, got %s", cfg.TTL)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	s := &DraftSweeper{
		store:   store,
		ttl:     cfg.TTL,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}

	logger := cronLogger{cfg.Logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins the schedule. Calling Start twice is a no-op.
func (s *DraftSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("draft sweeper started", zap.Duration("ttl", s.ttl))
}

// Stop halts the schedule. The returned context is done once a sweep in
// progress has finished.
func (s *DraftSweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	ctx := s.cron.Stop()
	s.logger.Info("draft sweeper stopped")
	return ctx
}

// Sweep deletes drafts idle for longer than the TTL and reports how many
// were deleted.
func (s *DraftSweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)

	n, err := s.store.DeleteStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("draft sweep failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("stale drafts deleted", zap.Int("count", n), zap.Time("cutoff", cutoff))
		if s.metrics != nil {
			s.metrics.AddDraftsSwept(n)
		}
	}
	return n
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

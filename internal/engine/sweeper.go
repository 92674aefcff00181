package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/optx/option-engine/internal/metrics"
	"github.com/optx/option-engine/internal/store"
)

// Sweeper is the liveness guarantee behind in-process expiry timers: on
// boot and on a fixed interval it finds contracts still Active past their
// expiry (lost timers, process restarts) and drives them through the same
// idempotent Settle entry point a timer would. It adds no business rules.
type Sweeper struct {
	engine    *Engine
	contracts store.ContractStore
	interval  time.Duration
	cron      *cron.Cron
}

// NewSweeper creates a sweeper over the given contract store.
func NewSweeper(e *Engine, contracts store.ContractStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{
		engine:    e,
		contracts: contracts,
		interval:  interval,
	}
}

// Start runs a boot-time sweep, then schedules recurring sweeps.
func (s *Sweeper) Start(ctx context.Context) error {
	s.Sweep(ctx)

	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()

	slog.Info("reconciliation sweeper started", "interval", s.interval)
	return nil
}

// Stop halts recurring sweeps and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep settles every expired Active contract once. Per-contract errors
// are logged and skipped so one bad contract never aborts the pass; the
// next sweep retries it. Safe to abort mid-scan: Settle is idempotent.
func (s *Sweeper) Sweep(ctx context.Context) int {
	metrics.SweepRuns.Inc()

	expired, err := s.contracts.ListExpiredActive(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("sweep scan failed", "err", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	recovered := 0
	for _, c := range expired {
		select {
		case <-ctx.Done():
			return recovered
		default:
		}

		if err := s.engine.Settle(ctx, c.ID); err != nil {
			slog.Error("sweep settlement failed", "contract", c.ID, "err", err)
			continue
		}
		recovered++
		metrics.SweepRecovered.Inc()
	}

	slog.Info("sweep completed", "expired", len(expired), "recovered", recovered)
	return recovered
}

/*
scheduler.go - Periodic billing driver

PURPOSE:
  On each tick (cron-scheduled or manually triggered) the scheduler:
    1. advances every subscription template, generating the next period's
       bill once its due date enters the look-ahead window, and
    2. flags elapsed pending bills OVERDUE and applies their penalty.

DESIGN:
  - Driven by a cron expression (default daily); the engine only requires
    "at least once per day" and every effect is idempotent, so overlapping
    or repeated ticks are harmless.
  - Per-template and per-bill failure isolation: one broken record is
    counted and logged, the rest of the batch proceeds.
  - Every sweep is journaled as a scheduler_runs row for audit.
  - asOf is an explicit parameter throughout, so tests drive the calendar
    without touching the wall clock.

SEE ALSO:
  - billing/generator.go: AdvanceAll / cursor semantics
  - billing/penalty.go: SweepOverdue semantics
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/store/sqlite"
)

// maxCatchUpPeriods bounds how many periods one template can generate in a
// single tick, so a long-dormant subscription cannot stall the sweep.
const maxCatchUpPeriods = 120

// Scheduler drives generation and overdue sweeps.
type Scheduler struct {
	Store     *sqlite.Store
	Generator *billing.Generator
	Assessor  *billing.Assessor
	Metrics   *Metrics
	Log       *logrus.Entry

	CronSpec string
	Enabled  bool

	cron *cron.Cron
	mu   sync.Mutex
}

// NewScheduler creates a scheduler around the same services the handlers use.
func NewScheduler(store *sqlite.Store, gen *billing.Generator, assessor *billing.Assessor, cronSpec string, metrics *Metrics) *Scheduler {
	return &Scheduler{
		Store:     store,
		Generator: gen,
		Assessor:  assessor,
		Metrics:   metrics,
		Log:       logrus.WithField("component", "scheduler"),
		CronSpec:  cronSpec,
		Enabled:   true,
	}
}

// Start registers the cron job. No-op when disabled.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("scheduler disabled, not starting")
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.CronSpec, func() {
		s.RunOnce(context.Background(), billing.Today(), "cron")
	})
	if err != nil {
		return fmt.Errorf("invalid scheduler cron %q: %w", s.CronSpec, err)
	}
	s.cron.Start()
	s.Log.WithField("cron", s.CronSpec).Info("scheduler started")
	return nil
}

// Stop halts the cron job and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.Log.Info("scheduler stopped")
	}
}

// RunOnce executes one full sweep evaluated at asOf and journals it.
// Safe to call concurrently with the cron tick: every effect is guarded in
// the store, so the worst case is wasted work, never duplicate bills or
// double penalties.
func (s *Scheduler) RunOnce(ctx context.Context, asOf billing.Date, trigger string) sqlite.SchedulerRun {
	started := time.Now().UTC()
	run := sqlite.SchedulerRun{
		ID:        fmt.Sprintf("run-%d", started.UnixNano()),
		Trigger:   trigger,
		AsOf:      asOf,
		StartedAt: started,
	}
	log := s.Log.WithFields(logrus.Fields{"run": run.ID, "as_of": asOf.String(), "trigger": trigger})

	run.Generated, run.Errors = s.advanceSubscriptions(ctx, asOf, log)

	sweep, err := s.Assessor.SweepOverdue(ctx, asOf)
	if err != nil {
		// Listing failed outright; individual penalize errors are already
		// inside sweep.Errors.
		run.Errors++
		run.Error = err.Error()
		log.WithError(err).Error("overdue sweep failed")
	}
	run.FlaggedOverdue = sweep.FlaggedOverdue
	run.PenaltiesApplied = sweep.PenaltiesApplied
	run.Errors += sweep.Errors

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err := s.Store.SaveSchedulerRun(ctx, run); err != nil {
		log.WithError(err).Error("failed to journal scheduler run")
	}

	if s.Metrics != nil {
		s.Metrics.SchedulerRuns.WithLabelValues(trigger).Inc()
		s.Metrics.PenaltiesApplied.Add(float64(sweep.PenaltiesApplied))
		s.Metrics.SchedulerErrors.Add(float64(run.Errors))
	}
	log.WithFields(logrus.Fields{
		"generated":         run.Generated,
		"flagged_overdue":   run.FlaggedOverdue,
		"penalties_applied": run.PenaltiesApplied,
		"errors":            run.Errors,
	}).Info("sweep completed")
	return run
}

// advanceSubscriptions walks every subscription template independently; a
// failing template is logged and counted without touching the others.
func (s *Scheduler) advanceSubscriptions(ctx context.Context, asOf billing.Date, log *logrus.Entry) (generated, errors int) {
	templates, err := s.Store.ListTemplates(ctx)
	if err != nil {
		log.WithError(err).Error("failed to list templates")
		return 0, 1
	}

	for _, tmpl := range templates {
		if tmpl.Mode != billing.ModeSubscription {
			continue
		}
		bills, err := s.Generator.AdvanceAll(ctx, tmpl.ID, asOf, maxCatchUpPeriods)
		if err != nil {
			errors++
			log.WithError(err).WithField("template", tmpl.ID).Error("failed to advance subscription")
			continue
		}
		generated += len(bills)
		if s.Metrics != nil && len(bills) > 0 {
			s.Metrics.BillsGenerated.WithLabelValues(string(billing.ModeSubscription)).Add(float64(len(bills)))
		}
	}
	return generated, errors
}

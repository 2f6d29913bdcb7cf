package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/billingly/internal/clock"
	customerdomain "github.com/smallbiznis/billingly/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	"github.com/smallbiznis/billingly/internal/notifier"
	obsmetrics "github.com/smallbiznis/billingly/internal/observability/metrics"
	subdomain "github.com/smallbiznis/billingly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Subscriptions subdomain.Service
	Invoices      invoicedomain.Service
	Customers     customerdomain.Service
	Notifier      notifier.Notifier
	Config        Config `optional:"true"`
}

// Scheduler drives the billing pipeline: invoice generation, settlement,
// expense recognition, deactivation and notification sweeps, in that order.
// Each sweep isolates its own items; the pipeline never stops on one job's
// failure.
type Scheduler struct {
	log           *zap.Logger
	clock         clock.Clock
	subscriptions subdomain.Service
	invoices      invoicedomain.Service
	customers     customerdomain.Service
	notifier      notifier.Notifier
	cfg           Config
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:           p.Log.Named("scheduler"),
		clock:         p.Clock,
		subscriptions: p.Subscriptions,
		invoices:      p.Invoices,
		customers:     p.Customers,
		notifier:      p.Notifier,
		cfg:           p.Config.withDefaults(),
	}
}

type job struct {
	name string
	run  func(context.Context) (ok, failed int, err error)
}

func (s *Scheduler) jobs() []job {
	return []job{
		{"generate_invoices", s.subscriptions.GenerateNextInvoices},
		{"charge_invoices", s.invoices.ChargeAll},
		{"acknowledge_expenses", s.invoices.AcknowledgeExpenses},
		{"deactivate_debtors", s.customers.DeactivateAllDebtors},
		{"deactivate_expired_trials", s.customers.DeactivateAllExpiredTrials},
		{"notify_pending_invoices", s.invoices.NotifyAllPending},
		{"notify_overdue_invoices", s.invoices.NotifyAllOverdue},
		{"notify_paid_invoices", s.invoices.NotifyAllPaid},
		{"notify_expired_trials", s.subscriptions.NotifyAllTrialsExpired},
	}
}

// RunOnce executes one full pipeline pass and reports a task summary. The
// returned error joins every job's item failures.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	run := newJobRun(s.log, s.clock.Now())

	var errs []error
	for _, j := range s.jobs() {
		jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
		ok, failed, err := s.runJob(jobCtx, j)
		cancel()

		run.record(j.name, ok, failed, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}

	run.finish()
	s.notifySummary(ctx, run)
	return errors.Join(errs...)
}

func (s *Scheduler) runJob(ctx context.Context, j job) (int, int, error) {
	metrics := obsmetrics.Scheduler()
	metrics.IncJobRun(j.name)
	started := time.Now()

	ok, failed, err := j.run(ctx)

	metrics.ObserveJobDuration(j.name, time.Since(started))
	metrics.AddItemsProcessed(j.name, ok)
	metrics.AddItemsFailed(j.name, failed)
	if err != nil {
		metrics.IncJobError(j.name)
	}
	return ok, failed, err
}

func (s *Scheduler) notifySummary(ctx context.Context, run *jobRun) {
	if err := s.notifier.Notify(ctx, notifier.Notification{
		Kind:    notifier.KindTaskSummary,
		Summary: run.summary(),
	}); err != nil {
		// The summary is advisory; a failed delivery must not fail the run.
		s.log.Warn("scheduler.summary_notify_failed", zap.Error(err))
	}
}

// RunForever runs the pipeline on a fixed interval until ctx is done. The
// first pass runs immediately.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("scheduler.run_failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

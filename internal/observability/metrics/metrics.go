package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics tracks the periodic billing jobs.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	itemsOK     *prometheus.CounterVec
	itemsFailed *prometheus.CounterVec
}

// LedgerMetrics tracks money movements posted per account.
type LedgerMetrics struct {
	entries *prometheus.CounterVec
}

var (
	schedulerOnce sync.Once
	schedulerInst *SchedulerMetrics

	ledgerOnce sync.Once
	ledgerInst *LedgerMetrics
)

func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerInst = &SchedulerMetrics{
			jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "billingly_scheduler_job_runs_total",
				Help: "Number of scheduler job invocations.",
			}, []string{"job"}),
			jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "billingly_scheduler_job_errors_total",
				Help: "Number of scheduler job invocations that returned an error.",
			}, []string{"job"}),
			jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "billingly_scheduler_job_duration_seconds",
				Help:    "Duration of scheduler job invocations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"job"}),
			itemsOK: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "billingly_scheduler_items_processed_total",
				Help: "Batch items processed successfully per job.",
			}, []string{"job"}),
			itemsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "billingly_scheduler_items_failed_total",
				Help: "Batch items that failed per job.",
			}, []string{"job"}),
		}
	})
	return schedulerInst
}

func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerInst = &LedgerMetrics{
			entries: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "billingly_ledger_entries_total",
				Help: "Ledger entries appended per account.",
			}, []string{"account"}),
		}
	})
	return ledgerInst
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) AddItemsProcessed(job string, n int) {
	if n > 0 {
		m.itemsOK.WithLabelValues(job).Add(float64(n))
	}
}

func (m *SchedulerMetrics) AddItemsFailed(job string, n int) {
	if n > 0 {
		m.itemsFailed.WithLabelValues(job).Add(float64(n))
	}
}

func (m *LedgerMetrics) IncEntry(account string) {
	m.entries.WithLabelValues(account).Inc()
}

package scheduler

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// jobRun accumulates per-job counts over one pipeline pass.
type jobRun struct {
	log      *zap.Logger
	started  time.Time
	totalOK  int
	totalBad int
}

func newJobRun(log *zap.Logger, started time.Time) *jobRun {
	log.Info("scheduler.run_started", zap.Time("started_at", started))
	return &jobRun{log: log, started: started}
}

func (r *jobRun) record(name string, ok, failed int, err error) {
	r.totalOK += ok
	r.totalBad += failed

	fields := []zap.Field{
		zap.String("job", name),
		zap.Int("ok", ok),
		zap.Int("failed", failed),
	}
	if err != nil {
		r.log.Error("scheduler.job_finished", append(fields, zap.Error(err))...)
		return
	}
	r.log.Info("scheduler.job_finished", fields...)
}

func (r *jobRun) finish() {
	r.log.Info("scheduler.run_finished",
		zap.Int("ok", r.totalOK),
		zap.Int("failed", r.totalBad),
	)
}

func (r *jobRun) summary() string {
	return fmt.Sprintf("%d OK, %d failed", r.totalOK, r.totalBad)
}

package scheduler

import "time"

// Config tunes the periodic billing pipeline.
type Config struct {
	// Interval between full pipeline runs.
	Interval time.Duration
	// JobTimeout bounds each job of a run.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	return c
}

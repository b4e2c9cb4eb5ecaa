// Package scheduler provides scheduling logic for VisitPipe.
//
// It runs recurring maintenance jobs (such as purging abandoned contract
// drafts) using cron expressions.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// DraftPurger is the store operation the purge job needs.
type DraftPurger interface {
	PurgeDraftsBefore(cutoff time.Time) (int, error)
}

// SchedulePurge registers a recurring job deleting drafts untouched for
// longer than retention.
func (s *Scheduler) SchedulePurge(expr string, st DraftPurger, retention time.Duration) error {
	return s.AddJob(expr, func() {
		cutoff := time.Now().Add(-retention)
		n, err := st.PurgeDraftsBefore(cutoff)
		if err != nil {
			slog.Error("Draft purge job failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Draft purge job removed abandoned drafts", "count", n, "cutoff", cutoff)
		}
	})
}

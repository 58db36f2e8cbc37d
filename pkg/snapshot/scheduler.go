package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the snapshot job on a cron schedule across every
// workspace that has registered agents.
type Scheduler struct {
	job  *Job
	db   *sql.DB
	cron *cron.Cron
}

// NewScheduler creates a scheduler; Start registers the schedule.
func NewScheduler(job *Job, db *sql.DB) *Scheduler {
	return &Scheduler{job: job, db: db, cron: cron.New()}
}

// Start registers the cron entry and starts the scheduler.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunAll(context.Background(), time.Now().UTC()); err != nil {
			slog.Error("Scheduled snapshot run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register snapshot schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	slog.Info("Snapshot scheduler started", "schedule", schedule)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Snapshot scheduler stopped")
}

// RunAll runs the snapshot job for every workspace with agents.
func (s *Scheduler) RunAll(ctx context.Context, date time.Time) error {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workspace_id FROM sec_agents`)
	if err != nil {
		return fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ws := range workspaces {
		written, err := s.job.Run(ctx, ws, date)
		if err != nil {
			slog.Error("Snapshot job failed for workspace", "workspace_id", ws, "error", err)
			continue
		}
		slog.Info("Snapshot job finished", "workspace_id", ws, "written_rows", written)
	}
	return nil
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// SweepExpiredLeases returns running runs whose lease has expired to the
// queue so another worker can claim them. Returns the number of runs
// requeued.
func (p *Processor) SweepExpiredLeases(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE proj_runs
		SET status = 'queued', worker_id = NULL, lease_expires_at = NULL, started_at = NULL
		WHERE status = 'running' AND lease_expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired leases: %w", err)
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept leases: %w", err)
	}
	if requeued > 0 {
		slog.Warn("Requeued runs with expired leases", "count", requeued)
	}
	return int(requeued), nil
}

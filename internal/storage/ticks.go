package storage

import (
	"context"
	"fmt"
	"time"
)

// ClaimTick records that runID handles the tick at boundary. It reports
// false when another run already claimed the same boundary.
func (q *Queries) ClaimTick(ctx context.Context, boundary time.Time, runID string) (bool, error) {
	res, err := q.exec(ctx, `
INSERT INTO tick_runs (boundary, run_id)
VALUES (?, ?)
ON CONFLICT (boundary) DO NOTHING`, q.timeArg(boundary), runID)
	if err != nil {
		return false, fmt.Errorf("claim tick %s: %w", boundary.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseTick drops runID's claim so the boundary can be run again.
func (q *Queries) ReleaseTick(ctx context.Context, boundary time.Time, runID string) error {
	_, err := q.exec(ctx, `DELETE FROM tick_runs WHERE boundary = ? AND run_id = ?`, q.timeArg(boundary), runID)
	if err != nil {
		return fmt.Errorf("release tick %s: %w", boundary.Format(time.RFC3339), err)
	}
	return nil
}

func (q *Queries) FinishTick(ctx context.Context, boundary time.Time, runID, result string) error {
	_, err := q.exec(ctx, `
UPDATE tick_runs SET finished_at = ?, result = ?
WHERE boundary = ? AND run_id = ?`, q.timeArg(time.Now().UTC()), result, q.timeArg(boundary), runID)
	if err != nil {
		return fmt.Errorf("finish tick %s: %w", boundary.Format(time.RFC3339), err)
	}
	return nil
}

package db

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"marinaops/internal/scheduling"
	"marinaops/internal/types"
)

// SweepLockRepository keeps overlapping sweep invocations (scheduler
// retries, a manual run during the cron window) off the same site and week.
type SweepLockRepository struct {
	db    DBTX
	clock clockwork.Clock
}

// NewSweepLockRepository creates a SweepLockRepository. A nil clock uses
// the real clock.
func NewSweepLockRepository(db DBTX, clock clockwork.Clock) *SweepLockRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SweepLockRepository{db: db, clock: clock}
}

// SweepLockID names the lock of one site and week.
func SweepLockID(siteID string, weekStart types.Date) string {
	return "sweep:" + siteID + ":" + weekStart.String()
}

// Acquire takes the lock for ttl. It returns false when another owner holds
// an unexpired lock. An expired lock is reclaimed.
//
// locked_at and expires_at are bound as timestamps computed here rather than
// with interval arithmetic in SQL.
func (r *SweepLockRepository) Acquire(ctx context.Context, siteID string, weekStart types.Date, owner string, ttl time.Duration) (bool, error) {
	now := r.clock.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO sweep_locks (id, owner, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET owner = EXCLUDED.owner,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE sweep_locks.expires_at < $3`,
		SweepLockID(siteID, weekStart),
		owner,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire sweep lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock if owner still holds it.
func (r *SweepLockRepository) Release(ctx context.Context, siteID string, weekStart types.Date, owner string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM sweep_locks WHERE id = $1 AND owner = $2`,
		SweepLockID(siteID, weekStart),
		owner,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release sweep lock", err)
	}
	return nil
}

// Sweep run statuses stored in sweep_runs.status.
const (
	SweepStatusRunning   = "running"
	SweepStatusSucceeded = "succeeded"
	SweepStatusFailed    = "failed"
)

// SweepRunRepository records each sweep of a site and week in sweep_runs.
type SweepRunRepository struct {
	db DBTX
}

// NewSweepRunRepository creates a SweepRunRepository.
func NewSweepRunRepository(db DBTX) *SweepRunRepository {
	return &SweepRunRepository{db: db}
}

// Start inserts a running entry and returns its id.
func (r *SweepRunRepository) Start(ctx context.Context, siteID string, weekStart types.Date) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO sweep_runs (site_id, week_start, started_at, status)
		 VALUES ($1, $2, NOW(), $3)
		 RETURNING id`,
		siteID,
		weekStart,
		SweepStatusRunning,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start sweep run", err)
	}
	return id, nil
}

// Finish stores the outcome of run id. sweepErr, when set, marks the run
// failed and its message is kept.
func (r *SweepRunRepository) Finish(ctx context.Context, id int64, report scheduling.SweepReport, sweepErr error) error {
	status := SweepStatusSucceeded
	var errMsg *string
	if sweepErr != nil {
		status = SweepStatusFailed
		s := sweepErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE sweep_runs
		 SET finished_at = NOW(), status = $2, evaluated = $3, moved = $4, failed = $5, error = $6
		 WHERE id = $1`,
		id,
		status,
		report.Evaluated,
		len(report.Moved),
		len(report.Failed),
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish sweep run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "sweep run not found", nil)
	}
	return nil
}

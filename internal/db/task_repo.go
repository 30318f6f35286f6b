package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"marinaops/internal/types"
)

// TaskRepository provides data access for the interventions table.
//
// scheduled_date is written only by CompareAndSwapDate.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `i.id, i.title, i.description, i.scheduled_date, i.status,
	i.intervention_type, i.site_id, i.technician_id, i.boat_id, i.updated_at`

func scanTask(row pgx.Row) (types.Task, error) {
	var (
		t           types.Task
		description *string
	)
	err := row.Scan(
		&t.ID,
		&t.Title,
		&description,
		&t.ScheduledDate,
		&t.Status,
		&t.InterventionType,
		&t.SiteID,
		&t.TechnicianID,
		&t.BoatID,
		&t.UpdatedAt,
	)
	if err != nil {
		return types.Task{}, err
	}
	if description != nil {
		t.Description = *description
	}
	return t, nil
}

// ListByWeek returns the site's live tasks scheduled in the seven days
// starting at weekStart, ordered by date then id.
func (r *TaskRepository) ListByWeek(ctx context.Context, siteID string, weekStart types.Date) ([]types.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM interventions i
		 WHERE i.site_id = $1
		   AND i.scheduled_date >= $2 AND i.scheduled_date < $3
		   AND i.deleted_at IS NULL
		 ORDER BY i.scheduled_date, i.id`,
		siteID, weekStart, weekStart.AddDays(7),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tasks", err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate tasks", err)
	}
	return tasks, nil
}

// Get loads a live task by id. Soft-deleted tasks are not found.
func (r *TaskRepository) Get(ctx context.Context, id string) (types.Task, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+taskColumns+`
		 FROM interventions i
		 WHERE i.id = $1 AND i.deleted_at IS NULL`,
		id,
	)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Task{}, types.NewAppErrorWithDetails(types.ErrCodeNotFoundTask, "task not found", nil,
				map[string]any{"task_id": id})
		}
		return types.Task{}, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve task", err)
	}
	return t, nil
}

// CompareAndSwapDate moves a scheduled task from expected to newDate in one
// statement. The update only applies while the stored date still equals
// expected, so a concurrent move by another actor is detected rather than
// overwritten. When nothing is updated the row is re-read to report why:
// not_found_task, conflict_invalid_state or conflict_concurrent_modification.
func (r *TaskRepository) CompareAndSwapDate(ctx context.Context, id string, expected, newDate types.Date) (types.Task, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE interventions i
		 SET scheduled_date = $3, updated_at = NOW()
		 WHERE i.id = $1
		   AND i.scheduled_date = $2
		   AND i.status = 'scheduled'
		   AND i.deleted_at IS NULL
		 RETURNING `+taskColumns,
		id, expected, newDate,
	)
	t, err := scanTask(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return types.Task{}, types.NewAppError(types.ErrCodeInternalDB, "failed to update task date", err)
	}
	return types.Task{}, r.classifyMiss(ctx, id, expected)
}

func (r *TaskRepository) classifyMiss(ctx context.Context, id string, expected types.Date) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != types.TaskStatusScheduled {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictInvalidState, "task is no longer scheduled", nil,
			map[string]any{"task_id": id, "status": current.Status})
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictConcurrent, "task was moved by another actor", nil,
		map[string]any{
			"task_id":       id,
			"expected_date": expected.String(),
			"current_date":  current.ScheduledDate.String(),
		})
}

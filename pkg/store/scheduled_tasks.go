package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// CreateScheduledTask inserts a new scheduled task.
func (c *Client) CreateScheduledTask(ctx context.Context, t models.ScheduledTask) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks
			(id, group_folder, chat_jid, prompt, schedule_type, schedule_value, next_run, last_run, last_result, status, context_mode, repo_access)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.GroupFolder, t.ChatJID, t.Prompt, t.ScheduleType, t.ScheduleValue, t.NextRun, t.LastRun, t.LastResult, t.Status, t.ContextMode, t.RepoAccess)
	if err != nil {
		return fmt.Errorf("create scheduled task %s: %w", t.ID, err)
	}
	return nil
}

// DueTasks returns active tasks whose next_run has passed asOf, ready to be dispatched by
// the scheduler loop.
func (c *Client) DueTasks(ctx context.Context, asOf time.Time) ([]models.ScheduledTask, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, group_folder, chat_jid, prompt, schedule_type, schedule_value, next_run, last_run, last_result, status, context_mode, repo_access
		FROM scheduled_tasks
		WHERE status = 'active' AND next_run <= ?
		ORDER BY next_run
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduledTask
	for rows.Next() {
		t, err := scanScheduledTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTaskAfterRun records the outcome of a run and advances or retires the task: a
// "once" task transitions to TaskCompleted, everything else gets its next_run recomputed
// by the caller (the scheduler owns cron/interval arithmetic) and passed in as nextRun.
func (c *Client) UpdateTaskAfterRun(ctx context.Context, taskID string, runAt time.Time, result string, status models.TaskStatus, nextRun *time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET last_run = ?, last_result = ?, status = ?, next_run = COALESCE(?, next_run)
		WHERE id = ?
	`, runAt, result, status, nextRun, taskID)
	if err != nil {
		return fmt.Errorf("update task %s after run: %w", taskID, err)
	}
	return nil
}

// InsertTaskRunLog appends one run record for a task.
func (c *Client) InsertTaskRunLog(ctx context.Context, log models.TaskRunLog) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO task_run_logs (task_id, run_at, duration_ms, status, result, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.TaskID, log.RunAt, log.DurationMS, log.Status, log.Result, log.Error)
	if err != nil {
		return fmt.Errorf("insert task run log for %s: %w", log.TaskID, err)
	}
	return nil
}

// GetScheduledTask looks up a single task by id.
func (c *Client) GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, group_folder, chat_jid, prompt, schedule_type, schedule_value, next_run, last_run, last_result, status, context_mode, repo_access
		FROM scheduled_tasks WHERE id = ?
	`, id)
	return scanScheduledTask(row)
}

func scanScheduledTask(row rowScanner) (*models.ScheduledTask, error) {
	var t models.ScheduledTask
	var lastRun sql.NullTime
	if err := row.Scan(&t.ID, &t.GroupFolder, &t.ChatJID, &t.Prompt, &t.ScheduleType, &t.ScheduleValue, &t.NextRun, &lastRun, &t.LastResult, &t.Status, &t.ContextMode, &t.RepoAccess); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t.LastRun = &lastRun.Time
	}
	return &t, nil
}

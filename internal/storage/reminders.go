package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "tasks/internal/errors"
)

// Reminder is the persisted alarm of a task. A task has at most one.
type Reminder struct {
	ID     string
	TaskID int64
	FireAt time.Time
	Fired  bool
}

// UpsertReminder arms the reminder of taskID for fireAt, replacing any
// earlier one and clearing its fired flag.
func (s *Store) UpsertReminder(ctx context.Context, taskID int64, fireAt time.Time) (Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reminder{}, apperrors.NewDatabaseError("upsert reminder", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?;`, taskID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, apperrors.NewNotFoundError("task", fmt.Sprintf("%d", taskID))
	}
	if err != nil {
		return Reminder{}, apperrors.NewDatabaseError("upsert reminder", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO reminders (id, task_id, fire_at, fired) VALUES (?, ?, ?, 0)
ON CONFLICT(task_id) DO UPDATE SET fire_at = excluded.fire_at, fired = 0;`,
		uuid.NewString(), taskID, formatTime(fireAt))
	if err != nil {
		return Reminder{}, apperrors.NewDatabaseError("upsert reminder", err)
	}

	r, err := scanReminder(tx.QueryRowContext(ctx,
		`SELECT id, task_id, fire_at, fired FROM reminders WHERE task_id = ?;`, taskID))
	if err != nil {
		return Reminder{}, apperrors.NewDatabaseError("upsert reminder", err)
	}
	if err := tx.Commit(); err != nil {
		return Reminder{}, apperrors.NewDatabaseError("upsert reminder", err)
	}
	return r, nil
}

// PendingReminders lists unfired reminders, earliest first.
func (s *Store) PendingReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, fire_at, fired FROM reminders WHERE fired = 0 ORDER BY fire_at, task_id;`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list reminders", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("list reminders", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list reminders", err)
	}
	return out, nil
}

func (s *Store) MarkFired(ctx context.Context, reminderID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET fired = 1 WHERE id = ?;`, reminderID)
	if err != nil {
		return apperrors.NewDatabaseError("mark reminder fired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("mark reminder fired", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("reminder", reminderID)
	}
	return nil
}

// RemoteID returns the id a remote provider uses for taskID.
func (s *Store) RemoteID(ctx context.Context, taskID int64, provider string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT remote_id FROM remote_links WHERE task_id = ? AND provider = ?;`, taskID, provider).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewDatabaseError("find remote link", err)
	}
	return id, true, nil
}

func (s *Store) SetRemoteID(ctx context.Context, taskID int64, provider, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO remote_links (task_id, provider, remote_id) VALUES (?, ?, ?)
ON CONFLICT(task_id, provider) DO UPDATE SET remote_id = excluded.remote_id;`,
		taskID, provider, remoteID)
	if err != nil {
		return apperrors.NewDatabaseError("save remote link", err)
	}
	return nil
}

func scanReminder(row scanner) (Reminder, error) {
	var r Reminder
	var fireStr string
	var fired int
	if err := row.Scan(&r.ID, &r.TaskID, &fireStr, &fired); err != nil {
		return Reminder{}, err
	}
	r.FireAt = parseTime(fireStr)
	r.Fired = fired == 1
	return r, nil
}

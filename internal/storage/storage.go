package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "tasks/internal/errors"
)

// Task is one row of the tasks table. ID 0 means the task has not been
// inserted yet.
type Task struct {
	ID        int64
	Title     string
	Body      string
	Due       time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store struct {
	db  *sql.DB
	hub *hub
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.NewDatabaseError("open database", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, hub: newHub()}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, apperrors.NewDatabaseError("ensure schema", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.hub.closeAll()
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	due TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	task_id INTEGER NOT NULL UNIQUE,
	fire_at TEXT NOT NULL,
	fired INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS remote_links (
	task_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	PRIMARY KEY (task_id, provider)
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}
	return s.ensureTaskColumns()
}

// ensureTaskColumns upgrades databases created before the body and
// updated_at columns existed.
func (s *Store) ensureTaskColumns() error {
	required := map[string]string{
		"body":       "ALTER TABLE tasks ADD COLUMN body TEXT NOT NULL DEFAULT '';",
		"updated_at": "ALTER TABLE tasks ADD COLUMN updated_at TEXT NOT NULL DEFAULT '';",
	}
	existing := map[string]struct{}{}
	rows, err := s.db.Query(`PRAGMA table_info(tasks);`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for col, alter := range required {
		if _, ok := existing[col]; ok {
			continue
		}
		if _, err := s.db.Exec(alter); err != nil {
			return err
		}
	}
	return nil
}

// Insert stores a new task and returns the id the database assigned to it.
// t.ID is ignored.
func (s *Store) Insert(ctx context.Context, t Task) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (title, body, due, created_at, updated_at) VALUES (?, ?, ?, ?, ?);`,
		t.Title, t.Body, formatTime(t.Due), now, now)
	if err != nil {
		return 0, apperrors.NewDatabaseError("insert task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.NewDatabaseError("insert task", err)
	}
	s.hub.publish(Change{TaskID: id})
	return id, nil
}

// Update writes title, body and due of the row t.ID and reports how many
// rows were affected. Callers decide what a count other than one means.
func (s *Store) Update(ctx context.Context, t Task) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, body = ?, due = ?, updated_at = ? WHERE id = ?;`,
		t.Title, t.Body, formatTime(t.Due), formatTime(time.Now()), t.ID)
	if err != nil {
		return 0, apperrors.NewDatabaseError("update task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("update task", err)
	}
	if n > 0 {
		s.hub.publish(Change{TaskID: t.ID})
	}
	return n, nil
}

// Find returns the task with the given id. The boolean is false when no
// row matches.
func (s *Store) Find(ctx context.Context, id int64) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, due, created_at, updated_at FROM tasks WHERE id = ?;`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, apperrors.NewDatabaseError("find task", err)
	}
	return t, true, nil
}

// Get is Find for callers that treat a missing row as an error.
func (s *Store) Get(ctx context.Context, id int64) (Task, error) {
	t, ok, err := s.Find(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if !ok {
		return Task{}, apperrors.NewNotFoundError("task", fmt.Sprintf("%d", id))
	}
	return t, nil
}

func (s *Store) List(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, due, created_at, updated_at FROM tasks ORDER BY due, id;`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list tasks", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("list tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list tasks", err)
	}
	return tasks, nil
}

// Delete removes a task together with its reminder and remote links.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("delete task", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
	if err != nil {
		return apperrors.NewDatabaseError("delete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("delete task", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("task", fmt.Sprintf("%d", id))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE task_id = ?;`, id); err != nil {
		return apperrors.NewDatabaseError("delete reminders", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM remote_links WHERE task_id = ?;`, id); err != nil {
		return apperrors.NewDatabaseError("delete remote links", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("delete task", err)
	}
	s.hub.publish(Change{TaskID: id})
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var t Task
	var dueStr, createdStr, updatedStr string
	if err := row.Scan(&t.ID, &t.Title, &t.Body, &dueStr, &createdStr, &updatedStr); err != nil {
		return Task{}, err
	}
	t.Due = parseTime(dueStr)
	t.CreatedAt = parseTime(createdStr)
	t.UpdatedAt = parseTime(updatedStr)
	return t, nil
}

// timeLayout keeps a fixed number of fraction digits so stored times sort
// as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime returns the zero time for empty or malformed values, which
// older rows may carry.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return parsed.Local()
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}

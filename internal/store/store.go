// Package store provides SQLite-backed persistence for CalmPlan.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/calmplan/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to the CalmPlan SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode so readers don't block the single writer
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		notes TEXT,
		category TEXT NOT NULL DEFAULT '',
		client_id TEXT,
		client_name TEXT,
		reporting_month TEXT,
		status TEXT NOT NULL DEFAULT 'not_started',
		process_steps TEXT,
		due_date TEXT,
		scheduled_start DATETIME,
		scheduled_end DATETIME,
		attachments TEXT,
		completion_feedback TEXT,
		auto_created INTEGER NOT NULL DEFAULT 0,
		source_task_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		services TEXT,
		attributes TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config_records (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_client_period ON tasks(client_name, reporting_month);
	CREATE INDEX IF NOT EXISTS idx_config_records_key ON config_records(key);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// TaskFilter selects tasks by field equality. Empty fields match everything.
type TaskFilter struct {
	ClientName     string
	ReportingMonth string
	Status         string
	Category       string
}

const taskColumns = `id, title, description, notes, category, client_id, client_name, reporting_month,
	status, process_steps, due_date, scheduled_start, scheduled_end, attachments,
	completion_feedback, auto_created, source_task_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var task models.Task
	var description, notes, clientID, clientName, month, steps, due, attachments, feedback, source sql.NullString
	var start, end sql.NullTime
	var auto int

	err := row.Scan(&task.ID, &task.Title, &description, &notes, &task.Category, &clientID, &clientName, &month,
		&task.Status, &steps, &due, &start, &end, &attachments,
		&feedback, &auto, &source, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return task, err
	}

	task.Description = description.String
	task.Notes = notes.String
	task.ClientID = clientID.String
	task.ClientName = clientName.String
	task.ReportingMonth = month.String
	task.DueDate = due.String
	task.SourceTaskID = source.String
	task.AutoCreated = auto != 0
	if start.Valid {
		t := start.Time
		task.ScheduledStart = &t
	}
	if end.Valid {
		t := end.Time
		task.ScheduledEnd = &t
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &task.ProcessSteps); err != nil {
			return task, fmt.Errorf("decode process_steps: %w", err)
		}
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &task.Attachments); err != nil {
			return task, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if feedback.Valid && feedback.String != "" {
		if err := json.Unmarshal([]byte(feedback.String), &task.CompletionFeedback); err != nil {
			return task, fmt.Errorf("decode completion_feedback: %w", err)
		}
	}
	return task, nil
}

func encodeJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

type taskColumnsValues struct {
	steps, attachments, feedback sql.NullString
}

func encodeTaskColumns(task *models.Task) (taskColumnsValues, error) {
	var v taskColumnsValues
	var err error
	if v.steps, err = encodeJSON(task.ProcessSteps, task.ProcessSteps == nil); err != nil {
		return v, fmt.Errorf("encode process_steps: %w", err)
	}
	if v.attachments, err = encodeJSON(task.Attachments, len(task.Attachments) == 0); err != nil {
		return v, fmt.Errorf("encode attachments: %w", err)
	}
	if v.feedback, err = encodeJSON(task.CompletionFeedback, len(task.CompletionFeedback) == 0); err != nil {
		return v, fmt.Errorf("encode completion_feedback: %w", err)
	}
	return v, nil
}

// CreateTask inserts a new task. ID and timestamps are assigned here; the
// status defaults to not_started.
func (s *Store) CreateTask(ctx context.Context, draft models.Task) (*models.Task, error) {
	now := time.Now().UTC()
	task := draft.Clone()
	task.ID = uuid.New().String()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.TaskStatusNotStarted
	}

	cols, err := encodeTaskColumns(&task)
	if err != nil {
		return nil, err
	}

	auto := 0
	if task.AutoCreated {
		auto = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Notes, task.Category, task.ClientID, task.ClientName, task.ReportingMonth,
		task.Status, cols.steps, task.DueDate, nullTime(task.ScheduledStart), nullTime(task.ScheduledEnd), cols.attachments,
		cols.feedback, auto, task.SourceTaskID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return &task, nil
}

// GetTask retrieves a task by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return &task, nil
}

// ListTasks returns tasks matching filter ordered by due date, then creation.
// limit <= 0 means no limit.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter, limit int) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var where []string
	var args []any

	if filter.ClientName != "" {
		where = append(where, "client_name = ?")
		args = append(args, filter.ClientName)
	}
	if filter.ReportingMonth != "" {
		where = append(where, "reporting_month = ?")
		args = append(args, filter.ReportingMonth)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY COALESCE(NULLIF(due_date, ''), '9999-12-31'), created_at`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask applies patch to the stored task inside one transaction and
// returns the updated task.
func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	patch.Apply(&task)
	task.UpdatedAt = time.Now().UTC()

	cols, err := encodeTaskColumns(&task)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, notes = ?, category = ?, client_id = ?, client_name = ?,
		 reporting_month = ?, status = ?, process_steps = ?, due_date = ?, scheduled_start = ?, scheduled_end = ?,
		 attachments = ?, completion_feedback = ?, updated_at = ? WHERE id = ?`,
		task.Title, task.Description, task.Notes, task.Category, task.ClientID, task.ClientName,
		task.ReportingMonth, task.Status, cols.steps, task.DueDate, nullTime(task.ScheduledStart), nullTime(task.ScheduledEnd),
		cols.attachments, cols.feedback, task.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &task, nil
}

// DeleteTask removes a task. Returns ErrNotFound if nothing was deleted.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

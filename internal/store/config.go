package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/calmplan/internal/models"
	"github.com/google/uuid"
)

// --- Config Record Operations ---

// ListConfigs returns config records with the given key, oldest first.
// An empty key lists every record. limit <= 0 means no limit.
func (s *Store) ListConfigs(ctx context.Context, key string, limit int) ([]models.ConfigRecord, error) {
	query := `SELECT id, key, data, created_at, updated_at FROM config_records`
	var args []any
	if key != "" {
		query += ` WHERE key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query config records: %w", err)
	}
	defer rows.Close()

	var records []models.ConfigRecord
	for rows.Next() {
		var rec models.ConfigRecord
		var data string
		if err := rows.Scan(&rec.ID, &rec.Key, &data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan config record: %w", err)
		}
		rec.Data = []byte(data)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateConfig inserts a config record and returns it with its new ID.
func (s *Store) CreateConfig(ctx context.Context, key string, data []byte) (*models.ConfigRecord, error) {
	now := time.Now().UTC()
	rec := &models.ConfigRecord{
		ID:        uuid.New().String(),
		Key:       key,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_records (id, key, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Key, string(rec.Data), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert config record: %w", err)
	}
	return rec, nil
}

// UpdateConfig replaces the data of an existing config record.
func (s *Store) UpdateConfig(ctx context.Context, id string, data []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE config_records SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update config record: %w", err)
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

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TaskID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent decision records for a task, newest first.
func (s *Store) ListPDR(taskID string, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM pdr WHERE task_id = ? ORDER BY timestamp DESC LIMIT ?`,
		taskID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var task, details *string
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &task, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		if task != nil {
			e.TaskID = *task
		}
		if details != nil {
			e.Details = *details
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

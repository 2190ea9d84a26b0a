package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fentz26/calmplan/internal/kvstate"
)

// Durable state keys.
const (
	KeyLastBackupTime    = "last_backup_time"
	KeyLastLocalBackup   = "last_local_backup"
	KeyBackupErrors      = "backup_errors"
	KeyAutoBackupEnabled = "auto_backup_enabled"
)

// StateStore holds string key/value pairs across sessions. Get returns
// kvstate.ErrNotFound for absent keys.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type state struct {
	store     StateStore
	maxErrors int
}

func (s state) getTime(ctx context.Context, key string) (*time.Time, error) {
	v, err := s.store.Get(ctx, key)
	if errors.Is(err, kvstate.ErrNotFound) || (err == nil && v == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return &t, nil
}

func (s state) setTime(ctx context.Context, key string, t time.Time) error {
	return s.store.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

func (s state) errors(ctx context.Context) ([]ErrorEntry, error) {
	v, err := s.store.Get(ctx, KeyBackupErrors)
	if errors.Is(err, kvstate.ErrNotFound) || (err == nil && v == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []ErrorEntry
	if err := json.Unmarshal([]byte(v), &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyBackupErrors, err)
	}
	return entries, nil
}

// appendError records e, keeping only the newest maxErrors entries.
func (s state) appendError(ctx context.Context, e ErrorEntry) error {
	entries, err := s.errors(ctx)
	if err != nil {
		// A corrupt log is replaced rather than blocking new entries.
		entries = nil
	}
	entries = append(entries, e)
	if s.maxErrors > 0 && len(entries) > s.maxErrors {
		entries = entries[len(entries)-s.maxErrors:]
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, KeyBackupErrors, string(data))
}

func (s state) clearErrors(ctx context.Context) error {
	return s.store.Set(ctx, KeyBackupErrors, "[]")
}

// autoEnabled defaults to true when the flag was never written.
func (s state) autoEnabled(ctx context.Context) (bool, error) {
	v, err := s.store.Get(ctx, KeyAutoBackupEnabled)
	if errors.Is(err, kvstate.ErrNotFound) || (err == nil && v == "") {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true, fmt.Errorf("parse %s: %w", KeyAutoBackupEnabled, err)
	}
	return enabled, nil
}

func (s state) setAutoEnabled(ctx context.Context, enabled bool) error {
	return s.store.Set(ctx, KeyAutoBackupEnabled, strconv.FormatBool(enabled))
}

// Package backup monitors backup freshness and runs backups: a local SQLite
// snapshot archive plus a JSON export uploaded to cloud storage.
package backup

import (
	"time"
)

// Status is the backup health state.
type Status string

const (
	StatusDisabled  Status = "disabled"
	StatusChecking  Status = "checking"
	StatusBackingUp Status = "backing_up"
	StatusOK        Status = "ok"
	StatusWarning   Status = "warning"
	StatusOverdue   Status = "overdue"
	StatusError     Status = "error"
)

// AllStatuses lists every status.
var AllStatuses = []Status{
	StatusDisabled, StatusChecking, StatusBackingUp, StatusOK, StatusWarning, StatusOverdue, StatusError,
}

// Health is the monitor's current view, published to subscribers.
type Health struct {
	Status     Status       `json:"status"`
	Message    string       `json:"message"`
	LastBackup *time.Time   `json:"last_backup,omitempty"`
	LastLocal  *time.Time   `json:"last_local_backup,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
	Errors     []ErrorEntry `json:"recent_errors,omitempty"`
}

// ErrorEntry is one failed backup attempt.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Config holds the monitor's thresholds and schedule.
type Config struct {
	// Interval between ticks.
	Interval time.Duration `yaml:"interval"`
	// StartupDelay before the first tick.
	StartupDelay time.Duration `yaml:"startup_delay"`
	// BackupAfter is how old the last backup may get before a tick backs up.
	BackupAfter time.Duration `yaml:"backup_after"`
	// OverdueAfter classifies the backup as overdue during work hours.
	OverdueAfter time.Duration `yaml:"overdue_after"`
	// WarningWindow is how recent an error must be to raise a warning.
	WarningWindow time.Duration `yaml:"warning_window"`
	// WorkHoursStart and WorkHoursEnd bound the overdue window [start, end)
	// in local hours.
	WorkHoursStart int `yaml:"work_hours_start"`
	WorkHoursEnd   int `yaml:"work_hours_end"`
	// MaxErrors caps the persisted error log.
	MaxErrors int `yaml:"max_errors"`
	// SnapshotDir receives local snapshot archives.
	SnapshotDir string `yaml:"snapshot_dir"`
	// KeepSnapshots is how many local archives to retain; 0 keeps all.
	KeepSnapshots int `yaml:"keep_snapshots"`
	// AttemptTimeout bounds one backup attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Minute,
		StartupDelay:   10 * time.Second,
		BackupAfter:    time.Hour,
		OverdueAfter:   2 * time.Hour,
		WarningWindow:  time.Hour,
		WorkHoursStart: 7,
		WorkHoursEnd:   22,
		MaxErrors:      10,
		KeepSnapshots:  14,
		AttemptTimeout: 5 * time.Minute,
	}
}

// InWorkHours reports whether t's local hour falls in the work window.
func (c Config) InWorkHours(t time.Time) bool {
	h := t.Hour()
	return h >= c.WorkHoursStart && h < c.WorkHoursEnd
}

// Classify derives the health status when no backup is attempted: warning
// for a recent error, overdue for a stale backup during work hours, ok
// otherwise. A nil lastBackup counts as infinitely stale.
func Classify(now time.Time, lastBackup *time.Time, errors []ErrorEntry, cfg Config) Status {
	for _, e := range errors {
		if now.Sub(e.Time) < cfg.WarningWindow {
			return StatusWarning
		}
	}
	stale := lastBackup == nil || now.Sub(*lastBackup) > cfg.OverdueAfter
	if stale && cfg.InWorkHours(now) {
		return StatusOverdue
	}
	return StatusOK
}

// Due reports whether a tick at now should attempt a backup.
func Due(now time.Time, lastBackup *time.Time, cfg Config) bool {
	return lastBackup == nil || now.Sub(*lastBackup) >= cfg.BackupAfter
}

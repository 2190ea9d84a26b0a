package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/calmplan/internal/audit"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/telemetry"
)

// Deps are the monitor's collaborators. Uploader may be nil when no cloud
// store is configured; the monitor then reports disabled.
type Deps struct {
	State     StateStore
	Snapshots Snapshotter
	Exporter  Exporter
	Uploader  Uploader
	Publisher notify.Publisher
	Audit     audit.Recorder
	Logger    *slog.Logger
}

// Monitor tracks backup freshness and performs backups on a timer.
type Monitor struct {
	cfg   Config
	deps  Deps
	state state
	log   *slog.Logger
	now   func() time.Time

	mu     sync.Mutex
	health Health
	// attempt serialises backup attempts.
	attempt sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. Zero durations in cfg take their defaults.
func NewMonitor(cfg Config, deps Deps) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BackupAfter <= 0 {
		cfg.BackupAfter = def.BackupAfter
	}
	if cfg.OverdueAfter <= 0 {
		cfg.OverdueAfter = def.OverdueAfter
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = def.WarningWindow
	}
	if cfg.WorkHoursStart == 0 && cfg.WorkHoursEnd == 0 {
		cfg.WorkHoursStart, cfg.WorkHoursEnd = def.WorkHoursStart, def.WorkHoursEnd
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		cfg:    cfg,
		deps:   deps,
		state:  state{store: deps.State, maxErrors: cfg.MaxErrors},
		log:    logger.With("component", "backup"),
		now:    time.Now,
		health: Health{Status: StatusChecking},
	}
}

// Health returns the current health.
func (m *Monitor) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *Monitor) setHealth(h Health) {
	h.CheckedAt = m.now()

	m.mu.Lock()
	prev := m.health.Status
	m.health = h
	m.mu.Unlock()

	for _, s := range AllStatuses {
		v := 0.0
		if s == h.Status {
			v = 1
		}
		telemetry.BackupStatus.WithLabelValues(string(s)).Set(v)
	}
	if h.LastBackup != nil {
		telemetry.BackupLastSuccess.Set(float64(h.LastBackup.Unix()))
	}

	if prev != h.Status {
		m.log.Info("backup status changed", "from", prev, "to", h.Status, "message", h.Message)
	}
	if m.deps.Publisher != nil {
		m.deps.Publisher.Publish(notify.Event{Collection: notify.CollectionBackup, Type: notify.TypeStatus})
	}
}

// Tick evaluates the state machine once: disabled, a backup attempt when
// the last backup is at least BackupAfter old, or a classification.
func (m *Monitor) Tick(ctx context.Context) Health {
	m.setHealth(Health{Status: StatusChecking, Message: "בודק מצב גיבוי"})

	if h, disabled := m.disabledHealth(ctx); disabled {
		m.setHealth(h)
		return h
	}

	now := m.now()
	last, err := m.state.getTime(ctx, KeyLastBackupTime)
	if err != nil {
		m.log.Warn("reading last backup time failed", "error", err)
	}

	if Due(now, last, m.cfg) {
		return m.runBackup(ctx)
	}

	errs, err := m.state.errors(ctx)
	if err != nil {
		m.log.Warn("reading backup error log failed", "error", err)
	}
	local, _ := m.state.getTime(ctx, KeyLastLocalBackup)

	status := Classify(now, last, errs, m.cfg)
	h := Health{
		Status:     status,
		Message:    classifyMessage(status, now, last),
		LastBackup: last,
		LastLocal:  local,
		Errors:     errs,
	}
	m.setHealth(h)
	return h
}

// BackupNow attempts a backup regardless of when the last one ran.
func (m *Monitor) BackupNow(ctx context.Context) Health {
	if h, disabled := m.disabledHealth(ctx); disabled {
		m.setHealth(h)
		return h
	}
	return m.runBackup(ctx)
}

// SetAutoBackup persists the auto-backup flag and re-evaluates.
func (m *Monitor) SetAutoBackup(ctx context.Context, enabled bool) error {
	if err := m.state.setAutoEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("set auto backup: %w", err)
	}
	m.log.Info("auto backup toggled", "enabled", enabled)
	if !enabled {
		m.setHealth(Health{Status: StatusDisabled, Message: "גיבוי אוטומטי כבוי"})
	}
	return nil
}

func (m *Monitor) disabledHealth(ctx context.Context) (Health, bool) {
	enabled, err := m.state.autoEnabled(ctx)
	if err != nil {
		m.log.Warn("reading auto backup flag failed, assuming enabled", "error", err)
	}
	if !enabled {
		return Health{Status: StatusDisabled, Message: "גיבוי אוטומטי כבוי"}, true
	}
	if m.deps.Uploader == nil {
		return Health{Status: StatusDisabled, Message: "אחסון ענן לא מוגדר"}, true
	}
	return Health{}, false
}

// runBackup writes the local snapshot and uploads the export concurrently.
// Only the upload decides the outcome.
func (m *Monitor) runBackup(ctx context.Context) Health {
	m.attempt.Lock()
	defer m.attempt.Unlock()

	m.setHealth(Health{Status: StatusBackingUp, Message: "מגבה..."})

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
	defer cancel()

	now := m.now()
	var g errgroup.Group

	g.Go(func() error {
		if m.deps.Snapshots == nil || m.cfg.SnapshotDir == "" {
			return nil
		}
		archive, err := WriteLocalSnapshot(ctx, m.deps.Snapshots, m.cfg.SnapshotDir, now)
		if err != nil {
			m.log.Warn("local snapshot failed", "error", err)
			telemetry.BackupAttempts.WithLabelValues("local", "failure").Inc()
			return nil
		}
		telemetry.BackupAttempts.WithLabelValues("local", "success").Inc()
		if err := m.state.setTime(ctx, KeyLastLocalBackup, now); err != nil {
			m.log.Warn("recording local snapshot time failed", "error", err)
		}
		if removed, err := PruneSnapshots(m.cfg.SnapshotDir, m.cfg.KeepSnapshots); err != nil {
			m.log.Warn("pruning snapshots failed", "error", err)
		} else if removed > 0 {
			m.log.Debug("pruned old snapshots", "removed", removed)
		}
		m.log.Info("local snapshot written", "path", archive)
		return nil
	})

	g.Go(func() error {
		if m.deps.Exporter == nil {
			return fmt.Errorf("no exporter configured")
		}
		data, err := m.deps.Exporter.ExportJSON(ctx)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		name := "calmplan-" + now.UTC().Format("20060102-150405") + ".json"
		if err := m.deps.Uploader.Upload(ctx, name, data); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		return nil
	})

	cloudErr := g.Wait()
	local, _ := m.state.getTime(ctx, KeyLastLocalBackup)

	if cloudErr != nil {
		telemetry.BackupAttempts.WithLabelValues("cloud", "failure").Inc()
		m.log.Error("cloud backup failed", "error", cloudErr)
		if err := m.state.appendError(ctx, ErrorEntry{Time: now, Message: cloudErr.Error()}); err != nil {
			m.log.Warn("recording backup error failed", "error", err)
		}
		last, _ := m.state.getTime(ctx, KeyLastBackupTime)
		errs, _ := m.state.errors(ctx)
		m.record(audit.OutcomeFailure, map[string]string{"error": cloudErr.Error()})

		h := Health{
			Status:     StatusError,
			Message:    "הגיבוי נכשל: " + cloudErr.Error(),
			LastBackup: last,
			LastLocal:  local,
			Errors:     errs,
		}
		m.setHealth(h)
		return h
	}

	telemetry.BackupAttempts.WithLabelValues("cloud", "success").Inc()
	if err := m.state.setTime(ctx, KeyLastBackupTime, now); err != nil {
		m.log.Warn("recording backup time failed", "error", err)
	}
	if err := m.state.clearErrors(ctx); err != nil {
		m.log.Warn("clearing backup errors failed", "error", err)
	}
	m.record(audit.OutcomeSuccess, nil)
	m.log.Info("cloud backup completed")

	h := Health{
		Status:     StatusOK,
		Message:    "גובה בהצלחה",
		LastBackup: &now,
		LastLocal:  local,
	}
	m.setHealth(h)
	return h
}

func (m *Monitor) record(outcome string, details map[string]string) {
	if m.deps.Audit == nil {
		return
	}
	if _, err := m.deps.Audit.Record(audit.ActionBackupRun, m.now().Unix(), outcome, "", details); err != nil {
		m.log.Warn("recording audit entry failed", "error", err)
	}
}

func classifyMessage(status Status, now time.Time, last *time.Time) string {
	switch status {
	case StatusWarning:
		return "שגיאת גיבוי בשעה האחרונה"
	case StatusOverdue:
		if last == nil {
			return "לא בוצע גיבוי"
		}
		return fmt.Sprintf("הגיבוי האחרון לפני %.0f שעות", now.Sub(*last).Hours())
	default:
		return "הגיבוי תקין"
	}
}

// Start runs Tick once after StartupDelay and then every Interval until
// Stop is called.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	ctx := m.ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
	m.log.Info("backup monitor started", "interval", m.cfg.Interval, "startup_delay", m.cfg.StartupDelay)
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.log.Info("backup monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.StartupDelay):
		m.Tick(ctx)
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

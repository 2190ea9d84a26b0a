package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fentz26/calmplan/internal/audit"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/process"
	"github.com/fentz26/calmplan/internal/store"
	"github.com/fentz26/calmplan/internal/telemetry"
)

// Entry points, used as metric and span labels.
const (
	EntryUpdateTask = "update_task"
	EntryUpdateStep = "update_step"
)

// TaskStore is the durable system of record for tasks.
type TaskStore interface {
	ListTasks(ctx context.Context, filter store.TaskFilter, limit int) ([]models.Task, error)
	CreateTask(ctx context.Context, draft models.Task) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Outcome reports what one orchestration call did. Failures are carried in
// Err and logged; they are never returned as errors.
type Outcome struct {
	Found      bool `json:"found"`
	Applied    bool `json:"applied"`
	RolledBack bool `json:"rolled_back"`
	// StatusDerived is the cascade status that was applied, if any.
	StatusDerived *models.TaskStatus `json:"status_derived,omitempty"`
	Task          *models.Task       `json:"task,omitempty"`
	Created       []models.Task      `json:"created,omitempty"`
	// Skipped holds draft titles dropped because they already existed.
	Skipped []string `json:"skipped,omitempty"`
	Err     error    `json:"-"`
}

// Coordinator applies user changes to the in-memory task set and the store,
// running the cascade on every change.
type Coordinator struct {
	engine *Engine
	store  TaskStore
	tasks  *TaskSet
	bus    notify.Publisher
	audit  audit.Recorder
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEngine sets the cascade engine.
func WithEngine(e *Engine) Option { return func(c *Coordinator) { c.engine = e } }

// WithPublisher sets where change notifications go.
func WithPublisher(p notify.Publisher) Option { return func(c *Coordinator) { c.bus = p } }

// WithAudit sets the decision recorder.
func WithAudit(r audit.Recorder) Option { return func(c *Coordinator) { c.audit = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// NewCoordinator creates a coordinator over s with an empty task set; call
// Load to fill it.
func NewCoordinator(s TaskStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  s,
		tasks:  NewTaskSet(nil),
		tracer: otel.Tracer("github.com/fentz26/calmplan/internal/cascade"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.engine == nil {
		c.engine = defaultEngine
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "cascade")
	return c
}

// Engine returns the coordinator's engine.
func (c *Coordinator) Engine() *Engine { return c.engine }

// Tasks returns the in-memory task set.
func (c *Coordinator) Tasks() *TaskSet { return c.tasks }

// Load replaces the in-memory set with the store's tasks.
func (c *Coordinator) Load(ctx context.Context) error {
	tasks, err := c.store.ListTasks(ctx, store.TaskFilter{}, 0)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	c.tasks.Replace(tasks)
	c.logger.Info("tasks loaded", "count", len(tasks))
	return nil
}

// UpdateTaskWithCascade merges patch into the task, runs the cascade and
// persists the result. An explicit status in patch wins over the derived one.
func (c *Coordinator) UpdateTaskWithCascade(ctx context.Context, id string, patch models.TaskPatch) Outcome {
	ctx, span := c.tracer.Start(ctx, "cascade."+EntryUpdateTask, trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.CascadeDuration.WithLabelValues(EntryUpdateTask).Observe(time.Since(start).Seconds())
	}()

	prior, ok := c.tasks.Get(id)
	if !ok {
		c.logger.Debug("update for unknown task ignored", "task_id", id)
		telemetry.CascadeOperations.WithLabelValues(EntryUpdateTask, "not_found").Inc()
		return Outcome{}
	}
	return c.apply(ctx, span, EntryUpdateTask, prior, patch)
}

// UpdateStepWithCascade flips one checklist step and runs the cascade. A task
// without a checklist gets its category's template first.
func (c *Coordinator) UpdateStepWithCascade(ctx context.Context, id, stepKey string) Outcome {
	ctx, span := c.tracer.Start(ctx, "cascade."+EntryUpdateStep, trace.WithAttributes(
		attribute.String("task.id", id),
		attribute.String("step.key", stepKey),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.CascadeDuration.WithLabelValues(EntryUpdateStep).Observe(time.Since(start).Seconds())
	}()

	prior, ok := c.tasks.Get(id)
	if !ok {
		c.logger.Debug("step toggle for unknown task ignored", "task_id", id, "step", stepKey)
		telemetry.CascadeOperations.WithLabelValues(EntryUpdateStep, "not_found").Inc()
		return Outcome{}
	}

	steps := prior.ProcessSteps
	if len(steps) == 0 {
		steps = c.engine.registry.InitialSteps(prior.Category)
	}
	next := process.ToggleStep(steps, stepKey)
	return c.apply(ctx, span, EntryUpdateStep, prior, models.TaskPatch{ProcessSteps: &next})
}

func (c *Coordinator) apply(ctx context.Context, span trace.Span, entry string, prior models.Task, patch models.TaskPatch) Outcome {
	out := Outcome{Found: true}
	log := c.logger.With("entry", entry, "task_id", prior.ID)

	merged := prior.Clone()
	patch.Apply(&merged)

	siblings := Siblings(merged, c.tasks.All())
	res := c.engine.ProcessTaskCascade(merged, merged.ProcessSteps, siblings)

	final := patch.Clone()
	if !patch.HasStatus() && res.StatusUpdate != nil {
		final.Status = models.StatusPtr(*res.StatusUpdate)
		out.StatusDerived = models.StatusPtr(*res.StatusUpdate)
	}
	effective := merged.Status
	if final.Status != nil {
		effective = *final.Status
	}
	if !unlocksDependents(prior.Status, effective) {
		res.TasksToCreate = nil
	}

	// Optimistic apply, then persist; restore the snapshot on failure.
	snapshot := prior.Clone()
	optimistic := prior.Clone()
	final.Apply(&optimistic)
	optimistic.UpdatedAt = c.now().UTC()
	c.tasks.Put(optimistic)

	saved, err := c.store.UpdateTask(ctx, prior.ID, final)
	if err != nil {
		c.tasks.Put(snapshot)
		out.RolledBack = true
		out.Err = err
		log.Error("persisting task failed, rolled back", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		telemetry.CascadeOperations.WithLabelValues(entry, "rolled_back").Inc()
		c.record(audit.ActionTaskCascade, prior.ID, final, audit.OutcomeRolledBack, map[string]string{"entry": entry, "error": err.Error()})
		return out
	}
	c.tasks.Put(*saved)
	out.Applied = true
	out.Task = saved

	if len(res.TasksToCreate) > 0 {
		known := c.tasks.Titles()
		for _, draft := range res.TasksToCreate {
			if known[draft.Title] {
				out.Skipped = append(out.Skipped, draft.Title)
				telemetry.CascadeDuplicatesSkipped.Inc()
				continue
			}
			known[draft.Title] = true

			created, err := c.store.CreateTask(ctx, draft)
			if err != nil {
				log.Warn("creating dependent task failed", "title", draft.Title, "error", err)
				span.RecordError(err)
				continue
			}
			c.tasks.Put(*created)
			out.Created = append(out.Created, *created)
			telemetry.CascadeTasksCreated.Inc()
			log.Info("dependent task created", "new_task_id", created.ID, "category", created.Category)
		}
	}

	status := string(saved.Status)
	span.SetAttributes(
		attribute.String("task.status", status),
		attribute.Int("cascade.created", len(out.Created)),
	)
	telemetry.CascadeOperations.WithLabelValues(entry, "applied").Inc()

	details := map[string]string{
		"entry":   entry,
		"status":  status,
		"created": strconv.Itoa(len(out.Created)),
	}
	if out.StatusDerived != nil {
		details["derived"] = "true"
	}
	c.record(audit.ActionTaskCascade, prior.ID, final, audit.OutcomeSuccess, details)

	c.publish()
	log.Debug("cascade applied", "status", status, "created", len(out.Created), "skipped", len(out.Skipped))
	return out
}

// Create persists a user-created task. An empty checklist is initialised
// from the category's template.
func (c *Coordinator) Create(ctx context.Context, draft models.Task) (*models.Task, error) {
	if len(draft.ProcessSteps) == 0 {
		draft.ProcessSteps = c.engine.registry.InitialSteps(draft.Category)
	}
	created, err := c.store.CreateTask(ctx, draft)
	if err != nil {
		return nil, err
	}
	c.tasks.Put(*created)
	c.record(audit.ActionTaskCreate, created.ID, draft, audit.OutcomeSuccess, map[string]string{"category": created.Category})
	c.publish()
	return created, nil
}

// Delete removes a task from the store and the in-memory set.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.tasks.Remove(id)
	c.record(audit.ActionTaskDelete, id, id, audit.OutcomeSuccess, nil)
	c.publish()
	return nil
}

func (c *Coordinator) record(action, taskID string, inputs any, outcome string, details map[string]string) {
	if c.audit == nil {
		return
	}
	if _, err := c.audit.Record(action, inputs, outcome, taskID, details); err != nil {
		c.logger.Warn("recording audit entry failed", "action", action, "error", err)
	}
}

func (c *Coordinator) publish() {
	if c.bus != nil {
		c.bus.Publish(notify.Event{Collection: notify.CollectionTasks, Type: notify.TypeChanged})
	}
}

// unlocksDependents reports whether an update moving a task from prior to
// final status may create dependent tasks: only the transition into
// completed does.
func unlocksDependents(prior, final models.TaskStatus) bool {
	return final == models.TaskStatusCompleted && prior != models.TaskStatusCompleted
}

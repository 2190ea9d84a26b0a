package cascade

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/calmplan/internal/audit"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/process"
	"github.com/fentz26/calmplan/internal/store"
)

// flakyStore wraps the SQLite store and fails writes on demand.
type flakyStore struct {
	*store.Store
	mu          sync.Mutex
	failUpdate  bool
	failCreate  bool
	createCalls int
}

var errWriteRejected = errors.New("write rejected")

func (f *flakyStore) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	f.mu.Lock()
	fail := f.failUpdate
	f.mu.Unlock()
	if fail {
		return nil, errWriteRejected
	}
	return f.Store.UpdateTask(ctx, id, patch)
}

func (f *flakyStore) CreateTask(ctx context.Context, draft models.Task) (*models.Task, error) {
	f.mu.Lock()
	f.createCalls++
	fail := f.failCreate
	f.mu.Unlock()
	if fail {
		return nil, errWriteRejected
	}
	return f.Store.CreateTask(ctx, draft)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	store *flakyStore
	coord *Coordinator
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fs := &flakyStore{Store: s}
	pub := &recordingPublisher{}
	coord := NewCoordinator(fs,
		WithPublisher(pub),
		WithAudit(audit.NewPDRWriter(s)),
	)
	return &fixture{store: fs, coord: coord, pub: pub}
}

func (f *fixture) seed(t *testing.T, tasks ...models.Task) []models.Task {
	t.Helper()
	ctx := context.Background()
	out := make([]models.Task, 0, len(tasks))
	for _, task := range tasks {
		created, err := f.store.Store.CreateTask(ctx, task)
		require.NoError(t, err)
		out = append(out, *created)
	}
	require.NoError(t, f.coord.Load(ctx))
	return out
}

func payrollTask() models.Task {
	return models.Task{
		Title:          "שכר - כהן (2026-09)",
		Category:       process.CategoryPayroll,
		ClientName:     "כהן",
		ReportingMonth: "2026-09",
		Status:         models.TaskStatusNotStarted,
		ProcessSteps:   process.Default().InitialSteps(process.CategoryPayroll),
	}
}

func TestUpdateStepWithCascade_DerivesStatus(t *testing.T) {
	f := newFixture(t)
	task := f.seed(t, payrollTask())[0]
	ctx := context.Background()

	out := f.coord.UpdateStepWithCascade(ctx, task.ID, "receive_attendance")
	require.True(t, out.Applied)
	require.NotNil(t, out.StatusDerived)
	assert.Equal(t, models.TaskStatusInProgress, *out.StatusDerived)
	assert.Empty(t, out.Created)

	mem, ok := f.coord.Tasks().Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusInProgress, mem.Status)
	assert.True(t, mem.ProcessSteps["receive_attendance"])

	persisted, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, persisted.Status)
	assert.Equal(t, 1, f.pub.count())

	pdrs, err := f.store.ListPDR(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, pdrs, 1)
	assert.Equal(t, audit.ActionTaskCascade, pdrs[0].Action)
}

func TestUpdateStepWithCascade_InitialisesMissingChecklist(t *testing.T) {
	f := newFixture(t)
	draft := payrollTask()
	draft.ProcessSteps = nil
	task := f.seed(t, draft)[0]

	out := f.coord.UpdateStepWithCascade(context.Background(), task.ID, "receive_attendance")
	require.True(t, out.Applied)
	assert.Len(t, out.Task.ProcessSteps, 4)
	assert.True(t, out.Task.ProcessSteps["receive_attendance"])
}

func TestUpdateStepWithCascade_CompletionCreatesDependents(t *testing.T) {
	f := newFixture(t)
	draft := payrollTask()
	for _, k := range []string{"receive_attendance", "prepare_payslips", "send_payslips"} {
		draft.ProcessSteps[k] = true
	}
	draft.Status = models.TaskStatusInProgress
	task := f.seed(t, draft)[0]

	out := f.coord.UpdateStepWithCascade(context.Background(), task.ID, "bank_transfer")
	require.True(t, out.Applied)
	assert.Equal(t, models.TaskStatusCompleted, out.Task.Status)
	require.Len(t, out.Created, 2)
	for _, c := range out.Created {
		assert.NotEmpty(t, c.ID)
		assert.True(t, c.AutoCreated)
		assert.Equal(t, task.ID, c.SourceTaskID)
		_, ok := f.coord.Tasks().Get(c.ID)
		assert.True(t, ok, "created task should be in memory")
	}
	assert.Equal(t, 3, f.coord.Tasks().Len())

	// Un-toggling and re-completing must not create the reports again
	f.coord.UpdateStepWithCascade(context.Background(), task.ID, "bank_transfer")
	again := f.coord.UpdateStepWithCascade(context.Background(), task.ID, "bank_transfer")
	require.True(t, again.Applied)
	assert.Empty(t, again.Created)
	assert.Equal(t, 3, f.coord.Tasks().Len())

	all, err := f.store.ListTasks(context.Background(), store.TaskFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdateTaskWithCascade_ExplicitStatusWins(t *testing.T) {
	f := newFixture(t)
	task := f.seed(t, payrollTask())[0]

	steps := payrollSteps("receive_attendance", "prepare_payslips")
	out := f.coord.UpdateTaskWithCascade(context.Background(), task.ID, models.TaskPatch{
		Status:       models.StatusPtr(models.TaskStatusIssue),
		ProcessSteps: &steps,
	})
	require.True(t, out.Applied)
	assert.Nil(t, out.StatusDerived)
	assert.Equal(t, models.TaskStatusIssue, out.Task.Status)

	mem, _ := f.coord.Tasks().Get(task.ID)
	assert.Equal(t, models.TaskStatusIssue, mem.Status)
}

func TestUpdateTaskWithCascade_ExplicitStatusBlocksDependents(t *testing.T) {
	f := newFixture(t)
	task := f.seed(t, payrollTask())[0]

	steps := payrollSteps(allPayrollSteps()...)
	out := f.coord.UpdateTaskWithCascade(context.Background(), task.ID, models.TaskPatch{
		Status:       models.StatusPtr(models.TaskStatusIssue),
		ProcessSteps: &steps,
	})
	require.True(t, out.Applied)
	assert.Equal(t, models.TaskStatusIssue, out.Task.Status)
	assert.Empty(t, out.Created)
	assert.Zero(t, f.store.createCalls)

	all, err := f.store.ListTasks(context.Background(), store.TaskFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateTaskWithCascade_CompletedTaskDoesNotRefire(t *testing.T) {
	f := newFixture(t)
	draft := payrollTask()
	draft.ProcessSteps = payrollSteps(allPayrollSteps()...)
	draft.Status = models.TaskStatusCompleted
	task := f.seed(t, draft)[0]

	out := f.coord.UpdateTaskWithCascade(context.Background(), task.ID, models.TaskPatch{Notes: models.StringPtr("נשלח ללקוח")})
	require.True(t, out.Applied)
	assert.Empty(t, out.Created)
	assert.Empty(t, out.Skipped)
	assert.Equal(t, 1, f.coord.Tasks().Len())

	// An explicit transition into completed still unlocks them
	reopened := f.coord.UpdateTaskWithCascade(context.Background(), task.ID, models.TaskPatch{Status: models.StatusPtr(models.TaskStatusInProgress)})
	require.True(t, reopened.Applied)
	done := f.coord.UpdateTaskWithCascade(context.Background(), task.ID, models.TaskPatch{Status: models.StatusPtr(models.TaskStatusCompleted)})
	require.True(t, done.Applied)
	assert.Len(t, done.Created, 2)
}

func TestUpdateTaskWithCascade_NotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	out := f.coord.UpdateTaskWithCascade(context.Background(), "missing", models.TaskPatch{Notes: models.StringPtr("x")})
	assert.False(t, out.Found)
	assert.False(t, out.Applied)
	assert.NoError(t, out.Err)
	assert.Zero(t, f.pub.count())
}

func TestUpdateTaskWithCascade_RollbackOnFailure(t *testing.T) {
	f := newFixture(t)
	draft := payrollTask()
	draft.Attachments = []models.Attachment{{Name: "attendance.xlsx", URL: "file:///a.xlsx"}}
	task := f.seed(t, draft)[0]

	before, ok := f.coord.Tasks().Get(task.ID)
	require.True(t, ok)

	f.store.failUpdate = true
	steps := payrollSteps(allPayrollSteps()...)
	out := f.coord.UpdateTaskWithCascade(context.Background(), task.ID, models.TaskPatch{
		Notes:        models.StringPtr("changed"),
		ProcessSteps: &steps,
	})

	assert.True(t, out.Found)
	assert.True(t, out.RolledBack)
	assert.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, errWriteRejected)

	after, ok := f.coord.Tasks().Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, before, after, "in-memory task must equal the pre-call task")
	assert.Zero(t, f.store.createCalls, "no dependents after a failed persist")
	assert.Zero(t, f.pub.count(), "no notification after a failed persist")

	pdrs, err := f.store.ListPDR(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, pdrs, 1)
	assert.Equal(t, audit.OutcomeRolledBack, pdrs[0].Outcome)
}

func TestUpdateStepWithCascade_SkipsExistingTitle(t *testing.T) {
	f := newFixture(t)
	draft := payrollTask()
	for _, k := range []string{"receive_attendance", "prepare_payslips", "send_payslips"} {
		draft.ProcessSteps[k] = true
	}
	existing := models.Task{
		Title:          "ניכויים - כהן (2026-09)",
		Category:       process.CategoryDeductions,
		ClientName:     "כהן",
		ReportingMonth: "2026-09",
	}
	tasks := f.seed(t, draft, existing)

	out := f.coord.UpdateStepWithCascade(context.Background(), tasks[0].ID, "bank_transfer")
	require.True(t, out.Applied)
	require.Len(t, out.Created, 1)
	assert.Equal(t, process.CategorySocialSecurity, out.Created[0].Category)
}

func TestRecheckAgainstKnownTitles(t *testing.T) {
	// A same-titled task that is not a sibling (other period key) is only
	// caught by the coordinator's re-check against the whole set.
	f := newFixture(t)
	draft := payrollTask()
	for _, k := range []string{"receive_attendance", "prepare_payslips", "send_payslips"} {
		draft.ProcessSteps[k] = true
	}
	stray := models.Task{Title: "ביטוח לאומי - כהן (2026-09)", Category: process.CategorySocialSecurity}
	tasks := f.seed(t, draft, stray)

	out := f.coord.UpdateStepWithCascade(context.Background(), tasks[0].ID, "bank_transfer")
	require.True(t, out.Applied)
	assert.Equal(t, []string{"ביטוח לאומי - כהן (2026-09)"}, out.Skipped)
	require.Len(t, out.Created, 1)
	assert.Equal(t, process.CategoryDeductions, out.Created[0].Category)
}

func TestDependentCreateFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	draft := payrollTask()
	for _, k := range []string{"receive_attendance", "prepare_payslips", "send_payslips"} {
		draft.ProcessSteps[k] = true
	}
	task := f.seed(t, draft)[0]
	f.store.failCreate = true

	out := f.coord.UpdateStepWithCascade(context.Background(), task.ID, "bank_transfer")
	assert.True(t, out.Applied)
	assert.False(t, out.RolledBack)
	assert.Empty(t, out.Created)
	assert.Equal(t, 2, f.store.createCalls)
	assert.Equal(t, 1, f.pub.count())
}

func TestConcurrentUpdatesOnDifferentTasks(t *testing.T) {
	f := newFixture(t)
	var drafts []models.Task
	for i := 0; i < 8; i++ {
		d := payrollTask()
		d.Title = d.Title + string(rune('a'+i))
		d.ReportingMonth = "2026-0" + string(rune('1'+i))
		drafts = append(drafts, d)
	}
	tasks := f.seed(t, drafts...)

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.coord.UpdateStepWithCascade(context.Background(), id, "receive_attendance")
		}(task.ID)
	}
	wg.Wait()

	for _, task := range tasks {
		mem, _ := f.coord.Tasks().Get(task.ID)
		assert.Equal(t, models.TaskStatusInProgress, mem.Status)
	}
}

func TestCreateAndDelete(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.coord.Create(ctx, models.Task{Title: "ייעוץ", Category: process.CategoryConsultation})
	require.NoError(t, err)
	assert.Len(t, created.ProcessSteps, 2)
	assert.Equal(t, 1, f.coord.Tasks().Len())

	require.NoError(t, f.coord.Delete(ctx, created.ID))
	assert.Zero(t, f.coord.Tasks().Len())
	assert.ErrorIs(t, f.coord.Delete(ctx, created.ID), store.ErrNotFound)
	assert.Equal(t, 2, f.pub.count())
}

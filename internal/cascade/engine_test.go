package cascade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/process"
)

func payrollSteps(done ...string) models.ProcessSteps {
	steps := process.Default().InitialSteps(process.CategoryPayroll)
	for _, k := range done {
		steps[k] = true
	}
	return steps
}

func allPayrollSteps() []string {
	return process.Default().StepKeys(process.CategoryPayroll)
}

func TestDeriveStatus(t *testing.T) {
	e := NewEngine(nil, nil)
	base := models.Task{ID: "t1", Category: process.CategoryPayroll, Status: models.TaskStatusNotStarted}

	tests := []struct {
		name    string
		current models.TaskStatus
		steps   models.ProcessSteps
		want    *models.TaskStatus
	}{
		{"none started keeps status", models.TaskStatusNotStarted, payrollSteps(), nil},
		{"none started keeps waiting", models.TaskStatusWaitingForMaterials, payrollSteps(), nil},
		{"partial", models.TaskStatusNotStarted, payrollSteps("receive_attendance"), models.StatusPtr(models.TaskStatusInProgress)},
		{"partial already in progress", models.TaskStatusInProgress, payrollSteps("receive_attendance"), nil},
		{"partial does not downgrade issue", models.TaskStatusIssue, payrollSteps("receive_attendance"), nil},
		{"partial does not downgrade waiting", models.TaskStatusWaitingForMaterials, payrollSteps("receive_attendance"), nil},
		{"all complete", models.TaskStatusInProgress, payrollSteps(allPayrollSteps()...), models.StatusPtr(models.TaskStatusCompleted)},
		{"all complete resolves issue", models.TaskStatusIssue, payrollSteps(allPayrollSteps()...), models.StatusPtr(models.TaskStatusCompleted)},
		{"already completed", models.TaskStatusCompleted, payrollSteps(allPayrollSteps()...), nil},
		{"completed reopened", models.TaskStatusCompleted, payrollSteps("receive_attendance"), models.StatusPtr(models.TaskStatusInProgress)},
		{"not relevant untouched", models.TaskStatusNotRelevant, payrollSteps(allPayrollSteps()...), nil},
		{"cancelled untouched", models.TaskStatusCancelled, payrollSteps("receive_attendance"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := base
			task.Status = tt.current
			assert.Equal(t, tt.want, e.DeriveStatus(task, tt.steps))
		})
	}
}

func TestDeriveStatus_LegacyKeysIgnored(t *testing.T) {
	steps := payrollSteps(allPayrollSteps()...)
	steps["legacy_step"] = false

	got := ProcessTaskCascade(models.Task{Category: process.CategoryPayroll, Status: models.TaskStatusInProgress}, steps, nil)
	require.NotNil(t, got.StatusUpdate)
	assert.Equal(t, models.TaskStatusCompleted, *got.StatusUpdate)
}

func TestDeriveStatus_NoTemplateUsesOwnKeys(t *testing.T) {
	task := models.Task{Category: "custom", Status: models.TaskStatusNotStarted}

	got := ProcessTaskCascade(task, models.ProcessSteps{"a": true, "b": false}, nil)
	require.NotNil(t, got.StatusUpdate)
	assert.Equal(t, models.TaskStatusInProgress, *got.StatusUpdate)

	got = ProcessTaskCascade(task, models.ProcessSteps{"a": true, "b": true}, nil)
	require.NotNil(t, got.StatusUpdate)
	assert.Equal(t, models.TaskStatusCompleted, *got.StatusUpdate)

	assert.Nil(t, ProcessTaskCascade(task, nil, nil).StatusUpdate)
}

func TestProcessTaskCascade_Idempotent(t *testing.T) {
	task := models.Task{ID: "t1", Category: process.CategoryPayroll, ClientName: "כהן", ReportingMonth: "2026-09", Status: models.TaskStatusInProgress}
	steps := payrollSteps(allPayrollSteps()...)

	first := ProcessTaskCascade(task, steps, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ProcessTaskCascade(task, steps, nil))
	}
}

func TestProcessTaskCascade_MonotonicCompletion(t *testing.T) {
	task := models.Task{Category: process.CategoryPayroll, Status: models.TaskStatusNotStarted}
	keys := allPayrollSteps()

	// Build the same all-true map in forward and reverse insertion order
	forward := models.ProcessSteps{}
	for _, k := range keys {
		forward[k] = true
	}
	reverse := models.ProcessSteps{}
	for i := len(keys) - 1; i >= 0; i-- {
		reverse[keys[i]] = true
	}

	for _, steps := range []models.ProcessSteps{forward, reverse} {
		res := ProcessTaskCascade(task, steps, nil)
		require.NotNil(t, res.StatusUpdate)
		assert.Equal(t, models.TaskStatusCompleted, *res.StatusUpdate)
	}
}

func TestProcessTaskCascade_PayrollCreatesReports(t *testing.T) {
	e := NewEngine(nil, nil)
	task := models.Task{
		ID:             "payroll-1",
		Title:          "שכר - כהן (2026-09)",
		Category:       process.CategoryPayroll,
		ClientID:       "c1",
		ClientName:     "כהן",
		ReportingMonth: "2026-09",
		Status:         models.TaskStatusInProgress,
	}

	res := e.ProcessTaskCascade(task, payrollSteps(allPayrollSteps()...), nil)
	require.Len(t, res.TasksToCreate, 2)
	assert.Equal(t, []string{"payroll_reports"}, res.FiredRules)

	ss := res.TasksToCreate[0]
	assert.Equal(t, process.CategorySocialSecurity, ss.Category)
	assert.Equal(t, DraftTitle(e.Registry().Label(process.CategorySocialSecurity), "כהן", "2026-09"), ss.Title)
	assert.Equal(t, "ביטוח לאומי - כהן (2026-09)", ss.Title)
	assert.Equal(t, "2026-10-15", ss.DueDate)
	assert.Equal(t, models.TaskStatusNotStarted, ss.Status)
	assert.True(t, ss.AutoCreated)
	assert.Equal(t, "payroll-1", ss.SourceTaskID)
	assert.Equal(t, "c1", ss.ClientID)
	assert.Empty(t, ss.ID)
	assert.Len(t, ss.ProcessSteps, 3)

	assert.Equal(t, process.CategoryDeductions, res.TasksToCreate[1].Category)
}

func TestProcessTaskCascade_OnlyOnCompletion(t *testing.T) {
	task := models.Task{Category: process.CategoryPayroll, ClientName: "כהן", ReportingMonth: "2026-09", Status: models.TaskStatusNotStarted}

	res := ProcessTaskCascade(task, payrollSteps("receive_attendance"), nil)
	assert.Empty(t, res.TasksToCreate)

	// An explicitly completed task with an untouched checklist still fires
	task.Status = models.TaskStatusCompleted
	res = ProcessTaskCascade(task, payrollSteps(), nil)
	assert.Nil(t, res.StatusUpdate)
	assert.Len(t, res.TasksToCreate, 2)
}

func TestProcessTaskCascade_NoDuplicateDrafts(t *testing.T) {
	task := models.Task{ID: "p", Category: process.CategoryPayroll, ClientName: "כהן", ReportingMonth: "2026-09", Status: models.TaskStatusInProgress}
	existing := models.Task{ID: "s", Title: "ביטוח לאומי - כהן (2026-09)", Category: process.CategorySocialSecurity, ClientName: "כהן", ReportingMonth: "2026-09"}

	res := ProcessTaskCascade(task, payrollSteps(allPayrollSteps()...), []models.Task{existing})
	require.Len(t, res.TasksToCreate, 1)
	assert.Equal(t, process.CategoryDeductions, res.TasksToCreate[0].Category)
}

func TestProcessTaskCascade_ReconciliationNeedsBothReports(t *testing.T) {
	reg := process.Default()
	vatSteps := reg.InitialSteps(process.CategoryVATReport)
	for k := range vatSteps {
		vatSteps[k] = true
	}
	vat := models.Task{ID: "vat", Category: process.CategoryVATReport, ClientName: "לוי", ReportingMonth: "2026-12", Status: models.TaskStatusInProgress}
	advances := models.Task{ID: "adv", Category: process.CategoryTaxAdvances, ClientName: "לוי", ReportingMonth: "2026-12", Status: models.TaskStatusInProgress}

	res := ProcessTaskCascade(vat, vatSteps, []models.Task{advances})
	assert.Empty(t, res.TasksToCreate)

	advances.Status = models.TaskStatusCompleted
	res = ProcessTaskCascade(vat, vatSteps, []models.Task{advances})
	require.Len(t, res.TasksToCreate, 1)
	assert.Equal(t, process.CategoryBankReconciliation, res.TasksToCreate[0].Category)
	assert.Equal(t, "2027-01-15", res.TasksToCreate[0].DueDate)
}

func TestDueDateFor(t *testing.T) {
	assert.Equal(t, "2026-10-15", DueDateFor("2026-09"))
	assert.Equal(t, "2027-01-15", DueDateFor("2026-12"))
	assert.Equal(t, "", DueDateFor(""))
	assert.Equal(t, "", DueDateFor("September"))
}

func TestSiblings(t *testing.T) {
	task := models.Task{ID: "a", ClientName: "כהן", ReportingMonth: "2026-09"}
	all := []models.Task{
		task,
		{ID: "b", ClientName: "כהן", ReportingMonth: "2026-09"},
		{ID: "c", ClientName: "כהן", ReportingMonth: "2026-08"},
		{ID: "d", ClientName: "לוי", ReportingMonth: "2026-09"},
	}

	got := Siblings(task, all)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

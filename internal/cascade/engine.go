// Package cascade implements the task cascade: deriving a task's status from
// its step checklist, proposing dependent tasks when a client's period
// reaches a milestone, and the aggregate views (insights, node state) over a
// task collection.
//
// The Engine is pure. The Coordinator wires it to the in-memory task set and
// the durable store.
package cascade

import (
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/process"
)

// DependencyRule proposes tasks once a set of categories is completed for a
// client and reporting period.
type DependencyRule struct {
	Name string `json:"name" yaml:"name"`
	// When lists the categories whose completion evaluates the rule.
	When []string `json:"when" yaml:"when"`
	// RequiresCompleted must all be completed in the period, the triggering
	// task included.
	RequiresCompleted []string `json:"requires_completed" yaml:"requires_completed"`
	Creates           []string `json:"creates" yaml:"creates"`
}

// DefaultDependencyRules returns the built-in dependency rules.
func DefaultDependencyRules() []DependencyRule {
	return []DependencyRule{
		{
			Name:              "payroll_reports",
			When:              []string{process.CategoryPayroll},
			RequiresCompleted: []string{process.CategoryPayroll},
			Creates:           []string{process.CategorySocialSecurity, process.CategoryDeductions},
		},
		{
			Name:              "period_reconciliation",
			When:              []string{process.CategoryVATReport, process.CategoryTaxAdvances},
			RequiresCompleted: []string{process.CategoryVATReport, process.CategoryTaxAdvances},
			Creates:           []string{process.CategoryBankReconciliation},
		},
	}
}

// Result is the outcome of one cascade evaluation. It is never persisted.
type Result struct {
	// StatusUpdate is nil when the status should stay as it is.
	StatusUpdate  *models.TaskStatus `json:"status_update,omitempty"`
	TasksToCreate []models.Task      `json:"tasks_to_create,omitempty"`
	// FiredRules names the dependency rules that proposed drafts.
	FiredRules []string `json:"fired_rules,omitempty"`
}

// Engine evaluates cascades against a template registry and rule list.
type Engine struct {
	registry *process.Registry
	rules    []DependencyRule
}

// NewEngine creates an engine. A nil registry uses process.Default(); nil
// rules use DefaultDependencyRules().
func NewEngine(reg *process.Registry, rules []DependencyRule) *Engine {
	if reg == nil {
		reg = process.Default()
	}
	if rules == nil {
		rules = DefaultDependencyRules()
	}
	return &Engine{registry: reg, rules: rules}
}

var defaultEngine = NewEngine(nil, nil)

// Registry returns the engine's template registry.
func (e *Engine) Registry() *process.Registry {
	return e.registry
}

// ProcessTaskCascade evaluates task with the default engine.
func ProcessTaskCascade(task models.Task, steps models.ProcessSteps, siblings []models.Task) Result {
	return defaultEngine.ProcessTaskCascade(task, steps, siblings)
}

// ProcessTaskCascade derives the status update for task from steps and the
// dependent tasks its completion unlocks among siblings.
func (e *Engine) ProcessTaskCascade(task models.Task, steps models.ProcessSteps, siblings []models.Task) Result {
	var res Result
	res.StatusUpdate = e.DeriveStatus(task, steps)

	status := task.Status
	if res.StatusUpdate != nil {
		status = *res.StatusUpdate
	}
	if status != models.TaskStatusCompleted {
		return res
	}

	known := make(map[string]bool, len(siblings)+1)
	known[task.Title] = true
	for _, s := range siblings {
		known[s.Title] = true
	}

	for _, rule := range e.rules {
		if !contains(rule.When, task.Category) || !e.requirementsMet(rule, task, siblings) {
			continue
		}
		fired := false
		for _, category := range rule.Creates {
			draft := e.Draft(category, task)
			if known[draft.Title] {
				continue
			}
			known[draft.Title] = true
			res.TasksToCreate = append(res.TasksToCreate, draft)
			fired = true
		}
		if fired {
			res.FiredRules = append(res.FiredRules, rule.Name)
		}
	}
	return res
}

// DeriveStatus returns the step-derived status for task, or nil when the
// status must stay as it is.
func (e *Engine) DeriveStatus(task models.Task, steps models.ProcessSteps) *models.TaskStatus {
	switch task.Status {
	case models.TaskStatusNotRelevant, models.TaskStatusCancelled:
		return nil
	}

	keys := e.stepKeys(task.Category, steps)
	if len(keys) == 0 {
		return nil
	}
	done := 0
	for _, k := range keys {
		if steps[k] {
			done++
		}
	}

	var derived models.TaskStatus
	switch {
	case done == len(keys):
		derived = models.TaskStatusCompleted
	case done == 0:
		// Nothing started: leave whatever status the task carries.
		return nil
	default:
		derived = models.TaskStatusInProgress
		if task.Status == models.TaskStatusIssue || task.Status == models.TaskStatusWaitingForMaterials {
			return nil
		}
	}

	if derived == task.Status {
		return nil
	}
	return &derived
}

// stepKeys returns the template keys for category, or the checklist's own
// keys (sorted) when the category has no template.
func (e *Engine) stepKeys(category string, steps models.ProcessSteps) []string {
	if keys := e.registry.StepKeys(category); len(keys) > 0 {
		return keys
	}
	keys := make([]string, 0, len(steps))
	for k := range steps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) requirementsMet(rule DependencyRule, task models.Task, siblings []models.Task) bool {
	for _, required := range rule.RequiresCompleted {
		if required == task.Category {
			continue
		}
		met := false
		for _, s := range siblings {
			if s.Category == required && s.Status == models.TaskStatusCompleted {
				met = true
				break
			}
		}
		if !met {
			return false
		}
	}
	return true
}

// Draft builds an unsaved task of category for source's client and period.
func (e *Engine) Draft(category string, source models.Task) models.Task {
	return models.Task{
		Title:          DraftTitle(e.registry.Label(category), source.ClientName, source.ReportingMonth),
		Category:       category,
		ClientID:       source.ClientID,
		ClientName:     source.ClientName,
		ReportingMonth: source.ReportingMonth,
		Status:         models.TaskStatusNotStarted,
		ProcessSteps:   e.registry.InitialSteps(category),
		DueDate:        DueDateFor(source.ReportingMonth),
		AutoCreated:    true,
		SourceTaskID:   source.ID,
	}
}

// DraftTitle formats the title of an auto-created task.
func DraftTitle(label, client, period string) string {
	return fmt.Sprintf("%s - %s (%s)", label, client, period)
}

// DueDateFor returns the 15th of the month after period (YYYY-MM), or ""
// when period does not parse.
func DueDateFor(period string) string {
	month, err := time.Parse("2006-01", period)
	if err != nil {
		return ""
	}
	return month.AddDate(0, 1, 14).Format("2006-01-02")
}

// Siblings returns the tasks in all sharing task's client and reporting
// period, task itself excluded.
func Siblings(task models.Task, all []models.Task) []models.Task {
	var out []models.Task
	for _, t := range all {
		if t.ID != task.ID && t.SamePeriod(task) {
			out = append(out, t)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

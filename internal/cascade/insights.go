package cascade

import (
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/calmplan/internal/models"
)

// InsightKind identifies what an insight reports.
type InsightKind string

const (
	InsightOverdue                InsightKind = "overdue"
	InsightDueToday               InsightKind = "due_today"
	InsightWaitingForMaterials    InsightKind = "waiting_for_materials"
	InsightIssue                  InsightKind = "issue"
	InsightUnresolvedPrerequisite InsightKind = "unresolved_prerequisite"
	InsightUnplannedCompleted     InsightKind = "unplanned_completed"
	InsightIdleClient             InsightKind = "idle_client"
)

// Severity orders insights for presentation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

var insightSeverity = map[InsightKind]Severity{
	InsightOverdue:                SeverityCritical,
	InsightIssue:                  SeverityCritical,
	InsightDueToday:               SeverityWarning,
	InsightWaitingForMaterials:    SeverityWarning,
	InsightUnresolvedPrerequisite: SeverityWarning,
	InsightUnplannedCompleted:     SeverityInfo,
	InsightIdleClient:             SeverityInfo,
}

// Insight is a derived summary fact about one client's tasks.
type Insight struct {
	Kind     InsightKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Client   string      `json:"client"`
	Count    int         `json:"count"`
	TaskIDs  []string    `json:"task_ids,omitempty"`
	Message  string      `json:"message"`
}

// ComputeInsights evaluates insights with the default engine.
func ComputeInsights(tasks []models.Task, clients []models.Client, now time.Time) []Insight {
	return defaultEngine.ComputeInsights(tasks, clients, now)
}

// ComputeInsights recomputes every insight from tasks and clients. The result
// does not depend on input order.
func (e *Engine) ComputeInsights(tasks []models.Task, clients []models.Client, now time.Time) []Insight {
	today := now.Format("2006-01-02")

	type key struct {
		kind   InsightKind
		client string
	}
	groups := make(map[key][]models.Task)
	add := func(kind InsightKind, t models.Task) {
		k := key{kind, t.ClientName}
		groups[k] = append(groups[k], t)
	}

	openByClient := make(map[string]bool)
	for _, t := range tasks {
		if !t.Status.IsClosed() {
			openByClient[t.ClientName] = true

			if t.DueDate != "" && t.DueDate < today {
				add(InsightOverdue, t)
			} else if t.DueDate == today {
				add(InsightDueToday, t)
			}
			if e.hasUnresolvedPrerequisite(t) {
				add(InsightUnresolvedPrerequisite, t)
			}
		}

		switch t.Status {
		case models.TaskStatusWaitingForMaterials:
			add(InsightWaitingForMaterials, t)
		case models.TaskStatusIssue:
			add(InsightIssue, t)
		case models.TaskStatusCompleted:
			if t.DueDate == "" && t.ScheduledStart == nil {
				add(InsightUnplannedCompleted, t)
			}
		}
	}

	insights := make([]Insight, 0, len(groups))
	for k, group := range groups {
		sortTasksByDue(group)
		ids := make([]string, len(group))
		for i, t := range group {
			ids[i] = t.ID
		}
		insights = append(insights, Insight{
			Kind:     k.kind,
			Severity: insightSeverity[k.kind],
			Client:   k.client,
			Count:    len(group),
			TaskIDs:  ids,
			Message:  insightMessage(k.kind, k.client, len(group)),
		})
	}

	for _, c := range clients {
		if c.Active && !openByClient[c.Name] {
			insights = append(insights, Insight{
				Kind:     InsightIdleClient,
				Severity: insightSeverity[InsightIdleClient],
				Client:   c.Name,
				Message:  insightMessage(InsightIdleClient, c.Name, 0),
			})
		}
	}

	sort.Slice(insights, func(i, j int) bool {
		a, b := insights[i], insights[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Client < b.Client
	})
	return insights
}

// hasUnresolvedPrerequisite reports whether a later template step is done
// while an earlier one is not.
func (e *Engine) hasUnresolvedPrerequisite(t models.Task) bool {
	keys := e.registry.StepKeys(t.Category)
	pending := false
	for _, k := range keys {
		if !t.ProcessSteps[k] {
			pending = true
		} else if pending {
			return true
		}
	}
	return false
}

// sortTasksByDue orders by due date ascending (undated last), then id.
func sortTasksByDue(tasks []models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.DueDate != b.DueDate {
			if a.DueDate == "" {
				return false
			}
			if b.DueDate == "" {
				return true
			}
			return a.DueDate < b.DueDate
		}
		return a.ID < b.ID
	})
}

func insightMessage(kind InsightKind, client string, n int) string {
	switch kind {
	case InsightOverdue:
		return fmt.Sprintf("%s: %d משימות באיחור", client, n)
	case InsightDueToday:
		return fmt.Sprintf("%s: %d משימות להיום", client, n)
	case InsightWaitingForMaterials:
		return fmt.Sprintf("%s: ממתין לחומרים ב-%d משימות", client, n)
	case InsightIssue:
		return fmt.Sprintf("%s: %d משימות עם בעיה", client, n)
	case InsightUnresolvedPrerequisite:
		return fmt.Sprintf("%s: %d משימות עם שלב קודם שלא הושלם", client, n)
	case InsightUnplannedCompleted:
		return fmt.Sprintf("%s: %d משימות הושלמו ללא תכנון", client, n)
	case InsightIdleClient:
		return fmt.Sprintf("%s: אין משימות פתוחות", client)
	}
	return client
}

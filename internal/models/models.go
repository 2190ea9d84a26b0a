// Package models defines the core domain types for CalmPlan.
package models

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current workflow state of a task.
type TaskStatus string

const (
	TaskStatusNotStarted          TaskStatus = "not_started"
	TaskStatusInProgress          TaskStatus = "in_progress"
	TaskStatusWaitingForMaterials TaskStatus = "waiting_for_materials"
	TaskStatusIssue               TaskStatus = "issue"
	TaskStatusCompleted           TaskStatus = "completed"
	TaskStatusNotRelevant         TaskStatus = "not_relevant"
	TaskStatusCancelled           TaskStatus = "cancelled"
)

// AllStatuses lists every status in display order.
var AllStatuses = []TaskStatus{
	TaskStatusNotStarted,
	TaskStatusInProgress,
	TaskStatusWaitingForMaterials,
	TaskStatusIssue,
	TaskStatusCompleted,
	TaskStatusNotRelevant,
	TaskStatusCancelled,
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsExplicit reports whether the status is set by a person rather than
// derived from the step checklist.
func (s TaskStatus) IsExplicit() bool {
	switch s {
	case TaskStatusIssue, TaskStatusWaitingForMaterials, TaskStatusNotRelevant, TaskStatusCancelled:
		return true
	}
	return false
}

// IsClosed reports whether no further work is expected on the task.
func (s TaskStatus) IsClosed() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusNotRelevant, TaskStatusCancelled:
		return true
	}
	return false
}

// ProcessSteps maps a step key to its completion flag.
type ProcessSteps map[string]bool

// Clone returns an independent copy. A nil map clones to nil.
func (p ProcessSteps) Clone() ProcessSteps {
	if p == nil {
		return nil
	}
	c := make(ProcessSteps, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Attachment is file metadata attached to a task.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// CompletionFeedback records why a completion deviated from plan.
type CompletionFeedback struct {
	Key  string `json:"key"`
	Date string `json:"date"`
}

// Task is the central unit of work: one service performed for one client in
// one reporting period.
type Task struct {
	ID                 string               `json:"id"`
	Title              string               `json:"title"`
	Description        string               `json:"description,omitempty"`
	Notes              string               `json:"notes,omitempty"`
	Category           string               `json:"category"`
	ClientID           string               `json:"client_id,omitempty"`
	ClientName         string               `json:"client_name,omitempty"`
	ReportingMonth     string               `json:"reporting_month,omitempty"` // YYYY-MM
	Status             TaskStatus           `json:"status"`
	ProcessSteps       ProcessSteps         `json:"process_steps,omitempty"`
	DueDate            string               `json:"due_date,omitempty"` // YYYY-MM-DD
	ScheduledStart     *time.Time           `json:"scheduled_start,omitempty"`
	ScheduledEnd       *time.Time           `json:"scheduled_end,omitempty"`
	Attachments        []Attachment         `json:"attachments,omitempty"`
	CompletionFeedback []CompletionFeedback `json:"completion_feedback,omitempty"`
	AutoCreated        bool                 `json:"auto_created,omitempty"`
	SourceTaskID       string               `json:"source_task_id,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.ProcessSteps = t.ProcessSteps.Clone()
	if t.ScheduledStart != nil {
		v := *t.ScheduledStart
		c.ScheduledStart = &v
	}
	if t.ScheduledEnd != nil {
		v := *t.ScheduledEnd
		c.ScheduledEnd = &v
	}
	if t.Attachments != nil {
		c.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	if t.CompletionFeedback != nil {
		c.CompletionFeedback = append([]CompletionFeedback(nil), t.CompletionFeedback...)
	}
	return c
}

// SamePeriod reports whether other belongs to the same client and reporting
// period as t.
func (t Task) SamePeriod(other Task) bool {
	return t.ClientName == other.ClientName && t.ReportingMonth == other.ReportingMonth
}

// Client is a customer of the practice.
type Client struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Services   []string          `json:"services,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
}

// HasService reports whether the client subscribes to the given service key.
func (c Client) HasService(key string) bool {
	for _, s := range c.Services {
		if s == key {
			return true
		}
	}
	return false
}

// ConfigRecord is a persisted configuration document identified by key.
type ConfigRecord struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

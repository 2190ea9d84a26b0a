package models

import "time"

// TaskPatch represents a partial update to a task.
// nil pointer => "no change".
// Empty string for DueDate/ReportingMonth => clear.
// ClearSchedule removes the scheduled slot before ScheduledStart/End apply.
// AppendFeedback entries are appended to the completion feedback log.
type TaskPatch struct {
	Title          *string              `json:"title,omitempty"`
	Description    *string              `json:"description,omitempty"`
	Notes          *string              `json:"notes,omitempty"`
	Category       *string              `json:"category,omitempty"`
	ClientID       *string              `json:"client_id,omitempty"`
	ClientName     *string              `json:"client_name,omitempty"`
	ReportingMonth *string              `json:"reporting_month,omitempty"`
	Status         *TaskStatus          `json:"status,omitempty"`
	ProcessSteps   *ProcessSteps        `json:"process_steps,omitempty"`
	DueDate        *string              `json:"due_date,omitempty"`
	ScheduledStart *time.Time           `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time           `json:"scheduled_end,omitempty"`
	ClearSchedule  bool                 `json:"clear_schedule,omitempty"`
	Attachments    *[]Attachment        `json:"attachments,omitempty"`
	AppendFeedback []CompletionFeedback `json:"append_feedback,omitempty"`
}

// HasStatus reports whether the patch sets the status explicitly.
func (p TaskPatch) HasStatus() bool {
	return p.Status != nil
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Notes == nil &&
		p.Category == nil && p.ClientID == nil && p.ClientName == nil &&
		p.ReportingMonth == nil && p.Status == nil && p.ProcessSteps == nil &&
		p.DueDate == nil && p.ScheduledStart == nil && p.ScheduledEnd == nil &&
		!p.ClearSchedule &&
		p.Attachments == nil && len(p.AppendFeedback) == 0
}

// Clone returns a deep copy of the patch.
func (p TaskPatch) Clone() TaskPatch {
	c := p
	if p.Status != nil {
		s := *p.Status
		c.Status = &s
	}
	if p.ProcessSteps != nil {
		steps := p.ProcessSteps.Clone()
		c.ProcessSteps = &steps
	}
	if p.Attachments != nil {
		a := append([]Attachment(nil), (*p.Attachments)...)
		c.Attachments = &a
	}
	if p.AppendFeedback != nil {
		c.AppendFeedback = append([]CompletionFeedback(nil), p.AppendFeedback...)
	}
	return c
}

// Apply merges the patch into t. The caller owns t; maps and slices from the
// patch are copied so the patch can be reused.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.ClientID != nil {
		t.ClientID = *p.ClientID
	}
	if p.ClientName != nil {
		t.ClientName = *p.ClientName
	}
	if p.ReportingMonth != nil {
		t.ReportingMonth = *p.ReportingMonth
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ProcessSteps != nil {
		t.ProcessSteps = p.ProcessSteps.Clone()
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.ClearSchedule {
		t.ScheduledStart = nil
		t.ScheduledEnd = nil
	}
	if p.ScheduledStart != nil {
		v := *p.ScheduledStart
		t.ScheduledStart = &v
	}
	if p.ScheduledEnd != nil {
		v := *p.ScheduledEnd
		t.ScheduledEnd = &v
	}
	if p.Attachments != nil {
		t.Attachments = append([]Attachment(nil), (*p.Attachments)...)
	}
	if len(p.AppendFeedback) > 0 {
		t.CompletionFeedback = append(append([]CompletionFeedback(nil), t.CompletionFeedback...), p.AppendFeedback...)
	}
}

// StatusPtr is a convenience for building patches.
func StatusPtr(s TaskStatus) *TaskStatus {
	return &s
}

// StringPtr is a convenience for building patches.
func StringPtr(s string) *string {
	return &s
}

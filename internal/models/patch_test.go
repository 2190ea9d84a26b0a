package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPatch_ClearSchedule(t *testing.T) {
	start := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	task := Task{ScheduledStart: &start, ScheduledEnd: &end}

	p := TaskPatch{ClearSchedule: true}
	assert.False(t, p.IsEmpty())
	p.Apply(&task)
	assert.Nil(t, task.ScheduledStart)
	assert.Nil(t, task.ScheduledEnd)

	// Clearing and setting in one patch leaves only the new slot
	later := start.Add(48 * time.Hour)
	TaskPatch{ClearSchedule: true, ScheduledStart: &later}.Apply(&task)
	require.NotNil(t, task.ScheduledStart)
	assert.True(t, task.ScheduledStart.Equal(later))
	assert.Nil(t, task.ScheduledEnd)
}

func TestTaskPatch_NilLeavesSchedule(t *testing.T) {
	start := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	task := Task{ScheduledStart: &start}

	TaskPatch{Notes: StringPtr("x")}.Apply(&task)
	require.NotNil(t, task.ScheduledStart)
	assert.True(t, task.ScheduledStart.Equal(start))
}

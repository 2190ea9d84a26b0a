package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/process"
)

func withAPI(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	prev := apiAddr
	apiAddr = srv.URL
	t.Cleanup(func() { apiAddr = prev })
}

func TestAPIGetJSON(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"t1","title":"שכר - כהן (2026-09)","status":"in_progress"}]`))
	})

	var tasks []models.Task
	require.NoError(t, apiGetJSON("/tasks", &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusInProgress, tasks[0].Status)
}

func TestAPIDo_ErrorKeepsBody(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
	})

	body, err := apiPost("/tasks/missing/steps/x", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, string(body), "task not found")
}

func TestCheckHealth(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"db":"connected","version":"test"}`))
	})

	h, err := CheckHealth()
	require.NoError(t, err)
	assert.True(t, h.OK)
}

func TestChecklist_TemplateOrderThenExtras(t *testing.T) {
	tmpl := process.Template{Category: "payroll", Steps: []process.Step{
		{Key: "receive_attendance", Label: "קבלת נוכחות"},
		{Key: "prepare_payslips", Label: "הכנת תלושים"},
		{Key: "send_payslips", Label: "שליחת תלושים"},
	}}
	task := models.Task{ProcessSteps: models.ProcessSteps{
		"send_payslips":      true,
		"zz_legacy":          false,
		"receive_attendance": true,
		"aa_legacy":          true,
	}}

	var keys []string
	for _, s := range checklist(task, tmpl) {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"receive_attendance", "send_payslips", "aa_legacy", "zz_legacy"}, keys)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "שכר - ...", truncate("שכר - כהן (2026-09)", 9))
	assert.Equal(t, "12345678", truncateID("123456789abc"))
}

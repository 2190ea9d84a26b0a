package controlplane

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/calmplan/internal/audit"
	"github.com/fentz26/calmplan/internal/automation"
	"github.com/fentz26/calmplan/internal/backup"
	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/kvstate"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/process"
	"github.com/fentz26/calmplan/internal/store"
)

type nopUploader struct{ calls int }

func (u *nopUploader) Upload(context.Context, string, []byte) error {
	u.calls++
	return nil
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	db       *store.Store
	bus      *notify.Bus
	uploader *nopUploader
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv, err := kvstate.Open(kvstate.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	bus := notify.NewBus()
	pdr := audit.NewPDRWriter(db)
	coord := cascade.NewCoordinator(db, cascade.WithPublisher(bus), cascade.WithAudit(pdr))
	require.NoError(t, coord.Load(context.Background()))

	up := &nopUploader{}
	cfg := backup.DefaultConfig()
	cfg.SnapshotDir = filepath.Join(t.TempDir(), "snapshots")
	mon := backup.NewMonitor(cfg, backup.Deps{State: kv, Snapshots: db, Exporter: db, Uploader: up, Publisher: bus, Audit: pdr})

	svc := NewService(Deps{
		Store:       db,
		Coordinator: coord,
		Rules:       automation.NewStore(db, nil),
		Monitor:     mon,
		Bus:         bus,
		Audit:       pdr,
	})
	srv := NewServer(svc, "127.0.0.1:0", "test", 20*time.Millisecond)
	return &testEnv{srv: srv, handler: srv.Handler(), db: db, bus: bus, uploader: up}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := decode[HealthResponse](t, w)
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.Equal(t, "test", health.Version)
	assert.NotEmpty(t, health.Time)
	assert.Equal(t, string(backup.StatusChecking), health.Backup)
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func createPayroll(t *testing.T, env *testEnv) models.Task {
	t.Helper()
	w := env.do(t, http.MethodPost, "/tasks", CreateTaskRequest{
		Category:       process.CategoryPayroll,
		ClientName:     "כהן",
		ReportingMonth: "2026-09",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Task](t, w)
}

func TestCreateTask(t *testing.T) {
	env := newTestServer(t)
	task := createPayroll(t, env)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "שכר - כהן (2026-09)", task.Title)
	assert.Equal(t, "2026-10-15", task.DueDate)
	assert.Equal(t, models.TaskStatusNotStarted, task.Status)
	assert.Len(t, task.ProcessSteps, len(process.Default().StepKeys(process.CategoryPayroll)))

	w := env.do(t, http.MethodGet, "/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.ID, decode[models.Task](t, w).ID)
}

func TestCreateTask_Validation(t *testing.T) {
	env := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/tasks", CreateTaskRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/tasks",
		CreateTaskRequest{Category: process.CategoryPayroll, ReportingMonth: "09/2026"}).Code)
}

func TestToggleStep_RunsCascade(t *testing.T) {
	env := newTestServer(t)
	task := createPayroll(t, env)
	keys := process.Default().StepKeys(process.CategoryPayroll)

	w := env.do(t, http.MethodPost, "/tasks/"+task.ID+"/steps/"+keys[0], nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[cascade.Outcome](t, w)
	assert.True(t, out.Applied)
	require.NotNil(t, out.StatusDerived)
	assert.Equal(t, models.TaskStatusInProgress, *out.StatusDerived)

	for _, k := range keys[1:] {
		w = env.do(t, http.MethodPost, "/tasks/"+task.ID+"/steps/"+k, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	out = decode[cascade.Outcome](t, w)
	require.NotNil(t, out.StatusDerived)
	assert.Equal(t, models.TaskStatusCompleted, *out.StatusDerived)
	assert.Len(t, out.Created, 2)

	w = env.do(t, http.MethodGet, "/tasks?client="+url.QueryEscape("כהן"), nil)
	tasks := decode[[]models.Task](t, w)
	assert.Len(t, tasks, 3)

	persisted, err := env.db.ListTasks(context.Background(), store.TaskFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestToggleStep_Errors(t *testing.T) {
	env := newTestServer(t)
	task := createPayroll(t, env)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/tasks/"+task.ID+"/steps/no_such_step", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/tasks/missing/steps/x", nil).Code)
}

func TestUpdateAndDeleteTask(t *testing.T) {
	env := newTestServer(t)
	task := createPayroll(t, env)

	w := env.do(t, http.MethodPatch, "/tasks/"+task.ID, map[string]any{"status": "waiting_for_materials"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[cascade.Outcome](t, w)
	require.NotNil(t, out.Task)
	assert.Equal(t, models.TaskStatusWaitingForMaterials, out.Task.Status)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/tasks/"+task.ID, map[string]any{"status": "bogus"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPatch, "/tasks/missing", map[string]any{"notes": "x"}).Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/tasks/"+task.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/tasks/"+task.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/tasks/"+task.ID, nil).Code)
}

func TestClients_AutoLinkServices(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/clients", models.Client{
		Name:       "כהן",
		Services:   []string{"vat_report"},
		Attributes: map[string]string{"business_type": "company"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[ClientResult](t, w)
	// vat_report links bookkeeping, which for a company links statements
	assert.Equal(t, []string{"bank_reconciliation", "bookkeeping", "financial_statements", "vat_report"}, res.Client.Services)
	assert.Equal(t, []string{"bank_reconciliation", "bookkeeping", "financial_statements"}, res.AddedServices)
	assert.Equal(t, []string{"annual_report"}, res.ReportCategories)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/clients", models.Client{Name: "כהן"}).Code)

	w = env.do(t, http.MethodPost, "/clients/"+url.PathEscape("כהן")+"/services", addServiceRequest{Service: "payroll"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decode[ClientResult](t, w)
	assert.Equal(t, []string{"deductions", "payroll", "social_security"}, res.AddedServices)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/clients/nobody/services", addServiceRequest{Service: "payroll"}).Code)

	w = env.do(t, http.MethodGet, "/clients", nil)
	assert.Len(t, decode[[]models.Client](t, w), 1)
}

func TestClientNodeAndInsights(t *testing.T) {
	env := newTestServer(t)
	task := createPayroll(t, env)
	env.do(t, http.MethodPatch, "/tasks/"+task.ID, map[string]any{"status": "issue"})

	w := env.do(t, http.MethodGet, "/clients/"+url.PathEscape("כהן")+"/node", nil)
	require.Equal(t, http.StatusOK, w.Code)
	node := decode[cascade.NodeState](t, w)
	assert.Equal(t, cascade.HealthBlocked, node.Health)
	assert.Equal(t, 1, node.Issues)

	w = env.do(t, http.MethodGet, "/insights", nil)
	require.Equal(t, http.StatusOK, w.Code)
	insights := decode[[]cascade.Insight](t, w)
	var kinds []cascade.InsightKind
	for _, in := range insights {
		kinds = append(kinds, in.Kind)
	}
	assert.Contains(t, kinds, cascade.InsightIssue)
}

func TestTemplates(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]process.Template](t, w), process.Default().Count())

	w = env.do(t, http.MethodGet, "/templates/"+process.CategoryPayroll, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, process.CategoryPayroll, decode[process.Template](t, w).Category)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/templates/nope", nil).Code)
}

func TestRules(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[RulesResponse](t, w)
	assert.NotEmpty(t, first.ConfigID)
	assert.Len(t, first.Rules, len(automation.DefaultRules()))

	rules := automation.RuleSet{automation.ServiceAutoLinkRule{
		RuleMeta:        automation.RuleMeta{ID: "r1", Name: "payroll", Enabled: true},
		TriggerService:  "payroll",
		AutoAddServices: []string{"pension"},
	}}
	w = env.do(t, http.MethodPut, "/rules", map[string]any{"rules": rules})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, first.ConfigID, decode[RulesResponse](t, w).ConfigID)

	w = env.do(t, http.MethodPost, "/rules/preview", PreviewRequest{TriggerService: "payroll"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pension"}, decode[automation.PreviewResult](t, w).Services)

	// Missing auto_add_services fails validation
	bad := `{"rules":[{"type":"service_auto_link","id":"x","trigger_service":"payroll"}]}`
	req := httptest.NewRequest(http.MethodPut, "/rules", strings.NewReader(bad))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/rules/preview", PreviewRequest{}).Code)
}

func TestBackupEndpoints(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/backup/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, backup.StatusOK, decode[backup.Health](t, w).Status)
	assert.Equal(t, 1, env.uploader.calls)

	w = env.do(t, http.MethodPut, "/backup/auto", autoBackupRequest{Enabled: false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, backup.StatusDisabled, decode[backup.Health](t, w).Status)

	w = env.do(t, http.MethodGet, "/backup", nil)
	assert.Equal(t, backup.StatusDisabled, decode[backup.Health](t, w).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodGet, "/health", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "calmplan_http_requests_total")
}

func TestEvents_StreamsDebouncedChanges(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	for i := 0; i < 5; i++ {
		env.bus.Publish(notify.Event{Collection: notify.CollectionTasks, Type: notify.TypeChanged})
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: tasks\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"collection":"tasks"`)
}

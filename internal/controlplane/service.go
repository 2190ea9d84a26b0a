// Package controlplane provides the HTTP API and service layer for CalmPlan.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fentz26/calmplan/internal/audit"
	"github.com/fentz26/calmplan/internal/automation"
	"github.com/fentz26/calmplan/internal/backup"
	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/process"
	"github.com/fentz26/calmplan/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	store   *store.Store
	coord   *cascade.Coordinator
	rules   *automation.Store
	monitor *backup.Monitor
	bus     *notify.Bus
	audit   audit.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// Deps are the collaborators a Service composes. Monitor may be nil.
type Deps struct {
	Store       *store.Store
	Coordinator *cascade.Coordinator
	Rules       *automation.Store
	Monitor     *backup.Monitor
	Bus         *notify.Bus
	Audit       audit.Recorder
	Logger      *slog.Logger
}

// NewService creates a new control plane service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   d.Store,
		coord:   d.Coordinator,
		rules:   d.Rules,
		monitor: d.Monitor,
		bus:     d.Bus,
		audit:   d.Audit,
		logger:  logger.With("component", "controlplane"),
		now:     time.Now,
	}
}

// Bus returns the change notification bus.
func (s *Service) Bus() *notify.Bus { return s.bus }

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// --- Task Operations ---

// TaskQuery filters the in-memory task list.
type TaskQuery struct {
	Client string
	Month  string
	Status string
}

// ListTasks returns tasks matching q, ordered by due date then title.
func (s *Service) ListTasks(q TaskQuery) []models.Task {
	var out []models.Task
	for _, t := range s.coord.Tasks().All() {
		if q.Client != "" && t.ClientName != q.Client {
			continue
		}
		if q.Month != "" && t.ReportingMonth != q.Month {
			continue
		}
		if q.Status != "" && string(t.Status) != q.Status {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DueDate != b.DueDate {
			if a.DueDate == "" || b.DueDate == "" {
				return b.DueDate == ""
			}
			return a.DueDate < b.DueDate
		}
		return a.Title < b.Title
	})
	return out
}

// GetTask returns a task by id.
func (s *Service) GetTask(id string) (*models.Task, error) {
	t, ok := s.coord.Tasks().Get(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

// CreateTaskRequest is the payload for a new task. An empty title is built
// from the category label, client and month.
type CreateTaskRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	ClientName     string `json:"client_name"`
	ReportingMonth string `json:"reporting_month"`
	DueDate        string `json:"due_date"`
}

// CreateTask creates a task and links it to a known client.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	if req.Category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if req.ReportingMonth != "" {
		if _, err := time.Parse("2006-01", req.ReportingMonth); err != nil {
			return nil, fmt.Errorf("%w: reporting_month must be YYYY-MM", ErrInvalidInput)
		}
	}

	draft := models.Task{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		ClientName:     req.ClientName,
		ReportingMonth: req.ReportingMonth,
		DueDate:        req.DueDate,
		Status:         models.TaskStatusNotStarted,
	}
	if draft.Title == "" {
		label := s.coord.Engine().Registry().Label(req.Category)
		draft.Title = cascade.DraftTitle(label, req.ClientName, req.ReportingMonth)
	}
	if draft.DueDate == "" {
		draft.DueDate = cascade.DueDateFor(req.ReportingMonth)
	}
	if req.ClientName != "" {
		c, err := s.store.GetClientByName(ctx, req.ClientName)
		switch {
		case err == nil:
			draft.ClientID = c.ID
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	return s.coord.Create(ctx, draft)
}

// UpdateTask applies patch through the cascade.
func (s *Service) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (cascade.Outcome, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return cascade.Outcome{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
	}
	out := s.coord.UpdateTaskWithCascade(ctx, id, patch)
	if !out.Found {
		return out, ErrTaskNotFound
	}
	return out, nil
}

// ToggleStep flips one checklist step through the cascade.
func (s *Service) ToggleStep(ctx context.Context, id, key string) (cascade.Outcome, error) {
	t, ok := s.coord.Tasks().Get(id)
	if !ok {
		return cascade.Outcome{}, ErrTaskNotFound
	}
	if _, known := t.ProcessSteps[key]; !known {
		if !slices.Contains(s.coord.Engine().Registry().StepKeys(t.Category), key) {
			return cascade.Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStep, key)
		}
	}
	out := s.coord.UpdateStepWithCascade(ctx, id, key)
	if !out.Found {
		return out, ErrTaskNotFound
	}
	return out, nil
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if _, ok := s.coord.Tasks().Get(id); !ok {
		return ErrTaskNotFound
	}
	err := s.coord.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrTaskNotFound
	}
	return err
}

// Insights computes dashboard insights over all tasks and clients.
func (s *Service) Insights(ctx context.Context) ([]cascade.Insight, error) {
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	return s.coord.Engine().ComputeInsights(s.coord.Tasks().All(), clients, s.now()), nil
}

// --- Client Operations ---

// ListClients returns all clients.
func (s *Service) ListClients(ctx context.Context) ([]models.Client, error) {
	return s.store.ListClients(ctx)
}

// ClientResult is a created or updated client plus the report categories
// its services now call for.
type ClientResult struct {
	Client           models.Client `json:"client"`
	AddedServices    []string      `json:"added_services,omitempty"`
	ReportCategories []string      `json:"report_categories,omitempty"`
}

// CreateClient inserts a client, expanding its services with auto-link rules.
func (s *Service) CreateClient(ctx context.Context, c models.Client) (*ClientResult, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	rules, _ := s.rules.Load(ctx)
	initial := slices.Clone(c.Services)
	c.Services = expandServices(rules, c.Services, c.Attributes)

	created, err := s.store.CreateClient(ctx, c)
	if errors.Is(err, store.ErrDuplicateClient) {
		return nil, ErrClientExists
	}
	if err != nil {
		return nil, err
	}
	s.publish(notify.CollectionClients)
	return &ClientResult{
		Client:           *created,
		AddedServices:    difference(created.Services, initial),
		ReportCategories: reportCategories(rules, created.Services),
	}, nil
}

// AddClientService adds service to the named client along with every
// service the enabled auto-link rules attach to it.
func (s *Service) AddClientService(ctx context.Context, name, service string) (*ClientResult, error) {
	if service == "" {
		return nil, fmt.Errorf("%w: service is required", ErrInvalidInput)
	}
	c, err := s.store.GetClientByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}

	rules, _ := s.rules.Load(ctx)
	before := slices.Clone(c.Services)
	c.Services = expandServices(rules, append(c.Services, service), c.Attributes)
	if err := s.store.SetClientServices(ctx, c.ID, c.Services); err != nil {
		return nil, err
	}
	s.logger.Info("client services updated", "client", name, "service", service, "services", c.Services)
	s.publish(notify.CollectionClients)
	return &ClientResult{
		Client:           *c,
		AddedServices:    difference(c.Services, before),
		ReportCategories: reportCategories(rules, c.Services),
	}, nil
}

// ClientNode returns the aggregated state of one client's tasks.
func (s *Service) ClientNode(name string) cascade.NodeState {
	return s.coord.Engine().ComputeClientNodeState(name, s.coord.Tasks().ForClient(name))
}

// expandServices closes services under the auto-link rules. Linked
// services are themselves triggers, so this iterates to a fixed point.
func expandServices(rules automation.RuleSet, services []string, attrs map[string]string) []string {
	set := make(map[string]bool, len(services))
	queue := make([]string, 0, len(services))
	for _, svc := range services {
		if svc != "" && !set[svc] {
			set[svc] = true
			queue = append(queue, svc)
		}
	}
	for len(queue) > 0 {
		svc := queue[0]
		queue = queue[1:]
		for linked := range automation.GetAutoLinkedServices(rules, svc, attrs) {
			if !set[linked] {
				set[linked] = true
				queue = append(queue, linked)
			}
		}
	}
	out := make([]string, 0, len(set))
	for svc := range set {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

func reportCategories(rules automation.RuleSet, services []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range automation.GetReportAutoCreateRules(rules, services) {
		for _, cat := range r.ReportCategories {
			if !seen[cat] {
				seen[cat] = true
				out = append(out, cat)
			}
		}
	}
	sort.Strings(out)
	return out
}

func difference(after, before []string) []string {
	var out []string
	for _, s := range after {
		if !slices.Contains(before, s) {
			out = append(out, s)
		}
	}
	return out
}

// --- Templates ---

// Templates lists the process templates.
func (s *Service) Templates() []process.Template {
	return s.coord.Engine().Registry().Categories()
}

// Template returns one process template.
func (s *Service) Template(category string) (process.Template, bool) {
	return s.coord.Engine().Registry().Get(category)
}

// --- Automation rules ---

// RulesResponse is the current rule set and its config record id.
type RulesResponse struct {
	ConfigID string             `json:"config_id,omitempty"`
	Rules    automation.RuleSet `json:"rules"`
}

// Rules returns the stored automation rules.
func (s *Service) Rules(ctx context.Context) RulesResponse {
	rules, id := s.rules.Load(ctx)
	return RulesResponse{ConfigID: id, Rules: rules}
}

// SaveRules replaces the automation rules.
func (s *Service) SaveRules(ctx context.Context, rules automation.RuleSet) (RulesResponse, error) {
	_, id := s.rules.Load(ctx)
	newID, err := s.rules.Save(ctx, id, rules)
	if err != nil {
		s.record(audit.ActionRulesSave, rules, audit.OutcomeFailure, map[string]string{"error": err.Error()})
		if errors.Is(err, automation.ErrInvalidRule) {
			return RulesResponse{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return RulesResponse{}, err
	}
	s.record(audit.ActionRulesSave, rules, audit.OutcomeSuccess, map[string]string{"count": fmt.Sprint(len(rules))})
	s.publish(notify.CollectionRules)
	return RulesResponse{ConfigID: newID, Rules: rules}, nil
}

// PreviewRequest asks which services a trigger would link.
type PreviewRequest struct {
	TriggerService string            `json:"trigger_service"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// PreviewRules evaluates the stored rules for one trigger.
func (s *Service) PreviewRules(ctx context.Context, req PreviewRequest) (automation.PreviewResult, error) {
	if req.TriggerService == "" {
		return automation.PreviewResult{}, fmt.Errorf("%w: trigger_service is required", ErrInvalidInput)
	}
	rules, _ := s.rules.Load(ctx)
	return automation.Preview(rules, req.TriggerService, req.Attributes), nil
}

// --- Backup ---

// BackupHealth returns the monitor's current health.
func (s *Service) BackupHealth() (backup.Health, error) {
	if s.monitor == nil {
		return backup.Health{}, ErrBackupDisabled
	}
	return s.monitor.Health(), nil
}

// RunBackup performs a backup now.
func (s *Service) RunBackup(ctx context.Context) (backup.Health, error) {
	if s.monitor == nil {
		return backup.Health{}, ErrBackupDisabled
	}
	return s.monitor.BackupNow(ctx), nil
}

// SetAutoBackup toggles automatic backups.
func (s *Service) SetAutoBackup(ctx context.Context, enabled bool) (backup.Health, error) {
	if s.monitor == nil {
		return backup.Health{}, ErrBackupDisabled
	}
	if err := s.monitor.SetAutoBackup(ctx, enabled); err != nil {
		return backup.Health{}, err
	}
	return s.monitor.Tick(ctx), nil
}

func (s *Service) record(action string, inputs any, outcome string, details map[string]string) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(action, inputs, outcome, "", details); err != nil {
		s.logger.Warn("recording audit entry failed", "action", action, "error", err)
	}
}

func (s *Service) publish(collection string) {
	if s.bus != nil {
		s.bus.Publish(notify.Event{Collection: collection, Type: notify.TypeChanged})
	}
}

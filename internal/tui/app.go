// Package tui provides the interactive terminal UI for CalmPlan.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/calmplan/internal/backup"
	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/process"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#0F766E")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

type mode int

const (
	modeList mode = iota
	modeDetail
	modeInsights
)

var filters = []models.TaskStatus{
	"",
	models.TaskStatusNotStarted,
	models.TaskStatusInProgress,
	models.TaskStatusWaitingForMaterials,
	models.TaskStatusIssue,
	models.TaskStatusCompleted,
}
var filterNames = []string{"ALL", "NOT STARTED", "IN PROGRESS", "WAITING", "ISSUE", "DONE"}

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// App is the main TUI application model.
type App struct {
	client      *Client
	tasks       []models.Task
	selectedIdx int
	input       textinput.Model
	width       int
	height      int
	mode        mode
	current     *models.Task
	template    process.Template
	stepIdx     int
	insights    []cascade.Insight
	backup      *backup.Health
	message     string
	filterIdx   int
	loading     bool
	online      bool
	suggestions *Suggestions

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "/add payroll @client 2026-09 | /status issue | /backup | /insights"
	ti.CharLimit = 256
	ti.Width = 80
	ti.Prompt = "› "

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		mode:        modeList,
		suggestions: NewSuggestions(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	defer a.cancel()
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.fetchTasks(),
		a.fetchBackup(),
		a.connectEvents(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.input.Focused() {
			return a.updateInput(msg)
		}
		return a.updateKeys(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6

	case tasksLoadedMsg:
		a.loading = false
		a.online = true
		a.tasks = msg.tasks
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = max(0, len(a.tasks)-1)
		}
		names := make([]string, 0, len(a.tasks))
		for _, t := range a.tasks {
			names = append(names, t.ClientName)
		}
		a.suggestions.SetClients(names)

	case taskDetailLoadedMsg:
		a.current = msg.task
		a.template = msg.template
		if a.stepIdx >= len(a.steps()) {
			a.stepIdx = max(0, len(a.steps())-1)
		}

	case insightsLoadedMsg:
		a.insights = msg.insights

	case backupLoadedMsg:
		a.backup = msg.health

	case eventsConnectedMsg:
		a.online = true
		return a, waitForEvent(msg.ch)

	case eventMsg:
		cmds := []tea.Cmd{waitForEvent(msg.ch)}
		switch msg.event.Collection {
		case notify.CollectionTasks:
			cmds = append(cmds, a.fetchTasks())
			if a.current != nil {
				cmds = append(cmds, a.fetchTaskDetail(a.current.ID))
			}
			if a.mode == modeInsights {
				cmds = append(cmds, a.fetchInsights())
			}
		case notify.CollectionBackup:
			cmds = append(cmds, a.fetchBackup())
		}
		return a, tea.Batch(cmds...)

	case eventsClosedMsg:
		a.online = false
		return a, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return a, a.connectEvents()

	case commandResultMsg:
		a.message = msg.message
		return a, tea.Batch(a.fetchTasks(), a.refreshCurrent())

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	return a, nil
}

func (a *App) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return a, tea.Quit

	case "/", ":":
		a.input.Focus()
		a.message = ""
		if msg.String() == "/" {
			a.input.SetValue("/")
			a.input.CursorEnd()
			a.suggestions.Update("/")
		}
		return a, textinput.Blink

	case "esc":
		if a.mode != modeList {
			a.mode = modeList
			a.current = nil
			return a, a.fetchTasks()
		}

	case "up", "k":
		switch a.mode {
		case modeList:
			if a.selectedIdx > 0 {
				a.selectedIdx--
			}
		case modeDetail:
			if a.stepIdx > 0 {
				a.stepIdx--
			}
		}

	case "down", "j":
		switch a.mode {
		case modeList:
			if a.selectedIdx < len(a.tasks)-1 {
				a.selectedIdx++
			}
		case modeDetail:
			if a.stepIdx < len(a.steps())-1 {
				a.stepIdx++
			}
		}

	case "tab":
		if a.mode == modeList {
			a.filterIdx = (a.filterIdx + 1) % len(filters)
			return a, a.fetchTasks()
		}

	case "enter":
		if a.mode == modeList && len(a.tasks) > 0 {
			a.mode = modeDetail
			a.stepIdx = 0
			return a, a.fetchTaskDetail(a.tasks[a.selectedIdx].ID)
		}

	case " ", "space":
		if a.mode == modeDetail && a.current != nil {
			steps := a.steps()
			if a.stepIdx < len(steps) {
				return a, a.toggleStep(a.current.ID, steps[a.stepIdx].Key)
			}
		}

	case "i":
		a.mode = modeInsights
		return a, a.fetchInsights()

	case "b":
		a.message = "Backing up..."
		return a, a.runBackup()

	case "r":
		return a, tea.Batch(a.fetchTasks(), a.fetchBackup(), a.refreshCurrent())
	}
	return a, nil
}

func (a *App) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "esc":
		a.input.SetValue("")
		a.input.Blur()
		a.suggestions.Update("")
		return a, nil
	case "up":
		a.suggestions.Prev()
		return a, nil
	case "down":
		a.suggestions.Next()
		return a, nil
	case "tab":
		if a.suggestions.IsVisible() {
			a.input.SetValue(a.suggestions.Complete(a.input.Value()))
			a.input.CursorEnd()
			a.suggestions.Update("")
		}
		return a, nil
	case "enter":
		line := strings.TrimSpace(a.input.Value())
		a.input.SetValue("")
		a.input.Blur()
		a.suggestions.Update("")
		if line == "" {
			return a, nil
		}
		return a, a.executeCommand(line)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.suggestions.Update(a.input.Value())
	return a, cmd
}

// steps returns the current task's checklist in template order.
func (a *App) steps() []process.Step {
	if a.current == nil {
		return nil
	}
	var out []process.Step
	seen := make(map[string]bool)
	for _, s := range a.template.Steps {
		out = append(out, s)
		seen[s.Key] = true
	}
	var extra []string
	for k := range a.current.ProcessSteps {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, process.Step{Key: k, Label: k})
	}
	return out
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	online := lipgloss.NewStyle().Foreground(successColor).Bold(true).Render("● DAEMON")
	if !a.online {
		online = lipgloss.NewStyle().Foreground(errorColor).Render("○ DAEMON")
	}
	b.WriteString(titleStyle.Render("CalmPlan") + "  " + online + "  " + a.renderBackupBadge() + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	contentHeight := max(a.height-8, 5)

	switch a.mode {
	case modeList:
		b.WriteString(helpStyle.Render(fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])) + "\n")
		b.WriteString(a.renderTaskList(contentHeight - 1))
	case modeDetail:
		b.WriteString(a.renderTaskDetail())
	case modeInsights:
		b.WriteString(a.renderInsights(contentHeight))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	if a.input.Focused() {
		b.WriteString("\n" + inputBoxStyle.Render(a.input.View()))
		if a.suggestions.IsVisible() {
			b.WriteString("\n" + a.suggestions.Render(a.width))
		}
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Tasks: %d | ↑↓:nav | Enter:open | Tab:filter | i:insights | b:backup | /:command | q:quit", len(a.tasks))
	case modeDetail:
		status = " ↑↓:step | Space:toggle | /status <status> | Esc:back"
	case modeInsights:
		status = fmt.Sprintf(" Insights: %d | Esc:back | r:refresh", len(a.insights))
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(status))

	return b.String()
}

func (a *App) renderBackupBadge() string {
	if a.backup == nil {
		return helpStyle.Render("backup: ?")
	}
	color := mutedColor
	switch a.backup.Status {
	case backup.StatusOK:
		color = successColor
	case backup.StatusWarning, backup.StatusOverdue, backup.StatusBackingUp:
		color = warningColor
	case backup.StatusError:
		color = errorColor
	}
	label := "backup: " + string(a.backup.Status)
	if a.backup.LastBackup != nil {
		label += " (" + a.backup.LastBackup.Local().Format("15:04") + ")"
	}
	return lipgloss.NewStyle().Foreground(color).Render(label)
}

func (a *App) renderTaskList(height int) string {
	if a.loading && len(a.tasks) == 0 {
		return "\n  Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks found. Type /add <category> @<client> <YYYY-MM> to create one.\n"
	}

	var lines []string
	for i, task := range a.tasks {
		done, total := countSteps(task.ProcessSteps)
		progress := ""
		if total > 0 {
			progress = fmt.Sprintf(" %d/%d", done, total)
		}
		due := ""
		if task.DueDate != "" {
			due = "  " + task.DueDate
		}
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s  %s%s%s", statusIcon(task.Status), task.Title, due, progress)))
		} else {
			lines = append(lines, taskItemStyle.Render(fmt.Sprintf("  %s  %s%s%s", formatStatus(task.Status), task.Title, helpStyle.Render(due), helpStyle.Render(progress))))
		}
	}

	if len(lines) > height {
		start := max(a.selectedIdx-height/2, 0)
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderTaskDetail() string {
	if a.current == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	t := a.current

	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(t.Title)))
	b.WriteString(fmt.Sprintf("  Status: %s\n", formatStatus(t.Status)))
	if t.ClientName != "" {
		b.WriteString(fmt.Sprintf("  Client: %s   Month: %s\n", t.ClientName, t.ReportingMonth))
	}
	if t.DueDate != "" {
		b.WriteString(fmt.Sprintf("  Due: %s\n", t.DueDate))
	}
	if t.AutoCreated {
		b.WriteString(helpStyle.Render("  Created automatically") + "\n")
	}
	if t.Description != "" {
		b.WriteString(fmt.Sprintf("  %s\n", t.Description))
	}

	steps := a.steps()
	if len(steps) == 0 {
		b.WriteString("\n  " + helpStyle.Render("No checklist for this category") + "\n")
		return b.String()
	}
	b.WriteString("\n  Checklist:\n")
	for i, s := range steps {
		mark := "[ ]"
		if t.ProcessSteps[s.Key] {
			mark = lipgloss.NewStyle().Foreground(successColor).Render("[x]")
		}
		label := s.Label
		if label == "" {
			label = s.Key
		}
		if i == a.stepIdx {
			b.WriteString(selectedStyle.Render(fmt.Sprintf("▶ %s %s", stripStyle(t.ProcessSteps[s.Key]), label)) + "\n")
		} else {
			b.WriteString(fmt.Sprintf("    %s %s\n", mark, label))
		}
	}
	return b.String()
}

func (a *App) renderInsights(height int) string {
	if len(a.insights) == 0 {
		return "\n  " + lipgloss.NewStyle().Foreground(successColor).Render("Nothing needs attention") + "\n"
	}
	var b strings.Builder
	b.WriteString("\n")
	for i, in := range a.insights {
		if i >= height-1 {
			b.WriteString(helpStyle.Render(fmt.Sprintf("  ... and %d more", len(a.insights)-i)) + "\n")
			break
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", severityBadge(in.Severity), in.Message))
	}
	return b.String()
}

func severityBadge(s cascade.Severity) string {
	switch s {
	case cascade.SeverityCritical:
		return lipgloss.NewStyle().Foreground(errorColor).Bold(true).Render("●")
	case cascade.SeverityWarning:
		return lipgloss.NewStyle().Foreground(warningColor).Render("●")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("●")
	}
}

func stripStyle(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func countSteps(steps models.ProcessSteps) (done, total int) {
	for _, v := range steps {
		total++
		if v {
			done++
		}
	}
	return done, total
}

func formatStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusNotStarted:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ NOT STARTED")
	case models.TaskStatusInProgress:
		return lipgloss.NewStyle().Foreground(secondaryColor).Render("◐ IN PROGRESS")
	case models.TaskStatusWaitingForMaterials:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◔ WAITING")
	case models.TaskStatusIssue:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ ISSUE")
	case models.TaskStatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("– " + strings.ToUpper(string(status)))
	}
}

func statusIcon(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusNotStarted:
		return "○"
	case models.TaskStatusInProgress:
		return "◐"
	case models.TaskStatusWaitingForMaterials:
		return "◔"
	case models.TaskStatusIssue:
		return "✗"
	case models.TaskStatusCompleted:
		return "●"
	default:
		return "–"
	}
}

// --- Commands ---

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	filter := filters[a.filterIdx]
	return func() tea.Msg {
		tasks, err := a.client.ListTasks(string(filter))
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(taskID)
		if err != nil {
			return errMsg{err}
		}
		tmpl, err := a.client.Template(task.Category)
		if err != nil {
			return errMsg{err}
		}
		return taskDetailLoadedMsg{task, tmpl}
	}
}

func (a *App) refreshCurrent() tea.Cmd {
	if a.mode != modeDetail || a.current == nil {
		return nil
	}
	return a.fetchTaskDetail(a.current.ID)
}

func (a *App) fetchInsights() tea.Cmd {
	return func() tea.Msg {
		insights, err := a.client.Insights()
		if err != nil {
			return errMsg{err}
		}
		return insightsLoadedMsg{insights}
	}
}

func (a *App) fetchBackup() tea.Cmd {
	return func() tea.Msg {
		h, err := a.client.Backup()
		if err != nil {
			// No monitor configured
			return backupLoadedMsg{&backup.Health{Status: backup.StatusDisabled}}
		}
		return backupLoadedMsg{h}
	}
}

func (a *App) runBackup() tea.Cmd {
	return func() tea.Msg {
		h, err := a.client.BackupNow()
		if err != nil {
			return errMsg{err}
		}
		if h.Status == backup.StatusError {
			return commandResultMsg{"Error: " + h.Message}
		}
		return commandResultMsg{"✓ " + h.Message}
	}
}

func (a *App) toggleStep(taskID, key string) tea.Cmd {
	return func() tea.Msg {
		out, err := a.client.ToggleStep(taskID, key)
		if err != nil {
			return errMsg{err}
		}
		return commandResultMsg{describeOutcome(out)}
	}
}

func describeOutcome(out *cascade.Outcome) string {
	if out.RolledBack {
		return "Error: update failed and was rolled back"
	}
	parts := []string{"✓ Saved"}
	if out.StatusDerived != nil {
		parts = append(parts, "status → "+string(*out.StatusDerived))
	}
	if n := len(out.Created); n > 0 {
		parts = append(parts, fmt.Sprintf("%d follow-up task(s) created", n))
	}
	return strings.Join(parts, " | ")
}

func (a *App) connectEvents() tea.Cmd {
	return func() tea.Msg {
		ch, err := a.client.Events(a.ctx)
		if err != nil {
			return eventsClosedMsg{}
		}
		return eventsConnectedMsg{ch}
	}
}

func waitForEvent(ch <-chan notify.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: e, ch: ch}
	}
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(input)
	cmd := strings.TrimPrefix(parts[0], "/")
	args := parts[1:]

	switch cmd {
	case "q", "quit", "exit":
		return tea.Quit

	case "insights":
		a.mode = modeInsights
		return a.fetchInsights()

	case "backup":
		a.message = "Backing up..."
		return a.runBackup()

	case "filter":
		if len(args) == 1 {
			for i, f := range filters {
				if string(f) == args[0] || (args[0] == "all" && f == "") {
					a.filterIdx = i
					return a.fetchTasks()
				}
			}
		}
		return func() tea.Msg { return commandResultMsg{"Usage: filter <status>|all"} }
	}

	var selected string
	if a.mode == modeDetail && a.current != nil {
		selected = a.current.ID
	} else if len(a.tasks) > 0 {
		selected = a.tasks[a.selectedIdx].ID
	}

	return func() tea.Msg {
		switch cmd {
		case "add":
			category, client, month := parseAdd(args)
			if category == "" {
				return commandResultMsg{"Usage: add <category> @<client> <YYYY-MM>"}
			}
			task, err := a.client.CreateTask(category, client, month)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Created: " + task.Title}

		case "status":
			if selected == "" || len(args) != 1 {
				return commandResultMsg{"Usage: status <status> (with a task selected)"}
			}
			out, err := a.client.SetStatus(selected, models.TaskStatus(args[0]))
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{describeOutcome(out)}

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: /add, /status, /backup, /insights)", cmd)}
		}
	}
}

// parseAdd reads "<category> [@client words...] [YYYY-MM]".
func parseAdd(args []string) (category, client, month string) {
	if len(args) == 0 {
		return "", "", ""
	}
	category = args[0]
	var name []string
	for _, arg := range args[1:] {
		switch {
		case monthPattern.MatchString(arg):
			month = arg
		default:
			name = append(name, strings.TrimPrefix(arg, "@"))
		}
	}
	return category, strings.Join(name, " "), month
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type tasksLoadedMsg struct {
	tasks []models.Task
}

type taskDetailLoadedMsg struct {
	task     *models.Task
	template process.Template
}

type insightsLoadedMsg struct {
	insights []cascade.Insight
}

type backupLoadedMsg struct {
	health *backup.Health
}

type eventsConnectedMsg struct {
	ch <-chan notify.Event
}

type eventMsg struct {
	event notify.Event
	ch    <-chan notify.Event
}

type eventsClosedMsg struct{}

type reconnectMsg struct{}

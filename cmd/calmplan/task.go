package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/controlplane"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/process"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new task",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details and checklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id] [status]",
	Short: "Set a task's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskStatus,
}

var taskStepCmd = &cobra.Command{
	Use:   "step [task-id] [step-key]",
	Short: "Toggle a checklist step",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskStep,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete [task-id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var (
	taskTitle    string
	taskDesc     string
	taskCategory string
	taskClient   string
	taskMonth    string
	taskDue      string
	taskStatus   string
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskStatusCmd, taskStepCmd, taskDeleteCmd)

	taskAddCmd.Flags().StringVar(&taskCategory, "category", "", "Process category, e.g. payroll (required)")
	taskAddCmd.Flags().StringVar(&taskClient, "client", "", "Client name")
	taskAddCmd.Flags().StringVar(&taskMonth, "month", "", "Reporting month (YYYY-MM)")
	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (default built from category, client and month)")
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "Due date (YYYY-MM-DD, default the 15th of the next month)")
	taskAddCmd.MarkFlagRequired("category")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status")
	taskListCmd.Flags().StringVar(&taskClient, "client", "", "Filter by client")
	taskListCmd.Flags().StringVar(&taskMonth, "month", "", "Filter by reporting month")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks", controlplane.CreateTaskRequest{
		Title:          taskTitle,
		Description:    taskDesc,
		Category:       taskCategory,
		ClientName:     taskClient,
		ReportingMonth: taskMonth,
		DueDate:        taskDue,
	})
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}
	fmt.Printf("Created task: %s (%s)\n", task.ID, task.Title)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if taskStatus != "" {
		q.Set("status", taskStatus)
	}
	if taskClient != "" {
		q.Set("client", taskClient)
	}
	if taskMonth != "" {
		q.Set("month", taskMonth)
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []models.Task
	if err := apiGetJSON(path, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tDUE\tSTEPS")
	for _, t := range tasks {
		done := 0
		for _, v := range t.ProcessSteps {
			if v {
				done++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n",
			truncateID(t.ID), truncate(t.Title, 40), renderStatus(t.Status), t.DueDate, done, len(t.ProcessSteps))
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	var task models.Task
	if err := apiGetJSON("/tasks/"+args[0], &task); err != nil {
		return err
	}
	var tmpl process.Template
	_ = apiGetJSON("/templates/"+url.PathEscape(task.Category), &tmpl)

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Title:       %s\n", task.Title)
	fmt.Printf("Category:    %s\n", task.Category)
	fmt.Printf("Client:      %s\n", task.ClientName)
	fmt.Printf("Month:       %s\n", task.ReportingMonth)
	fmt.Printf("Status:      %s\n", renderStatus(task.Status))
	fmt.Printf("Due:         %s\n", task.DueDate)
	if task.Description != "" {
		fmt.Printf("Description: %s\n", task.Description)
	}
	if task.AutoCreated {
		fmt.Printf("Created by:  %s\n", task.SourceTaskID)
	}
	fmt.Printf("Updated:     %s\n", task.UpdatedAt.Format("2006-01-02 15:04"))

	if len(task.ProcessSteps) == 0 {
		return nil
	}
	fmt.Println("\nChecklist:")
	for _, step := range checklist(task, tmpl) {
		mark := " "
		if task.ProcessSteps[step.Key] {
			mark = "x"
		}
		fmt.Printf("  [%s] %-28s %s\n", mark, step.Key, step.Label)
	}
	return nil
}

// checklist orders the task's steps by the template, then any extra keys.
func checklist(task models.Task, tmpl process.Template) []process.Step {
	var out []process.Step
	seen := make(map[string]bool)
	for _, s := range tmpl.Steps {
		if _, ok := task.ProcessSteps[s.Key]; ok {
			out = append(out, s)
			seen[s.Key] = true
		}
	}
	var extra []string
	for k := range task.ProcessSteps {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, process.Step{Key: k})
	}
	return out
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	status := models.TaskStatus(args[1])
	resp, err := apiDo(http.MethodPatch, "/tasks/"+args[0], models.TaskPatch{Status: &status})
	return printOutcome(resp, err)
}

func runTaskStep(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks/"+args[0]+"/steps/"+url.PathEscape(args[1]), nil)
	return printOutcome(resp, err)
}

func printOutcome(resp []byte, reqErr error) error {
	var out cascade.Outcome
	if len(resp) > 0 {
		if err := json.Unmarshal(resp, &out); err != nil && reqErr == nil {
			return err
		}
	}
	if out.RolledBack {
		fmt.Println("Update failed and was rolled back.")
	}
	if reqErr != nil {
		return reqErr
	}
	if out.Task != nil {
		fmt.Printf("%s: %s\n", out.Task.Title, renderStatus(out.Task.Status))
	}
	if out.StatusDerived != nil {
		fmt.Printf("Status advanced to %s\n", renderStatus(*out.StatusDerived))
	}
	for _, t := range out.Created {
		fmt.Printf("Created follow-up: %s (due %s)\n", t.Title, t.DueDate)
	}
	for _, title := range out.Skipped {
		fmt.Printf("Already exists:    %s\n", title)
	}
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	if _, err := apiDo(http.MethodDelete, "/tasks/"+args[0], nil); err != nil {
		return err
	}
	fmt.Printf("Deleted task %s\n", args[0])
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

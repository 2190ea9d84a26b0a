package tui

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fentz26/calmplan/internal/backup"
	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/process"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the CalmPlan API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListTasks fetches tasks from the API
func (c *Client) ListTasks(status string) ([]models.Task, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var tasks []models.Task
	err := c.do(http.MethodGet, path, nil, &tasks)
	return tasks, err
}

// GetTask fetches a single task
func (c *Client) GetTask(id string) (*models.Task, error) {
	var task models.Task
	if err := c.do(http.MethodGet, "/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Template fetches the process template for a category. A category
// without a template yields an empty template.
func (c *Client) Template(category string) (process.Template, error) {
	var t process.Template
	err := c.do(http.MethodGet, "/templates/"+url.PathEscape(category), nil, &t)
	if err != nil && strings.Contains(err.Error(), "not found") {
		return process.Template{Category: category}, nil
	}
	return t, err
}

// CreateTask creates a task from a category, client and month
func (c *Client) CreateTask(category, client, month string) (*models.Task, error) {
	var task models.Task
	err := c.do(http.MethodPost, "/tasks", map[string]string{
		"category":        category,
		"client_name":     client,
		"reporting_month": month,
	}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ToggleStep flips a checklist step; the daemon runs the cascade.
func (c *Client) ToggleStep(taskID, key string) (*cascade.Outcome, error) {
	var out cascade.Outcome
	if err := c.do(http.MethodPost, "/tasks/"+taskID+"/steps/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetStatus sets a task's status explicitly.
func (c *Client) SetStatus(taskID string, status models.TaskStatus) (*cascade.Outcome, error) {
	var out cascade.Outcome
	if err := c.do(http.MethodPatch, "/tasks/"+taskID, models.TaskPatch{Status: &status}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Insights fetches the dashboard insights.
func (c *Client) Insights() ([]cascade.Insight, error) {
	var insights []cascade.Insight
	err := c.do(http.MethodGet, "/insights", nil, &insights)
	return insights, err
}

// Backup fetches the backup health.
func (c *Client) Backup() (*backup.Health, error) {
	var h backup.Health
	if err := c.do(http.MethodGet, "/backup", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// BackupNow runs a backup and returns the resulting health.
func (c *Client) BackupNow() (*backup.Health, error) {
	var h backup.Health
	if err := c.do(http.MethodPost, "/backup/run", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Events streams change notifications until ctx is done or the
// connection drops; the channel is then closed.
func (c *Client) Events(ctx context.Context) (<-chan notify.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	// No client timeout on the stream
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("events: status %d", resp.StatusCode)
	}

	ch := make(chan notify.Event)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var e notify.Event
			if err := json.Unmarshal([]byte(data), &e); err != nil {
				continue
			}
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

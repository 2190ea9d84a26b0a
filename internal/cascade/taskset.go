package cascade

import (
	"sync"

	"github.com/fentz26/calmplan/internal/models"
)

// TaskSet is the in-memory task collection the coordinator owns. Tasks are
// deep-copied on the way in and out.
type TaskSet struct {
	mu    sync.RWMutex
	byID  map[string]models.Task
	order []string
}

// NewTaskSet creates a set holding tasks.
func NewTaskSet(tasks []models.Task) *TaskSet {
	ts := &TaskSet{}
	ts.Replace(tasks)
	return ts
}

// Replace swaps the whole collection.
func (ts *TaskSet) Replace(tasks []models.Task) {
	byID := make(map[string]models.Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; !dup {
			order = append(order, t.ID)
		}
		byID[t.ID] = t.Clone()
	}

	ts.mu.Lock()
	ts.byID = byID
	ts.order = order
	ts.mu.Unlock()
}

// Get returns a copy of the task with id.
func (ts *TaskSet) Get(id string) (models.Task, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.byID[id]
	if !ok {
		return models.Task{}, false
	}
	return t.Clone(), true
}

// Put inserts or replaces a task. New tasks are appended.
func (ts *TaskSet) Put(t models.Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.byID[t.ID]; !ok {
		ts.order = append(ts.order, t.ID)
	}
	ts.byID[t.ID] = t.Clone()
}

// Remove deletes the task with id, reporting whether it was present.
func (ts *TaskSet) Remove(id string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.byID[id]; !ok {
		return false
	}
	delete(ts.byID, id)
	for i, oid := range ts.order {
		if oid == id {
			ts.order = append(ts.order[:i], ts.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns copies of every task in insertion order.
func (ts *TaskSet) All() []models.Task {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]models.Task, 0, len(ts.order))
	for _, id := range ts.order {
		out = append(out, ts.byID[id].Clone())
	}
	return out
}

// ForClient returns copies of the tasks belonging to clientName.
func (ts *TaskSet) ForClient(clientName string) []models.Task {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	var out []models.Task
	for _, id := range ts.order {
		if t := ts.byID[id]; t.ClientName == clientName {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Titles returns the set of known task titles.
func (ts *TaskSet) Titles() map[string]bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	titles := make(map[string]bool, len(ts.byID))
	for _, t := range ts.byID {
		titles[t.Title] = true
	}
	return titles
}

// Len returns the number of tasks.
func (ts *TaskSet) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.byID)
}

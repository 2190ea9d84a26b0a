package cascade

import "github.com/fentz26/calmplan/internal/models"

// Health is the aggregate state of a client's work.
type Health string

const (
	HealthOK        Health = "ok"
	HealthAttention Health = "attention"
	HealthBlocked   Health = "blocked"
)

// NodeState summarises one client's tasks for visualisation.
type NodeState struct {
	Client     string  `json:"client"`
	Health     Health  `json:"health"`
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Open       int     `json:"open"`
	Waiting    int     `json:"waiting"`
	Issues     int     `json:"issues"`
	StepsDone  int     `json:"steps_done"`
	StepsTotal int     `json:"steps_total"`
	Progress   float64 `json:"progress"`
}

// ComputeClientNodeState summarises clientTasks with the default engine.
func ComputeClientNodeState(clientName string, clientTasks []models.Task) NodeState {
	return defaultEngine.ComputeClientNodeState(clientName, clientTasks)
}

// ComputeClientNodeState reduces clientTasks to a single node state. The
// caller selects the tasks; none are filtered out here.
func (e *Engine) ComputeClientNodeState(clientName string, clientTasks []models.Task) NodeState {
	ns := NodeState{Client: clientName, Total: len(clientTasks)}
	prereq := false

	for _, t := range clientTasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			ns.Completed++
		case models.TaskStatusWaitingForMaterials:
			ns.Waiting++
		case models.TaskStatusIssue:
			ns.Issues++
		}
		if !t.Status.IsClosed() {
			ns.Open++
			if e.hasUnresolvedPrerequisite(t) {
				prereq = true
			}
		}

		for _, k := range e.stepKeys(t.Category, t.ProcessSteps) {
			ns.StepsTotal++
			if t.ProcessSteps[k] {
				ns.StepsDone++
			}
		}
	}

	switch {
	case ns.StepsTotal > 0:
		ns.Progress = float64(ns.StepsDone) / float64(ns.StepsTotal)
	case ns.Total > 0:
		ns.Progress = float64(ns.Completed) / float64(ns.Total)
	}

	switch {
	case ns.Issues > 0:
		ns.Health = HealthBlocked
	case ns.Waiting > 0 || prereq:
		ns.Health = HealthAttention
	default:
		ns.Health = HealthOK
	}
	return ns
}

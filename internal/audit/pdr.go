// Package audit records Process Decision Records: one row per state-mutating
// decision (cascade applied, rules saved, backup attempted) for later review.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fentz26/calmplan/internal/models"
)

// Actions recorded by the daemon.
const (
	ActionTaskCascade = "task.cascade"
	ActionTaskCreate  = "task.create"
	ActionTaskDelete  = "task.delete"
	ActionRulesSave   = "rules.save"
	ActionBackupRun   = "backup.run"
)

// Outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeRolledBack = "rolled_back"
)

// Sink persists PDR rows.
type Sink interface {
	WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error)
}

// Recorder is the write side used by components that make decisions.
type Recorder interface {
	Record(action string, inputs any, outcome, taskID string, details map[string]string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry. inputs is hashed so identical decisions can be
// matched; details are flattened to sorted key=value pairs.
func (w *PDRWriter) Record(action string, inputs any, outcome, taskID string, details map[string]string) (*models.PDREntry, error) {
	entry, err := w.sink.WritePDR(action, HashInputs(inputs), outcome, taskID, FormatDetails(details))
	if err != nil {
		return nil, fmt.Errorf("write pdr %s: %w", action, err)
	}
	return entry, nil
}

// HashInputs returns the hex SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// FormatDetails renders details as "k1=v1 k2=v2" with keys sorted.
func FormatDetails(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + details[k]
	}
	return strings.Join(parts, " ")
}

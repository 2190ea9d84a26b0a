package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/calmplan/internal/models"
)

// Export is a full logical dump of the database.
type Export struct {
	ExportedAt time.Time             `json:"exported_at"`
	Tasks      []models.Task         `json:"tasks"`
	Clients    []models.Client       `json:"clients"`
	Configs    []models.ConfigRecord `json:"configs"`
}

// SnapshotTo writes a consistent copy of the database file to path.
func (s *Store) SnapshotTo(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	// VACUUM INTO refuses to overwrite
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

// ExportJSON returns every task, client and config record as JSON.
func (s *Store) ExportJSON(ctx context.Context) ([]byte, error) {
	tasks, err := s.ListTasks(ctx, TaskFilter{}, 0)
	if err != nil {
		return nil, err
	}
	clients, err := s.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	configs, err := s.ListConfigs(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	exp := Export{
		ExportedAt: time.Now().UTC(),
		Tasks:      tasks,
		Clients:    clients,
		Configs:    configs,
	}
	if exp.Tasks == nil {
		exp.Tasks = []models.Task{}
	}
	if exp.Clients == nil {
		exp.Clients = []models.Client{}
	}
	if exp.Configs == nil {
		exp.Configs = []models.ConfigRecord{}
	}
	return json.Marshal(exp)
}

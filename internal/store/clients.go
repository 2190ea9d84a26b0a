package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/calmplan/internal/models"
	"github.com/google/uuid"
)

// ErrDuplicateClient indicates a client with the same name already exists.
var ErrDuplicateClient = fmt.Errorf("client already exists")

func scanClient(row rowScanner) (models.Client, error) {
	var c models.Client
	var services, attributes sql.NullString
	var active int

	if err := row.Scan(&c.ID, &c.Name, &services, &attributes, &active, &c.CreatedAt); err != nil {
		return c, err
	}
	c.Active = active != 0
	if services.Valid && services.String != "" {
		if err := json.Unmarshal([]byte(services.String), &c.Services); err != nil {
			return c, fmt.Errorf("decode services: %w", err)
		}
	}
	if attributes.Valid && attributes.String != "" {
		if err := json.Unmarshal([]byte(attributes.String), &c.Attributes); err != nil {
			return c, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return c, nil
}

// CreateClient inserts a new client.
func (s *Store) CreateClient(ctx context.Context, c models.Client) (*models.Client, error) {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()

	services, err := encodeJSON(c.Services, len(c.Services) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode services: %w", err)
	}
	attributes, err := encodeJSON(c.Attributes, len(c.Attributes) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	active := 0
	if c.Active {
		active = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, services, attributes, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, services, attributes, active, c.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrDuplicateClient
		}
		return nil, fmt.Errorf("insert client: %w", err)
	}
	return &c, nil
}

// GetClientByName returns the client with the given name or ErrNotFound.
func (s *Store) GetClientByName(ctx context.Context, name string) (*models.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT id, name, services, attributes, active, created_at FROM clients WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}
	return &c, nil
}

// ListClients returns all clients ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]models.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, services, attributes, active, created_at FROM clients ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// SetClientServices replaces the service list of a client.
func (s *Store) SetClientServices(ctx context.Context, id string, services []string) error {
	encoded, err := encodeJSON(services, len(services) == 0)
	if err != nil {
		return fmt.Errorf("encode services: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET services = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

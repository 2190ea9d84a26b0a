package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fentz26/calmplan/internal/models"
)

// ConfigKey is the config record key the rule set is stored under.
const ConfigKey = "automation_rules"

// ConfigStore persists keyed JSON config records.
type ConfigStore interface {
	ListConfigs(ctx context.Context, key string, limit int) ([]models.ConfigRecord, error)
	CreateConfig(ctx context.Context, key string, data []byte) (*models.ConfigRecord, error)
	UpdateConfig(ctx context.Context, id string, data []byte) error
}

// document is the persisted shape of a rule set.
type document struct {
	Rules RuleSet `json:"rules"`
}

// Store loads and saves the rule set.
type Store struct {
	cfg    ConfigStore
	logger *slog.Logger

	// seedMu serialises Load so concurrent first loads create one record.
	seedMu sync.Mutex
}

// NewStore creates a rule store. A nil logger uses slog.Default().
func NewStore(cfg ConfigStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg, logger: logger.With("component", "automation")}
}

// Load returns the persisted rules and the id of their record. When nothing
// is stored yet the defaults are seeded and the new id returned. On any
// failure the defaults are returned with an empty id.
func (s *Store) Load(ctx context.Context) (RuleSet, string) {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()

	records, err := s.cfg.ListConfigs(ctx, ConfigKey, 1)
	if err != nil {
		s.logger.Warn("loading automation rules failed, using defaults", "error", err)
		return DefaultRules(), ""
	}

	if len(records) == 0 {
		defaults := DefaultRules()
		data, err := json.Marshal(document{Rules: defaults})
		if err != nil {
			s.logger.Warn("encoding default rules failed", "error", err)
			return defaults, ""
		}
		rec, err := s.cfg.CreateConfig(ctx, ConfigKey, data)
		if err != nil {
			s.logger.Warn("seeding default rules failed", "error", err)
			return defaults, ""
		}
		s.logger.Info("seeded default automation rules", "config_id", rec.ID, "rules", len(defaults))
		return defaults, rec.ID
	}

	rec := records[0]
	rules, err := decodeDocument(rec.Data)
	if err != nil {
		s.logger.Warn("decoding automation rules failed, using defaults", "config_id", rec.ID, "error", err)
		return DefaultRules(), rec.ID
	}
	for _, skipped := range rules.skipped {
		s.logger.Warn("dropping invalid automation rule", "config_id", rec.ID, "error", skipped)
	}
	return rules.rules, rec.ID
}

// Save persists rules. An empty id creates a new record; the returned id is
// the record's id either way.
func (s *Store) Save(ctx context.Context, id string, rules RuleSet) (string, error) {
	for _, r := range rules {
		if err := Validate(r); err != nil {
			return id, err
		}
	}
	if rules == nil {
		rules = RuleSet{}
	}

	data, err := json.Marshal(document{Rules: rules})
	if err != nil {
		return id, fmt.Errorf("encode rules: %w", err)
	}

	if id == "" {
		rec, err := s.cfg.CreateConfig(ctx, ConfigKey, data)
		if err != nil {
			return "", fmt.Errorf("create rules record: %w", err)
		}
		return rec.ID, nil
	}

	if err := s.cfg.UpdateConfig(ctx, id, data); err != nil {
		return id, fmt.Errorf("update rules record %s: %w", id, err)
	}
	return id, nil
}

type decoded struct {
	rules   RuleSet
	skipped []error
}

func decodeDocument(data []byte) (decoded, error) {
	var raw struct {
		Rules json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return decoded{}, fmt.Errorf("decode rules document: %w", err)
	}
	if len(raw.Rules) == 0 || string(raw.Rules) == "null" {
		return decoded{rules: RuleSet{}}, nil
	}
	rules, skipped, err := DecodeRules(raw.Rules)
	if err != nil {
		return decoded{}, err
	}
	return decoded{rules: rules, skipped: skipped}, nil
}

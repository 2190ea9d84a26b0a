package automation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/calmplan/internal/models"
	"github.com/fentz26/calmplan/internal/store"
)

func TestGetAutoLinkedServices_Union(t *testing.T) {
	rules := RuleSet{
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "a", Enabled: true},
			TriggerService:  "payroll",
			AutoAddServices: []string{"social_security", "deductions"},
		},
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "b", Enabled: true},
			TriggerService:  "payroll",
			AutoAddServices: []string{"deductions", "admin"},
		},
	}

	got := GetAutoLinkedServices(rules, "payroll", nil)
	assert.Equal(t, map[string]bool{"social_security": true, "deductions": true, "admin": true}, got)

	// Rule order has no effect
	reversed := RuleSet{rules[1], rules[0]}
	assert.Equal(t, got, GetAutoLinkedServices(reversed, "payroll", nil))
}

func TestGetAutoLinkedServices_DisabledAndConditions(t *testing.T) {
	rules := RuleSet{
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "off", Enabled: false},
			TriggerService:  "bookkeeping",
			AutoAddServices: []string{"never"},
		},
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "company", Enabled: true},
			TriggerService:  "bookkeeping",
			AutoAddServices: []string{"financial_statements"},
			Condition:       &Condition{Field: "business_type", Equals: "company"},
		},
	}

	assert.Empty(t, GetAutoLinkedServices(rules, "bookkeeping", map[string]string{"business_type": "licensed"}))
	assert.Empty(t, GetAutoLinkedServices(rules, "bookkeeping", nil))
	assert.Equal(t,
		map[string]bool{"financial_statements": true},
		GetAutoLinkedServices(rules, "bookkeeping", map[string]string{"business_type": "company"}))
	assert.Empty(t, GetAutoLinkedServices(rules, "payroll", map[string]string{"business_type": "company"}))
}

func TestGetReportAutoCreateRules(t *testing.T) {
	rules := RuleSet{
		ReportAutoCreateRule{
			RuleMeta:         RuleMeta{ID: "annual", Enabled: true},
			TriggerServices:  []string{"bookkeeping", "financial_statements"},
			ReportCategories: []string{"annual_report"},
		},
		ReportAutoCreateRule{
			RuleMeta:         RuleMeta{ID: "disabled", Enabled: false},
			TriggerServices:  []string{"bookkeeping"},
			ReportCategories: []string{"x"},
		},
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "link", Enabled: true},
			TriggerService:  "bookkeeping",
			AutoAddServices: []string{"y"},
		},
	}

	matched := GetReportAutoCreateRules(rules, []string{"vat_report", "financial_statements"})
	require.Len(t, matched, 1)
	assert.Equal(t, "annual", matched[0].ID)

	assert.Empty(t, GetReportAutoCreateRules(rules, []string{"payroll"}))
	assert.Empty(t, GetReportAutoCreateRules(rules, nil))
}

func TestPreview_Sorted(t *testing.T) {
	p := Preview(DefaultRules(), "bookkeeping", map[string]string{"business_type": "company"})
	assert.Equal(t, []string{"bank_reconciliation", "financial_statements"}, p.Services)
	assert.Equal(t, []string{"annual_report"}, p.ReportCategories)
}

func TestRuleSet_JSONDiscriminator(t *testing.T) {
	data, err := json.Marshal(DefaultRules())
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, len(DefaultRules()))
	assert.Equal(t, string(KindServiceAutoLink), raw[0]["type"])
	assert.Equal(t, string(KindReportAutoCreate), raw[len(raw)-1]["type"])

	var back RuleSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, DefaultRules(), back)
}

func TestDecodeRules_SkipsInvalid(t *testing.T) {
	data := []byte(`[
		{"type":"service_auto_link","id":"ok","enabled":true,"trigger_service":"payroll","auto_add_services":["deductions"]},
		{"type":"service_auto_link","id":"empty","enabled":true,"trigger_service":"payroll","auto_add_services":[]},
		{"type":"mystery","id":"m"},
		{"type":"report_auto_create","enabled":true,"trigger_services":["a"],"report_categories":["b"]}
	]`)

	rules, skipped, err := DecodeRules(data)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "ok", rules[0].Meta().ID)
	require.Len(t, skipped, 3)
	for _, e := range skipped {
		assert.ErrorIs(t, e, ErrInvalidRule)
	}

	var strict RuleSet
	assert.ErrorIs(t, json.Unmarshal(data, &strict), ErrInvalidRule)
}

func TestValidate_Condition(t *testing.T) {
	r := ServiceAutoLinkRule{
		RuleMeta:        RuleMeta{ID: "c", Enabled: true},
		TriggerService:  "x",
		AutoAddServices: []string{"y"},
		Condition:       &Condition{Equals: "company"},
	}
	assert.ErrorIs(t, Validate(r), ErrInvalidRule)

	r.Condition.Field = "business_type"
	assert.NoError(t, Validate(r))
}

func TestStore_LoadSeedsOnce(t *testing.T) {
	s := newTestStore(t)
	rules := NewStore(s, nil)
	ctx := context.Background()

	first, id1 := rules.Load(ctx)
	require.NotEmpty(t, id1)
	assert.Equal(t, DefaultRules(), first)

	second, id2 := rules.Load(ctx)
	assert.Equal(t, id1, id2)
	assert.Equal(t, first, second)

	records, err := s.ListConfigs(ctx, ConfigKey, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_ConcurrentLoadSeedsOnce(t *testing.T) {
	s := newTestStore(t)
	rules := NewStore(s, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ids[i] = rules.Load(ctx)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	records, err := s.ListConfigs(ctx, ConfigKey, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_SaveAndReload(t *testing.T) {
	s := newTestStore(t)
	rules := NewStore(s, nil)
	ctx := context.Background()

	custom := RuleSet{
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "only", Enabled: true},
			TriggerService:  "payroll",
			AutoAddServices: []string{"admin"},
		},
	}

	// Empty id creates a record
	id, err := rules.Save(ctx, "", custom)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, loadedID := rules.Load(ctx)
	assert.Equal(t, id, loadedID)
	assert.Equal(t, custom, loaded)

	// Existing id updates in place
	custom = append(custom, DefaultRules()[3])
	id2, err := rules.Save(ctx, id, custom)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	loaded, _ = rules.Load(ctx)
	assert.Len(t, loaded, 2)
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	rules := NewStore(newTestStore(t), nil)

	_, err := rules.Save(context.Background(), "", RuleSet{ReportAutoCreateRule{RuleMeta: RuleMeta{ID: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestStore_LoadFailureFallsBack(t *testing.T) {
	rules := NewStore(failingConfigStore{}, nil)

	got, id := rules.Load(context.Background())
	assert.Empty(t, id)
	assert.Equal(t, DefaultRules(), got)

	// Saving with no id attempts a fresh record
	_, err := rules.Save(context.Background(), id, got)
	assert.Error(t, err)
}

func TestStore_LoadDropsInvalidPersistedRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateConfig(ctx, ConfigKey, []byte(`{"rules":[
		{"type":"service_auto_link","id":"ok","enabled":true,"trigger_service":"payroll","auto_add_services":["deductions"]},
		{"type":"service_auto_link","id":"bad","enabled":true}
	]}`))
	require.NoError(t, err)

	loaded, id := NewStore(s, nil).Load(ctx)
	assert.NotEmpty(t, id)
	require.Len(t, loaded, 1)
	assert.Equal(t, "ok", loaded[0].Meta().ID)
}

type failingConfigStore struct{}

var errUnavailable = errors.New("config store unavailable")

func (failingConfigStore) ListConfigs(context.Context, string, int) ([]models.ConfigRecord, error) {
	return nil, errUnavailable
}

func (failingConfigStore) CreateConfig(context.Context, string, []byte) (*models.ConfigRecord, error) {
	return nil, errUnavailable
}

func (failingConfigStore) UpdateConfig(context.Context, string, []byte) error {
	return errUnavailable
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

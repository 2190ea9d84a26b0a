// Package automation provides the persisted automation rules: service
// auto-link rules ("selecting service X adds services Y") and report
// auto-create rules.
package automation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Kind discriminates rule variants.
type Kind string

const (
	KindServiceAutoLink  Kind = "service_auto_link"
	KindReportAutoCreate Kind = "report_auto_create"
)

// ErrInvalidRule is returned when a rule fails validation.
var ErrInvalidRule = errors.New("invalid automation rule")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Rule is implemented by every rule variant.
type Rule interface {
	Kind() Kind
	Meta() RuleMeta
}

// RuleMeta holds the fields shared by all variants.
type RuleMeta struct {
	ID      string `json:"id" yaml:"id" validate:"required"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Condition is a single-field equality test against subject attributes.
type Condition struct {
	Field  string `json:"field" yaml:"field" validate:"required"`
	Equals string `json:"equals" yaml:"equals"`
}

// Matches reports whether attrs[Field] == Equals.
func (c Condition) Matches(attrs map[string]string) bool {
	v, ok := attrs[c.Field]
	return ok && v == c.Equals
}

// ServiceAutoLinkRule adds services when TriggerService is selected.
type ServiceAutoLinkRule struct {
	RuleMeta        `yaml:",inline"`
	TriggerService  string     `json:"trigger_service" yaml:"trigger_service" validate:"required"`
	AutoAddServices []string   `json:"auto_add_services" yaml:"auto_add_services" validate:"required,min=1,dive,required"`
	Condition       *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Kind implements Rule.
func (r ServiceAutoLinkRule) Kind() Kind { return KindServiceAutoLink }

// Meta implements Rule.
func (r ServiceAutoLinkRule) Meta() RuleMeta { return r.RuleMeta }

// ReportAutoCreateRule creates reports for subjects holding any trigger service.
type ReportAutoCreateRule struct {
	RuleMeta         `yaml:",inline"`
	TriggerServices  []string `json:"trigger_services" yaml:"trigger_services" validate:"required,min=1,dive,required"`
	ReportCategories []string `json:"report_categories" yaml:"report_categories" validate:"required,min=1,dive,required"`
}

// Kind implements Rule.
func (r ReportAutoCreateRule) Kind() Kind { return KindReportAutoCreate }

// Meta implements Rule.
func (r ReportAutoCreateRule) Meta() RuleMeta { return r.RuleMeta }

// Validate checks a single rule.
func Validate(r Rule) error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidRule, r.Kind(), r.Meta().ID, err)
	}
	if r, ok := r.(ServiceAutoLinkRule); ok && r.Condition != nil {
		if err := validate.Struct(r.Condition); err != nil {
			return fmt.Errorf("%w: %s %q condition: %v", ErrInvalidRule, r.Kind(), r.ID, err)
		}
	}
	return nil
}

// RuleSet is an ordered list of rules with a tagged JSON encoding.
type RuleSet []Rule

type kindProbe struct {
	Type Kind `json:"type"`
}

// MarshalJSON writes each rule with its "type" discriminator.
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(rs))
	for _, r := range rs {
		var (
			b   []byte
			err error
		)
		switch v := r.(type) {
		case ServiceAutoLinkRule:
			b, err = json.Marshal(struct {
				Type Kind `json:"type"`
				ServiceAutoLinkRule
			}{v.Kind(), v})
		case ReportAutoCreateRule:
			b, err = json.Marshal(struct {
				Type Kind `json:"type"`
				ReportAutoCreateRule
			}{v.Kind(), v})
		default:
			return nil, fmt.Errorf("unknown rule type %T", r)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes rules by their "type" discriminator. Unknown kinds
// are an error; use DecodeRules to skip them instead.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	rules, skipped, err := decodeRules(data)
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		return skipped[0]
	}
	*rs = rules
	return nil
}

// DecodeRules decodes a JSON rule list, returning valid rules and one error
// per rule that was skipped (unknown kind or failed validation).
func DecodeRules(data []byte) (RuleSet, []error, error) {
	return decodeRules(data)
}

func decodeRules(data []byte) (RuleSet, []error, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode rules: %w", err)
	}

	rules := make(RuleSet, 0, len(raw))
	var skipped []error
	for i, item := range raw {
		var probe kindProbe
		if err := json.Unmarshal(item, &probe); err != nil {
			skipped = append(skipped, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err))
			continue
		}

		var r Rule
		switch probe.Type {
		case KindServiceAutoLink:
			var v ServiceAutoLinkRule
			if err := json.Unmarshal(item, &v); err != nil {
				skipped = append(skipped, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err))
				continue
			}
			r = v
		case KindReportAutoCreate:
			var v ReportAutoCreateRule
			if err := json.Unmarshal(item, &v); err != nil {
				skipped = append(skipped, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err))
				continue
			}
			r = v
		default:
			skipped = append(skipped, fmt.Errorf("%w: rule %d: unknown type %q", ErrInvalidRule, i, probe.Type))
			continue
		}

		if err := Validate(r); err != nil {
			skipped = append(skipped, err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, skipped, nil
}

// DefaultRules returns the baseline rule set seeded into an empty store.
func DefaultRules() RuleSet {
	return RuleSet{
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "payroll_reports", Name: "שכר מוסיף ביטוח לאומי וניכויים", Enabled: true},
			TriggerService:  "payroll",
			AutoAddServices: []string{"social_security", "deductions"},
		},
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "vat_bookkeeping", Name: "מע\"מ מוסיף הנהלת חשבונות", Enabled: true},
			TriggerService:  "vat_report",
			AutoAddServices: []string{"bookkeeping"},
		},
		ServiceAutoLinkRule{
			RuleMeta:        RuleMeta{ID: "company_statements", Name: "חברה בע\"מ מוסיפה דוחות כספיים", Enabled: true},
			TriggerService:  "bookkeeping",
			AutoAddServices: []string{"financial_statements", "bank_reconciliation"},
			Condition:       &Condition{Field: "business_type", Equals: "company"},
		},
		ReportAutoCreateRule{
			RuleMeta:         RuleMeta{ID: "annual_report", Name: "דוח שנתי ללקוחות הנהלת חשבונות", Enabled: true},
			TriggerServices:  []string{"bookkeeping", "financial_statements"},
			ReportCategories: []string{"annual_report"},
		},
	}
}

package automation

import "sort"

// GetAutoLinkedServices returns the union of services added by every enabled
// auto-link rule triggered by triggerService whose condition (if any) holds
// for attrs. The result is de-duplicated; its order carries no meaning.
func GetAutoLinkedServices(rules RuleSet, triggerService string, attrs map[string]string) map[string]bool {
	linked := make(map[string]bool)
	for _, r := range rules {
		rule, ok := r.(ServiceAutoLinkRule)
		if !ok || !rule.Enabled || rule.TriggerService != triggerService {
			continue
		}
		if rule.Condition != nil && !rule.Condition.Matches(attrs) {
			continue
		}
		for _, svc := range rule.AutoAddServices {
			linked[svc] = true
		}
	}
	return linked
}

// GetReportAutoCreateRules returns the enabled report rules sharing at least
// one trigger service with services.
func GetReportAutoCreateRules(rules RuleSet, services []string) []ReportAutoCreateRule {
	held := make(map[string]bool, len(services))
	for _, s := range services {
		held[s] = true
	}

	var matched []ReportAutoCreateRule
	for _, r := range rules {
		rule, ok := r.(ReportAutoCreateRule)
		if !ok || !rule.Enabled {
			continue
		}
		for _, trigger := range rule.TriggerServices {
			if held[trigger] {
				matched = append(matched, rule)
				break
			}
		}
	}
	return matched
}

// PreviewResult is the display form of an auto-link evaluation.
type PreviewResult struct {
	TriggerService string   `json:"trigger_service"`
	Services       []string `json:"services"`
	// ReportCategories lists report categories that would be auto-created
	// for a subject holding the trigger plus the linked services.
	ReportCategories []string `json:"report_categories"`
}

// Preview evaluates rules for one trigger and returns sorted results.
func Preview(rules RuleSet, triggerService string, attrs map[string]string) PreviewResult {
	linked := GetAutoLinkedServices(rules, triggerService, attrs)

	services := make([]string, 0, len(linked))
	for svc := range linked {
		services = append(services, svc)
	}
	sort.Strings(services)

	held := append([]string{triggerService}, services...)
	categories := make(map[string]bool)
	for _, rule := range GetReportAutoCreateRules(rules, held) {
		for _, c := range rule.ReportCategories {
			categories[c] = true
		}
	}
	reports := make([]string, 0, len(categories))
	for c := range categories {
		reports = append(reports, c)
	}
	sort.Strings(reports)

	return PreviewResult{
		TriggerService:   triggerService,
		Services:         services,
		ReportCategories: reports,
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/calmplan/internal/automation"
	"github.com/fentz26/calmplan/internal/controlplane"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect automation rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List automation rules",
	RunE:  runRulesList,
}

var rulesPreviewCmd = &cobra.Command{
	Use:   "preview [trigger-service]",
	Short: "Show which services a trigger service would add",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesPreview,
}

var previewAttrs []string

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesPreviewCmd)
	rulesPreviewCmd.Flags().StringSliceVar(&previewAttrs, "attr", nil, "Client attribute as key=value")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	var resp controlplane.RulesResponse
	if err := apiGetJSON("/rules", &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tENABLED\tTRIGGER\tEFFECT")
	for _, r := range resp.Rules {
		meta := r.Meta()
		var trigger, effect string
		switch rule := r.(type) {
		case automation.ServiceAutoLinkRule:
			trigger = rule.TriggerService
			effect = "+" + strings.Join(rule.AutoAddServices, ", +")
			if rule.Condition != nil {
				effect += fmt.Sprintf(" if %s=%s", rule.Condition.Field, rule.Condition.Equals)
			}
		case automation.ReportAutoCreateRule:
			trigger = strings.Join(rule.TriggerServices, "|")
			effect = "reports: " + strings.Join(rule.ReportCategories, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", meta.ID, r.Kind(), meta.Enabled, trigger, effect)
	}
	w.Flush()
	return nil
}

func runRulesPreview(cmd *cobra.Command, args []string) error {
	attrs := make(map[string]string)
	for _, kv := range previewAttrs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("attribute %q must be key=value", kv)
		}
		attrs[k] = v
	}

	body, err := apiPost("/rules/preview", controlplane.PreviewRequest{TriggerService: args[0], Attributes: attrs})
	if err != nil {
		return err
	}
	var res automation.PreviewResult
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}

	if len(res.Services) == 0 {
		fmt.Printf("%s adds no services\n", res.TriggerService)
	} else {
		fmt.Printf("%s adds: %s\n", res.TriggerService, strings.Join(res.Services, ", "))
	}
	if len(res.ReportCategories) > 0 {
		fmt.Printf("Reports:  %s\n", strings.Join(res.ReportCategories, ", "))
	}
	return nil
}

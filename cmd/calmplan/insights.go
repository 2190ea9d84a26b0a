package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fentz26/calmplan/internal/cascade"
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Show what needs attention",
	RunE:  runInsights,
}

func runInsights(cmd *cobra.Command, args []string) error {
	var insights []cascade.Insight
	if err := apiGetJSON("/insights", &insights); err != nil {
		return err
	}
	if len(insights) == 0 {
		fmt.Println(styleOK.Render("Nothing needs attention"))
		return nil
	}
	for _, in := range insights {
		fmt.Printf("%-18s %s\n", renderSeverity(in.Severity), in.Message)
	}
	return nil
}

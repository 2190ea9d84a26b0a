package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/calmplan/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup status and control",
}

var backupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backup health",
	RunE:  runBackupStatus,
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up now",
	RunE:  runBackupRun,
}

var backupAutoCmd = &cobra.Command{
	Use:       "auto [on|off]",
	Short:     "Turn automatic backups on or off",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runBackupAuto,
}

func init() {
	backupCmd.AddCommand(backupStatusCmd, backupRunCmd, backupAutoCmd)
}

func runBackupStatus(cmd *cobra.Command, args []string) error {
	var h backup.Health
	if err := apiGetJSON("/backup", &h); err != nil {
		return err
	}
	printHealth(h)
	return nil
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	fmt.Println("Backing up...")
	body, err := apiPost("/backup/run", nil)
	if err != nil {
		return err
	}
	var h backup.Health
	if err := json.Unmarshal(body, &h); err != nil {
		return err
	}
	printHealth(h)
	if h.Status == backup.StatusError {
		return fmt.Errorf("backup failed")
	}
	return nil
}

func runBackupAuto(cmd *cobra.Command, args []string) error {
	var enabled bool
	switch args[0] {
	case "on":
		enabled = true
	case "off":
	default:
		return fmt.Errorf("expected on or off, got %q", args[0])
	}
	body, err := apiDo(http.MethodPut, "/backup/auto", map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	var h backup.Health
	if err := json.Unmarshal(body, &h); err != nil {
		return err
	}
	printHealth(h)
	return nil
}

func printHealth(h backup.Health) {
	fmt.Printf("Status:       %s\n", renderBackup(h.Status))
	if h.Message != "" {
		fmt.Printf("Message:      %s\n", h.Message)
	}
	fmt.Printf("Last backup:  %s\n", formatTime(h.LastBackup))
	fmt.Printf("Last local:   %s\n", formatTime(h.LastLocal))
	if len(h.Errors) > 0 {
		fmt.Println("Recent errors:")
		for _, e := range h.Errors {
			fmt.Printf("  %s  %s\n", e.Time.Local().Format("2006-01-02 15:04"), e.Message)
		}
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format("2006-01-02 15:04"), time.Since(*t).Round(time.Minute))
}

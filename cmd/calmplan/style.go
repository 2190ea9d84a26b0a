package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/calmplan/internal/backup"
	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/models"
)

var (
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleBad     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleDefault = lipgloss.NewStyle()
)

func renderStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return styleOK.Render(string(s))
	case models.TaskStatusWaitingForMaterials, models.TaskStatusInProgress:
		return styleWarn.Render(string(s))
	case models.TaskStatusIssue:
		return styleBad.Render(string(s))
	case models.TaskStatusNotRelevant, models.TaskStatusCancelled:
		return styleMuted.Render(string(s))
	default:
		return styleDefault.Render(string(s))
	}
}

func renderSeverity(s cascade.Severity) string {
	switch s {
	case cascade.SeverityCritical:
		return styleBad.Render(string(s))
	case cascade.SeverityWarning:
		return styleWarn.Render(string(s))
	default:
		return styleMuted.Render(string(s))
	}
}

func renderBackup(s backup.Status) string {
	switch s {
	case backup.StatusOK:
		return styleOK.Render(string(s))
	case backup.StatusWarning, backup.StatusOverdue, backup.StatusBackingUp, backup.StatusChecking:
		return styleWarn.Render(string(s))
	case backup.StatusError:
		return styleBad.Render(string(s))
	default:
		return styleMuted.Render(string(s))
	}
}

func renderHealth(h cascade.Health) string {
	switch h {
	case cascade.HealthOK:
		return styleOK.Render(string(h))
	case cascade.HealthAttention:
		return styleWarn.Render(string(h))
	default:
		return styleBad.Render(string(h))
	}
}

package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for commands and client names
type Suggestions struct {
	items       []SuggestionItem
	filtered    []SuggestionItem
	clients     []string
	selectedIdx int
	visible     bool
	prefix      string // "/" or "@"
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command" or "client"
}

var commandSuggestions = []SuggestionItem{
	{Text: "/add", Description: "add <category> <client> <YYYY-MM>", Type: "command"},
	{Text: "/status", Description: "Set the selected task's status", Type: "command"},
	{Text: "/insights", Description: "Show what needs attention", Type: "command"},
	{Text: "/backup", Description: "Back up now", Type: "command"},
	{Text: "/filter", Description: "filter <status> or filter all", Type: "command"},
	{Text: "/quit", Description: "Exit", Type: "command"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{}
}

// SetClients replaces the client names offered after "@".
func (s *Suggestions) SetClients(names []string) {
	seen := make(map[string]bool)
	s.clients = s.clients[:0]
	for _, n := range names {
		if n != "" && !seen[n] {
			seen[n] = true
			s.clients = append(s.clients, n)
		}
	}
	sort.Strings(s.clients)
}

// Update updates suggestions based on the last word of the input
func (s *Suggestions) Update(input string) {
	word := input
	if i := strings.LastIndex(input, " "); i >= 0 {
		word = input[i+1:]
	}

	switch {
	case strings.HasPrefix(input, "/") && !strings.Contains(input, " "):
		s.prefix = "/"
		s.items = commandSuggestions
		s.filter(strings.ToLower(input))
	case strings.HasPrefix(word, "@"):
		s.prefix = "@"
		s.items = make([]SuggestionItem, len(s.clients))
		for i, c := range s.clients {
			s.items[i] = SuggestionItem{Text: "@" + c, Description: "client", Type: "client"}
		}
		s.filter(strings.ToLower(word))
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}
	s.visible = true
}

// Complete replaces the last word of input with the selected suggestion.
func (s *Suggestions) Complete(input string) string {
	sel := s.Selected()
	if sel == nil {
		return input
	}
	head := ""
	if i := strings.LastIndex(input, " "); i >= 0 {
		head = input[:i+1]
	}
	return head + sel.Text + " "
}

func (s *Suggestions) filter(query string) {
	s.selectedIdx = 0
	if query == "" || query == s.prefix {
		s.filtered = s.items
		return
	}
	s.filtered = nil
	for _, item := range s.items {
		if strings.HasPrefix(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(20, width-4))

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	const maxVisible = 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}
		if i == s.selectedIdx {
			b.WriteString(selectedStyle.Render("▶ "+item.Text) + " " + descStyle.Render(item.Description))
		} else {
			b.WriteString(itemStyle.Render("  "+item.Text) + " " + descStyle.Render(item.Description))
		}
		b.WriteString("\n")
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// Package process provides the registry of per-category process templates:
// the ordered checklist of steps a task of that category goes through.
package process

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fentz26/calmplan/internal/models"
)

// Step is one checklist item in a category's workflow.
type Step struct {
	Key   string `yaml:"key" json:"key"`
	Label string `yaml:"label" json:"label"`
	// RequiresAttachment marks steps that are normally evidenced by a file.
	RequiresAttachment bool   `yaml:"requires_attachment,omitempty" json:"requires_attachment,omitempty"`
	Note               string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Template is the ordered step list for one category.
type Template struct {
	Category string `yaml:"category" json:"category"`
	Label    string `yaml:"label" json:"label"`
	Steps    []Step `yaml:"steps" json:"steps"`
}

func cloneTemplate(t *Template) Template {
	c := *t
	if t.Steps != nil {
		c.Steps = append([]Step(nil), t.Steps...)
	}
	return c
}

// Registry maps category keys to templates. Lookups never fail: an unknown
// category has no steps.
type Registry struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]*Template),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared registry seeded with the practice's categories.
// Templates are immutable at runtime, so sharing is safe.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.RegisterDefaults()
	})
	return defaultRegistry
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) error {
	if t.Category == "" {
		return fmt.Errorf("template category cannot be empty")
	}
	seen := make(map[string]bool, len(t.Steps))
	for _, s := range t.Steps {
		if s.Key == "" {
			return fmt.Errorf("template %q: step key cannot be empty", t.Category)
		}
		if seen[s.Key] {
			return fmt.Errorf("template %q: duplicate step %q", t.Category, s.Key)
		}
		seen[s.Key] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Category] = &t
	return nil
}

// Get returns a copy of the template for category.
func (r *Registry) Get(category string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[category]
	if !ok {
		return Template{}, false
	}
	return cloneTemplate(t), true
}

// StepsFor returns the ordered steps of category, or nil if unknown.
func (r *Registry) StepsFor(category string) []Step {
	t, ok := r.Get(category)
	if !ok {
		return nil
	}
	return t.Steps
}

// StepKeys returns the ordered step keys of category.
func (r *Registry) StepKeys(category string) []string {
	steps := r.StepsFor(category)
	keys := make([]string, len(steps))
	for i, s := range steps {
		keys[i] = s.Key
	}
	return keys
}

// InitialSteps returns a checklist with every step of category incomplete.
func (r *Registry) InitialSteps(category string) models.ProcessSteps {
	steps := r.StepsFor(category)
	m := make(models.ProcessSteps, len(steps))
	for _, s := range steps {
		m[s.Key] = false
	}
	return m
}

// Label returns the display label of category, falling back to the key.
func (r *Registry) Label(category string) string {
	if t, ok := r.Get(category); ok && t.Label != "" {
		return t.Label
	}
	return category
}

// Categories lists all templates sorted by category key.
func (r *Registry) Categories() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Category < out[j].Category
	})
	return out
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// ToggleStep returns a new checklist with key flipped. Keys not in any
// template are kept untouched; a key missing from current becomes true.
func ToggleStep(current models.ProcessSteps, key string) models.ProcessSteps {
	next := current.Clone()
	if next == nil {
		next = make(models.ProcessSteps, 1)
	}
	next[key] = !next[key]
	return next
}

package template

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Memory is an in-process Store.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewMemory creates a Memory store holding templates.
func NewMemory(templates ...*Template) *Memory {
	m := &Memory{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		m.templates[t.TemplateName] = t
	}
	return m
}

// Find returns the template named name.
func (m *Memory) Find(_ context.Context, name string) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	cp := *t
	return &cp, nil
}

// Save stores t, replacing any template with the same name.
func (m *Memory) Save(_ context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.templates[t.TemplateName] = &cp
	return nil
}

// List returns all templates ordered by name.
func (m *Memory) List(_ context.Context) ([]*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Template, 0, len(m.templates))
	for _, t := range m.templates {
		cp := *t
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *Template) int { return strings.Compare(a.TemplateName, b.TemplateName) })
	return out, nil
}

// seedFile is the YAML layout of a template seed file.
type seedFile struct {
	Templates []*Template `yaml:"templates"`
}

// LoadFile reads templates from a YAML file of the form
//
//	templates:
//	  - name: welcome
//	    subject: "Hi {{name}}"
//	    html: "<p>Hello {{name}}</p>"
//	    text: "Hello {{name}}"
func LoadFile(path string) ([]*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse template file: %w", err)
	}

	for i, t := range seed.Templates {
		if t == nil || t.TemplateName == "" {
			return nil, fmt.Errorf("template file %s: entry %d has no name", path, i+1)
		}
	}
	return seed.Templates, nil
}

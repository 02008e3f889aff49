// Package persona loads the prompt personas used by inference-backed agents.
package persona

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"gopkg.in/yaml.v3"
)

const (
	IDRefiner     = "refiner"
	IDFilter      = "filter"
	IDAnalyst     = "analyst"
	IDAnalystLead = "analyst_lead"

	roleSpecialist   = "specialist"
	roleOrchestrator = "orchestrator"
)

//go:embed personas/*.yaml
var embedded embed.FS

// ErrNotFound is returned by MustGet style lookups.
var ErrNotFound = errors.New("persona not found")

// Registry indexes personas by ID.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]schemas.Persona
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{personas: make(map[string]schemas.Persona)}
}

// LoadEmbedded returns a registry with the built-in personas.
func LoadEmbedded() (*Registry, error) {
	r := NewRegistry()
	if err := r.loadFS(embedded, "personas"); err != nil {
		return nil, fmt.Errorf("load embedded personas: %w", err)
	}
	return r, nil
}

// LoadDir adds every *.yaml or *.yml persona under dir, replacing built-ins
// with the same ID. Disabled personas remove the entry they override.
func (r *Registry) LoadDir(dir string) error {
	return r.loadFS(os.DirFS(dir), ".")
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		raw, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, entry.Name())))
		if err != nil {
			return err
		}
		p, err := Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if !p.Enabled {
			r.remove(p.ID)
			continue
		}
		r.Register(p)
	}
	return nil
}

// Parse decodes a single persona document.
func Parse(raw []byte) (schemas.Persona, error) {
	var p schemas.Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return schemas.Persona{}, err
	}
	if p.ID == "" {
		return schemas.Persona{}, errors.New("persona id is required")
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return schemas.Persona{}, fmt.Errorf("persona %s has no system prompt", p.ID)
	}
	if p.Tier == "" {
		p.Tier = schemas.TierFast
	}
	return p, nil
}

func (r *Registry) Register(p schemas.Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.ID] = p
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.personas, id)
}

func (r *Registry) Get(id string) (schemas.Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	return p, ok
}

// Require is Get with an error for missing personas.
func (r *Registry) Require(id string) (schemas.Persona, error) {
	p, ok := r.Get(id)
	if !ok {
		return schemas.Persona{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Specialists returns the specialist analysts ordered by ID.
func (r *Registry) Specialists() []schemas.Persona {
	return r.filter(func(p schemas.Persona) bool {
		return p.Category == "analyst" && p.Role == roleSpecialist
	})
}

// Lead returns the analyst that synthesizes specialist reports.
func (r *Registry) Lead() (schemas.Persona, bool) {
	leads := r.filter(func(p schemas.Persona) bool {
		return p.Category == "analyst" && p.Role == roleOrchestrator
	})
	if len(leads) == 0 {
		return schemas.Persona{}, false
	}
	return leads[0], true
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.personas))
	for id := range r.personas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.personas)
}

func (r *Registry) filter(keep func(schemas.Persona) bool) []schemas.Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []schemas.Persona
	for _, p := range r.personas {
		if keep(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b schemas.Persona) int { return strings.Compare(a.ID, b.ID) })
	return out
}

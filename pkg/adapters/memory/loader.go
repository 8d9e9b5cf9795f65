package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/pergola/pkg/domain"
)

// Loader implements ports.GraphLoader over definitions held in memory.
type Loader struct {
	mu   sync.RWMutex
	defs map[string]domain.GraphDefinition
}

// NewLoader creates a loader serving the given definitions by name.
func NewLoader(defs ...domain.GraphDefinition) (*Loader, error) {
	l := &Loader{defs: make(map[string]domain.GraphDefinition)}
	for _, d := range defs {
		if err := l.Add(d); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add registers or replaces a definition.
func (l *Loader) Add(def domain.GraphDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("graph definition missing name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[def.Name] = def
	return nil
}

func (l *Loader) Load(ctx context.Context, name string) (domain.GraphDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.defs[name]
	if !ok {
		return domain.GraphDefinition{}, fmt.Errorf("%w: %s", domain.ErrGraphNotFound, name)
	}
	return def, nil
}

// List returns the registered names, sorted.
func (l *Loader) List(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.defs))
	for name := range l.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/templates"
)

// DefaultPattern matches graph definition files at any depth.
const DefaultPattern = "**/*.{yaml,yml,json}"

// Loader discovers graph definitions under a directory.
// A definition is addressed by its name field, or by its file path without
// extension when the name is empty.
type Loader struct {
	Dir      string
	Pattern  string
	Fallback ports.GraphLoader
}

// NewLoader creates a loader over dir. Names it cannot resolve are delegated
// to fallback when it is non-nil.
func NewLoader(dir string, fallback ports.GraphLoader) *Loader {
	return &Loader{Dir: dir, Pattern: DefaultPattern, Fallback: fallback}
}

func (l *Loader) Load(ctx context.Context, name string) (domain.GraphDefinition, error) {
	defs, err := l.scan()
	if err != nil {
		return domain.GraphDefinition{}, err
	}
	if def, ok := defs[name]; ok {
		return def, nil
	}
	if l.Fallback != nil {
		return l.Fallback.Load(ctx, name)
	}
	return domain.GraphDefinition{}, fmt.Errorf("%w: %s", domain.ErrGraphNotFound, name)
}

// List returns every discovered name plus the fallback's, sorted and deduplicated.
func (l *Loader) List(ctx context.Context) ([]string, error) {
	defs, err := l.scan()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(defs))
	for name := range defs {
		seen[name] = true
	}
	if l.Fallback != nil {
		more, err := l.Fallback.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range more {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (l *Loader) scan() (map[string]domain.GraphDefinition, error) {
	defs := make(map[string]domain.GraphDefinition)
	if l.Dir == "" {
		return defs, nil
	}

	pattern := l.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}

	fsys := os.DirFS(l.Dir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defs, nil
		}
		return nil, fmt.Errorf("scan %s: %w", l.Dir, err)
	}
	sort.Strings(matches)

	for _, match := range matches {
		data, err := fs.ReadFile(fsys, match)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", match, err)
		}
		def, err := templates.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", match, err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(match, path.Ext(match))
		}
		if _, dup := defs[def.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate graph name %q", match, def.Name)
		}
		defs[def.Name] = def
	}
	return defs, nil
}

// ReadDefinition parses a single graph definition file.
func ReadDefinition(filename string) (domain.GraphDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return domain.GraphDefinition{}, fmt.Errorf("read graph file: %w", err)
	}
	def, err := templates.Parse(data)
	if err != nil {
		return domain.GraphDefinition{}, fmt.Errorf("%s: %w", filename, err)
	}
	if def.Name == "" {
		base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
		def.Name = strings.TrimSuffix(base, path.Ext(base))
	}
	return def, nil
}

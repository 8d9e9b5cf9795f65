// Package templates ships the built-in graph definitions.
package templates

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/pergola/pkg/domain"
)

// Names of the built-in templates.
const (
	Autonomous = "autonomous"
	Simple     = "simple"
)

//go:embed *.yaml
var files embed.FS

// Parse decodes a graph definition from YAML (or JSON, which YAML accepts).
// Unknown top-level keys are rejected.
func Parse(data []byte) (domain.GraphDefinition, error) {
	var def domain.GraphDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return domain.GraphDefinition{}, fmt.Errorf("parse graph definition: %w", err)
	}
	return def, nil
}

// Get returns a built-in template by name.
func Get(name string) (domain.GraphDefinition, error) {
	data, err := files.ReadFile(name + ".yaml")
	if err != nil {
		return domain.GraphDefinition{}, fmt.Errorf("%w: %s", domain.ErrGraphNotFound, name)
	}
	def, err := Parse(data)
	if err != nil {
		return domain.GraphDefinition{}, fmt.Errorf("template %s: %w", name, err)
	}
	return def, nil
}

// Names lists the built-in templates, sorted.
func Names() []string {
	entries, _ := files.ReadDir(".")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// Loader serves the built-in templates as a ports.GraphLoader.
type Loader struct{}

func (Loader) Load(ctx context.Context, name string) (domain.GraphDefinition, error) {
	return Get(name)
}

func (Loader) List(ctx context.Context) ([]string, error) {
	return Names(), nil
}

// Package loam loads graph definitions from a Loam document repository.
// Each graph is one document: the frontmatter holds the definition and the
// body, when present, is its description.
package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// WatchPattern selects the documents that can hold graphs.
const WatchPattern = "**/*.{md,json,yaml,yml}"

// Loader adapts the Loam library to the GraphLoader interface.
type Loader struct {
	Repo *loam.TypedRepository[domain.GraphDefinition]
}

var _ ports.GraphLoader = (*Loader)(nil)

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[domain.GraphDefinition]) *Loader {
	return &Loader{
		Repo: repo,
	}
}

// Open initialises a Loam repository at dir and wraps it.
func Open(dir string, opts ...loam.Option) (*Loader, error) {
	opts = append([]loam.Option{loam.WithVersioning(false)}, opts...)
	repo, err := loam.Init(dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("init loam repository %s: %w", dir, err)
	}
	return New(loam.NewTypedRepository[domain.GraphDefinition](repo)), nil
}

// Load retrieves the graph stored under name (the document id without extension).
func (l *Loader) Load(ctx context.Context, name string) (domain.GraphDefinition, error) {
	doc, err := l.Repo.Get(ctx, name)
	if err != nil {
		return domain.GraphDefinition{}, fmt.Errorf("%w: %s: %v", domain.ErrGraphNotFound, name, err)
	}
	return toDefinition(doc)
}

func toDefinition(doc *loam.DocumentModel[domain.GraphDefinition]) (domain.GraphDefinition, error) {
	def := doc.Data
	id := trimExtension(doc.ID)
	switch def.Name {
	case "":
		def.Name = id
	case id:
	default:
		return domain.GraphDefinition{}, fmt.Errorf("document %s declares graph name %q", doc.ID, def.Name)
	}
	if def.Description == "" {
		def.Description = strings.TrimSpace(doc.Content)
	}
	if len(def.Nodes) == 0 {
		return domain.GraphDefinition{}, fmt.Errorf("document %s defines no nodes", doc.ID)
	}
	return def, nil
}

// List lists the graph names in the repository.
func (l *Loader) List(ctx context.Context) ([]string, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	names := make([]string, 0, len(docs))

	for _, doc := range docs {
		name := trimExtension(doc.ID)

		// Collision Detection
		if existingPath, ok := seen[name]; ok {
			return nil, fmt.Errorf("collision detected: graph '%s' is defined in both '%s' and '%s'", name, existingPath, doc.ID)
		}
		seen[name] = doc.ID
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch emits the name of every graph document that changes until ctx is done.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, WatchPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- trimExtension(evt.ID):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/templates"
)

const echoGraph = `
name: echo
nodes:
  - {id: start, kind: start}
  - {id: llm, kind: llm_call, config: {output_field: final_answer}}
  - {id: end, kind: end}
edges:
  - {source: start, target: llm}
  - {source: llm, target: end}
`

const unnamedGraph = `{
  "nodes": [{"id": "start", "kind": "start"}, {"id": "end", "kind": "end"}],
  "edges": [{"source": "start", "target": "end"}]
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFileLoader_Contract(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.yaml", echoGraph)
	writeFile(t, dir, "nested/deep/noop.json", unnamedGraph)

	loader := NewLoader(dir, templates.Loader{})
	ports.RunGraphLoaderContract(t, loader, []string{"echo", "nested/deep/noop", templates.Autonomous, templates.Simple})
}

func TestFileLoader_DirectoryShadowsFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mine.yml", "name: simple\n"+echoGraph[len("\nname: echo\n"):])

	def, err := NewLoader(dir, templates.Loader{}).Load(context.Background(), templates.Simple)
	require.NoError(t, err)
	_, ok := def.Node("llm")
	assert.True(t, ok)
	assert.Len(t, def.Nodes, 3)
}

func TestFileLoader_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("Invalid Document", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "bad.yaml", "name: bad\nwhatever: 1\n")
		_, err := NewLoader(dir, nil).Load(ctx, "bad")
		assert.Error(t, err)
	})

	t.Run("Duplicate Names", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.yaml", echoGraph)
		writeFile(t, dir, "b.yaml", echoGraph)
		_, err := NewLoader(dir, nil).List(ctx)
		assert.ErrorContains(t, err, "duplicate graph name")
	})

	t.Run("Missing Without Fallback", func(t *testing.T) {
		_, err := NewLoader(t.TempDir(), nil).Load(ctx, "echo")
		assert.ErrorIs(t, err, domain.ErrGraphNotFound)
	})
}

func TestReadDefinition(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "noop.json", unnamedGraph)

	def, err := ReadDefinition(filepath.Join(dir, "noop.json"))
	require.NoError(t, err)
	assert.Equal(t, "noop", def.Name)
	assert.Len(t, def.Edges, 1)

	_, err = ReadDefinition(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

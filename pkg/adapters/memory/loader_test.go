package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/templates"
)

func TestInMemoryLoader_Contract(t *testing.T) {
	simple, err := templates.Get(templates.Simple)
	require.NoError(t, err)

	custom := domain.GraphDefinition{
		Name:  "custom",
		Nodes: []domain.NodeSpec{{ID: "start", Kind: domain.KindStart}},
	}

	loader, err := memory.NewLoader(simple, custom)
	require.NoError(t, err)

	ports.RunGraphLoaderContract(t, loader, []string{"custom", templates.Simple})
}

func TestInMemoryLoader_RejectsUnnamed(t *testing.T) {
	_, err := memory.NewLoader(domain.GraphDefinition{})
	assert.Error(t, err)
}

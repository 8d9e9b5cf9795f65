package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/adapters/scripted"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/templates"
)

func newTestServer(t *testing.T, responses ...string) *Server {
	t.Helper()
	eng, err := pergola.New(context.Background(), templates.Autonomous, scripted.New(responses...),
		pergola.WithIDGenerator(func() string { return "r1" }))
	require.NoError(t, err)
	return NewServer(eng)
}

func TestRunTask(t *testing.T) {
	s := newTestServer(t, "easy", "Paris")

	resp, err := s.handleRunTask(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"input":          "Capital of France?",
		"max_iterations": float64(4),
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.RunID)
	assert.True(t, resp.Done)
	assert.Equal(t, "Paris", resp.FinalAnswer)
	assert.Equal(t, domain.DifficultyEasy, resp.Difficulty)
}

func TestRunTask_Validation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleRunTask(ctx, mcp.CallToolRequest{}, map[string]interface{}{})
	assert.ErrorContains(t, err, "input is required")

	_, err = s.handleStartRun(ctx, mcp.CallToolRequest{}, map[string]interface{}{"input": "x", "max_iterations": float64(-2)})
	assert.ErrorContains(t, err, "max_iterations")

	_, err = s.handleStepRun(ctx, mcp.CallToolRequest{}, map[string]interface{}{})
	assert.ErrorContains(t, err, "run_id is required")
}

func TestStartStepGet(t *testing.T) {
	s := newTestServer(t, "easy")
	ctx := context.Background()

	started, err := s.handleStartRun(ctx, mcp.CallToolRequest{}, map[string]interface{}{"input": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "start", started.CurrentNode)
	assert.False(t, started.Done)

	step, err := s.handleStepRun(ctx, mcp.CallToolRequest{}, map[string]interface{}{"run_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, "start", step.Node)
	assert.Equal(t, "mem_inject", step.Run.CurrentNode)

	got, err := s.handleGetRun(ctx, mcp.CallToolRequest{}, map[string]interface{}{"run_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Steps)
	assert.Equal(t, []string{"start"}, got.Visited)

	_, err = s.handleGetRun(ctx, mcp.CallToolRequest{}, map[string]interface{}{"run_id": "missing"})
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestToolsAndResourcesRegistered(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	initResp := s.MCPServer().HandleMessage(ctx, json.RawMessage(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`))
	require.NotNil(t, initResp)

	list := s.MCPServer().HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	out, err := json.Marshal(list)
	require.NoError(t, err)
	for _, name := range []string{"run_task", "start_run", "step_run", "get_run", "list_runs", "get_graph"} {
		assert.Contains(t, string(out), `"`+name+`"`)
	}

	res := s.MCPServer().HandleMessage(ctx, json.RawMessage(
		`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"pergola://graph"}}`))
	out, err = json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(out), `autonomous`)
}

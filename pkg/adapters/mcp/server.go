package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/internal/presentation/graph"
	"github.com/aretw0/pergola/pkg/domain"
)

const (
	graphURI        = "pergola://graph"
	graphMermaidURI = "pergola://graph/mermaid"
)

// RunResponse aligns with the HTTP run schema and provides a unified structure across adapters.
type RunResponse struct {
	RunID       string                  `json:"run_id" jsonschema_description:"Identifier of the run"`
	CurrentNode string                  `json:"current_node" jsonschema_description:"Next node to execute"`
	Done        bool                    `json:"done" jsonschema_description:"Indicates the run reached the terminal node"`
	Steps       int                     `json:"steps" jsonschema_description:"Number of executed steps"`
	FinalAnswer string                  `json:"final_answer,omitempty" jsonschema_description:"Final answer, once produced"`
	Error       string                  `json:"error,omitempty" jsonschema_description:"Error that ended the run"`
	Difficulty  domain.Difficulty       `json:"difficulty,omitempty" jsonschema_description:"Classified difficulty"`
	Todos       []domain.TodoItem       `json:"todos,omitempty" jsonschema_description:"Plan of hard requests"`
	Metadata    map[string]any          `json:"metadata,omitempty" jsonschema_description:"Run metadata such as stop_reason"`
	Visited     []string                `json:"visited,omitempty" jsonschema_description:"Path taken so far"`
	Signal      domain.CompletionSignal `json:"completion_signal,omitempty" jsonschema_description:"Last completion signal"`
}

// StepResponse reports one executed node.
type StepResponse struct {
	Node string      `json:"node" jsonschema_description:"The node that was executed"`
	Run  RunResponse `json:"run"`
}

// Engine defines what the MCP server needs from the run engine.
type Engine interface {
	StartRun(ctx context.Context, input string, maxIterations int) (string, error)
	Step(ctx context.Context, runID string) (domain.StepResult, error)
	Resume(ctx context.Context, runID string) (*domain.Run, error)
	Inspect(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context) ([]string, error)
	Definition() domain.GraphDefinition
}

var _ Engine = (*pergola.Engine)(nil)

// Server wraps the run engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: logging.NewNop(),
		mcpServer: server.NewMCPServer("pergola-mcp", strings.TrimSpace(pergola.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, for in-process transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("mcp server listening (sse)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("run_task",
		mcp.WithDescription("Run a request through the agent graph to completion and return the final answer."),
		mcp.WithString("input", mcp.Required(), mcp.Description("The request to answer")),
		mcp.WithNumber("max_iterations", mcp.Description("Iteration ceiling (optional)")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleRunTask))

	s.mcpServer.AddTool(mcp.NewTool("start_run",
		mcp.WithDescription("Create a run positioned at the entry node without executing it."),
		mcp.WithString("input", mcp.Required(), mcp.Description("The request to answer")),
		mcp.WithNumber("max_iterations", mcp.Description("Iteration ceiling (optional)")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleStartRun))

	s.mcpServer.AddTool(mcp.NewTool("step_run",
		mcp.WithDescription("Execute the current node of a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithOutputSchema[StepResponse](),
	), mcp.NewStructuredToolHandler(s.handleStepRun))

	s.mcpServer.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Inspect a stored run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleGetRun))

	s.mcpServer.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List the ids of stored runs."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := s.engine.ListRuns(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the graph definition for introspection."),
		mcp.WithString("format", mcp.Description("json (default) or mermaid")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		def := s.engine.Definition()
		if request.GetString("format", "json") == "mermaid" {
			return mcp.NewToolResultText(graph.GenerateMermaid(def, nil)), nil
		}
		jsonBytes, _ := json.Marshal(def)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleRunTask(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	id, err := s.start(ctx, args)
	if err != nil {
		return RunResponse{}, err
	}
	run, err := s.engine.Resume(ctx, id)
	if err != nil {
		return RunResponse{}, fmt.Errorf("run %s failed: %w", id, err)
	}
	return toResponse(run), nil
}

func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	id, err := s.start(ctx, args)
	if err != nil {
		return RunResponse{}, err
	}
	run, err := s.engine.Inspect(ctx, id)
	if err != nil {
		return RunResponse{}, err
	}
	return toResponse(run), nil
}

func (s *Server) handleStepRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StepResponse, error) {
	id, err := runID(args)
	if err != nil {
		return StepResponse{}, err
	}
	res, err := s.engine.Step(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrRunFinished) {
		return StepResponse{}, fmt.Errorf("step failed: %w", err)
	}
	run, loadErr := s.engine.Inspect(ctx, id)
	if loadErr != nil {
		return StepResponse{}, loadErr
	}
	return StepResponse{Node: res.Node, Run: toResponse(run)}, nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	id, err := runID(args)
	if err != nil {
		return RunResponse{}, err
	}
	run, err := s.engine.Inspect(ctx, id)
	if err != nil {
		return RunResponse{}, err
	}
	return toResponse(run), nil
}

func (s *Server) start(ctx context.Context, args map[string]interface{}) (string, error) {
	input, _ := args["input"].(string)
	if strings.TrimSpace(input) == "" {
		return "", errors.New("input is required")
	}
	maxIterations := 0
	if v, ok := args["max_iterations"].(float64); ok {
		if v < 0 {
			return "", fmt.Errorf("max_iterations must not be negative, got %v", v)
		}
		maxIterations = int(v)
	}
	id, err := s.engine.StartRun(ctx, input, maxIterations)
	if err != nil {
		return "", fmt.Errorf("start failed: %w", err)
	}
	s.logger.Info("mcp run started", "run_id", id)
	return id, nil
}

func runID(args map[string]interface{}) (string, error) {
	id, _ := args["run_id"].(string)
	if id == "" {
		return "", errors.New("run_id is required")
	}
	return id, nil
}

func toResponse(run *domain.Run) RunResponse {
	return RunResponse{
		RunID:       run.ID,
		CurrentNode: run.CurrentNode,
		Done:        run.Done,
		Steps:       run.Steps,
		FinalAnswer: run.State.FinalAnswer,
		Error:       run.State.Error,
		Difficulty:  run.State.Difficulty,
		Todos:       run.State.Todos,
		Metadata:    run.State.Metadata,
		Visited:     run.Visited,
		Signal:      run.State.CompletionSignal,
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Current Graph Definition",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.engine.Definition())
		if err != nil {
			return nil, fmt.Errorf("failed to encode graph: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource(graphMermaidURI, "Current Graph (Mermaid)",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphMermaidURI,
				MIMEType: "text/plain",
				Text:     graph.GenerateMermaid(s.engine.Definition(), nil),
			},
		}, nil
	})
}

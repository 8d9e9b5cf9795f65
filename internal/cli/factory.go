// Package cli wires configuration into the adapters and engine used by the
// pergola command.
package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/adapters/file"
	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/adapters/badger"
	"github.com/aretw0/pergola/pkg/adapters/langchain"
	"github.com/aretw0/pergola/pkg/adapters/loam"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/adapters/openai"
	"github.com/aretw0/pergola/pkg/adapters/redis"
	"github.com/aretw0/pergola/pkg/adapters/scripted"
	"github.com/aretw0/pergola/pkg/adapters/throttle"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/observability"
	"github.com/aretw0/pergola/pkg/persistence/middleware"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/templates"
)

// badgerMemoryDir holds transcripts when only memory uses BadgerDB.
var badgerMemoryDir = filepath.Join(".pergola", "memory")

// Components are the adapters built from one configuration.
type Components struct {
	Config   config.Config
	Logger   *slog.Logger
	Loader   ports.GraphLoader
	Store    ports.RunStore
	Memory   ports.MemoryStore
	Locker   ports.DistributedLocker
	Invoker  ports.ModelInvoker
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Tracing  *observability.Tracing

	redis   goredis.UniversalClient
	badger  *badgerdb.DB
	closers []func(context.Context) error
}

// BuildOption adjusts how components are built.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger  *slog.Logger
	invoker ports.ModelInvoker
	traceTo io.Writer
}

// WithLogger overrides the logger derived from the log settings.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = l
	}
}

// WithInvoker bypasses the model provider settings.
func WithInvoker(inv ports.ModelInvoker) BuildOption {
	return func(o *buildOptions) {
		o.invoker = inv
	}
}

// WithTraceWriter sends stdout spans to w instead of the configured file.
func WithTraceWriter(w io.Writer) BuildOption {
	return func(o *buildOptions) {
		o.traceTo = w
	}
}

// Build creates every adapter the configuration selects. Callers must Close
// the result.
func Build(ctx context.Context, cfg config.Config, opts ...BuildOption) (*Components, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Components{Config: cfg, Logger: o.logger}
	if c.Logger == nil {
		c.Logger = logging.New(logging.ParseLevel(cfg.Log.Level), logging.Format(cfg.Log.Format))
	}
	if err := c.build(ctx, o); err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, o buildOptions) error {
	cfg := c.Config
	var err error

	if c.Loader, err = c.buildLoader(); err != nil {
		return err
	}
	if c.Store, err = c.buildStore(ctx); err != nil {
		return err
	}
	if c.Store, err = c.secureStore(c.Store); err != nil {
		return err
	}
	if c.Memory, err = c.buildMemory(ctx); err != nil {
		return err
	}

	c.Invoker = o.invoker
	if c.Invoker == nil {
		if c.Invoker, err = c.buildInvoker(); err != nil {
			return err
		}
	}
	c.Invoker = throttle.Wrap(c.Invoker, cfg.Model.RequestsPerSecond, cfg.Model.Burst)

	c.Registry = prometheus.NewRegistry()
	c.Metrics = observability.NewMetrics(c.Registry)

	if err := c.buildTracing(o.traceTo); err != nil {
		return err
	}
	return nil
}

func (c *Components) buildLoader() (ports.GraphLoader, error) {
	cfg := c.Config.Engine
	if cfg.GraphDir == "" {
		return templates.Loader{}, nil
	}
	if cfg.Loader == "loam" {
		l, err := loam.Open(cfg.GraphDir)
		if err != nil {
			return nil, err
		}
		return withFallback{primary: l, fallback: templates.Loader{}}, nil
	}
	return file.NewLoader(cfg.GraphDir, templates.Loader{}), nil
}

func (c *Components) redisClient() goredis.UniversalClient {
	if c.redis == nil {
		s := c.Config.Store
		c.redis = goredis.NewClient(&goredis.Options{Addr: s.Addr, Password: s.Password, DB: s.DB})
		c.closers = append(c.closers, func(context.Context) error { return c.redis.Close() })
	}
	return c.redis
}

func (c *Components) badgerDB(path string) (*badgerdb.DB, error) {
	if c.badger != nil {
		return c.badger, nil
	}
	db, err := badger.Open(badger.Config{Path: path, Logger: c.Logger})
	if err != nil {
		return nil, err
	}
	c.badger = db
	c.closers = append(c.closers, func(context.Context) error { return db.Close() })
	return db, nil
}

func (c *Components) buildStore(ctx context.Context) (ports.RunStore, error) {
	s := c.Config.Store
	switch s.Backend {
	case "memory":
		return memory.NewStore(), nil
	case "file":
		return file.New(s.Path), nil
	case "redis":
		client := c.redisClient()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", s.Addr, err)
		}
		prefix := s.Prefix
		if prefix == "" {
			prefix = redis.DefaultPrefix
		}
		c.Locker = redis.NewLocker(client, prefix)
		return redis.NewFromClient(client, redis.WithPrefix(prefix), redis.WithTTL(s.TTL)), nil
	case "badger":
		db, err := c.badgerDB(s.Path)
		if err != nil {
			return nil, err
		}
		return badger.NewStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.Backend)
	}
}

// secureStore wraps store with masking and encryption when configured.
func (c *Components) secureStore(store ports.RunStore) (ports.RunStore, error) {
	s := c.Config.Store
	var mws []middleware.Middleware
	if len(s.MaskKeys) > 0 {
		mw, err := middleware.NewPIIMiddleware(s.MaskKeys)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	if s.EncryptionKey != "" {
		active, err := base64.StdEncoding.DecodeString(s.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
		cfg := middleware.EncryptionConfig{ActiveKey: active}
		for i, k := range s.FallbackKeys {
			key, err := base64.StdEncoding.DecodeString(k)
			if err != nil {
				return nil, fmt.Errorf("fallback key %d: %w", i, err)
			}
			cfg.FallbackKeys = append(cfg.FallbackKeys, key)
		}
		mw, err := middleware.NewEncryptionMiddleware(cfg)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return middleware.Chain(store, mws...), nil
}

func (c *Components) buildMemory(ctx context.Context) (ports.MemoryStore, error) {
	m := c.Config.Memory
	switch m.Backend {
	case "none", "":
		return nil, nil
	case "memory":
		return memory.NewRecall(m.Limit), nil
	case "redis":
		client := c.redisClient()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", c.Config.Store.Addr, err)
		}
		prefix := c.Config.Store.Prefix
		if prefix == "" {
			prefix = redis.DefaultPrefix
		}
		return redis.NewMemory(client, prefix, m.Limit), nil
	case "badger":
		path := badgerMemoryDir
		if c.Config.Store.Backend == "badger" {
			path = c.Config.Store.Path
		}
		db, err := c.badgerDB(path)
		if err != nil {
			return nil, err
		}
		return badger.NewMemory(db), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", m.Backend)
	}
}

func (c *Components) buildInvoker() (ports.ModelInvoker, error) {
	m := c.Config.Model
	switch m.Provider {
	case "scripted":
		return scripted.Load(m.Responses)
	case "openai":
		return openai.New(openai.Config{
			APIKey:       m.APIKey,
			BaseURL:      m.BaseURL,
			Model:        m.Name,
			SystemPrompt: m.SystemPrompt,
			Temperature:  m.Temperature,
			MaxTokens:    m.MaxTokens,
		}, openai.WithLogger(c.Logger))
	case "langchain":
		opts := []lcopenai.Option{}
		if m.APIKey != "" {
			opts = append(opts, lcopenai.WithToken(m.APIKey))
		}
		if m.Name != "" {
			opts = append(opts, lcopenai.WithModel(m.Name))
		}
		if m.BaseURL != "" {
			opts = append(opts, lcopenai.WithBaseURL(m.BaseURL))
		}
		llm, err := lcopenai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("langchain openai client: %w", err)
		}
		var callOpts []llms.CallOption
		if m.Temperature > 0 {
			callOpts = append(callOpts, llms.WithTemperature(float64(m.Temperature)))
		}
		if m.MaxTokens > 0 {
			callOpts = append(callOpts, llms.WithMaxTokens(m.MaxTokens))
		}
		return langchain.New(llm, callOpts...), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", m.Provider)
	}
}

func (c *Components) buildTracing(w io.Writer) error {
	if c.Config.Trace.Exporter != "stdout" {
		return nil
	}
	if w == nil {
		w = os.Stderr
		if path := c.Config.Trace.File; path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open trace file: %w", err)
			}
			c.closers = append(c.closers, func(context.Context) error { return f.Close() })
			w = f
		}
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	// Shut the provider down before the trace file closes.
	c.closers = append([]func(context.Context) error{tp.Shutdown}, c.closers...)
	c.Tracing = observability.NewTracing(tp.Tracer("github.com/aretw0/pergola"))
	return nil
}

// Hooks merges metrics, tracing and debug logging hooks.
func (c *Components) Hooks() domain.LifecycleHooks {
	hooks := c.Metrics.Hooks()
	if c.Tracing != nil {
		hooks = hooks.Merge(c.Tracing.Hooks())
	}
	return hooks.Merge(DebugHooks(c.Logger))
}

// Engine compiles the configured graph into an engine over the components.
func (c *Components) Engine(ctx context.Context, extra ...pergola.Option) (*pergola.Engine, error) {
	opts := []pergola.Option{
		pergola.WithLoader(c.Loader),
		pergola.WithStore(c.Store),
		pergola.WithBudget(c.Config.Budget),
		pergola.WithLogger(c.Logger),
		pergola.WithStepCeiling(c.Config.Engine.StepCeiling),
		pergola.WithMaxIterations(c.Config.Engine.MaxIterations),
		pergola.WithLifecycleHooks(c.Hooks()),
	}
	if c.Memory != nil {
		opts = append(opts, pergola.WithMemory(c.Memory))
	}
	if c.Locker != nil {
		opts = append(opts, pergola.WithLocker(c.Locker), pergola.WithLockTTL(c.Config.Store.LockTTL))
	}
	opts = append(opts, extra...)

	eng, err := pergola.New(ctx, c.Config.Engine.Graph, c.Invoker, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return eng, nil
}

// Close releases the components in reverse order of creation.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// withFallback serves templates for names the primary loader does not know.
type withFallback struct {
	primary  ports.GraphLoader
	fallback ports.GraphLoader
}

func (l withFallback) Load(ctx context.Context, name string) (domain.GraphDefinition, error) {
	def, err := l.primary.Load(ctx, name)
	if errors.Is(err, domain.ErrGraphNotFound) {
		return l.fallback.Load(ctx, name)
	}
	return def, err
}

func (l withFallback) List(ctx context.Context) ([]string, error) {
	names, err := l.primary.List(ctx)
	if err != nil {
		return nil, err
	}
	more, err := l.fallback.List(ctx)
	if err != nil {
		return nil, err
	}
	return mergeSorted(names, more), nil
}

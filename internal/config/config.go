// Package config loads pergola's settings from a YAML file and PERGOLA_*
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/pergola/pkg/budget"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "pergola.yaml"

// Config is the root configuration.
type Config struct {
	Log    Log          `yaml:"log"`
	Engine Engine       `yaml:"engine"`
	Budget budget.Guard `yaml:"budget"`
	Model  Model        `yaml:"model"`
	Store  Store        `yaml:"store"`
	Memory Memory       `yaml:"memory"`
	Server Server       `yaml:"server"`
	Trace  Trace        `yaml:"trace"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type Engine struct {
	// Graph is a template name or a graph loaded from GraphDir.
	Graph         string `yaml:"graph" validate:"required"`
	GraphDir      string `yaml:"graph_dir"`
	// Loader reads GraphDir as plain files or as a Loam repository.
	Loader        string `yaml:"loader" validate:"oneof=file loam"`
	StepCeiling   int    `yaml:"step_ceiling" validate:"gte=1"`
	MaxIterations int    `yaml:"max_iterations" validate:"gte=1"`
}

type Model struct {
	Provider     string  `yaml:"provider" validate:"oneof=scripted openai langchain"`
	Name         string  `yaml:"name"`
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url" validate:"omitempty,url"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `yaml:"max_tokens" validate:"gte=0"`

	// RequestsPerSecond throttles model calls; zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`

	// Responses is the YAML file replayed by the scripted provider.
	Responses string `yaml:"responses" validate:"required_if=Provider scripted"`
}

type Store struct {
	Backend  string        `yaml:"backend" validate:"oneof=memory file redis badger"`
	Path     string        `yaml:"path" validate:"required_if=Backend file,required_if=Backend badger"`
	Addr     string        `yaml:"addr" validate:"required_if=Backend redis"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
	LockTTL  time.Duration `yaml:"lock_ttl" validate:"gte=0"`

	// EncryptionKey is a base64 AES-256 key; set, runs are stored sealed.
	EncryptionKey string   `yaml:"encryption_key" validate:"omitempty,base64"`
	FallbackKeys  []string `yaml:"fallback_keys" validate:"dive,base64"`
	// MaskKeys are patterns of metadata keys masked before storage.
	MaskKeys []string `yaml:"mask_keys"`
}

type Memory struct {
	Backend string `yaml:"backend" validate:"oneof=none memory redis badger"`
	Limit   int    `yaml:"limit" validate:"gte=0"`
}

type Server struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Trace exports OpenTelemetry spans of runs and nodes.
type Trace struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout"`
	// File receives stdout spans; empty means stderr.
	File string `yaml:"file"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:    Log{Level: "info", Format: "text"},
		Engine: Engine{Graph: "autonomous", Loader: "file", StepCeiling: 500, MaxIterations: 10},
		Budget: budget.DefaultGuard(),
		Model:  Model{Provider: "openai", Name: "gpt-4o-mini"},
		Store:  Store{Backend: "file", Path: ".pergola/runs", Prefix: "pergola:"},
		Memory: Memory{Backend: "memory", Limit: 1000},
		Server: Server{Addr: ":8080"},
		Trace:  Trace{Exporter: "none"},
	}
}

var validate = validator.New()

// Load reads path over the defaults, applies the environment and validates.
// An empty path tries DefaultFile and tolerates its absence.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// envVar binds one environment variable to a setter.
type envVar struct {
	name string
	set  func(*Config, string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func float(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

var envVars = []envVar{
	{"PERGOLA_LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"PERGOLA_LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"PERGOLA_GRAPH", str(func(c *Config) *string { return &c.Engine.Graph })},
	{"PERGOLA_GRAPH_DIR", str(func(c *Config) *string { return &c.Engine.GraphDir })},
	{"PERGOLA_GRAPH_LOADER", str(func(c *Config) *string { return &c.Engine.Loader })},
	{"PERGOLA_STEP_CEILING", integer(func(c *Config) *int { return &c.Engine.StepCeiling })},
	{"PERGOLA_MAX_ITERATIONS", integer(func(c *Config) *int { return &c.Engine.MaxIterations })},
	{"PERGOLA_CONTEXT_LIMIT", integer(func(c *Config) *int { return &c.Budget.Limit })},
	{"PERGOLA_MODEL_PROVIDER", str(func(c *Config) *string { return &c.Model.Provider })},
	{"PERGOLA_MODEL_NAME", str(func(c *Config) *string { return &c.Model.Name })},
	{"OPENAI_API_KEY", str(func(c *Config) *string { return &c.Model.APIKey })},
	{"PERGOLA_MODEL_API_KEY", str(func(c *Config) *string { return &c.Model.APIKey })},
	{"PERGOLA_MODEL_BASE_URL", str(func(c *Config) *string { return &c.Model.BaseURL })},
	{"PERGOLA_MODEL_RPS", float(func(c *Config) *float64 { return &c.Model.RequestsPerSecond })},
	{"PERGOLA_MODEL_RESPONSES", str(func(c *Config) *string { return &c.Model.Responses })},
	{"PERGOLA_STORE_BACKEND", str(func(c *Config) *string { return &c.Store.Backend })},
	{"PERGOLA_STORE_PATH", str(func(c *Config) *string { return &c.Store.Path })},
	{"PERGOLA_REDIS_ADDR", str(func(c *Config) *string { return &c.Store.Addr })},
	{"PERGOLA_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Store.Password })},
	{"PERGOLA_REDIS_DB", integer(func(c *Config) *int { return &c.Store.DB })},
	{"PERGOLA_STORE_KEY", str(func(c *Config) *string { return &c.Store.EncryptionKey })},
	{"PERGOLA_STORE_TTL", duration(func(c *Config) *time.Duration { return &c.Store.TTL })},
	{"PERGOLA_MEMORY_BACKEND", str(func(c *Config) *string { return &c.Memory.Backend })},
	{"PERGOLA_SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"PERGOLA_TRACE_EXPORTER", str(func(c *Config) *string { return &c.Trace.Exporter })},
}

// ApplyEnv overlays environment variables read through lookup. Later entries
// win, so PERGOLA_MODEL_API_KEY overrides OPENAI_API_KEY.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, v := range envVars {
		val, ok := lookup(v.name)
		if !ok || val == "" {
			continue
		}
		if err := v.set(cfg, val); err != nil {
			return fmt.Errorf("env %s: %w", v.name, err)
		}
	}
	return nil
}

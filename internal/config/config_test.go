package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pergola.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
engine:
  graph: simple
  step_ceiling: 40
budget:
  limit: 8000
store:
  backend: redis
  addr: localhost:6379
  ttl: 1h
model:
  provider: scripted
  responses: answers.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "simple", cfg.Engine.Graph)
	assert.Equal(t, 40, cfg.Engine.StepCeiling)
	assert.Equal(t, 10, cfg.Engine.MaxIterations)
	assert.Equal(t, 8000, cfg.Budget.Limit)
	assert.Equal(t, 0.75, cfg.Budget.WarnRatio)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, "answers.yaml", cfg.Model.Responses)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  graf: simple\n"))
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
	assert.Equal(t, Default().Budget, cfg.Budget)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Unknown Log Level", "log: {level: loud}"},
		{"Unknown Store", "store: {backend: postgres}"},
		{"Redis Without Addr", "store: {backend: redis}"},
		{"Badger Without Path", "store: {backend: badger, path: ''}"},
		{"Scripted Without Responses", "model: {provider: scripted}"},
		{"Zero Step Ceiling", "engine: {step_ceiling: 0}"},
		{"Bad Base URL", "model: {base_url: 'not a url'}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PERGOLA_LOG_FORMAT":     "json",
		"PERGOLA_STEP_CEILING":   "99",
		"OPENAI_API_KEY":         "sk-openai",
		"PERGOLA_MODEL_API_KEY":  "sk-pergola",
		"PERGOLA_STORE_TTL":      "90s",
		"PERGOLA_MODEL_RPS":      "2.5",
		"PERGOLA_MEMORY_BACKEND": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg, lookup))

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 99, cfg.Engine.StepCeiling)
	assert.Equal(t, "sk-pergola", cfg.Model.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Store.TTL)
	assert.Equal(t, 2.5, cfg.Model.RequestsPerSecond)
	assert.Equal(t, "memory", cfg.Memory.Backend, "empty values are ignored")
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, func(k string) (string, bool) {
		if k == "PERGOLA_REDIS_DB" {
			return "zero", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "PERGOLA_REDIS_DB")
}

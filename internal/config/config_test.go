package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CMEM_DB_PATH", filepath.Join(t.TempDir(), "x.db"))

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 8741, cfg.Port)
	assert.Equal(t, "rules", cfg.Agent.Provider)
	assert.Equal(t, "sync", cfg.Queue.DrainMode)
	assert.Equal(t, 3, cfg.Queue.RetryCap)
	assert.Equal(t, 90, cfg.Retention.DefaultTTLDays)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
db_path: /tmp/from-file.db
agent:
  provider: openai
  model: llama3.1
  base_url: http://localhost:11434/v1
  timeout: 15s
queue:
  drain_mode: async
  workers: 4
retention:
  default_ttl_days: 14
`), 0o644))

	t.Setenv("PORT", "9100")
	t.Setenv("QUEUE_WORKERS", "8")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "env wins over file")
	assert.Equal(t, "/tmp/from-file.db", cfg.DBPath)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, 15*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, "async", cfg.Queue.DrainMode)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 14, cfg.Retention.DefaultTTLDays)
	assert.Equal(t, 30, cfg.Retention.SoftDeleteDays, "unset keys keep defaults")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "70000"}},
		{"unknown agent", map[string]string{"AGENT_PROVIDER": "gemini"}},
		{"anthropic without key", map[string]string{"AGENT_PROVIDER": "anthropic"}},
		{"openai without key or base url", map[string]string{"AGENT_PROVIDER": "openai"}},
		{"bad drain mode", map[string]string{"QUEUE_DRAIN_MODE": "later"}},
		{"zero retry cap", map[string]string{"QUEUE_RETRY_CAP": "0"}},
		{"unknown embedder", map[string]string{"EMBEDDING_PROVIDER": "cohere"}},
		{"zero soft delete grace", map[string]string{"RETENTION_SOFT_DELETE_DAYS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", "")
			t.Setenv("OPENAI_API_KEY", "")
			t.Setenv("AGENT_API_KEY", "")
			t.Setenv("AGENT_BASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFile("")
			assert.Error(t, err)
		})
	}
}

func TestOpenAIAgentWithLocalBaseURL(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AGENT_API_KEY", "")
	t.Setenv("AGENT_BASE_URL", "http://localhost:11434/v1")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Agent.Provider)
}

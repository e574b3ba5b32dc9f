package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Workflow.MaxStepsPerRun)
	assert.Equal(t, 30*time.Second, cfg.Resume.PollInterval)
	assert.True(t, cfg.Dependency.SkipUnblocksDependents)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.False(t, cfg.Approval.StrictManagerEscalation)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
resume:
  poll_interval: 5s
  max_concurrent_resumes: 8
dependency:
  skip_unblocks_dependents: false
approval:
  strict_manager_escalation: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Resume.PollInterval)
	assert.Equal(t, 8, cfg.Resume.MaxConcurrentResumes)
	assert.False(t, cfg.Dependency.SkipUnblocksDependents)
	assert.True(t, cfg.Approval.StrictManagerEscalation)
}

func TestLoad_EnvOverridesCredentials(t *testing.T) {
	t.Setenv("LARK_APP_ID", "cli_env")
	t.Setenv("LARK_APP_SECRET", "secret_env")
	path := writeConfig(t, "lark:\n  enabled: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cli_env", cfg.Lark.AppID)
	assert.Equal(t, "secret_env", cfg.Lark.AppSecret)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"lark without credentials", "lark:\n  enabled: true\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"zero attempts", "retry:\n  max_attempts: 0\n"},
		{"sampling out of range", "tracing:\n  sampling_rate: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

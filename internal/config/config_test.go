package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
ami:
  host: ami.example.com
  port: 5038
  username: admin
  events: call,user
  timeout: 5s
log_level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))
	t.Setenv("AMICTL_AMI_SECRET", "hunter2")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "ami.example.com", cfg.AMI.Host)
	assert.Equal(t, 5038, cfg.AMI.Port)
	assert.Equal(t, "admin", cfg.AMI.Username)
	assert.Equal(t, "hunter2", cfg.AMI.Secret)
	assert.Equal(t, "call,user", cfg.AMI.Events)
	assert.Equal(t, 5*time.Second, cfg.AMI.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("ami:\n  host: original\n  username: admin\n"), 0644))
	t.Setenv("AMICTL_AMI_HOST", "overridden")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "overridden", cfg.AMI.Host)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("ami:\n  host: h\n  username: u\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 5038, cfg.AMI.Port)
	assert.Equal(t, "off", cfg.AMI.Events)
	assert.Equal(t, 10*time.Second, cfg.AMI.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMissingHostIsError(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("ami:\n  username: u\n"), 0644))

	_, err := Load(configPath)
	require.Error(t, err)
}

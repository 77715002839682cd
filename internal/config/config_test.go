// Package config_test tests the configuration loading for the voice-clone-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-clone-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[server]
listen_addr = ":9090"

[storage]
backend = "fs"
root = "/var/lib/voice-clone"
voices_dir = "voices"
outputs_dir = "cloned"

[registry]
database_path = "/var/lib/voice-clone/registry.db"

[engine]
runtime = "http"
service_url = "http://127.0.0.1:8000"
use_gpu = true
language = "en"
temperature = 0.7
timeout_seconds = 120

[limits]
max_queue_depth = 8
max_text_length = 1500
min_sample_seconds = 2.0

[nats]
url = "nats://127.0.0.1:4222"
voices_bucket = "VOICE_SAMPLES"
outputs_bucket = "CLONED_AUDIO"
`

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(sampleTOML), &cfg)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, config.BackendFilesystem, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/voice-clone", cfg.Storage.Root)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Engine.ServiceURL)
	assert.True(t, cfg.Engine.UseGPU)
	assert.InEpsilon(t, 0.7, cfg.Engine.Temperature, 0.001)
	assert.Equal(t, 8, cfg.Limits.MaxQueueDepth)
	assert.Equal(t, 1500, cfg.Limits.MaxTextLength)
	assert.InEpsilon(t, 2.0, cfg.Limits.MinSampleSeconds, 0.001)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "voice-clone.toml")

	minimal := `
[storage]
root = "` + dir + `"

[engine]
runtime = "http"
service_url = "http://127.0.0.1:8000"
`
	err := os.WriteFile(path, []byte(minimal), 0o600)
	require.NoError(t, err)

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "voices", cfg.Storage.VoicesDir)
	assert.Equal(t, "cloned", cfg.Storage.OutputsDir)
	assert.Equal(t, filepath.Join(dir, "registry.db"), filepath.Clean(cfg.Registry.DatabasePath))
	assert.Equal(t, 16, cfg.Limits.MaxQueueDepth)
	assert.Equal(t, 2000, cfg.Limits.MaxTextLength)
	assert.InEpsilon(t, 1.0, cfg.Limits.MinSampleSeconds, 0.001)
	assert.Equal(t, "en", cfg.Engine.Language)
}

func TestLoadFromFileRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "voice-clone.toml")

	bad := `
[storage]
backend = "s3"
root = "/tmp"

[engine]
runtime = "http"
service_url = "http://127.0.0.1:8000"
`
	err := os.WriteFile(path, []byte(bad), 0o600)
	require.NoError(t, err)

	_, err = config.LoadFromFile(path)
	require.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestValidateRequiresRuntimeTarget(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(`
[storage]
root = "/tmp"

[engine]
runtime = "command"
`), &cfg)
	require.NoError(t, err)

	// No defaults applied here; Validate must still catch the missing binary.
	cfg.Storage.Backend = config.BackendFilesystem
	cfg.Limits.MaxQueueDepth = 1
	cfg.Limits.MaxTextLength = 1

	require.ErrorIs(t, cfg.Validate(), config.ErrRuntimeBinaryEmpty)
}

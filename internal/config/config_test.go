package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	assert.Greater(t, cfg.MaxBatch, 0)
	assert.Greater(t, cfg.TokenChunkSize, 0)
	assert.Equal(t, "cpu", cfg.Backend.Kind)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rwkv.toml")
	body := `
max_batch = 4
token_chunk_size = 64

[backend]
kind = "cuda"
model_path = "/models/rwkv-7b.st"

[[init_state]]
id = "11111111-1111-1111-1111-111111111111"
name = "assistant"
default = true
state_path = "/states/assistant.bin"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxBatch)
	assert.Equal(t, 64, cfg.TokenChunkSize)
	assert.Equal(t, "cuda", cfg.Backend.Kind)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.InitStates, 1)
	assert.Equal(t, "assistant", cfg.InitStates[0].Name)
	assert.True(t, cfg.InitStates[0].Default)

	// Fields absent from the file keep their Default() values.
	assert.Equal(t, 256, cfg.QueueDepth)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

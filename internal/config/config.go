// Package config loads the process-wide configuration for the
// rwkv-infer scheduler from a TOML file, the same way go-ethereum's
// cmd/geth loads config.toml.
package config

import (
	"bufio"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

var tomlSettings = toml.Config{
	NormFieldName: func(typ reflect.Type, key string) string { return key },
	FieldToKey:    func(typ reflect.Type, field string) string { return field },
	MissingField: func(typ reflect.Type, field string) error {
		return nil
	},
}

// Backend selects the model runtime the inference worker drives.
// Backend construction itself is out of scope (spec.md's Non-goals
// exclude model-weight loading and GPU kernel selection); this only
// names which one the CLI wires up.
type Backend struct {
	Kind       string `toml:"kind"`       // e.g. "cpu", "cuda", "webgpu"
	ModelPath  string `toml:"model_path"`
	DeviceID   int    `toml:"device_id"`
}

// InitStateEntry registers one named initial recurrent state with the
// cache hub, per spec.md's register(id, init_state) operation. State
// is a path to a host-format snapshot file rather than inline bytes,
// since snapshots are typically megabytes.
type InitStateEntry struct {
	ID        string `toml:"id"`   // parsed as uuid.UUID at load time
	Name      string `toml:"name"`
	Default   bool   `toml:"default"`
	StatePath string `toml:"state_path"`
}

// LogConfig controls internal/log's sink selection.
type LogConfig struct {
	Level    string `toml:"level"`     // trace|debug|info|warn|error
	FilePath string `toml:"file_path"` // empty disables the file sink
}

// MetricsConfig controls the admin surface's /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfig controls internal/httpadmin's listener.
type AdminConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Config is the top-level scheduler configuration, loaded once at
// startup. MIN_PROMPT_CACHE_TOKENS and MAX_CACHE_ITEMS are
// deliberately absent: spec.md §9 keeps them build-time constants.
type Config struct {
	MaxBatch         int    `toml:"max_batch"`
	TokenChunkSize   int    `toml:"token_chunk_size"`
	QueueDepth       int    `toml:"queue_depth"`
	StateConcurrency int64  `toml:"state_concurrency"`
	RetrySleepMillis int64  `toml:"retry_sleep_millis"`

	Backend    Backend          `toml:"backend"`
	InitStates []InitStateEntry `toml:"init_state"`

	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Admin   AdminConfig   `toml:"admin"`
}

// Default returns the configuration a bare `rwkv-infer` invocation
// falls back to when no config file is given.
func Default() Config {
	return Config{
		MaxBatch:         8,
		TokenChunkSize:   256,
		QueueDepth:       256,
		StateConcurrency: 4,
		RetrySleepMillis: 1000,
		Backend:          Backend{Kind: "cpu"},
		Log:              LogConfig{Level: "info"},
		Metrics:          MetricsConfig{Enabled: true},
		Admin:            AdminConfig{ListenAddr: "127.0.0.1:6070"},
	}
}

// Load reads and parses a TOML config file at path into a fresh
// Config seeded with Default(), matching cmd/geth's loadConfig: unknown
// fields are tolerated, known fields overwrite the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: open %s", path)
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}

// Package config loads the server's YAML configuration and layers
// command-line overrides on top of it: a defaults struct decoded over
// using a strict gopkg.in/yaml.v3 decoder, plus a github.com/jessevdk/go-flags
// CLI parser for overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/polqt/yhub/internal/awareness"
	"github.com/polqt/yhub/internal/persistence"
	"github.com/polqt/yhub/internal/wire"
	"github.com/polqt/yhub/internal/ycrdt"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr       string   `yaml:"listen_addr"`
	StorageDir       string   `yaml:"storage_dir"`
	NATSURL          string   `yaml:"nats_url"`
	ClusterPrefix    string   `yaml:"cluster_prefix"`
	InstanceID       string   `yaml:"instance_id"`
	Debounce         Duration `yaml:"debounce"`
	MaxDebounce      Duration `yaml:"max_debounce"`
	UnloadGrace      Duration `yaml:"unload_grace"`
	UnloadTimeout    Duration `yaml:"unload_timeout"`
	AwarenessTimeout Duration `yaml:"awareness_timeout"`
	MaxFrameSize     int      `yaml:"max_frame_size"`
	LogLevel         string   `yaml:"log_level"`
	Dev              bool     `yaml:"dev"`
}

// defaults mirrors every package-level default constant used elsewhere in
// the module, so a bare `yhubd` with no config file at all still runs with
// sane values.
var defaults = Config{
	ListenAddr:       ":8787",
	StorageDir:       "./data",
	ClusterPrefix:    "yhub",
	Debounce:         Duration(persistence.DefaultDebounce),
	MaxDebounce:      Duration(persistence.DefaultMaxDebounce),
	UnloadGrace:      Duration(5 * time.Second),
	UnloadTimeout:    Duration(5 * time.Second),
	AwarenessTimeout: Duration(awareness.DefaultTimeout),
	MaxFrameSize:     wire.DefaultMaxFrameSize,
	LogLevel:         "info",
}

// Load reads a YAML config file at path and applies it over the package
// defaults, so any field the file omits keeps its default. A missing file
// is not an error: it yields the defaults plus a freshly generated
// instance id, for zero-config local runs.
func Load(path string) (*Config, error) {
	cfg := defaults

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.InstanceID = ycrdt.NewGUID()
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = ycrdt.NewGUID()
	}
	return &cfg, nil
}

// CLI holds command-line overrides parsed by github.com/jessevdk/go-flags.
// Only fields explicitly supplied on the command line should be applied
// over the loaded Config (see ApplyOverrides) — go-flags leaves
// unset string/bool fields at their Go zero value, which ApplyOverrides
// treats as "not overridden".
type CLI struct {
	ConfigPath string `long:"config" description:"path to a YAML config file" default:"yhub.yaml"`
	ListenAddr string `long:"listen" description:"override listen_addr"`
	NATSURL    string `long:"nats-url" description:"override nats_url"`
	Dev        bool   `long:"dev" description:"enable development-mode logging"`
}

// ParseArgs parses args (typically os.Args[1:]) into a CLI.
func ParseArgs(args []string) (*CLI, error) {
	var cli CLI
	parser := flags.NewParser(&cli, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &cli, nil
}

// ApplyOverrides layers non-zero CLI fields onto cfg.
func ApplyOverrides(cfg *Config, cli *CLI) {
	if cli.ListenAddr != "" {
		cfg.ListenAddr = cli.ListenAddr
	}
	if cli.NATSURL != "" {
		cfg.NATSURL = cli.NATSURL
	}
	if cli.Dev {
		cfg.Dev = true
	}
}

package config

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config for internal/customizable configurations.
type Config struct {
	// Basic options.
	Logger   *zap.Logger `yaml:"-" toml:"-"`
	LogLevel string      `flag:"log-level" yaml:"log_level" toml:"log_level"`

	HTTPAddress string `flag:"http-address" yaml:"http_address" toml:"http_address"`

	// Registry options.
	RegistryDir     string `flag:"registry-dir" yaml:"registry_dir" toml:"registry_dir"`
	DefaultRegistry string `flag:"default-registry" yaml:"default_registry" toml:"default_registry"`
	DefaultStart    uint64 `flag:"default-start" yaml:"default_start" toml:"default_start"`
	DefaultIDType   string `flag:"default-id-type" yaml:"default_id_type" toml:"default_id_type"`

	// Lock options. A zero LockTimeout waits for the registry lock forever.
	LockTimeout    time.Duration `flag:"lock-timeout" yaml:"lock_timeout" toml:"lock_timeout"`
	LockRetryDelay time.Duration `flag:"lock-retry-delay" yaml:"lock_retry_delay" toml:"lock_retry_delay"`

	// Provider config.
	Storage   *ProviderInfo `yaml:"storage" toml:"storage"`
	Sequencer *ProviderInfo `yaml:"sequencer" toml:"sequencer"`
}

// NewConfig creates a new config.
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",

		HTTPAddress: "127.0.0.1:9810",

		RegistryDir:     ".",
		DefaultRegistry: "types.toml",
		DefaultStart:    0,
		DefaultIDType:   "u64",

		LockTimeout:    0,
		LockRetryDelay: 10 * time.Millisecond,
	}
}

// Provider is the config provider interface.
type Provider interface {
	Name() string
	Configure(ctx context.Context, config map[string]interface{}) error
}

// ProviderInfo is the info of a config provider.
type ProviderInfo struct {
	Provider string                 `yaml:"provider" toml:"provider"`
	Config   map[string]interface{} `yaml:"config,omitempty" toml:"config"`
}

// LoadProvider Find And Load Provider Config Into Provider
func LoadProvider(ctx context.Context, info *ProviderInfo, providers ...Provider) (interface{}, error) {
	providerName := info.Provider
	var provider Provider
	for _, p := range providers {
		// find the match provider
		if p.Name() == providerName {
			provider = p
			break
		}
	}
	if provider == nil {
		return nil, errors.Errorf("Provider %s Not Found", providerName)
	}
	err := provider.Configure(ctx, info.Config)
	return provider, err
}

// File is the content of a config file, both as a flat map for flag
// resolution and as the provider sections.
type File struct {
	Values    map[string]interface{}
	Storage   *ProviderInfo
	Sequencer *ProviderInfo
}

type providerSections struct {
	Storage   *ProviderInfo `yaml:"storage" toml:"storage"`
	Sequencer *ProviderInfo `yaml:"sequencer" toml:"sequencer"`
}

// LoadFile reads a YAML (.yaml, .yml) or TOML (anything else) config file.
func LoadFile(path string) (*File, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %s", path)
	}

	f := &File{Values: map[string]interface{}{}}
	var sections providerSections
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(buf, &f.Values); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
		if err := yaml.Unmarshal(buf, &sections); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	default:
		if _, err := toml.Decode(string(buf), &f.Values); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
		if _, err := toml.Decode(string(buf), &sections); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}
	f.Storage = sections.Storage
	f.Sequencer = sections.Sequencer
	return f, nil
}

// NewLogger builds the logger for a log level name.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

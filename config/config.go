// Package config loads jsdeob settings from a YAML file, JSDEOB_* environment
// variables and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fxnatic/jsdeob/fold"
)

const (
	EnvPrefix = "JSDEOB"
	FileName  = ".jsdeob"
)

type SandboxConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxCallStack int           `yaml:"max_call_stack" mapstructure:"max_call_stack"`
}

// MarshalYAML writes the timeout in duration form ("5s") so a saved file
// reads back through viper's string-to-duration hook.
func (s SandboxConfig) MarshalYAML() (any, error) {
	return struct {
		Timeout      string `yaml:"timeout"`
		MaxCallStack int    `yaml:"max_call_stack"`
	}{s.Timeout.String(), s.MaxCallStack}, nil
}

type FoldConfig struct {
	Policy string `yaml:"policy" mapstructure:"policy"`
}

type NormalizeConfig struct {
	BracketToDot    bool `yaml:"bracket_to_dot" mapstructure:"bracket_to_dot"`
	ValueOrDefault  bool `yaml:"value_or_default" mapstructure:"value_or_default"`
	Simplify        bool `yaml:"simplify" mapstructure:"simplify"`
	InlineConstants bool `yaml:"inline_constants" mapstructure:"inline_constants"`
}

type OutputConfig struct {
	Suffix string `yaml:"suffix" mapstructure:"suffix"`
}

type FallbackConfig struct {
	BaseOffset int `yaml:"base_offset" mapstructure:"base_offset"`
}

type FetchConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

type Config struct {
	Sandbox   SandboxConfig   `yaml:"sandbox" mapstructure:"sandbox"`
	Fold      FoldConfig      `yaml:"fold" mapstructure:"fold"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Fallback  FallbackConfig  `yaml:"fallback" mapstructure:"fallback"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			Timeout:      5 * time.Second,
			MaxCallStack: 1024,
		},
		Fold: FoldConfig{Policy: fold.Skip.String()},
		Normalize: NormalizeConfig{
			BracketToDot:    true,
			ValueOrDefault:  true,
			Simplify:        true,
			InlineConstants: true,
		},
		Output:   OutputConfig{Suffix: ".deobfuscated.js"},
		Fallback: FallbackConfig{BaseOffset: 410},
		Fetch:    FetchConfig{TimeoutSeconds: 30},
		Log:      LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("sandbox.timeout", d.Sandbox.Timeout)
	v.SetDefault("sandbox.max_call_stack", d.Sandbox.MaxCallStack)
	v.SetDefault("fold.policy", d.Fold.Policy)
	v.SetDefault("normalize.bracket_to_dot", d.Normalize.BracketToDot)
	v.SetDefault("normalize.value_or_default", d.Normalize.ValueOrDefault)
	v.SetDefault("normalize.simplify", d.Normalize.Simplify)
	v.SetDefault("normalize.inline_constants", d.Normalize.InlineConstants)
	v.SetDefault("output.suffix", d.Output.Suffix)
	v.SetDefault("fallback.base_offset", d.Fallback.BaseOffset)
	v.SetDefault("fetch.timeout_seconds", d.Fetch.TimeoutSeconds)
	v.SetDefault("log.level", d.Log.Level)
}

// Load reads path, or .jsdeob.yaml from the working or home directory when
// path is empty. A missing default file is not an error; a missing explicit
// one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.MaxCallStack <= 0 {
		return fmt.Errorf("sandbox.max_call_stack must be positive, got %d", c.Sandbox.MaxCallStack)
	}
	if _, err := fold.Parse(c.Fold.Policy); err != nil {
		return fmt.Errorf("fold.policy: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Fallback.BaseOffset < 0 {
		return fmt.Errorf("fallback.base_offset must not be negative")
	}
	return nil
}

// FoldPolicy returns the parsed fold.policy. Validate has already rejected
// unknown values.
func (c *Config) FoldPolicy() fold.Policy {
	p, _ := fold.Parse(c.Fold.Policy)
	return p
}

// Save writes the default configuration to path.
func Save(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("error marshalling default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating directory for config file %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}

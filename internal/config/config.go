// Package config loads and persists the tool configuration. Settings come
// from a YAML file, environment variables (UNLURAPH_ prefix), and
// command-line flag overrides applied by the cmd layer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DecryptionConfig pins the encryption parameters instead of discovering
// them from the input. Empty values mean auto-detection.
type DecryptionConfig struct {
	Method  string `yaml:"method" mapstructure:"method"`   // auto, xor_v1, xor_v2, aes_cbc, aes_cbc_v2, luraph_custom
	Key     string `yaml:"key" mapstructure:"key"`         // raw key bytes
	IV      string `yaml:"iv" mapstructure:"iv"`           // raw IV bytes (AES only)
	Version string `yaml:"version" mapstructure:"version"` // 11.5 .. 11.8.1
}

// OutputConfig selects which artifacts a run produces.
type OutputConfig struct {
	Source    bool   `yaml:"source" mapstructure:"source"`       // write the readable rendition
	Bytecode  bool   `yaml:"bytecode" mapstructure:"bytecode"`   // write the .luac image
	Extension string `yaml:"extension" mapstructure:"extension"` // bytecode file extension
}

// RenameConfig controls readable-name generation for mangled identifiers.
type RenameConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	StatePath string `yaml:"state_path" mapstructure:"state_path"` // persisted mapping, empty = fresh per run
}

// Config holds all settings for the deobfuscator.
type Config struct {
	Silent       bool `mapstructure:"silent" yaml:"silent"`
	AbortOnError bool `mapstructure:"abort_on_error" yaml:"abort_on_error"`
	DebugMode    bool `mapstructure:"debug_mode" yaml:"debug_mode"`

	// File handling for directory processing.
	LuaExtensions []string `mapstructure:"lua_extensions" yaml:"lua_extensions"`
	SkipPaths     []string `mapstructure:"skip" yaml:"skip"`

	Decryption DecryptionConfig `mapstructure:"decryption" yaml:"decryption"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Rename     RenameConfig     `mapstructure:"rename" yaml:"rename"`
}

var (
	// Testing suppresses informational output in test runs.
	Testing bool
)

// PrintInfo prints formatted information to stdout, respecting the Testing
// flag.
func PrintInfo(format string, args ...interface{}) {
	if !Testing {
		fmt.Printf(format, args...)
	}
}

// DefaultConfig returns a configuration with default settings.
func DefaultConfig() *Config {
	return &Config{
		Silent:        false,
		AbortOnError:  true,
		DebugMode:     false,
		LuaExtensions: []string{"lua"},
		SkipPaths:     []string{"*.git*", "*.bak"},
		Decryption: DecryptionConfig{
			Method: "auto",
		},
		Output: OutputConfig{
			Source:    true,
			Bytecode:  true,
			Extension: "luac",
		},
		Rename: RenameConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads configuration from file and environment variables, then
// returns a filled Config. A missing default config file is fine; a missing
// named file is an error.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := configPath != ""
	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("UNLURAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || isConfigNotFound(err) {
			if explicit {
				return nil, fmt.Errorf("specified config file not found: %s", configPath)
			}
			// Default file absent: environment + defaults only.
		} else {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	} else if !cfg.Silent {
		PrintInfo("Info: Loaded configuration from %s\n", configPath)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", configPath, err)
	}
	return cfg, nil
}

func isConfigNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return os.IsNotExist(pathErr)
	}
	return false
}

// setDefaults registers the default values so env-only settings resolve.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("silent", cfg.Silent)
	v.SetDefault("abort_on_error", cfg.AbortOnError)
	v.SetDefault("debug_mode", cfg.DebugMode)
	v.SetDefault("lua_extensions", cfg.LuaExtensions)
	v.SetDefault("skip", cfg.SkipPaths)
	v.SetDefault("decryption.method", cfg.Decryption.Method)
	v.SetDefault("decryption.key", cfg.Decryption.Key)
	v.SetDefault("decryption.iv", cfg.Decryption.IV)
	v.SetDefault("decryption.version", cfg.Decryption.Version)
	v.SetDefault("output.source", cfg.Output.Source)
	v.SetDefault("output.bytecode", cfg.Output.Bytecode)
	v.SetDefault("output.extension", cfg.Output.Extension)
	v.SetDefault("rename.enabled", cfg.Rename.Enabled)
	v.SetDefault("rename.state_path", cfg.Rename.StatePath)
}

// SaveConfig saves the default configuration to a file.
func SaveConfig(configPath string) error {
	cfg := DefaultConfig()
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshalling default config: %w", err)
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory for config file %s: %w", configPath, err)
	}
	if err := os.WriteFile(configPath, yamlData, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configPath, err)
	}
	PrintInfo("Info: Saved default configuration to %s\n", configPath)
	return nil
}

// IsLuaFile reports whether a file name has one of the configured Lua
// extensions.
func (c *Config) IsLuaFile(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, want := range c.LuaExtensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// ShouldSkipPath matches a relative path against the skip patterns.
func (c *Config) ShouldSkipPath(path string) bool {
	for _, pattern := range c.SkipPaths {
		matched, err := filepath.Match(pattern, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Invalid skip pattern '%s': %v\n", pattern, err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

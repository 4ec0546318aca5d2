// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/estream/escpkg/internal/cueutil"
	"github.com/estream/escpkg/internal/fsutil"
	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "escpkg"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides (ESCPKG_CACHE_DIR).
	EnvPrefix = "ESCPKG"
	// KeyringFileName is the default keyring file inside ConfigDir.
	KeyringFileName = "keyring.toml"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the escpkg configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DataDir returns the directory packages are installed under by default:
// %LOCALAPPDATA% on Windows, ~/Library/Application Support on macOS and
// $XDG_DATA_HOME (defaulting to ~/.local/share) elsewhere.
func DataDir() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case platform.Windows:
		dataDir = os.Getenv("LOCALAPPDATA")
		if dataDir == "" {
			dataDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, "Library", "Application Support")
	default:
		dataDir = os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(dataDir, AppName), nil
}

// CacheDir returns the configured cache directory or UserCacheDir()/escpkg.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return string(c.Cache.Dir), nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// InstallRoot returns the configured install root or DataDir()/packages.
func (c *Config) InstallRoot() (string, error) {
	if c.Install.Root != "" {
		return string(c.Install.Root), nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "packages"), nil
}

// KeyringPath returns the configured keyring file or ConfigDir()/keyring.toml.
func (c *Config) KeyringPath() (string, error) {
	if c.Keyring != "" {
		return string(c.Keyring), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, KeyringFileName), nil
}

// TargetPlatform returns the configured platform or the running one.
func (c *Config) TargetPlatform() string {
	if c.Resolve.Platform != "" {
		return c.Resolve.Platform
	}
	return platform.Current()
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("cache.dir", string(defaults.Cache.Dir))
	v.SetDefault("cache.ttl", defaults.Cache.TTL)
	v.SetDefault("install.root", string(defaults.Install.Root))
	v.SetDefault("resolve.concurrency", defaults.Resolve.Concurrency)
	v.SetDefault("resolve.platform", defaults.Resolve.Platform)
	v.SetDefault("resolve.include_optional", defaults.Resolve.IncludeOptional)
	v.SetDefault("fetch.timeout", defaults.Fetch.Timeout)
	v.SetDefault("registry.dir", string(defaults.Registry.Dir))
	v.SetDefault("keyring", string(defaults.Keyring))
	v.SetDefault("log_level", string(defaults.LogLevel))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'escpkg config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment overrides bypass the CUE schema, so check the decoded result.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check " + EnvPrefix + "_* environment variables for typos").
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// resolveConfigFile picks the file to load: the explicit path, then
// config.cue in the config directory, then config.cue in the working
// directory. An empty result means defaults only.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	if cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(cuePath) {
		return cuePath, nil
	}
	if opts.ConfigDirPath != "" {
		return "", nil
	}
	if localCuePath := ConfigFileName + "." + ConfigFileExt; fileExists(localCuePath) {
		return localCuePath, nil
	}
	return "", nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// This does not use cueutil.ParseAndDecode: the config decodes to a map so
// Viper can layer defaults and environment overrides around it, and fields
// are optional, so validation is not concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config.cue into dir unless one
// exists. It returns the file path.
func CreateDefaultConfig(dir string) (string, error) {
	cfgPath := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cfgPath) {
		return cfgPath, nil
	}
	if err := Save(dir, DefaultConfig()); err != nil {
		return "", err
	}
	return cfgPath, nil
}

// Save writes cfg as config.cue into dir.
func Save(dir string, cfg *Config) error {
	cfgPath := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := fsutil.WriteFileAtomic(cfgPath, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE generates a CUE representation of the configuration. Empty
// paths are omitted so they keep resolving to platform defaults.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// escpkg configuration file\n")
	sb.WriteString("// Environment variables ESCPKG_<SECTION>_<KEY> override these values.\n\n")

	sb.WriteString(fmt.Sprintf("log_level: %q\n", cfg.LogLevel))
	if cfg.Keyring != "" {
		sb.WriteString(fmt.Sprintf("keyring: %q\n", cfg.Keyring))
	}

	sb.WriteString("\ncache: {\n")
	if cfg.Cache.Dir != "" {
		sb.WriteString(fmt.Sprintf("\tdir: %q\n", cfg.Cache.Dir))
	}
	sb.WriteString(fmt.Sprintf("\tttl: %q\n", formatDuration(cfg.Cache.TTL)))
	sb.WriteString("}\n")

	if cfg.Install.Root != "" {
		sb.WriteString("\ninstall: {\n")
		sb.WriteString(fmt.Sprintf("\troot: %q\n", cfg.Install.Root))
		sb.WriteString("}\n")
	}

	sb.WriteString("\nresolve: {\n")
	sb.WriteString(fmt.Sprintf("\tconcurrency: %d\n", cfg.Resolve.Concurrency))
	if cfg.Resolve.Platform != "" {
		sb.WriteString(fmt.Sprintf("\tplatform: %q\n", cfg.Resolve.Platform))
	}
	sb.WriteString(fmt.Sprintf("\tinclude_optional: %v\n", cfg.Resolve.IncludeOptional))
	sb.WriteString("}\n")

	sb.WriteString("\nfetch: {\n")
	sb.WriteString(fmt.Sprintf("\ttimeout: %q\n", formatDuration(cfg.Fetch.Timeout)))
	sb.WriteString("}\n")

	if cfg.Registry.Dir != "" {
		sb.WriteString("\nregistry: {\n")
		sb.WriteString(fmt.Sprintf("\tdir: %q\n", cfg.Registry.Dir))
		sb.WriteString("}\n")
	}

	return sb.String()
}

// formatDuration renders d in the form accepted by #Duration: "0" for zero
// and without the trailing zero units time.Duration.String adds ("24h", not
// "24h0m0s").
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0"
	}
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

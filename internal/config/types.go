// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/estream/escpkg/pkg/platform"
)

const (
	// LogLevelDebug logs resolver waves, cache decisions and every fetch.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs one line per installed package.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs recoverable problems only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs failures only.
	LogLevelError LogLevel = "error"

	// DefaultCacheTTL is how long a cached archive is reused without refetching.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultFetchTimeout bounds a single archive fetch.
	DefaultFetchTimeout = 60 * time.Second
	// DefaultConcurrency is the number of parallel registry lookups.
	DefaultConcurrency = 8

	maxConcurrency = 256
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidPath is returned when a path is set but whitespace-only.
	ErrInvalidPath = errors.New("invalid path")
	// ErrInvalidDuration is returned for a negative duration.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidConcurrency is returned for a concurrency outside 1..256.
	ErrInvalidConcurrency = errors.New("invalid concurrency")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel selects the minimum level written to stderr.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// Path is a filesystem path. The zero value means "use the platform default".
	Path string

	// FieldError attaches a config key to a field-level validation error.
	FieldError struct {
		Field string
		Err   error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sections.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the escpkg configuration.
	Config struct {
		// Cache configures the archive cache.
		Cache CacheConfig `json:"cache" mapstructure:"cache"`
		// Install configures where packages are extracted.
		Install InstallConfig `json:"install" mapstructure:"install"`
		// Resolve configures dependency resolution.
		Resolve ResolveConfig `json:"resolve" mapstructure:"resolve"`
		// Fetch configures archive downloads.
		Fetch FetchConfig `json:"fetch" mapstructure:"fetch"`
		// Registry selects the package registry.
		Registry RegistryConfig `json:"registry" mapstructure:"registry"`
		// Keyring is the trusted public key file.
		Keyring Path `json:"keyring" mapstructure:"keyring"`
		// LogLevel is the minimum level logged to stderr.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
	}

	// CacheConfig configures the archive cache.
	CacheConfig struct {
		// Dir holds cached archives (default: the user cache directory).
		Dir Path `json:"dir" mapstructure:"dir"`
		// TTL is how long an entry is reused; zero keeps entries forever.
		TTL time.Duration `json:"ttl" mapstructure:"ttl"`
	}

	// InstallConfig configures the install tree.
	InstallConfig struct {
		// Root is the directory packages are extracted under.
		Root Path `json:"root" mapstructure:"root"`
	}

	// ResolveConfig configures the resolver.
	ResolveConfig struct {
		// Concurrency bounds parallel registry lookups.
		Concurrency int `json:"concurrency" mapstructure:"concurrency"`
		// Platform filters releases by "os/arch" (default: the running platform).
		Platform string `json:"platform" mapstructure:"platform"`
		// IncludeOptional installs optional dependencies too.
		IncludeOptional bool `json:"include_optional" mapstructure:"include_optional"`
	}

	// FetchConfig configures archive downloads.
	FetchConfig struct {
		// Timeout bounds one fetch; zero disables the limit.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// RegistryConfig selects the package registry.
	RegistryConfig struct {
		// Dir is a directory registry root.
		Dir Path `json:"dir" mapstructure:"dir"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// String returns the path.
func (p Path) String() string { return string(p) }

// IsValid returns false for a non-empty, whitespace-only path.
func (p Path) IsValid() (bool, []error) {
	if p != "" && strings.TrimSpace(string(p)) == "" {
		return false, []error{fmt.Errorf("%w: %q is whitespace-only", ErrInvalidPath, string(p))}
	}
	return true, nil
}

// Error implements the error interface for FieldError.
func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

// Unwrap returns the field's validation error.
func (e *FieldError) Unwrap() error { return e.Err }

// IsValid returns whether the Config has valid fields. Each invalid field
// is reported as a *FieldError naming its config key.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	add := func(field string, err error) {
		errs = append(errs, &FieldError{Field: field, Err: err})
	}
	check := func(field string, v interface{ IsValid() (bool, []error) }) {
		if valid, fieldErrs := v.IsValid(); !valid {
			for _, err := range fieldErrs {
				add(field, err)
			}
		}
	}

	check("cache.dir", c.Cache.Dir)
	check("install.root", c.Install.Root)
	check("registry.dir", c.Registry.Dir)
	check("keyring", c.Keyring)
	check("log_level", c.LogLevel)
	if c.Cache.TTL < 0 {
		add("cache.ttl", fmt.Errorf("%w: %s", ErrInvalidDuration, c.Cache.TTL))
	}
	if c.Fetch.Timeout < 0 {
		add("fetch.timeout", fmt.Errorf("%w: %s", ErrInvalidDuration, c.Fetch.Timeout))
	}
	if c.Resolve.Concurrency < 1 || c.Resolve.Concurrency > maxConcurrency {
		add("resolve.concurrency", fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidConcurrency, c.Resolve.Concurrency, maxConcurrency))
	}
	if err := platform.Validate(c.Resolve.Platform); err != nil {
		add("resolve.platform", err)
	}

	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the default configuration. Empty paths are resolved
// to platform defaults by the accessor methods.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir: "", // Will use UserCacheDir()/escpkg if empty
			TTL: DefaultCacheTTL,
		},
		Resolve: ResolveConfig{
			Concurrency: DefaultConcurrency,
		},
		Fetch: FetchConfig{
			Timeout: DefaultFetchTimeout,
		},
		LogLevel: LogLevelInfo,
	}
}

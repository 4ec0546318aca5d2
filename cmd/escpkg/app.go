// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/estream/escpkg/internal/config"
	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/install"
	"github.com/estream/escpkg/pkg/integrity"
	"github.com/estream/escpkg/pkg/registry"
	"github.com/estream/escpkg/pkg/resolve"
)

type (
	// App wires CLI services and shared dependencies. It is the composition root for
	// the CLI layer: every Cobra command handler receives an App reference and reaches
	// configuration, the registry and the keyring through it.
	App struct {
		Config ConfigProvider
		stdout io.Writer
		stderr io.Writer
		now    func() time.Time
		rand   io.Reader
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		Stdout io.Writer
		Stderr io.Writer
		// Clock stamps signatures and cache entries.
		Clock func() time.Time
		// Rand is the entropy source for key generation.
		Rand io.Reader
	}

	// ConfigProvider loads configuration using explicit options.
	// This abstraction enables testing with custom config sources.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// globalFlags holds the persistent root flags.
	globalFlags struct {
		verbose    bool
		configPath string
	}

	// session is the per-invocation state: the loaded configuration and a
	// logger at the configured level.
	session struct {
		app    *App
		flags  *globalFlags
		cfg    *config.Config
		logger *log.Logger
	}
)

// NewApp creates an App, filling nil dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config: deps.Config,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
		now:    deps.Clock,
		rand:   deps.Rand,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.now == nil {
		app.now = time.Now
	}
	if app.rand == nil {
		app.rand = rand.Reader
	}
	return app
}

// loadOptions maps the persistent flags onto config load options.
func (f *globalFlags) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: f.configPath}
}

// newSession loads configuration and builds the logger. --verbose forces
// the debug level regardless of log_level.
func (a *App) newSession(ctx context.Context, flags *globalFlags) (*session, error) {
	cfg, err := a.Config.Load(ctx, flags.loadOptions())
	if err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(cfg.LogLevel.String())
	if err != nil {
		level = log.InfoLevel
	}
	if flags.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix: "escpkg",
		Level:  level,
	})

	return &session{app: a, flags: flags, cfg: cfg, logger: logger}, nil
}

// registry opens the configured directory registry.
func (s *session) registry() (*registry.DirRegistry, error) {
	if s.cfg.Registry.Dir == "" {
		return nil, issue.NewErrorContext().
			WithOperation("open registry").
			WithSuggestion("Set registry.dir in config.cue").
			WithSuggestion("Or export ESCPKG_REGISTRY_DIR=/path/to/registry").
			Wrap(errNoRegistry).
			BuildError()
	}
	return registry.NewDirRegistry(s.cfg.Registry.Dir.String()), nil
}

// keyring loads the trusted key file. A missing file is an empty keyring.
func (s *session) keyring() (*integrity.MemoryKeyring, string, error) {
	path, err := s.cfg.KeyringPath()
	if err != nil {
		return nil, "", err
	}
	kr, err := integrity.LoadKeyring(path)
	if err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("load keyring").
			WithResource(path).
			WithSuggestion("Fix or remove the keyring file, then re-import trusted keys").
			Wrap(err).
			BuildError()
	}
	return kr, path, nil
}

// resolver builds a resolver bound to reg with the configured platform and
// concurrency.
func (s *session) resolver(reg registry.Registry, includeOptional bool) *resolve.Resolver {
	return resolve.New(reg,
		resolve.WithConcurrency(s.cfg.Resolve.Concurrency),
		resolve.WithPlatform(s.cfg.TargetPlatform()),
		resolve.WithOptional(includeOptional || s.cfg.Resolve.IncludeOptional),
		resolve.WithLogger(s.logger),
	)
}

// orchestrator builds an install orchestrator over the configured cache
// and install root.
func (s *session) orchestrator(kr integrity.Keyring, force bool) (*install.Orchestrator, error) {
	cacheDir, err := s.cfg.CacheDir()
	if err != nil {
		return nil, err
	}
	root, err := s.cfg.InstallRoot()
	if err != nil {
		return nil, err
	}
	return install.NewOrchestrator(
		install.CacheConfig{Dir: cacheDir, TTL: s.cfg.Cache.TTL, Force: force},
		root,
		kr,
		install.WithFetchTimeout(s.cfg.Fetch.Timeout),
		install.WithConcurrency(s.cfg.Resolve.Concurrency),
		install.WithLogger(s.logger),
		install.WithClock(s.app.now),
	), nil
}

var errNoRegistry = errors.New("no registry configured")

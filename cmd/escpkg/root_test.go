// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/estream/escpkg/internal/config"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type (
	// staticConfig serves a fixed configuration.
	staticConfig struct {
		cfg *config.Config
	}

	// cliEnv is an isolated registry, cache, install root and keyring.
	cliEnv struct {
		dir    string
		cfg    *config.Config
		stdout bytes.Buffer
		stderr bytes.Buffer
	}
)

func (p staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	c := *p.cfg
	return &c, nil
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Registry.Dir = config.Path(filepath.Join(dir, "registry"))
	cfg.Cache.Dir = config.Path(filepath.Join(dir, "cache"))
	cfg.Install.Root = config.Path(filepath.Join(dir, "packages"))
	cfg.Keyring = config.Path(filepath.Join(dir, "keyring.toml"))
	cfg.Resolve.Platform = "linux/amd64"
	return &cliEnv{dir: dir, cfg: cfg}
}

// run executes one escpkg invocation, resetting the captured output.
func (e *cliEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	e.stdout.Reset()
	e.stderr.Reset()
	app := NewApp(Dependencies{
		Config: staticConfig{cfg: e.cfg},
		Stdout: &e.stdout,
		Stderr: &e.stderr,
		Clock:  func() time.Time { return testNow },
	})
	root := NewRootCommand(app)
	root.SetArgs(args)
	return root.ExecuteContext(t.Context())
}

// mustRun fails the test when the invocation fails.
func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	if err := e.run(t, args...); err != nil {
		t.Fatalf("escpkg %s: %v\nstderr:\n%s", strings.Join(args, " "), err, e.stderr.String())
	}
	return e.stdout.String()
}

// exitCode returns the code an invocation would exit with.
func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *ExitError", err)
	}
	return exitErr.Code
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2026-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2026-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("fallback to dev", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "dev"

		if got, want := getVersionString(), "dev (built from source)"; got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})
}

func TestNewApp_Defaults(t *testing.T) {
	t.Parallel()

	app := NewApp(Dependencies{})
	if app.Config == nil || app.stdout == nil || app.stderr == nil || app.now == nil || app.rand == nil {
		t.Errorf("NewApp(Dependencies{}) left nil fields: %+v", app)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCommand(NewApp(Dependencies{}))
	want := []string{"config", "explain", "inspect", "install", "keygen", "keys", "pack", "resolve", "search", "verify", "yank"}
	for _, name := range want {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for _, flag := range []string{"verbose", "config"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag --%s missing", flag)
		}
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if got := formatErrorForDisplay(plain, false); got != "boom" {
		t.Errorf("plain error = %q", got)
	}

	s := &session{cfg: &config.Config{}}
	_, err := s.registry()
	got := formatErrorForDisplay(err, false)
	if !strings.Contains(got, "ESCPKG_REGISTRY_DIR") {
		t.Errorf("actionable error lost its suggestions: %q", got)
	}
}

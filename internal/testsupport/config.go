package testsupport

import (
	"path/filepath"
	"testing"

	"taskmill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithReserveOnSelect enables reservation semantics on the test config.
func WithReserveOnSelect() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Selection.ReserveOnSelect = true
	}
}

// WithIncludeTooHard makes too-hard tasks selectable on the test config.
func WithIncludeTooHard() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Selection.IncludeTooHard = true
	}
}

// WithRecentActionWindowMinutes overrides the anti-repeat window.
func WithRecentActionWindowMinutes(minutes int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Selection.RecentActionWindowMinutes = minutes
	}
}

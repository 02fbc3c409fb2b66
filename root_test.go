package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dropbox-go/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must
// set globals AFTER newRootCmd() returns, or use cmd.SetArgs() + Execute()
// to let Cobra parse them.

func resetFlags(t *testing.T) {
	t.Helper()

	oldVerbose, oldQuiet, oldJSON, oldCfg := flagVerbose, flagQuiet, flagJSON, flagConfigPath
	oldResolved := resolvedCfg

	t.Cleanup(func() {
		flagVerbose, flagQuiet, flagJSON, flagConfigPath = oldVerbose, oldQuiet, oldJSON, oldCfg
		resolvedCfg = oldResolved
	})
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{
		"login", "logout", "whoami", "status",
		"ls", "get", "put", "rm", "mkdir", "mv", "stat", "hash", "watch",
	}

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range want {
		assert.True(t, names[name], "missing subcommand %s", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag %s", name)
	}
}

func TestBuildLogger_Levels(t *testing.T) {
	resetFlags(t)

	defaults, err := config.Resolve("")
	require.NoError(t, err)

	resolvedCfg = defaults

	t.Run("default is info", func(t *testing.T) {
		flagVerbose, flagQuiet = false, false

		logger := buildLogger()
		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
		assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		flagVerbose, flagQuiet = true, false

		logger := buildLogger()
		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
	})

	t.Run("quiet raises to error", func(t *testing.T) {
		flagVerbose, flagQuiet = false, true

		logger := buildLogger()
		assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	})

	t.Run("config log level applies", func(t *testing.T) {
		flagVerbose, flagQuiet = false, false

		cfg := *defaults
		cfg.LogLevel = "debug"
		resolvedCfg = &cfg

		t.Cleanup(func() { resolvedCfg = defaults })

		logger := buildLogger()
		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
	})
}

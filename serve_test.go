package main

import (
	"bytes"
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveContext(t *testing.T, env *cliEnv) *CLIContext {
	t.Helper()

	flags := CLIFlags{ConfigPath: env.configPath, DBPath: env.dbPath}

	resolved, err := loadConfig(flags)
	require.NoError(t, err)

	return &CLIContext{
		Flags:  flags,
		Cfg:    resolved,
		Logger: discardLogger(),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}
}

func TestScheduledTriggers(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t, "")
	cc := serveContext(t, env)
	cc.Cfg.Schedule.Deputies = "@hourly"
	cc.Cfg.Schedule.Stale = "*/5 * * * *"

	triggers := scheduledTriggers(&app{}, cc.Cfg)
	require.Len(t, triggers, 3)

	specs := map[string]string{}
	for _, tr := range triggers {
		specs[tr.Name] = tr.Spec
	}

	assert.Equal(t, map[string]string{
		"deputies": "@hourly",
		"expenses": "",
		"stale":    "*/5 * * * *",
	}, specs)

	assert.Equal(t, "disabled", describeSchedule(""))
	assert.Equal(t, `"@hourly"`, describeSchedule("@hourly"))
}

func TestRunServe_LocksReloadsAndStops(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t, "")
	cc := serveContext(t, env)
	pidPath := servePIDPath(cc.Cfg.Database.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hup := make(chan os.Signal, 1)
	done := make(chan error, 1)

	go func() { done <- runServe(ctx, cc, hup) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(pidPath)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// A second daemon on the same database is refused.
	err := runServe(ctx, serveContext(t, env), make(chan os.Signal))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// Reload with a new schedule, then with a broken config; serve keeps running.
	require.NoError(t, os.WriteFile(env.configPath, append(mustRead(t, env.configPath),
		[]byte("\n[logging]\nlog_level = \"debug\"\n")...), 0o600))
	hup <- syscall.SIGHUP

	require.NoError(t, os.WriteFile(env.configPath, []byte("not = [valid"), 0o600))
	hup <- syscall.SIGHUP

	select {
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}

	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}

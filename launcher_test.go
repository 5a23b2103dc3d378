package nimi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLauncher(t *testing.T) *Launcher {
	s := NewSubreaper(ConsoleLogger(true))
	go s.Run(context.Background())
	return &Launcher{
		Subreaper: s,
		Demux:     NewDemultiplexer(ConsoleLogger(true), ""),
		Log:       ConsoleLogger(true),
	}
}

func TestLauncherSpawnAndWaitSuccess(t *testing.T) {
	l := newTestLauncher(t)
	svc := Service{Process: Process{Argv: []string{"/bin/echo", "hi"}}}

	configDir, err := materialise(t.TempDir(), svc.ConfigData)
	require.NoError(t, err)

	child, err := l.Spawn(svc, configDir, "greeter")
	require.NoError(t, err)
	require.Greater(t, child.Pid(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, err := child.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ws.Exited())
	require.Equal(t, 0, ws.ExitStatus())
}

func TestLauncherSpawnNonExistentBinary(t *testing.T) {
	l := newTestLauncher(t)
	svc := Service{Process: Process{Argv: []string{"/no/such/binary-xyz"}}}

	configDir, err := materialise(t.TempDir(), svc.ConfigData)
	require.NoError(t, err)

	_, err = l.Spawn(svc, configDir, "bad")
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, "bad", spawnErr.Service)
}

func TestLauncherWaitReturnsExitStatus(t *testing.T) {
	l := newTestLauncher(t)
	configDir, err := materialise(t.TempDir(), nil)
	require.NoError(t, err)

	child, err := l.Spawn(Service{Process: Process{Argv: []string{"/bin/sh", "-c", "exit 3"}}}, configDir, "exiter")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, err := child.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, ws.ExitStatus())
}

func TestLauncherShutdownGraceful(t *testing.T) {
	l := newTestLauncher(t)
	configDir, err := materialise(t.TempDir(), nil)
	require.NoError(t, err)

	// A shell that exits cleanly on SIGTERM well within the grace period.
	// The sleep runs in the background under `wait`, which a trapped signal
	// interrupts; a foreground sleep would hold the trap until it finished.
	child, err := l.Spawn(Service{Process: Process{Argv: []string{"/bin/sh", "-c", "trap 'exit 0' TERM; sleep 30 & wait"}}}, configDir, "sleeper")
	require.NoError(t, err)

	ws, err := l.Shutdown(child, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ws.Exited() || ws.Signaled())
}

func TestLauncherShutdownEscalatesToKill(t *testing.T) {
	l := newTestLauncher(t)
	configDir, err := materialise(t.TempDir(), nil)
	require.NoError(t, err)

	// Ignores SIGTERM, forcing escalation to SIGKILL.
	child, err := l.Spawn(Service{Process: Process{Argv: []string{"/bin/sh", "-c", "trap '' TERM; sleep 30"}}}, configDir, "stubborn")
	require.NoError(t, err)

	start := time.Now()
	ws, err := l.Shutdown(child, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ws.Signaled())
	require.Less(t, time.Since(start), 5*time.Second)
}

package nimi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSupervisorDeps(t *testing.T) *Launcher {
	s := NewSubreaper(ConsoleLogger(true))
	go s.Run(context.Background())
	return &Launcher{
		Subreaper: s,
		Demux:     NewDemultiplexer(ConsoleLogger(true), ""),
		Log:       ConsoleLogger(true),
	}
}

func countSpawns(sv *Supervisor) *int32Counter {
	c := &int32Counter{}
	sv.OnStatus = func(status Status, pid int) {
		if status == StatusRunning {
			c.inc()
		}
	}
	return c
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestSupervisorNeverRestartsOnce(t *testing.T) {
	sv := &Supervisor{
		Name:     "one-shot",
		Service:  Service{Process: Process{Argv: []string{"/bin/sh", "-c", "exit 1"}}},
		Settings: &Settings{Restart: Restart{Mode: RestartNever}},
		Launcher: newTestSupervisorDeps(t),
		TmpRoot:  t.TempDir(),
		Log:      ConsoleLogger(true),
	}
	counter := countSpawns(sv)

	require.NoError(t, sv.Run(NewToken()))
	require.Equal(t, 1, counter.get())
}

func TestSupervisorUpToCountSpawnsCountPlusOneTimes(t *testing.T) {
	sv := &Supervisor{
		Name:     "flaky",
		Service:  Service{Process: Process{Argv: []string{"/bin/sh", "-c", "exit 1"}}},
		Settings: &Settings{Restart: Restart{Mode: RestartUpToCount, Count: 2, TimeMillis: 0}},
		Launcher: newTestSupervisorDeps(t),
		TmpRoot:  t.TempDir(),
		Log:      ConsoleLogger(true),
	}
	counter := countSpawns(sv)

	require.NoError(t, sv.Run(NewToken()))
	require.Equal(t, 3, counter.get())
}

func TestSupervisorUpToCountZeroIsOneAttempt(t *testing.T) {
	sv := &Supervisor{
		Name:     "flaky",
		Service:  Service{Process: Process{Argv: []string{"/bin/sh", "-c", "exit 1"}}},
		Settings: &Settings{Restart: Restart{Mode: RestartUpToCount, Count: 0, TimeMillis: 0}},
		Launcher: newTestSupervisorDeps(t),
		TmpRoot:  t.TempDir(),
		Log:      ConsoleLogger(true),
	}
	counter := countSpawns(sv)

	require.NoError(t, sv.Run(NewToken()))
	require.Equal(t, 1, counter.get())
}

func TestSupervisorAlwaysRestartsUntilCancelled(t *testing.T) {
	cancel := NewToken()
	sv := &Supervisor{
		Name:     "persistent",
		Service:  Service{Process: Process{Argv: []string{"/bin/sh", "-c", "exit 1"}}},
		Settings: &Settings{Restart: Restart{Mode: RestartAlways, TimeMillis: 0}},
		Launcher: newTestSupervisorDeps(t),
		TmpRoot:  t.TempDir(),
		Log:      ConsoleLogger(true),
	}
	counter := countSpawns(sv)

	done := make(chan error, 1)
	go func() { done <- sv.Run(cancel) }()

	time.Sleep(100 * time.Millisecond)
	cancel.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit within grace after cancellation")
	}
	require.Greater(t, counter.get(), 1)
}

func TestSupervisorFatalOnSpawnFailure(t *testing.T) {
	sv := &Supervisor{
		Name:     "missing",
		Service:  Service{Process: Process{Argv: []string{"/no/such/binary-xyz"}}},
		Settings: &Settings{Restart: Restart{Mode: RestartNever}},
		Launcher: newTestSupervisorDeps(t),
		TmpRoot:  t.TempDir(),
		Log:      ConsoleLogger(true),
	}

	err := sv.Run(NewToken())
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestSupervisorNoSpawnAfterCancellation(t *testing.T) {
	cancel := NewToken()
	cancel.Cancel()

	sv := &Supervisor{
		Name:     "sleeper",
		Service:  Service{Process: Process{Argv: []string{"/bin/sleep", "30"}}},
		Settings: &Settings{Restart: Restart{Mode: RestartAlways, TimeMillis: 0}},
		Launcher: newTestSupervisorDeps(t),
		TmpRoot:  t.TempDir(),
		Log:      ConsoleLogger(true),
	}
	counter := countSpawns(sv)

	done := make(chan error, 1)
	go func() { done <- sv.Run(cancel) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit promptly when already cancelled")
	}
	require.Equal(t, 0, counter.get())
}

package nimi

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, doc string) string {
	path := filepath.Join(t.TempDir(), "nimi.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func newTestRuntime(t *testing.T, doc string) *Runtime {
	path := writeConfigFile(t, doc)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	rt, err := NewRuntime(cfg, path, t.TempDir(), ConsoleLogger(true))
	require.NoError(t, err)
	return rt
}

// Scenario 1 (spec.md §8): one service, mode=never, run exits 0.
func TestRuntimeScenarioSingleServiceRunsToCompletion(t *testing.T) {
	rt := newTestRuntime(t, `{
		"settings": {"restart": {"mode": "never", "time": 0, "count": 0}},
		"services": {"web": {"process": {"argv": ["/bin/echo", "hi"]}}}
	}`)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not exit after its only service completed")
	}
}

// Scenario 2: a service that exits 1 immediately, up-to-count/count=2/time=0
// makes three spawn attempts, then the controller exits cleanly.
func TestRuntimeScenarioRestartUpToCountThenExit(t *testing.T) {
	rt := newTestRuntime(t, `{
		"settings": {"restart": {"mode": "up-to-count", "time": 0, "count": 2}},
		"services": {"flaky": {"process": {"argv": ["/bin/sh", "-c", "exit 1"]}}}
	}`)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not exit after restart policy exhausted")
	}
}

// Scenario 4: a service with a non-existent executable surfaces a spawn
// failure through Run as a non-nil error.
func TestRuntimeScenarioSpawnFailurePropagates(t *testing.T) {
	rt := newTestRuntime(t, `{
		"settings": {"restart": {"mode": "never", "time": 0, "count": 0}},
		"services": {"missing": {"process": {"argv": ["/no/such/binary-xyz"]}}}
	}`)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not report the spawn failure")
	}
}

// Scenario 3: interrupt while a long-sleeping always-mode service is running
// terminates it within grace and Run returns without error.
func TestRuntimeScenarioInterruptDrainsAllServices(t *testing.T) {
	rt := newTestRuntime(t, `{
		"settings": {"restart": {"mode": "always", "time": 10, "count": 0}},
		"services": {
			"sleeper": {"process": {"argv": ["/bin/sleep", "30"]}}
		}
	}`)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not shut down after interrupt")
	}
}

// Scenario 5: hangup with a changed service restarts it, a new service is
// added, and an unrelated service is left undisturbed.
func TestRuntimeScenarioHangupReload(t *testing.T) {
	path := writeConfigFile(t, `{
		"settings": {"restart": {"mode": "always", "time": 10, "count": 0}},
		"services": {
			"a": {"process": {"argv": ["/bin/sleep", "30"]}},
			"b": {"process": {"argv": ["/bin/sleep", "30"]}}
		}
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	rt, err := NewRuntime(cfg, path, t.TempDir(), ConsoleLogger(true))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run() }()
	time.Sleep(150 * time.Millisecond)

	rt.mu.Lock()
	instA := rt.instances["a"]
	instB := rt.instances["b"]
	rt.mu.Unlock()
	require.NotNil(t, instA)
	require.NotNil(t, instB)

	// Rewrite the document: b's argv changes, c is added, a is untouched.
	require.NoError(t, os.WriteFile(path, []byte(`{
		"settings": {"restart": {"mode": "always", "time": 10, "count": 0}},
		"services": {
			"a": {"process": {"argv": ["/bin/sleep", "30"]}},
			"b": {"process": {"argv": ["/bin/sleep", "31"]}},
			"c": {"process": {"argv": ["/bin/sleep", "30"]}}
		}
	}`), 0o644))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		_, hasC := rt.instances["c"]
		return hasC && rt.instances["a"] == instA && rt.instances["b"] != instB
	}, 3*time.Second, 20*time.Millisecond)

	rt.cancel.Cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not shut down after test cancellation")
	}
}

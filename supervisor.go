package nimi

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Status is the coarse lifecycle status of a single service, reported via
// the §4.7 state-file mechanism. It mirrors the subset of
// opencontainers/runtime-spec's specs.ContainerState values meaningful for
// a plain subprocess: nimi has no "creating" phase distinct from spawning.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Supervisor drives a single service through the lifecycle state machine
// described in spec.md §4.4:
//
//	START -> SPAWNING -> RUNNING -> EXITED -> DECIDE -> {DELAY -> SPAWNING | DONE}
//
// with cancellation observed at every suspension point, transitioning
// directly to TERMINATING -> DONE.
type Supervisor struct {
	Name     string
	Service  Service
	Settings *Settings
	Launcher *Launcher
	TmpRoot  string
	Log      zerolog.Logger

	// OnStatus, if set, is invoked on every lifecycle status transition
	// (spec.md §4.7's state reporting). It must not block.
	OnStatus func(Status, int)

	restartCount int
}

// Run executes the state machine until the service's restart policy is
// exhausted (spec.md §8 invariants 1–3) or cancel fires. Run returns a
// non-nil error only for the FATAL paths, where the service's config
// directory cannot be materialised or its process fails to spawn; every other
// termination — policy-exhausted, cancelled, or any other nonzero exit
// tolerated by the restart policy — returns nil, so the Fleet Controller
// treats a single service's natural end as success.
func (sv *Supervisor) Run(cancel *Token) error {
	for {
		if cancel.Cancelled() {
			// spec.md §8 invariant 4: once cancellation is set, no new
			// child is spawned, including the very first one if Run is
			// entered already cancelled.
			sv.report(StatusStopped, 0)
			return nil
		}

		sv.report(StatusCreated, 0)

		configDir, err := materialise(sv.TmpRoot, sv.Service.ConfigData)
		if err != nil {
			sv.report(StatusStopped, 0)
			return errorf("service %q: failed to materialise config directory: %w", sv.Name, err)
		}

		child, err := sv.Launcher.Spawn(sv.Service, configDir, sv.Name)
		if err != nil {
			sv.report(StatusStopped, 0)
			// FATAL: like a materialise failure, surfaces an error upward.
			return err
		}
		sv.report(StatusRunning, child.Pid())

		var ws unix.WaitStatus
		select {
		case <-cancel.Done():
			sv.Log.Debug().Str("service", sv.Name).Msg("received shutdown signal")
			_, _ = sv.Launcher.Shutdown(child, sv.Settings.Restart.Time())
			sv.report(StatusStopped, 0)
			return nil
		case ws = <-child.Done():
		}

		sv.report(StatusStopped, 0)
		sv.logExit(ws)

		if done := sv.decide(); done {
			return nil
		}

		if waitDelay(cancel, sv.Settings.Restart.Time()) {
			sv.Log.Info().Str("service", sv.Name).Msg("received shutdown during restart delay")
			return nil
		}
	}
}

func (sv *Supervisor) logExit(ws unix.WaitStatus) {
	ev := sv.Log.Info()
	if ws.Exited() && ws.ExitStatus() != 0 {
		ev = sv.Log.Warn()
	}
	ev.Str("service", sv.Name).
		Bool("exited", ws.Exited()).
		Int("exit_status", ws.ExitStatus()).
		Bool("signaled", ws.Signaled()).
		Msg("service process exited")
}

// decide applies the restart policy (spec.md §4.4 DECIDE). It returns
// done=true when the Supervisor should exit without spawning again. The
// restart counter semantics match spec.md §3 exactly: current starts at 0,
// up-to-count restarts iff current < count and then increments, yielding
// at most count+1 total attempts.
func (sv *Supervisor) decide() (done bool) {
	switch sv.Settings.Restart.Mode {
	case RestartAlways:
		sv.Log.Info().Str("service", sv.Name).Msg("restarting (mode: always)")
		return false
	case RestartUpToCount:
		if sv.restartCount >= sv.Settings.Restart.Count {
			sv.Log.Info().Str("service", sv.Name).
				Int("restarts", sv.restartCount).
				Int("limit", sv.Settings.Restart.Count).
				Msg("not restarting (mode: up-to-count, limit reached)")
			return true
		}
		sv.restartCount++
		sv.Log.Info().Str("service", sv.Name).
			Int("restarts", sv.restartCount).
			Int("limit", sv.Settings.Restart.Count).
			Msg("restarting (mode: up-to-count)")
		return false
	default: // RestartNever
		sv.Log.Info().Str("service", sv.Name).Msg("not restarting (mode: never)")
		return true
	}
}

func (sv *Supervisor) report(status Status, pid int) {
	if sv.OnStatus != nil {
		sv.OnStatus(status, pid)
	}
}

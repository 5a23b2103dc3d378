package nimi

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/jesseduffield/kill"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Launcher spawns a service's process with a sanitised environment, wires
// its output streams to a Demultiplexer, and exposes a ChildHandle
// supporting graceful-then-forced termination.
type Launcher struct {
	Subreaper *Subreaper
	Demux     *Demultiplexer
	Log       zerolog.Logger
}

// ChildHandle is the live handle to a spawned service process. The
// Launcher owns it for the child's lifetime and only surrenders it to the
// Subreaper's coordinated reap path.
type ChildHandle struct {
	cmd     *exec.Cmd
	service string
	waitCh  <-chan unix.WaitStatus
}

// Spawn starts service.Process.Argv[0] with the rest of Argv as arguments,
// a cleared environment augmented only with XDG_CONFIG_HOME=configDir (the
// sole environment variable inherited by the child, spec.md §4.2/§4.3), and
// both output streams piped into the Launcher's Demultiplexer.
//
// Spawn registers the child with the Subreaper under cover of a reap-pause
// guard, so that a child exiting between Start and registration can never
// be reaped as an unrecognised orphan and have its status silently
// discarded — the same hazard spec.md §4.5.3 names for the one-shot
// startup program, generalised here to every spawn.
func (l *Launcher) Spawn(service Service, configDir, name string) (*ChildHandle, error) {
	argv := service.Process.Argv
	// #nosec G204 -- argv is operator-supplied configuration, not external input
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = []string{"XDG_CONFIG_HOME=" + configDir}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		l.Log.Error().Str("service", name).Err(err).Msg("failed to acquire stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		l.Log.Error().Str("service", name).Err(err).Msg("failed to acquire stderr pipe")
	}

	// Run the child in its own process group so that shutdown-process can
	// later kill the whole group, catching any helper the child itself
	// forked and did not reap.
	kill.PrepareForChildren(cmd)

	release := l.Subreaper.PauseReaping()
	defer release()

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Service: name, Argv: argv, Err: err}
	}

	waitCh := l.Subreaper.Track(cmd.Process.Pid)

	if stdout != nil {
		go l.Demux.StartStream(Stdout, stdout, name)
	}
	if stderr != nil {
		go l.Demux.StartStream(Stderr, stderr, name)
	}

	return &ChildHandle{cmd: cmd, service: name, waitCh: waitCh}, nil
}

// Pid returns the child process's PID.
func (c *ChildHandle) Pid() int {
	return c.cmd.Process.Pid
}

// Done returns the channel on which the child's wait status is delivered
// once the Subreaper reaps it.
func (c *ChildHandle) Done() <-chan unix.WaitStatus {
	return c.waitCh
}

// Wait blocks until the child exits, or ctx is done first.
func (c *ChildHandle) Wait(ctx context.Context) (unix.WaitStatus, error) {
	select {
	case ws := <-c.waitCh:
		return ws, nil
	case <-ctx.Done():
		return unix.WaitStatus(0), ctx.Err()
	}
}

// Shutdown sends SIGTERM, waits up to grace for the child to exit, and
// escalates to an unconditional, process-group-wide kill if it is still
// alive afterwards. Shutdown returns only once the child has been reaped
// (spec.md §4.3 invariant), regardless of which path reaps it.
func (l *Launcher) Shutdown(c *ChildHandle, grace time.Duration) (unix.WaitStatus, error) {
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		l.Log.Warn().Str("service", c.service).Err(err).Msg("failed to send SIGTERM, escalating to kill")
		return l.forceKill(c)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case ws := <-c.waitCh:
		return ws, nil
	case <-timer.C:
		l.Log.Warn().Str("service", c.service).Msg("grace period expired, escalating to kill")
		return l.forceKill(c)
	}
}

func (l *Launcher) forceKill(c *ChildHandle) (unix.WaitStatus, error) {
	if err := kill.Kill(c.cmd); err != nil {
		l.Log.Error().Str("service", c.service).Err(err).Msg("failed to force-kill service process group")
	}
	// Shutdown must return only once the child is reaped: block
	// unconditionally on the wait channel now that SIGKILL has been sent.
	ws := <-c.waitCh
	return ws, nil
}

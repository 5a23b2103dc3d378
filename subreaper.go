package nimi

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// prSetChildSubreaper is PR_SET_CHILD_SUBREAPER, kept as a local constant
// since golang.org/x/sys/unix does not export it under every build tag
// combination this module targets.
const prSetChildSubreaper = 36

// Subreaper fulfils the process-identity-1 duty of adopting and reaping
// orphaned descendants (spec.md §4.5), while coordinating with Launchers so
// that a direct child's wait status is never stolen out from under its own
// waiter.
//
// Every PID a Launcher spawns is registered in the tracked-child registry
// before the reaping loop can observe it; when the loop's wait4(-1, ...)
// call reaps a tracked PID, the status is handed to the registered channel
// instead of being discarded. PIDs that are not tracked are genuine
// orphans: they are reaped (to prevent zombie accumulation) and their
// status discarded, since nothing in this process is waiting on them.
//
// Grounded on lxcri/container.go's isMonitorRunning, the teacher's own use
// of unix.Wait4(pid, &ws, unix.WNOHANG, nil) to poll a single monitor
// process without blocking.
type Subreaper struct {
	Log zerolog.Logger

	active bool

	mu      sync.Mutex
	tracked map[int]chan unix.WaitStatus

	pauseMu sync.Mutex
}

// NewSubreaper constructs a Subreaper. It is active (its reaping loop does
// real work) only when the calling process is PID 1 or successfully
// acquires the child-subreaper capability via prctl(2); otherwise orphan
// reaping is left to the host init and Run is a no-op, per spec.md §4.5.
func NewSubreaper(log zerolog.Logger) *Subreaper {
	return &Subreaper{
		Log:     log,
		active:  acquireSubreaper(),
		tracked: make(map[int]chan unix.WaitStatus),
	}
}

func acquireSubreaper() bool {
	if os.Getpid() == 1 {
		return true
	}
	return unix.Prctl(prSetChildSubreaper, 1, 0, 0, 0) == nil
}

// Active reports whether this Subreaper's reaping loop performs real work.
func (s *Subreaper) Active() bool {
	return s.active
}

// Track registers pid as a direct child whose wait status must be routed
// back here rather than discarded as an orphan. The registration is removed
// when the reaping loop reaps pid and sends its status on the returned
// channel, or earlier by Untrack.
func (s *Subreaper) Track(pid int) <-chan unix.WaitStatus {
	ch := make(chan unix.WaitStatus, 1)
	s.mu.Lock()
	s.tracked[pid] = ch
	s.mu.Unlock()
	return ch
}

// Untrack removes pid from the registry without waiting for its exit, for a
// pid whose wait status will never be collected. Once untracked, pid is
// reaped like any orphan and its status discarded.
func (s *Subreaper) Untrack(pid int) {
	s.mu.Lock()
	delete(s.tracked, pid)
	s.mu.Unlock()
}

// PauseReaping acquires a short-lived guard over the reaping loop and
// returns a release function. While held, the background drain does not
// run, so a Launcher can spawn a process and register it in the
// tracked-child registry without racing the reaper into observing (and
// discarding, as an orphan) the same PID before it is tracked. Release is
// scope-bound: callers should `defer release()` immediately.
func (s *Subreaper) PauseReaping() (release func()) {
	s.pauseMu.Lock()
	var once sync.Once
	return func() { once.Do(s.pauseMu.Unlock) }
}

// Run drives the reaping loop until ctx is done. It is safe to call even
// when Active() is false; it simply does nothing in that case, leaving
// SIGCHLD handling to whatever default behaviour the host provides.
func (s *Subreaper) Run(ctx context.Context) {
	if !s.active {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCHLD)
	defer signal.Stop(ch)

	// Drain once up front: a child may have exited before Run was called.
	s.drain()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			s.drain()
		}
	}
}

// drain reaps every exited child currently waitable without blocking,
// routing tracked PIDs to their registered channel and discarding the
// status of everything else (true orphans).
func (s *Subreaper) drain() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil {
			if err != unix.ECHILD {
				s.Log.Debug().Err(err).Msg("wait4 failed during reap")
			}
			return
		}
		if pid <= 0 {
			return
		}

		s.mu.Lock()
		waiter, ok := s.tracked[pid]
		if ok {
			delete(s.tracked, pid)
		}
		s.mu.Unlock()

		if ok {
			waiter <- ws
			continue
		}
		s.Log.Debug().Int("pid", pid).Msg("reaped orphaned descendant")
	}
}

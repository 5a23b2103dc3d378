package nimi

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Runtime is the Fleet Controller (spec.md §4.6): it owns the fleet-wide
// cancellation Token, the shared Subreaper/Demultiplexer/Launcher, and the
// set of currently-running per-service Supervisors. It registers signal
// handlers before spawning anything, optionally runs a one-shot startup
// program, spawns one Supervisor per configured service, and then drives
// the main cooperative select loop over service completion and signals.
//
// Grounded on the root lxcri.Runtime type this package replaces: a single
// factory/controller struct holding shared state (Log, Root) that every
// per-unit operation (there, Container; here, Supervisor) is handed.
type Runtime struct {
	Log        zerolog.Logger
	Settings   *Settings
	ConfigPath string
	TmpRoot    string
	// Root is the directory service state files are written under
	// (spec.md §4.7). Empty disables state reporting.
	Root string

	Subreaper *Subreaper
	Demux     *Demultiplexer
	Launcher  *Launcher

	cancel  *Token
	initial map[string]Service

	mu        sync.Mutex
	instances map[string]*serviceInstance
	// fatalErr is the first fatal Supervisor error observed by handleExit
	// (spec.md §6: a spawn failure exits the overall process non-zero,
	// even though its peers keep running). Guarded by mu alongside
	// instances.
	fatalErr error

	// exits is generously buffered so that a reload's synchronous join of
	// a retired instance (see reload.go's retireInstance) never races the
	// main loop for the right to receive that instance's own completion
	// event off this channel.
	exits chan serviceExit
}

// serviceInstance is the Fleet Controller's bookkeeping for one currently
// (or until-just-now) running Supervisor: its own derived cancellation
// Token (spec.md §9's per-service-token redesign), the fingerprint it was
// spawned with, and a channel closed when its Supervisor.Run returns.
type serviceInstance struct {
	token       *Token
	fingerprint Fingerprint
	done        chan struct{}
}

// serviceExit is posted to Runtime.exits when a Supervisor's Run returns.
// inst lets the receiver recognise whether this event still refers to the
// currently-tracked instance for that name, or to one already retired by a
// reload (in which case it is a stale, ignorable echo).
type serviceExit struct {
	name string
	inst *serviceInstance
	err  error
}

// NewRuntime constructs a Runtime ready to run cfg's services. configPath
// is retained for hangup-triggered re-reads (spec.md §4.6.1); rootDir, if
// non-empty, enables per-service state-file reporting (spec.md §4.7).
func NewRuntime(cfg *Config, configPath, rootDir string, log zerolog.Logger) (*Runtime, error) {
	var logsDir string
	if cfg.Settings.Logging.LogsDir != "" {
		dir, err := createLogsDir(cfg.Settings.Logging.LogsDir)
		if err != nil {
			return nil, err
		}
		logsDir = dir
	}

	subreaper := NewSubreaper(log)
	demux := NewDemultiplexer(log, logsDir)
	launcher := &Launcher{Subreaper: subreaper, Demux: demux, Log: log}

	settings := cfg.Settings
	return &Runtime{
		Log:        log,
		Settings:   &settings,
		ConfigPath: configPath,
		TmpRoot:    os.TempDir(),
		Root:       rootDir,
		Subreaper:  subreaper,
		Demux:      demux,
		Launcher:   launcher,
		cancel:     NewToken(),
		initial:    cfg.Services,
		instances:  make(map[string]*serviceInstance),
		exits:      make(chan serviceExit, 256),
	}, nil
}

// createLogsDir picks the first unused `{logsDir}/logs-{N}` directory under
// the current working directory and creates it, matching
// original_source/src/process_manager.rs's create_logs_dir — adapted to
// Go's os.Mkdir exist-check (os.IsExist) in place of the Rust
// create_dir_all + AlreadyExists match, since Go's MkdirAll, like Rust's
// create_dir_all, is silently idempotent and would never advance the
// counter.
func createLogsDir(logsDir string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", errorf("failed to get working directory: %w", err)
	}
	base := filepath.Join(cwd, logsDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", errorf("failed to create logs directory %q: %w", base, err)
	}
	for n := 0; ; n++ {
		dir := filepath.Join(base, fmt.Sprintf("logs-%d", n))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", errorf("failed to create logs directory %q: %w", dir, err)
		}
	}
}

// Run registers signal handlers, optionally runs the startup program, spawns
// every configured service, and drives the main loop until orderly exit
// (all services done) or a terminating signal is handled. It implements
// spec.md §4.6 in full.
func (rt *Runtime) Run() error {
	rt.Log.Info().Msg("starting fleet controller")

	// Register signal handlers BEFORE spawning anything else, so a signal
	// arriving during startup is still caught by us.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go rt.Subreaper.Run(rt.cancel.Context())

	if bin := rt.Settings.Startup.RunOnStartup; bin != "" {
		rt.Log.Info().Str("bin", bin).Msg("running startup program")
		if err := rt.runStartup(bin); err != nil {
			return errorf("startup program failed: %w", err)
		}
	}

	for name, svc := range rt.initial {
		rt.spawnSupervisor(name, svc)
	}

	for {
		rt.mu.Lock()
		remaining := len(rt.instances)
		fatalErr := rt.fatalErr
		rt.mu.Unlock()
		if remaining == 0 {
			rt.Log.Info().Msg("all services have exited")
			return fatalErr
		}

		select {
		case ev := <-rt.exits:
			rt.handleExit(ev)

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				rt.Log.Info().Msg("received hangup, reloading configuration")
				if err := rt.reload(); err != nil {
					rt.Log.Warn().Err(err).Msg("reload failed")
				}
				continue
			}

			rt.Log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			rt.cancel.Cancel()
			rt.drain()

			rt.mu.Lock()
			fatalErr := rt.fatalErr
			rt.mu.Unlock()
			return fatalErr
		}
	}
}

// runStartup spawns bin as a blocking one-shot with no config data,
// observing the fleet-wide Token the same way a Supervisor does: if the
// Token is cancelled while bin runs, bin is shut down and no service is
// spawned. Signals are read only by Run's main loop, so an interrupt that
// arrives while bin runs stays queued and is handled after bin has exited
// and the services have been spawned.
func (rt *Runtime) runStartup(bin string) error {
	configDir, err := materialise(rt.TmpRoot, nil)
	if err != nil {
		return err
	}
	child, err := rt.Launcher.Spawn(Service{Process: Process{Argv: []string{bin}}}, configDir, "startup")
	if err != nil {
		return err
	}

	select {
	case <-rt.cancel.Done():
		_, _ = rt.Launcher.Shutdown(child, rt.Settings.Restart.Time())
		return errorf("shutdown signal received during startup program")
	case ws := <-child.Done():
		if !ws.Exited() || ws.ExitStatus() != 0 {
			return errorf("startup program exited unsuccessfully (exited=%v status=%d signaled=%v)",
				ws.Exited(), ws.ExitStatus(), ws.Signaled())
		}
		return nil
	}
}

// spawnSupervisor starts name's Supervisor under its own child Token
// derived from the fleet-wide cancellation Token, and registers it as the
// current instance for name.
func (rt *Runtime) spawnSupervisor(name string, svc Service) {
	token := rt.cancel.Child()
	inst := &serviceInstance{
		token:       token,
		fingerprint: computeFingerprint(svc),
		done:        make(chan struct{}),
	}

	rt.mu.Lock()
	rt.instances[name] = inst
	rt.mu.Unlock()

	sv := &Supervisor{
		Name:     name,
		Service:  svc,
		Settings: rt.Settings,
		Launcher: rt.Launcher,
		TmpRoot:  rt.TmpRoot,
		Log:      rt.Log,
		OnStatus: rt.statusReporter(name),
	}

	go func() {
		err := sv.Run(token)
		close(inst.done)
		rt.exits <- serviceExit{name: name, inst: inst, err: err}
	}()
}

// statusReporter returns the OnStatus callback wired into name's
// Supervisor, writing its state-file record on every transition (spec.md
// §4.7). It never blocks the Supervisor: a write failure is logged, not
// propagated.
func (rt *Runtime) statusReporter(name string) func(Status, int) {
	return func(status Status, pid int) {
		if err := writeState(rt.Root, name, status, pid); err != nil {
			rt.Log.Warn().Str("service", name).Err(err).Msg("failed to write state file")
		}
	}
}

// handleExit processes one Supervisor completion event. A stale event
// (inst no longer the tracked instance for its name, because a reload
// already retired and replaced it) is dropped silently. A fatal error
// (e.g. a spawn failure the Supervisor gave up on) is recorded as the
// first one seen — it does not cancel any peer, but becomes Run's eventual
// return value once every service has exited (spec.md §6, §8 scenario 4:
// the overall process must still exit non-zero, even though peers keep
// running).
func (rt *Runtime) handleExit(ev serviceExit) {
	rt.mu.Lock()
	cur, ok := rt.instances[ev.name]
	isCurrent := ok && cur == ev.inst
	if isCurrent {
		delete(rt.instances, ev.name)
		if ev.err != nil && rt.fatalErr == nil {
			rt.fatalErr = ev.err
		}
	}
	rt.mu.Unlock()

	if !isCurrent {
		return
	}
	if ev.err != nil {
		rt.Log.Warn().Str("service", ev.name).Err(ev.err).Msg("service exited with error")
		return
	}
	rt.Log.Debug().Str("service", ev.name).Msg("service task completed")
}

// drain blocks until every currently-tracked instance has completed,
// draining Runtime.exits as they do. Called after cancellation is set, so
// every remaining Supervisor is expected to observe it and return.
func (rt *Runtime) drain() {
	for {
		rt.mu.Lock()
		remaining := len(rt.instances)
		rt.mu.Unlock()
		if remaining == 0 {
			return
		}
		rt.handleExit(<-rt.exits)
	}
}

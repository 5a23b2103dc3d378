package nimi

import (
	"os"

	"github.com/samber/lo"
)

// reload re-reads the configuration document from its original path and
// classifies every service name into new, unchanged, changed or removed
// against the currently-running instances (spec.md §4.6.1). It never
// mutates Runtime state before the document is successfully read and
// parsed, so a reload error leaves every running service untouched (spec.md
// §8 invariant 8's "atomically" requirement, and §9's open question on
// replacement ordering resolved below).
//
// For *changed* and *removed* services the old Supervisor is cancelled and
// joined before anything else happens — spec.md §9 names this the "safe
// policy" over the source implementation's eager spawn-before-join — via
// each Supervisor's own child Token (spec.md §9's per-service-token
// redesign), so retiring one service never disturbs its siblings.
func (rt *Runtime) reload() error {
	data, err := os.ReadFile(rt.ConfigPath)
	if err != nil {
		return configErrorf("failed to read config file %q: %w", rt.ConfigPath, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	oldNames := lo.Keys(rt.instances)
	rt.mu.Unlock()
	newNames := lo.Keys(cfg.Services)

	removed, added := lo.Difference(oldNames, newNames)
	common := lo.Filter(newNames, func(name string, _ int) bool {
		return lo.Contains(oldNames, name)
	})

	for _, name := range removed {
		rt.Log.Info().Str("service", name).Msg("service removed, stopping")
		rt.retireInstance(name)
	}

	for _, name := range common {
		rt.mu.Lock()
		inst, ok := rt.instances[name]
		rt.mu.Unlock()
		if !ok {
			continue
		}

		newFingerprint := computeFingerprint(cfg.Services[name])
		if newFingerprint == inst.fingerprint {
			rt.Log.Debug().Str("service", name).Msg("service unchanged")
			continue
		}

		rt.Log.Info().Str("service", name).Msg("service changed, restarting")
		rt.retireInstance(name)
		rt.spawnSupervisor(name, cfg.Services[name])
	}

	for _, name := range added {
		rt.Log.Info().Str("service", name).Msg("service added")
		rt.spawnSupervisor(name, cfg.Services[name])
	}

	return nil
}

// retireInstance cancels name's per-service Token and blocks until its
// Supervisor has fully returned, removing it from the tracked-instance map
// first so the eventual completion event on Runtime.exits is recognised as
// stale and does not re-trigger any of this bookkeeping.
func (rt *Runtime) retireInstance(name string) {
	rt.mu.Lock()
	inst, ok := rt.instances[name]
	if ok {
		delete(rt.instances, name)
	}
	rt.mu.Unlock()
	if !ok {
		return
	}

	inst.token.Cancel()
	<-inst.done
}

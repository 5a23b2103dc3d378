package nimi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// stateFileSuffix names the per-service state file written under the
// Runtime's root directory, read back by the `status` subcommand.
const stateFileSuffix = ".state.json"

// toContainerState maps a Supervisor's own Status values onto OCI's
// specs.ContainerState vocabulary. nimi has no equivalent of "creating"
// (materialising a config directory is not itself an observable state);
// StatusCreated here means "about to spawn", closest to specs.StateCreated.
func toContainerState(s Status) specs.ContainerState {
	switch s {
	case StatusRunning:
		return specs.StateRunning
	case StatusStopped:
		return specs.StateStopped
	default:
		return specs.StateCreated
	}
}

// writeState records a service's current lifecycle status to
// {root}/<name>.state.json, following lxcri's own Container.State() /
// ContainerState() — the teacher's sole precedent for an OCI
// specs.State-shaped status record — generalised here to a plain
// subprocess rather than an LXC container. The file is written via a
// temp-then-rename so a concurrent `status` read never observes a
// half-written file.
func writeState(root, name string, status Status, pid int) error {
	if root == "" {
		return nil
	}
	st := specs.State{
		Version: specs.Version,
		ID:      name,
		Status:  toContainerState(status),
		Pid:     pid,
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errorf("failed to marshal state for service %q: %w", name, err)
	}

	path := filepath.Join(root, name+stateFileSuffix)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errorf("failed to write state file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errorf("failed to install state file %q: %w", path, err)
	}
	return nil
}

// readState reads a single service's state file back.
func readState(root, name string) (*specs.State, error) {
	path := filepath.Join(root, name+stateFileSuffix)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errorf("failed to read state file %q: %w", path, err)
	}
	var st specs.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, errorf("failed to parse state file %q: %w", path, err)
	}
	return &st, nil
}

// listStates reads every service state file under root, sorted by service
// name, for the `status` subcommand.
func listStates(root string) ([]specs.State, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errorf("failed to read state directory %q: %w", root, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stateFileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), stateFileSuffix))
	}
	sort.Strings(names)

	states := make([]specs.State, 0, len(names))
	for _, name := range names {
		st, err := readState(root, name)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, nil
}

// formatState renders a single state record as a one-line human-readable
// summary for `nimi status`.
func formatState(st specs.State) string {
	return fmt.Sprintf("%-20s %-10s pid=%d", st.ID, st.Status, st.Pid)
}

// PrintStatus writes one line per recorded service state under root to w,
// backing the `nimi status` subcommand.
func PrintStatus(w io.Writer, root string) error {
	states, err := listStates(root)
	if err != nil {
		return err
	}
	for _, st := range states {
		if _, err := fmt.Fprintln(w, formatState(st)); err != nil {
			return err
		}
	}
	return nil
}

package nimi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Settings are process-wide policy shared immutably across all Supervisors.
type Settings struct {
	Restart Restart `json:"restart"`
	Startup Startup `json:"startup"`
	Logging Logging `json:"logging"`
}

// Restart configures how and whether a service's Supervisor respawns it
// after exit.
type Restart struct {
	Mode RestartMode `json:"mode"`
	// TimeMillis is the inter-attempt delay, in milliseconds, as read from
	// the configuration document (the wire format specifies durations as
	// integer milliseconds; Time() converts to a time.Duration).
	TimeMillis int `json:"time"`
	// Count is the maximum number of restarts under RestartUpToCount. A
	// count of 0 means a single attempt with no restarts.
	Count int `json:"count"`
}

// Time returns the restart delay as a time.Duration.
func (r Restart) Time() time.Duration {
	return time.Duration(r.TimeMillis) * time.Millisecond
}

// Startup configures the optional one-shot program run before any service
// is spawned.
type Startup struct {
	// RunOnStartup is the absolute path to a one-shot program. Empty means
	// no startup program is run.
	RunOnStartup string `json:"runOnStartup"`
}

// Logging configures the optional per-service log file directory.
type Logging struct {
	// LogsDir is a relative directory under the current working directory.
	// Empty means no per-service log files are written.
	LogsDir string `json:"logsDir"`
}

// RestartMode selects how a Supervisor reacts to its service exiting.
type RestartMode int

const (
	// RestartNever performs exactly one spawn attempt; any exit is final.
	RestartNever RestartMode = iota
	// RestartUpToCount restarts up to Restart.Count times (Count+1 total
	// attempts at most).
	RestartUpToCount
	// RestartAlways restarts unconditionally until cancellation fires.
	RestartAlways
)

func (m RestartMode) String() string {
	switch m {
	case RestartNever:
		return "never"
	case RestartUpToCount:
		return "up-to-count"
	case RestartAlways:
		return "always"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (m RestartMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements json.Unmarshaler. An unrecognised mode string is
// a configuration error (spec.md §6: "unknown restart.mode values are a
// parse error"), unlike unknown document fields elsewhere which are
// silently ignored for forward compatibility.
func (m *RestartMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "never":
		*m = RestartNever
	case "up-to-count":
		*m = RestartUpToCount
	case "always":
		*m = RestartAlways
	default:
		return configErrorf("unknown restart.mode %q", s)
	}
	return nil
}

// Validate checks the invariants spec.md places on Settings.
func (s Settings) Validate() error {
	if s.Restart.Count < 0 {
		return configErrorf("restart.count must be non-negative, got %d", s.Restart.Count)
	}
	if s.Restart.TimeMillis < 0 {
		return configErrorf("restart.time must be non-negative, got %d", s.Restart.TimeMillis)
	}
	return nil
}

var _ fmt.Stringer = RestartMode(0)

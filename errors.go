package nimi

import (
	"errors"
	"fmt"
)

// errorf is a thin wrapper around fmt.Errorf kept for call-site brevity,
// mirroring the teacher's own root-package helper of the same name.
func errorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

// ConfigError is returned for configuration document problems: parse
// failures, schema violations, and an empty Service.Process.Argv. It is
// fatal at `validate` and fatal before any service is spawned at `run`.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// configErrorf builds a ConfigError the way fmt.Errorf builds a wrapped
// error: a %w verb in format, if present, becomes the cause exposed through
// Unwrap, letting callers errors.Is/errors.As through a configuration
// error to whatever underlying error (parse failure, I/O error) caused it.
// Msg is always the fully formatted text, so Error() never prints the
// cause twice.
func configErrorf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	return &ConfigError{Msg: err.Error(), Err: errors.Unwrap(err)}
}

// SpawnError is returned when a service's process fails to start.
// It carries the argv for diagnostic context, per spec.
type SpawnError struct {
	Service string
	Argv    []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("service %q: failed to spawn %v: %s", e.Service, e.Argv, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

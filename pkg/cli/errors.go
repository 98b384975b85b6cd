package cli

import (
	"errors"
	"fmt"

	"mercator-hq/costgate/pkg/gateway"
)

// Process exit codes.
const (
	ExitOK = 0
	// ExitError is returned for configuration and runtime failures.
	ExitError = 1
	// ExitDenied is returned when the ledger refused a governed call.
	ExitDenied = 2
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(path string, err error) *ConfigError {
	return &ConfigError{
		Path: path,
		Err:  err,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var denied *gateway.AdmissionDeniedError
	if errors.As(err, &denied) {
		return ExitDenied
	}
	return ExitError
}

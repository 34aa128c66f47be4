package bot

import (
	"errors"
	"fmt"

	"github.com/memohai/warden/internal/commands"
	"github.com/memohai/warden/internal/policy"
)

// ValidationError reports missing or malformed command arguments.
type ValidationError struct {
	Usage  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid arguments: %s (usage: %s)", e.Reason, e.Usage)
	}
	return fmt.Sprintf("invalid arguments (usage: %s)", e.Usage)
}

// AuthorizationError reports an unmet access level.
type AuthorizationError struct {
	Required  commands.Access
	GroupOnly bool
}

func (e *AuthorizationError) Error() string {
	if e.GroupOnly {
		return "command is only available in groups"
	}
	return fmt.Sprintf("access level %s required", e.Required)
}

// NotRegisteredError reports the registration gate rejecting a sender.
type NotRegisteredError struct {
	Command string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("registration required for %q", e.Command)
}

// NotFoundError reports an unknown command.
type NotFoundError struct {
	Command string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("command %q not found", e.Command)
}

// TransportError wraps a failed transport call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed load or save of the policy state.
type PersistenceError = policy.PersistenceError

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// ErrNotConfigured is returned by a handler whose backing service is absent.
var ErrNotConfigured = errors.New("feature not configured")

package domain

import (
	"errors"
	"fmt"
)

// The error taxonomy separates synchronous rejections (configuration and
// state violations, which abort only the offending call) from asynchronous
// execution failures (surfaced through position updates) and advisory
// account-limit skips.

// ErrAccountLimit marks a failed pre-trade account check. Entries blocked
// by it are skipped and logged, never treated as a fault.
var ErrAccountLimit = errors.New("account limit reached")

// ConfigError reports contradictory or unresolvable configuration:
// conflicting order parameters, an unknown service requirement, malformed
// strategy wiring. It fails fast at construction time.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// StateViolationError reports an operation that is invalid for the current
// position state, e.g. opening a leg that already has an active order or
// closing before anything is opened. The call is rejected synchronously,
// no order is submitted and the position state is unchanged.
type StateViolationError struct {
	Op    string
	State string
}

func (e *StateViolationError) Error() string {
	return fmt.Sprintf("state violation: %s not allowed in state %s", e.Op, e.State)
}

// IsStateViolation reports whether err is a StateViolationError.
func IsStateViolation(err error) bool {
	var sv *StateViolationError
	return errors.As(err, &sv)
}

// ExecutionError reports an irrecoverable failure for an order that was
// already submitted. It is delivered asynchronously through a position
// update with the error flag set.
type ExecutionError struct {
	OrderID OrderID
	Reason  string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error for order %s: %s", e.OrderID, e.Reason)
}

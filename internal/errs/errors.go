// Package errs defines the error taxonomy shared across the daemon: every
// fallible operation returns one of these kinds (or wraps one), so callers
// can branch with errors.As instead of matching on strings.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError signals invalid, missing, or inconsistent configuration.
// Not retriable; surfaced at load or at instrument-spawn time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// ConnectionError signals a transport-level failure.
type ConnectionError struct {
	Address   string
	Retriable bool
	Cause     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error to %s: %v", e.Address, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// HardwareKind enumerates HardwareError sub-kinds.
type HardwareKind string

const (
	HardwareDeviceNotFound      HardwareKind = "device_not_found"
	HardwareCommunicationTimeout HardwareKind = "communication_timeout"
	HardwareInvalidParameter    HardwareKind = "invalid_parameter"
	HardwareOutOfRange          HardwareKind = "out_of_range"
	HardwareAcquisitionError    HardwareKind = "acquisition_error"
	HardwareDroppedFrames       HardwareKind = "dropped_frames"
)

// HardwareError signals an adapter or SDK failure.
type HardwareError struct {
	Kind        HardwareKind
	Device      string
	Param       string
	Reason      string
	Value       any
	ValidRange  string
	Expected    int
	Actual      int
	Dropped     int
	Recoverable bool
}

func (e *HardwareError) Error() string {
	switch e.Kind {
	case HardwareInvalidParameter:
		return fmt.Sprintf("hardware error: invalid parameter %q: %s", e.Param, e.Reason)
	case HardwareOutOfRange:
		return fmt.Sprintf("hardware error: parameter %q value %v out of range %s", e.Param, e.Value, e.ValidRange)
	case HardwareAcquisitionError:
		return fmt.Sprintf("hardware error: acquisition failed on %s: %s", e.Device, e.Reason)
	case HardwareDroppedFrames:
		return fmt.Sprintf("hardware error: dropped frames on %s (expected=%d, actual=%d, dropped=%d)", e.Device, e.Expected, e.Actual, e.Dropped)
	default:
		return fmt.Sprintf("hardware error (%s) on %s: %s", e.Kind, e.Device, e.Reason)
	}
}

// StateError signals an operation not permitted in the current state.
type StateError struct {
	Entity       string
	CurrentState string
	Operation    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: cannot %s while in state %s", e.Entity, e.Operation, e.CurrentState)
}

// ChannelError signals a command channel that is full after the retry
// window, or closed because its owning task is dead.
type ChannelError struct {
	Target  string
	Reason  string
	Retries int
}

func (e *ChannelError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("channel error: %s full after %d retries", e.Target, e.Retries)
	}
	return fmt.Sprintf("channel error: %s: %s", e.Target, e.Reason)
}

// ShutdownError is a composite failure returned when one or more
// components failed to stop cleanly; use multierr to build Causes.
type ShutdownError struct {
	Causes []error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown error: %d component(s) failed to stop cleanly", len(e.Causes))
}

func (e *ShutdownError) Unwrap() []error { return e.Causes }

// ValidationError signals a plan, graph, or parameter validation failure.
type ValidationError struct {
	Element string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Element, e.Reason)
}

// Friendly returns a human-facing message for common failure patterns,
// falling back to the error's own message. The raw cause is never
// discarded by callers — wrap it, don't replace it.
func Friendly(err error) string {
	if err == nil {
		return ""
	}
	if msg := strings.ToLower(err.Error()); strings.Contains(msg, "tls") || strings.Contains(msg, "certificate") {
		return "TLS/certificate error: " + err.Error()
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return "Daemon not running or unreachable at " + connErr.Address
	}
	return err.Error()
}

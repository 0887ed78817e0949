// Package simerrors defines the error kinds used across the memory
// hierarchy engine, matching spec.md §7's error-handling design.
package simerrors

import "errors"

// Sentinel errors for configuration and plugin wiring. These are fatal
// before warmup: the CLI reports them and exits non-zero.
var (
	// ErrConfigMissing indicates a required configuration option is absent.
	ErrConfigMissing = errors.New("simerrors: required configuration option missing")

	// ErrConfigTypeMismatch indicates a configuration value has the wrong shape.
	ErrConfigTypeMismatch = errors.New("simerrors: configuration value type mismatch")

	// ErrTraceOpen indicates the trace file could not be opened.
	ErrTraceOpen = errors.New("simerrors: unable to open trace")

	// ErrTraceEOF indicates the trace stream has been exhausted.
	// Per spec.md §7, reaching this is not fatal: the trace is looped.
	ErrTraceEOF = errors.New("simerrors: trace exhausted")

	// ErrTraceFormat indicates malformed trace data.
	ErrTraceFormat = errors.New("simerrors: malformed trace data")

	// ErrPluginMismatch indicates a prefetcher or replacement policy was
	// bound to a cache type it does not support (e.g. a sectored-only
	// replacement policy attached to a blocked cache).
	ErrPluginMismatch = errors.New("simerrors: plugin bound to incompatible cache type")

	// ErrUnimplemented marks a component that is an intentional stub
	// per spec.md §9 Open Question (iii) (the DRRIP replacement policy).
	// It is never returned from a code path reachable by default
	// configuration.
	ErrUnimplemented = errors.New("simerrors: unimplemented by design, see spec Open Question (iii)")
)

// InvariantViolation marks an assertion failure that aborts the process,
// per spec.md §7 ("invariant violations abort the process").
type InvariantViolation struct {
	// Component names the subsystem that detected the violation.
	Component string
	// Detail describes the specific invariant that failed.
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation in " + e.Component + ": " + e.Detail
}

// NewInvariantViolation constructs an InvariantViolation.
func NewInvariantViolation(component, detail string) error {
	return &InvariantViolation{Component: component, Detail: detail}
}

// Package drawbot drives a plotting machine built from networked stepper nodes.
//
// The root package only holds the error taxonomy shared by every layer so that
// callers can classify a failure with errors.As no matter where it was raised.
package drawbot

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid machine description: a chain that
// cannot be inverted, a broken profile, a corrupt persistence record. These are
// raised at start-up, before any motion.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError wraps err as a ConfigurationError for field.
func NewConfigurationError(field string, err error) error {
	return &ConfigurationError{Field: field, Err: err}
}

// TransportError reports a node that could not be reached or that answered
// with something unusable.
type TransportError struct {
	Node string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: node %q: %s: %v", e.Node, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SynchronizationError reports a command that reached only some of the nodes
// that were supposed to move together.
type SynchronizationError struct {
	Group  string
	Acked  []string
	Failed []string
	Err    error
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("synchronization: group %q: acked [%s], failed [%s]: %v",
		e.Group, strings.Join(e.Acked, ", "), strings.Join(e.Failed, ", "), e.Err)
}

func (e *SynchronizationError) Unwrap() error { return e.Err }

// InputFormatError reports a malformed record in a point file. Line is 1-based.
type InputFormatError struct {
	Line   int
	Record []string
	Err    error
}

func (e *InputFormatError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("input: %v", e.Err)
	}
	return fmt.Sprintf("input: line %d %q: %v", e.Line, strings.Join(e.Record, ","), e.Err)
}

func (e *InputFormatError) Unwrap() error { return e.Err }

// MoveError identifies the move a failure belongs to.
type MoveError struct {
	MoveID string
	Target []float64
	Err    error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s to %v: %v", e.MoveID, e.Target, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// Package observability wires optional error reporting (Sentry) and log
// forwarding (NewRelic) behind provider interfaces with noop fallbacks, so
// the CLI works identically with both disabled.
package observability

import (
	"context"
	"time"
)

// ErrorReporter is the interface for error reporting providers.
type ErrorReporter interface {
	// CaptureError captures an error with optional context information.
	CaptureError(ctx context.Context, err error, errCtx *ErrorContext) error

	// CaptureMessage captures a message with severity and optional context.
	CaptureMessage(ctx context.Context, msg string, severity Severity, errCtx *ErrorContext) error

	// SetTag sets a global tag included in all subsequent events.
	SetTag(key, value string)

	// Flush waits for pending events up to the given timeout. Returns false
	// if the timeout was reached.
	Flush(timeout time.Duration) bool

	// Close cleanly shuts down the reporter.
	Close() error
}

// LogExporter is the interface for log forwarding providers. Forwarding
// happens through a wrapped Zap core; the exporter only manages lifecycle.
type LogExporter interface {
	// Flush waits for pending log entries up to the given timeout. Returns
	// false if the timeout was reached.
	Flush(timeout time.Duration) bool

	// Close cleanly shuts down the exporter.
	Close() error
}

// Severity is the severity level of a captured message.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrorContext carries contextual information for error reporting.
type ErrorContext struct {
	// Component identifies where the error occurred ("athena", "catalog",
	// "tables").
	Component string

	// Operation is the lifecycle operation that failed ("create-table",
	// "rebuild-partitions").
	Operation string

	// Database is the database involved, if applicable.
	Database string

	// Table is the table involved, if applicable.
	Table string

	// Extra holds any additional key-value pairs.
	Extra map[string]interface{}
}

func NewErrorContext(component, operation string) *ErrorContext {
	return &ErrorContext{
		Component: component,
		Operation: operation,
		Extra:     make(map[string]interface{}),
	}
}

func (ec *ErrorContext) WithDatabase(database string) *ErrorContext {
	ec.Database = database
	return ec
}

func (ec *ErrorContext) WithTable(table string) *ErrorContext {
	ec.Table = table
	return ec
}

func (ec *ErrorContext) WithExtra(key string, value interface{}) *ErrorContext {
	if ec.Extra == nil {
		ec.Extra = make(map[string]interface{})
	}
	ec.Extra[key] = value
	return ec
}

// ToMap flattens the context for provider scopes.
func (ec *ErrorContext) ToMap() map[string]interface{} {
	result := make(map[string]interface{})

	if ec.Component != "" {
		result["component"] = ec.Component
	}
	if ec.Operation != "" {
		result["operation"] = ec.Operation
	}
	if ec.Database != "" {
		result["database"] = ec.Database
	}
	if ec.Table != "" {
		result["table"] = ec.Table
	}
	for k, v := range ec.Extra {
		result[k] = v
	}

	return result
}

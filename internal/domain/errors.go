package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// IsFatal reports whether err must abort the current symbol-day job.
// Fatal conditions are never repaired in place.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrTimestampRegression) ||
		errors.Is(err, ErrSequenceGap)
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SchemaError reports a missing column or a required field absent on an event.
type SchemaError struct {
	Source string // mapping key, file or symbol
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("schema violation [%s]: field %q", e.Source, e.Field)
	}
	return fmt.Sprintf("schema violation [%s]: field %q: %s", e.Source, e.Field, e.Detail)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaViolation
}

// RegressionError is raised by the multi-stream merge when the next event
// would be older than the last one emitted.
type RegressionError struct {
	Stream int
	Prev   int64
	Next   int64
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("timestamp regression on stream %d: %d after %d", e.Stream, e.Next, e.Prev)
}

func (e *RegressionError) Unwrap() error {
	return ErrTimestampRegression
}

// SequenceGapError is returned by the batch sequencer path; the live loop panics instead.
type SequenceGapError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap: expected %d, got %d", e.Expected, e.Got)
}

func (e *SequenceGapError) Unwrap() error {
	return ErrSequenceGap
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	ErrSchemaViolation     = errors.New("schema violation")
	ErrTimestampRegression = errors.New("timestamp regression")
	ErrSequenceGap         = errors.New("sequence gap")

	// ErrSinkClosed is returned when writing to a committed or aborted batch.
	ErrSinkClosed = errors.New("sink batch closed")
)

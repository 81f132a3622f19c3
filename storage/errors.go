package storage

import (
	"errors"
	"fmt"
)

// ConfigurationError is returned when the selected backend requires an
// endpoint that is missing or blank. It is the only error that is fatal:
// it aborts construction and is surfaced to the caller unchanged.
type ConfigurationError struct {
	Backend string
	Msg     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s backend: %s", e.Backend, e.Msg)
}

// IsConfigurationError reports whether any error in err's chain is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ConnectionError indicates that the chain node could not be reached, or
// that an established connection failed mid-call. Read paths treat it as
// transient: backends with a fallback fall back, the node-only backend
// propagates it.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether any error in err's chain is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

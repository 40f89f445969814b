// Package errs defines the error taxonomy shared by the engine packages.
//
// DataError and ComputationError never escape the candle pipeline; GatewayError
// is surfaced to the lifecycle manager; ConfigError is only produced while
// loading or updating configuration.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfOrder         = errors.New("candle close time older than buffer tail")
	ErrMalformedCandle    = errors.New("malformed candle")
	ErrInsufficientWindow = errors.New("insufficient candle window")
	ErrHalted             = errors.New("trading halted by circuit breaker")
	ErrPositionOpen       = errors.New("position already open")
	ErrNoPosition         = errors.New("no open position")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrSessionNotFound    = errors.New("session not found")
)

// DataError reports a malformed or out-of-order market data record
type DataError struct {
	Pair      string
	CloseTime int64
	Err       error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error [%s @%d]: %v", e.Pair, e.CloseTime, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// ComputationError reports a detector or worker failure
type ComputationError struct {
	Stage string
	Err   error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation error in %s: %v", e.Stage, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// GatewayError reports an order placement or modification failure
type GatewayError struct {
	Op   string
	Pair string
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed for %s: %v", e.Op, e.Pair, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s=%v: %s", e.Field, e.Value, e.Reason)
}

// IsGateway reports whether err wraps a GatewayError
func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

// IsData reports whether err wraps a DataError
func IsData(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

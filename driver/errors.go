package driver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Transient device error kinds. Device delegates report ordinary I/O trouble
// by wrapping one of these; anything else is treated as a defect and
// propagates uncaught.
var (
	ErrTimeout      = errors.New("device timeout")
	ErrNotConnected = errors.New("device not connected")
)

// ErrShutdown is returned by connection operations after Shutdown.
var ErrShutdown = errors.New("driver has been shut down")

// ErrNoValue is returned by Write when a record carries no value.
var ErrNoValue = errors.New("supplied value cannot be nil")

// ConnectionError reports that the transport could not be established or
// torn down. It is surfaced synchronously to callers of ConnectSync and
// DisconnectSync; async variants log it instead.
type ConnectionError struct {
	Op  string // "connect" or "disconnect"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an expected, recoverable device I/O
// failure. Transient errors become record statuses, never call errors.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotConnected)
}

// IsLikelyConnectionError checks if an error indicates a transport-level
// connection problem. Device implementations use it to map raw network
// errors onto ErrTimeout/ErrNotConnected; the API layer uses it to pick
// status codes.
func IsLikelyConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if IsTransient(err) {
		return true
	}

	if errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"connection timed out",
		"eof",
		"socket closed",
		"not connected",
	}

	for _, keyword := range connectionKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}

// WrapTransportError converts a raw transport error into the matching
// transient kind so the batch failure policy can classify it.
func WrapTransportError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if IsLikelyConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return err
}

package driver

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", ErrTimeout, true},
		{"not connected", ErrNotConnected, true},
		{"wrapped timeout", fmt.Errorf("read: %w", ErrTimeout), true},
		{"wrapped not connected", fmt.Errorf("write: %w", ErrNotConnected), true},
		{"plain error", errors.New("index out of range"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ConnectionError{Op: "connect", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("ConnectionError must unwrap to its cause")
	}
	want := "connection connect: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

// timeoutError satisfies net.Error with Timeout() true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsLikelyConnectionError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection error", &ConnectionError{Op: "connect", Err: errors.New("x")}, true},
		{"transient", ErrTimeout, true},
		{"eof", io.EOF, true},
		{"net error", timeoutError{}, true},
		{"econnreset", syscall.ECONNRESET, true},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"keyword match", errors.New("dial tcp: no route to host"), true},
		{"unrelated", errors.New("value out of range"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLikelyConnectionError(tc.err); got != tc.want {
				t.Errorf("IsLikelyConnectionError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapTransportError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		if got := WrapTransportError(nil); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})

	t.Run("net timeout maps to ErrTimeout", func(t *testing.T) {
		got := WrapTransportError(timeoutError{})
		if !errors.Is(got, ErrTimeout) {
			t.Errorf("got %v, want ErrTimeout", got)
		}
	})

	t.Run("connection trouble maps to ErrNotConnected", func(t *testing.T) {
		got := WrapTransportError(syscall.ECONNRESET)
		if !errors.Is(got, ErrNotConnected) {
			t.Errorf("got %v, want ErrNotConnected", got)
		}
	})

	t.Run("other errors pass through unchanged", func(t *testing.T) {
		cause := errors.New("malformed frame")
		if got := WrapTransportError(cause); got != cause {
			t.Errorf("got %v, want the original error", got)
		}
	})
}

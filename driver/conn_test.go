package driver

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestConnectionManager_ConnectSync(t *testing.T) {
	t.Run("success transitions to Connected", func(t *testing.T) {
		dialer := &countingDialer{}
		m := NewConnectionManager(dialer)
		defer m.Shutdown()

		if m.State() != StateDisconnected {
			t.Fatalf("initial state = %v, want Disconnected", m.State())
		}
		if err := m.ConnectSync(); err != nil {
			t.Fatalf("ConnectSync failed: %v", err)
		}
		if m.State() != StateConnected {
			t.Errorf("state = %v, want Connected", m.State())
		}
		if m.Conn() == nil {
			t.Error("no connection handle after ConnectSync")
		}
	})

	t.Run("failure reverts to Disconnected", func(t *testing.T) {
		dialErr := errors.New("connection refused")
		dialer := &countingDialer{dialErr: dialErr}
		m := NewConnectionManager(dialer)
		defer m.Shutdown()

		err := m.ConnectSync()
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("ConnectSync returned %v, want ConnectionError", err)
		}
		if !errors.Is(err, dialErr) {
			t.Errorf("error does not wrap the dial failure: %v", err)
		}
		if m.State() != StateDisconnected {
			t.Errorf("state = %v, want Disconnected", m.State())
		}
		if m.Conn() != nil {
			t.Error("connection handle set after failed dial")
		}
	})

	t.Run("already connected performs no transport IO", func(t *testing.T) {
		dialer := &countingDialer{}
		m := NewConnectionManager(dialer)
		defer m.Shutdown()

		if err := m.ConnectSync(); err != nil {
			t.Fatalf("first ConnectSync failed: %v", err)
		}
		if err := m.ConnectSync(); err != nil {
			t.Fatalf("second ConnectSync failed: %v", err)
		}
		if dialer.dialCount() != 1 {
			t.Errorf("dials = %d, want 1", dialer.dialCount())
		}
	})
}

func TestConnectionManager_SetOptionsNeverBlocks(t *testing.T) {
	// A connect attempt is parked inside the dialer; SetOptions must still
	// return immediately.
	dialer := &countingDialer{block: make(chan struct{})}
	m := NewConnectionManager(dialer)

	go m.ConnectSync()
	waitFor(t, func() bool { return dialer.dialCount() == 1 }, "dial never started")

	done := make(chan struct{})
	go func() {
		m.SetOptions(Options{Host: "10.0.0.9", Port: 4223})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetOptions blocked behind connection I/O")
	}

	close(dialer.block)
	m.Shutdown()

	if got := m.Options().Host; got != "10.0.0.9" {
		t.Errorf("host = %q, want 10.0.0.9", got)
	}
}

func TestConnectionManager_ConnectAsync_Coalesces(t *testing.T) {
	dialer := &countingDialer{block: make(chan struct{})}
	m := NewConnectionManager(dialer)

	for i := 0; i < 10; i++ {
		m.ConnectAsync()
	}
	waitFor(t, func() bool { return dialer.dialCount() >= 1 }, "async connect never dialed")

	close(dialer.block)
	waitFor(t, func() bool { return m.State() == StateConnected }, "never connected")

	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 coalesced attempt", dialer.dialCount())
	}
	m.Shutdown()
}

func TestConnectionManager_ReconnectAsync(t *testing.T) {
	t.Run("uses options current at execution time", func(t *testing.T) {
		dialer := &countingDialer{}
		m := NewConnectionManager(dialer)

		m.SetOptions(Options{Host: "10.0.0.1", Port: 4223})
		if err := m.ConnectSync(); err != nil {
			t.Fatalf("ConnectSync failed: %v", err)
		}

		m.SetOptions(Options{Host: "10.0.0.2", Port: 4224})
		m.ReconnectAsync()

		waitFor(t, func() bool {
			return m.State() == StateConnected && dialer.dialCount() == 2
		}, "reconnect never completed")

		if got := dialer.lastOptions().Host; got != "10.0.0.2" {
			t.Errorf("reconnect dialed %q, want 10.0.0.2", got)
		}
		m.Shutdown()
	})

	t.Run("tears the old connection down", func(t *testing.T) {
		dialer := &countingDialer{}
		m := NewConnectionManager(dialer)

		if err := m.ConnectSync(); err != nil {
			t.Fatalf("ConnectSync failed: %v", err)
		}
		first := m.Conn().(*fakeConn)

		m.ReconnectAsync()
		waitFor(t, func() bool { return dialer.dialCount() == 2 }, "reconnect never dialed")

		if n := atomic.LoadInt32(&first.closes); n != 1 {
			t.Errorf("old connection closes = %d, want 1", n)
		}
		m.Shutdown()
	})
}

func TestConnectionManager_DisconnectSync(t *testing.T) {
	t.Run("closes the handle", func(t *testing.T) {
		dialer := &countingDialer{}
		m := NewConnectionManager(dialer)
		defer m.Shutdown()

		if err := m.ConnectSync(); err != nil {
			t.Fatalf("ConnectSync failed: %v", err)
		}
		conn := m.Conn().(*fakeConn)

		if err := m.DisconnectSync(); err != nil {
			t.Fatalf("DisconnectSync failed: %v", err)
		}
		if n := atomic.LoadInt32(&conn.closes); n != 1 {
			t.Errorf("closes = %d, want 1", n)
		}
		if m.State() != StateDisconnected {
			t.Errorf("state = %v, want Disconnected", m.State())
		}
	})

	t.Run("idempotent when already disconnected", func(t *testing.T) {
		m := NewConnectionManager(&countingDialer{})
		defer m.Shutdown()

		if err := m.DisconnectSync(); err != nil {
			t.Errorf("DisconnectSync on fresh manager = %v, want nil", err)
		}
		if err := m.DisconnectSync(); err != nil {
			t.Errorf("repeated DisconnectSync = %v, want nil", err)
		}
	})

	t.Run("close failure surfaces as ConnectionError", func(t *testing.T) {
		dialer := &countingDialer{}
		m := NewConnectionManager(dialer)
		defer m.Shutdown()

		if err := m.ConnectSync(); err != nil {
			t.Fatalf("ConnectSync failed: %v", err)
		}
		m.Conn().(*fakeConn).closeErr = errors.New("close failed")

		err := m.DisconnectSync()
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("DisconnectSync returned %v, want ConnectionError", err)
		}
		if connErr.Op != "disconnect" {
			t.Errorf("op = %q, want disconnect", connErr.Op)
		}
		// The handle is dropped even when close fails.
		if m.State() != StateDisconnected {
			t.Errorf("state = %v, want Disconnected", m.State())
		}
	})
}

func TestConnectionManager_Shutdown(t *testing.T) {
	t.Run("cancels an in-flight async dial", func(t *testing.T) {
		dialer := &countingDialer{block: make(chan struct{})}
		m := NewConnectionManager(dialer)

		m.ConnectAsync()
		waitFor(t, func() bool { return dialer.dialCount() == 1 }, "async connect never dialed")

		done := make(chan struct{})
		go func() {
			m.Shutdown()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Shutdown did not cancel the parked dial")
		}
	})

	t.Run("subsequent connects fail with ErrShutdown", func(t *testing.T) {
		m := NewConnectionManager(&countingDialer{})
		m.Shutdown()

		err := m.ConnectSync()
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("ConnectSync after Shutdown = %v, want ErrShutdown", err)
		}

		// Async variants become no-ops.
		m.ConnectAsync()
		m.ReconnectAsync()
		if m.State() != StateDisconnected {
			t.Errorf("state = %v, want Disconnected", m.State())
		}
	})

	t.Run("repeated Shutdown is safe", func(t *testing.T) {
		m := NewConnectionManager(&countingDialer{})
		m.Shutdown()
		m.Shutdown()
	})
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "Disconnected"},
		{StateConnecting, "Connecting"},
		{StateConnected, "Connected"},
		{StateDisconnecting, "Disconnecting"},
		{State(99), "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

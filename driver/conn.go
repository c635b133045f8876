package driver

import (
	"context"
	"sync"
	"sync/atomic"

	"fieldlink/logging"
)

// State represents the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Conn is the physical connection handle to the remote device. Concrete
// transports (sockets, handshakes) are out of scope; the manager only needs
// to destroy the handle on disconnect.
type Conn interface {
	Close() error
}

// Dialer establishes the physical connection. The context is cancelled on
// Shutdown so in-flight async attempts do not outlive the manager.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, opts Options) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, opts Options) (Conn, error) {
	return f(ctx, opts)
}

// ConnectionManager owns the single physical connection handle and its
// lifecycle state. State transitions happen under one mutex; the options
// snapshot has its own lock so SetOptions never waits on connection I/O.
type ConnectionManager struct {
	dialer Dialer

	mu    sync.Mutex // guards conn and all state transitions
	conn  Conn
	state int32 // atomic State, readable without taking mu

	optsMu sync.RWMutex
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	asyncs int32 // coalesces fire-and-forget connect attempts
	closed int32
}

// NewConnectionManager creates a manager in the Disconnected state. No
// connection is attempted until ConnectSync or one of the async variants.
func NewConnectionManager(dialer Dialer) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		dialer: dialer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOptions replaces the stored connection parameters wholesale. It does
// not connect and never blocks on connection I/O.
func (m *ConnectionManager) SetOptions(opts Options) {
	m.optsMu.Lock()
	m.opts = opts
	m.optsMu.Unlock()
}

// Options returns the current parameter snapshot.
func (m *ConnectionManager) Options() Options {
	m.optsMu.RLock()
	defer m.optsMu.RUnlock()
	return m.opts
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	return State(atomic.LoadInt32(&m.state))
}

func (m *ConnectionManager) setState(s State) {
	atomic.StoreInt32(&m.state, int32(s))
}

// Conn returns the current connection handle, or nil when not connected.
func (m *ConnectionManager) Conn() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// ConnectSync establishes the connection, blocking until success or
// failure. When already connected it is a pure state check with no
// transport I/O. On failure the state reverts to Disconnected and a
// ConnectionError is returned.
func (m *ConnectionManager) ConnectSync() error {
	if atomic.LoadInt32(&m.closed) == 1 {
		return &ConnectionError{Op: "connect", Err: ErrShutdown}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if atomic.LoadInt32(&m.closed) == 1 {
		return &ConnectionError{Op: "connect", Err: ErrShutdown}
	}
	if m.conn != nil {
		return nil
	}

	opts := m.Options()
	m.setState(StateConnecting)
	logging.DebugConnect("conn", opts.Endpoint())

	conn, err := m.dialer.Dial(m.ctx, opts)
	if err != nil {
		m.setState(StateDisconnected)
		logging.DebugConnectError("conn", opts.Endpoint(), err)
		return &ConnectionError{Op: "connect", Err: err}
	}

	m.conn = conn
	m.setState(StateConnected)
	logging.DebugConnectSuccess("conn", opts.Endpoint(), "device "+opts.DeviceUID)
	return nil
}

// ConnectAsync requests a connection without blocking the caller.
// Concurrent calls coalesce into at most one attempt in flight; failures
// are logged, not surfaced.
func (m *ConnectionManager) ConnectAsync() {
	if atomic.LoadInt32(&m.closed) == 1 {
		return
	}
	if !atomic.CompareAndSwapInt32(&m.asyncs, 0, 1) {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer atomic.StoreInt32(&m.asyncs, 0)
		if err := m.ConnectSync(); err != nil {
			logging.DebugError("conn", "async connect", err)
		}
	}()
}

// ReconnectAsync schedules a disconnect followed by a connect using the
// options current at execution time, or a plain connect when not connected.
// It never blocks the caller; configuration update threads rely on this.
func (m *ConnectionManager) ReconnectAsync() {
	if atomic.LoadInt32(&m.closed) == 1 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.mu.Lock()
		if m.conn != nil {
			if err := m.teardownLocked(); err != nil {
				logging.DebugError("conn", "async reconnect teardown", err)
			}
		}
		m.mu.Unlock()

		if err := m.ConnectSync(); err != nil {
			logging.DebugError("conn", "async reconnect", err)
		}
	}()
}

// DisconnectSync tears down the physical connection, blocking until done.
// It is idempotent when already disconnected.
func (m *ConnectionManager) DisconnectSync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardownLocked()
}

// teardownLocked destroys the connection handle. Callers hold m.mu.
func (m *ConnectionManager) teardownLocked() error {
	if m.conn == nil {
		m.setState(StateDisconnected)
		return nil
	}

	m.setState(StateDisconnecting)
	err := m.conn.Close()
	m.conn = nil
	m.setState(StateDisconnected)
	logging.DebugDisconnect("conn", m.Options().Endpoint(), "requested")

	if err != nil {
		return &ConnectionError{Op: "disconnect", Err: err}
	}
	return nil
}

// Shutdown cancels in-flight async attempts, waits for them, and performs a
// final blocking disconnect. The manager is unusable afterwards: subsequent
// connects fail with ErrShutdown.
func (m *ConnectionManager) Shutdown() {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return
	}

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	if err := m.teardownLocked(); err != nil {
		logging.DebugError("conn", "shutdown disconnect", err)
	}
	m.mu.Unlock()
}

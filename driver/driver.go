// Package driver implements the connection lifecycle and batch execution
// core shared by concrete device drivers: a connection state machine with
// synchronous and fire-and-forget connect paths, listener bookkeeping, and
// the read/write/prepared-read protocol with its per-record status model.
package driver

import (
	"fmt"
	"sync"
	"time"

	"fieldlink/channel"
	"fieldlink/logging"
)

// Fixed failure messages attached to every record of a batch that hit a
// transient device error.
const (
	readFailureMessage  = "failed to read channel"
	writeFailureMessage = "failed to write channel"
)

// Device is the device-specific delegate consumed by the batch executor.
// Each method may fail with an error wrapping ErrTimeout or ErrNotConnected;
// any other error is treated as a defect and propagates to the caller.
type Device interface {
	// ReadValues fills in the value of every record in one device call.
	ReadValues(records []*channel.Record) error
	// WriteValues writes every record's value in one device call.
	WriteValues(records []*channel.Record) error
	// ReadValue reads a single channel, for the prepared-read path.
	ReadValue(rec *channel.Record) (*channel.TypedValue, error)
}

// DeviceFactory builds the device delegate for the current connection.
// Concrete drivers supply one at construction time; it must be cheap, as it
// runs once per batch call.
type DeviceFactory func(conn Conn, opts Options) Device

// Driver is the reusable core of a channel-oriented device driver. It owns
// the connection manager and listener bookkeeping and implements the public
// operation surface; the device-specific value transfer is delegated to the
// injected factory's Device.
type Driver struct {
	conns     *ConnectionManager
	listeners *ListenerManager
	factory   DeviceFactory

	opMu sync.Mutex // held for the whole of each batch operation
}

// New creates a driver around a transport dialer and a device factory.
// No connection is attempted until the first operation or lifecycle hook.
func New(dialer Dialer, factory DeviceFactory) *Driver {
	return &Driver{
		conns:     NewConnectionManager(dialer),
		listeners: NewListenerManager(),
		factory:   factory,
	}
}

// Activate is the process lifecycle hook called once at component startup.
func (d *Driver) Activate(props map[string]interface{}) error {
	logging.DebugLog("driver", "activating")
	if err := d.Updated(props); err != nil {
		return err
	}
	logging.DebugLog("driver", "activating done")
	return nil
}

// Updated applies a configuration change: it replaces the connection
// options and schedules an async reconnect. It must return without blocking
// regardless of connection state; the calling context is a framework
// configuration thread.
func (d *Driver) Updated(props map[string]interface{}) error {
	logging.DebugLog("driver", "updating")

	opts, err := OptionsFromProperties(props)
	if err != nil {
		return fmt.Errorf("driver properties: %w", err)
	}

	d.conns.SetOptions(opts)
	d.conns.ReconnectAsync()

	logging.DebugLog("driver", "updating done")
	return nil
}

// Deactivate shuts the driver down and releases the connection. The
// instance is unusable afterwards.
func (d *Driver) Deactivate() {
	logging.DebugLog("driver", "deactivating")
	d.conns.Shutdown()
	logging.DebugLog("driver", "deactivating done")
}

// Connect establishes the device connection synchronously.
func (d *Driver) Connect() error {
	return d.conns.ConnectSync()
}

// Disconnect tears the device connection down synchronously.
func (d *Driver) Disconnect() error {
	return d.conns.DisconnectSync()
}

// State returns the current connection state.
func (d *Driver) State() State {
	return d.conns.State()
}

// Options returns the current connection options snapshot.
func (d *Driver) Options() Options {
	return d.conns.Options()
}

// Listeners exposes the registration bookkeeping to the notification loop.
func (d *Driver) Listeners() *ListenerManager {
	return d.listeners
}

// RegisterChannelListener records the subscription and requests a
// connection in the background. The method itself performs no I/O.
func (d *Driver) RegisterChannelListener(config map[string]interface{}, listener channel.Listener) error {
	if err := d.listeners.Register(config, listener); err != nil {
		return err
	}
	d.conns.ConnectAsync()
	return nil
}

// UnregisterChannelListener removes every registration for the listener.
func (d *Driver) UnregisterChannelListener(listener channel.Listener) {
	d.listeners.Unregister(listener)
}

// device builds the delegate for the live connection.
func (d *Driver) device() Device {
	return d.factory(d.conns.Conn(), d.conns.Options())
}

// Read executes a batch read. It connects first, propagating a
// ConnectionError before any record is touched. A transient device error
// fails the whole batch with a shared status; any other device error
// propagates after the records are stamped. Every record carries a status
// (except on defect) and a timestamp when Read returns nil.
func (d *Driver) Read(records []*channel.Record) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	logging.DebugLog("driver", "reading %d records", len(records))

	if err := d.conns.ConnectSync(); err != nil {
		return err
	}

	err := d.device().ReadValues(records)
	return finishBatch(records, err, readFailureMessage)
}

// Write executes a batch write. A record with no value is a caller
// programming error and fails the whole call before the device is invoked.
// Otherwise the failure policy matches Read, with the write failure
// message.
func (d *Driver) Write(records []*channel.Record) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	logging.DebugLog("driver", "writing %d records", len(records))

	if err := d.conns.ConnectSync(); err != nil {
		return err
	}

	for _, rec := range records {
		if rec.Value == nil {
			return fmt.Errorf("write channel %q: %w", rec.Name, ErrNoValue)
		}
	}

	err := d.device().WriteValues(records)
	return finishBatch(records, err, writeFailureMessage)
}

// finishBatch applies the batch-wide status policy and stamps every record
// exactly once. The delegate call is atomic from the executor's point of
// view, so a transient failure cannot be attributed to a single record and
// marks them all.
func finishBatch(records []*channel.Record, err error, failureMessage string) error {
	now := time.Now()

	switch {
	case err == nil:
		for _, rec := range records {
			rec.Status = channel.Success
		}
	case IsTransient(err):
		status := channel.NewFailureStatus(failureMessage, err)
		for _, rec := range records {
			rec.Status = status
		}
		logging.DebugError("driver", "batch", err)
		err = nil
	}

	for _, rec := range records {
		rec.Timestamp = now
	}
	return err
}

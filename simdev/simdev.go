// Package simdev provides a simulated device and dialer for development
// and tests. The device keeps per-channel values in memory and supports
// injected latency and failures so the driver core's failure policies can
// be exercised without hardware.
package simdev

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"fieldlink/channel"
	"fieldlink/driver"
	"fieldlink/logging"
)

// Conn is the simulated connection handle.
type Conn struct {
	closed int32
}

// Close marks the handle closed. Closing twice is an error, matching real
// transport handles.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return fmt.Errorf("simdev: connection already closed")
	}
	return nil
}

// Dialer produces simulated connections.
type Dialer struct {
	Latency time.Duration // how long each dial takes

	mu      sync.Mutex
	dialErr error
	dials   int64
}

// NewDialer creates a dialer with no latency and no failures.
func NewDialer() *Dialer {
	return &Dialer{}
}

// SetDialError makes subsequent dials fail with err. Pass nil to restore
// normal operation.
func (d *Dialer) SetDialError(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// Dials returns how many dial attempts have been made.
func (d *Dialer) Dials() int64 {
	return atomic.LoadInt64(&d.dials)
}

// Dial implements driver.Dialer.
func (d *Dialer) Dial(ctx context.Context, opts driver.Options) (driver.Conn, error) {
	atomic.AddInt64(&d.dials, 1)

	if d.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.Latency):
		}
	}

	d.mu.Lock()
	err := d.dialErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logging.DebugLog("simdev", "dialed %s (device %s)", opts.Endpoint(), opts.DeviceUID)
	return &Conn{}, nil
}

// Device is an in-memory device delegate. Channels spring into existence
// with a zero value of their declared type on first read.
type Device struct {
	mu      sync.RWMutex
	values  map[string]*channel.TypedValue
	jitter  bool
	latency time.Duration

	readErr  error // injected, returned by the next reads
	writeErr error
	rng      *rand.Rand
}

// NewDevice creates an empty simulated device.
func NewDevice() *Device {
	return &Device{
		values: make(map[string]*channel.TypedValue),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetJitter enables a random walk on numeric channel values, so pollers
// observe changes.
func (d *Device) SetJitter(enabled bool) {
	d.mu.Lock()
	d.jitter = enabled
	d.mu.Unlock()
}

// SetLatency makes every device call take at least the given duration.
func (d *Device) SetLatency(latency time.Duration) {
	d.mu.Lock()
	d.latency = latency
	d.mu.Unlock()
}

// SetReadError injects a failure returned by subsequent read calls.
func (d *Device) SetReadError(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

// SetWriteError injects a failure returned by subsequent write calls.
func (d *Device) SetWriteError(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// SetValue stores a channel value directly, bypassing the write path.
func (d *Device) SetValue(name string, value *channel.TypedValue) {
	d.mu.Lock()
	d.values[name] = value
	d.mu.Unlock()
}

// Value returns the stored value for a channel, or nil.
func (d *Device) Value(name string) *channel.TypedValue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.values[name]
}

// Factory returns a driver.DeviceFactory serving this device regardless of
// the connection handle. Real drivers would bind the handle; the simulated
// device has no wire.
func (d *Device) Factory() driver.DeviceFactory {
	return func(conn driver.Conn, opts driver.Options) driver.Device {
		return d
	}
}

func (d *Device) pause() {
	d.mu.RLock()
	latency := d.latency
	d.mu.RUnlock()
	if latency > 0 {
		time.Sleep(latency)
	}
}

// ReadValues implements driver.Device.
func (d *Device) ReadValues(records []*channel.Record) error {
	d.pause()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readErr != nil {
		return d.readErr
	}

	for _, rec := range records {
		rec.Value = d.valueLocked(rec.Name, rec.Type)
	}
	return nil
}

// WriteValues implements driver.Device.
func (d *Device) WriteValues(records []*channel.Record) error {
	d.pause()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writeErr != nil {
		return d.writeErr
	}

	for _, rec := range records {
		d.values[rec.Name] = rec.Value
		logging.DebugLog("simdev", "write %s = %v", rec.Name, rec.Value)
	}
	return nil
}

// ReadValue implements driver.Device.
func (d *Device) ReadValue(rec *channel.Record) (*channel.TypedValue, error) {
	d.pause()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readErr != nil {
		return nil, d.readErr
	}
	return d.valueLocked(rec.Name, rec.Type), nil
}

// valueLocked fetches the channel value, creating a zero value of the
// declared type for unknown channels and applying jitter when enabled.
func (d *Device) valueLocked(name string, t channel.DataType) *channel.TypedValue {
	v, ok := d.values[name]
	if !ok {
		v = zeroValue(t)
		d.values[name] = v
	}
	if d.jitter {
		if stepped := d.step(v); stepped != nil {
			v = stepped
			d.values[name] = v
		}
	}
	return v
}

// step applies a small random walk to numeric values.
func (d *Device) step(v *channel.TypedValue) *channel.TypedValue {
	switch v.Type {
	case channel.Integer:
		return channel.NewIntValue(v.Value.(int32) + int32(d.rng.Intn(3)-1))
	case channel.Long:
		return channel.NewLongValue(v.Value.(int64) + int64(d.rng.Intn(3)-1))
	case channel.Float:
		return channel.NewFloatValue(v.Value.(float32) + float32(d.rng.Float64()-0.5))
	case channel.Double:
		return channel.NewDoubleValue(v.Value.(float64) + d.rng.Float64() - 0.5)
	default:
		return nil
	}
}

func zeroValue(t channel.DataType) *channel.TypedValue {
	switch t {
	case channel.Boolean:
		return channel.NewBoolValue(false)
	case channel.Integer:
		return channel.NewIntValue(0)
	case channel.Long:
		return channel.NewLongValue(0)
	case channel.Float:
		return channel.NewFloatValue(0)
	case channel.Double:
		return channel.NewDoubleValue(0)
	case channel.Bytes:
		return channel.NewBytesValue(nil)
	default:
		return channel.NewStringValue("")
	}
}

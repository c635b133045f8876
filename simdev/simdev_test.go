package simdev

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldlink/channel"
	"fieldlink/driver"
)

func TestDialer(t *testing.T) {
	opts := driver.Options{Host: "127.0.0.1", Port: 4223, DeviceUID: "dev0"}

	t.Run("dials and counts", func(t *testing.T) {
		d := NewDialer()
		conn, err := d.Dial(context.Background(), opts)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		if d.Dials() != 1 {
			t.Errorf("dials = %d, want 1", d.Dials())
		}
		if err := conn.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if err := conn.Close(); err == nil {
			t.Error("double close must fail")
		}
	})

	t.Run("injected error", func(t *testing.T) {
		d := NewDialer()
		dialErr := errors.New("connection refused")
		d.SetDialError(dialErr)

		if _, err := d.Dial(context.Background(), opts); !errors.Is(err, dialErr) {
			t.Errorf("Dial = %v, want injected error", err)
		}

		d.SetDialError(nil)
		if _, err := d.Dial(context.Background(), opts); err != nil {
			t.Errorf("Dial after clearing = %v", err)
		}
	})

	t.Run("latency respects context cancellation", func(t *testing.T) {
		d := NewDialer()
		d.Latency = time.Minute

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := d.Dial(ctx, opts)
			done <- err
		}()
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Dial = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Dial ignored the cancelled context")
		}
	})
}

func TestDevice_ReadValues(t *testing.T) {
	t.Run("unknown channels spring into existence with zero values", func(t *testing.T) {
		d := NewDevice()
		records := []*channel.Record{
			channel.NewReadRecord("count", channel.Integer),
			channel.NewReadRecord("ratio", channel.Double),
			channel.NewReadRecord("label", channel.String),
			channel.NewReadRecord("on", channel.Boolean),
		}
		if err := d.ReadValues(records); err != nil {
			t.Fatalf("ReadValues failed: %v", err)
		}
		if records[0].Value.Value != int32(0) {
			t.Errorf("count = %v", records[0].Value.Value)
		}
		if records[1].Value.Value != float64(0) {
			t.Errorf("ratio = %v", records[1].Value.Value)
		}
		if records[2].Value.Value != "" {
			t.Errorf("label = %v", records[2].Value.Value)
		}
		if records[3].Value.Value != false {
			t.Errorf("on = %v", records[3].Value.Value)
		}
	})

	t.Run("returns stored values", func(t *testing.T) {
		d := NewDevice()
		d.SetValue("temp", channel.NewDoubleValue(21.5))

		rec := channel.NewReadRecord("temp", channel.Double)
		if err := d.ReadValues([]*channel.Record{rec}); err != nil {
			t.Fatalf("ReadValues failed: %v", err)
		}
		if rec.Value.Value != 21.5 {
			t.Errorf("temp = %v", rec.Value.Value)
		}
	})

	t.Run("injected read error", func(t *testing.T) {
		d := NewDevice()
		readErr := errors.New("boom")
		d.SetReadError(readErr)

		rec := channel.NewReadRecord("temp", channel.Double)
		if err := d.ReadValues([]*channel.Record{rec}); !errors.Is(err, readErr) {
			t.Errorf("ReadValues = %v, want injected error", err)
		}
		if _, err := d.ReadValue(rec); !errors.Is(err, readErr) {
			t.Errorf("ReadValue = %v, want injected error", err)
		}
	})
}

func TestDevice_WriteValues(t *testing.T) {
	t.Run("stores written values", func(t *testing.T) {
		d := NewDevice()
		rec := channel.NewWriteRecord("setpoint", channel.NewIntValue(42))
		if err := d.WriteValues([]*channel.Record{rec}); err != nil {
			t.Fatalf("WriteValues failed: %v", err)
		}
		if got := d.Value("setpoint"); got == nil || got.Value != int32(42) {
			t.Errorf("stored value = %v", got)
		}
	})

	t.Run("injected write error", func(t *testing.T) {
		d := NewDevice()
		writeErr := errors.New("boom")
		d.SetWriteError(writeErr)

		rec := channel.NewWriteRecord("setpoint", channel.NewIntValue(1))
		if err := d.WriteValues([]*channel.Record{rec}); !errors.Is(err, writeErr) {
			t.Errorf("WriteValues = %v, want injected error", err)
		}
		if d.Value("setpoint") != nil {
			t.Error("value stored despite write error")
		}
	})
}

func TestDevice_Jitter(t *testing.T) {
	d := NewDevice()
	d.SetValue("walk", channel.NewDoubleValue(100))
	d.SetJitter(true)

	rec := channel.NewReadRecord("walk", channel.Double)
	changed := false
	for i := 0; i < 50 && !changed; i++ {
		v, err := d.ReadValue(rec)
		if err != nil {
			t.Fatalf("ReadValue failed: %v", err)
		}
		if v.Value != float64(100) {
			changed = true
		}
	}
	if !changed {
		t.Error("jitter never moved the value")
	}

	// Non-numeric channels never jitter.
	d.SetValue("name", channel.NewStringValue("pump"))
	srec := channel.NewReadRecord("name", channel.String)
	for i := 0; i < 10; i++ {
		v, _ := d.ReadValue(srec)
		if v.Value != "pump" {
			t.Fatal("string value jittered")
		}
	}
}

func TestDevice_Factory(t *testing.T) {
	d := NewDevice()
	factory := d.Factory()
	if dev := factory(nil, driver.Options{}); dev != driver.Device(d) {
		t.Error("factory must serve the device regardless of the handle")
	}
}

package driver

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"fieldlink/channel"
)

func readRecordWithConfig(name, valueType string) *channel.Record {
	return &channel.Record{
		Name:   name,
		Config: testChannelConfig(name, valueType),
	}
}

func TestPrepareRead_InvalidConfigFailsAtPrepareTime(t *testing.T) {
	dev := newFakeDevice()
	drv, _ := newTestDriver(dev)
	defer drv.Deactivate()

	bad := &channel.Record{
		Name:   "broken",
		Config: map[string]interface{}{ChannelNameKey: "broken"},
	}

	p := drv.PrepareRead([]*channel.Record{bad})

	if bad.Status == nil || bad.Succeeded() {
		t.Fatalf("status = %v, want failure", bad.Status)
	}
	if !strings.Contains(bad.Status.Message, ChannelValueTypeKey) {
		t.Errorf("failure message %q does not name the missing key", bad.Status.Message)
	}
	if bad.Timestamp.IsZero() {
		t.Error("record excluded at prepare time must still be stamped")
	}
	if len(p.requests) != 0 {
		t.Errorf("requests = %d, want 0", len(p.requests))
	}
}

func TestPreparedRead_Execute_PerRecordIsolation(t *testing.T) {
	// Three records: A reads cleanly, B has no declared value type, and the
	// device times out reading C. Only the record at fault fails.
	dev := newFakeDevice()
	dev.setValue("a", channel.NewIntValue(7))
	dev.valueErrs["c"] = fmt.Errorf("read c: %w", ErrTimeout)
	drv, _ := newTestDriver(dev)
	defer drv.Deactivate()

	a := readRecordWithConfig("a", "INTEGER")
	b := &channel.Record{Name: "b", Config: map[string]interface{}{ChannelNameKey: "b"}}
	c := readRecordWithConfig("c", "INTEGER")

	p := drv.PrepareRead([]*channel.Record{a, b, c})
	records, err := p.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0] != a || records[1] != b || records[2] != c {
		t.Fatal("Execute must return the original records in order")
	}

	if !a.Succeeded() {
		t.Errorf("a: status = %v, want Success", a.Status)
	}
	if a.Value == nil || a.Value.Value != int32(7) {
		t.Errorf("a: value = %v, want 7", a.Value)
	}

	if b.Succeeded() {
		t.Error("b: expected failure for missing value type")
	}
	if !strings.Contains(b.Status.Message, ChannelValueTypeKey) {
		t.Errorf("b: message %q does not name the missing key", b.Status.Message)
	}

	if c.Succeeded() {
		t.Error("c: expected failure")
	}
	if !errors.Is(c.Status.Cause, ErrTimeout) {
		t.Errorf("c: cause = %v, want ErrTimeout", c.Status.Cause)
	}

	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			t.Errorf("%s: timestamp not stamped", rec.Name)
		}
	}
}

func TestPreparedRead_Execute_ConnectFailureAborts(t *testing.T) {
	dev := newFakeDevice()
	drv, dialer := newTestDriver(dev)
	defer drv.Deactivate()
	dialer.dialErr = errors.New("no route to host")

	rec := readRecordWithConfig("a", "INTEGER")
	p := drv.PrepareRead([]*channel.Record{rec})

	records, err := p.Execute()
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Execute returned %v, want ConnectionError", err)
	}
	if records != nil {
		t.Error("no records must be returned on connect failure")
	}
	if rec.Status != nil || !rec.Timestamp.IsZero() {
		t.Error("valid records must be untouched on connect failure")
	}
}

func TestPreparedRead_ExecuteReusesValidation(t *testing.T) {
	dev := newFakeDevice()
	dev.setValue("a", channel.NewIntValue(1))
	drv, _ := newTestDriver(dev)
	defer drv.Deactivate()

	rec := readRecordWithConfig("a", "INTEGER")
	p := drv.PrepareRead([]*channel.Record{rec})

	if _, err := p.Execute(); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	first := rec.Timestamp

	dev.setValue("a", channel.NewIntValue(2))
	if _, err := p.Execute(); err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}

	if rec.Value.Value != int32(2) {
		t.Errorf("value = %v, want 2", rec.Value.Value)
	}
	if rec.Timestamp.Before(first) {
		t.Error("second pass must restamp the record")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

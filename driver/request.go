package driver

import (
	"fmt"

	"fieldlink/channel"
)

// Reserved channel configuration keys. The prefix keeps them from colliding
// with device-specific channel parameters.
const (
	ChannelNameKey      = "+name"
	ChannelValueTypeKey = "+value.type"
)

// ReadRequest is a parsed, validated view of a channel's configuration.
// It is built once at prepare or registration time so the raw map is never
// re-parsed on the hot path.
type ReadRequest struct {
	ChannelName string
	ValueType   channel.DataType
	Config      map[string]interface{} // original configuration, kept for device-specific keys

	record *channel.Record // set when the request was built from a record
}

// NewReadRequest validates a raw channel configuration map. Construction
// fails when the reserved name or value-type key is absent or malformed;
// producers must treat that as a local per-record error, not a batch abort.
func NewReadRequest(config map[string]interface{}) (*ReadRequest, error) {
	if config == nil {
		return nil, fmt.Errorf("channel config is nil")
	}

	name, ok := config[ChannelNameKey].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("channel config missing %q", ChannelNameKey)
	}

	rawType, ok := config[ChannelValueTypeKey].(string)
	if !ok || rawType == "" {
		return nil, fmt.Errorf("channel config missing %q", ChannelValueTypeKey)
	}
	valueType, err := channel.ParseDataType(rawType)
	if err != nil {
		return nil, fmt.Errorf("channel config key %q: %w", ChannelValueTypeKey, err)
	}

	return &ReadRequest{
		ChannelName: name,
		ValueType:   valueType,
		Config:      config,
	}, nil
}

// newRecordRequest builds a ReadRequest from a record's configuration and
// links it back to the record for the prepared-read path.
func newRecordRequest(rec *channel.Record) (*ReadRequest, error) {
	req, err := NewReadRequest(rec.Config)
	if err != nil {
		return nil, err
	}
	req.record = rec
	return req, nil
}

// Record returns the record this request was built from, or nil when the
// request came from a listener registration.
func (r *ReadRequest) Record() *channel.Record { return r.record }

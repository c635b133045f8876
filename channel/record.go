package channel

import "time"

// Flag is the coarse outcome of a record execution.
type Flag int

const (
	// FlagUnset marks a record that has not been executed yet.
	FlagUnset Flag = iota
	FlagSuccess
	FlagFailure
)

func (f Flag) String() string {
	switch f {
	case FlagUnset:
		return "Unset"
	case FlagSuccess:
		return "Success"
	case FlagFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// Status describes the outcome of executing a single record. A Status is
// immutable once attached to a record; failed batches share one instance.
type Status struct {
	Flag    Flag
	Message string
	Cause   error
}

// Success is the shared status attached to records that executed cleanly.
var Success = &Status{Flag: FlagSuccess}

// NewFailureStatus builds a failure status carrying a message and cause.
func NewFailureStatus(message string, cause error) *Status {
	return &Status{Flag: FlagFailure, Message: message, Cause: cause}
}

func (s *Status) String() string {
	if s == nil {
		return "Unset"
	}
	if s.Flag == FlagFailure && s.Message != "" {
		return s.Flag.String() + ": " + s.Message
	}
	return s.Flag.String()
}

// Record is a per-call work item bundling a channel reference with a value,
// status, and timestamp. Records are owned by the caller; the driver core
// only mutates Value, Status, and Timestamp.
type Record struct {
	Name      string                 // channel name
	Config    map[string]interface{} // raw channel configuration
	Type      DataType               // declared value type
	Value     *TypedValue            // nil on input for reads, required for writes
	Status    *Status                // nil until executed
	Timestamp time.Time              // set once per execution pass
}

// NewReadRecord builds a record requesting a read of the named channel.
func NewReadRecord(name string, t DataType) *Record {
	return &Record{Name: name, Type: t}
}

// NewWriteRecord builds a record requesting a write of the given value.
func NewWriteRecord(name string, value *TypedValue) *Record {
	r := &Record{Name: name, Value: value}
	if value != nil {
		r.Type = value.Type
	}
	return r
}

// Fail attaches a failure status to the record.
func (r *Record) Fail(message string, cause error) {
	r.Status = NewFailureStatus(message, cause)
}

// Succeeded reports whether the record carries a success status.
func (r *Record) Succeeded() bool {
	return r.Status != nil && r.Status.Flag == FlagSuccess
}

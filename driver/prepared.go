package driver

import (
	"time"

	"fieldlink/channel"
)

// PreparedRead is the two-phase read optimization: configuration is parsed
// and validated once at prepare time, and the resulting request list can be
// executed many times against the same records.
type PreparedRead struct {
	drv      *Driver
	records  []*channel.Record
	requests []*ReadRequest // records with valid configuration, in order
}

// PrepareRead validates the records' channel configuration. Records with
// invalid configuration are marked Failed and stamped immediately and are
// excluded from execution, but stay in the returned list. This path is
// per-record granular, unlike the plain batch failure policy.
func (d *Driver) PrepareRead(records []*channel.Record) *PreparedRead {
	p := &PreparedRead{
		drv:      d,
		records:  records,
		requests: make([]*ReadRequest, 0, len(records)),
	}

	for _, rec := range records {
		req, err := newRecordRequest(rec)
		if err != nil {
			rec.Fail(err.Error(), err)
			rec.Timestamp = time.Now()
			continue
		}
		p.requests = append(p.requests, req)
	}

	return p
}

// Execute runs the prepared requests. Each valid request is read
// independently: one failing channel does not fail its siblings, and every
// record is stamped right after its own outcome is known. The full original
// record list is returned, including records excluded at prepare time, so
// the caller always receives one status per input record. A ConnectionError
// from the initial connect aborts before any record is touched.
func (p *PreparedRead) Execute() ([]*channel.Record, error) {
	p.drv.opMu.Lock()
	defer p.drv.opMu.Unlock()

	if err := p.drv.conns.ConnectSync(); err != nil {
		return nil, err
	}

	dev := p.drv.device()
	for _, req := range p.requests {
		rec := req.record
		value, err := dev.ReadValue(rec)
		if err != nil {
			rec.Fail(err.Error(), err)
		} else {
			rec.Value = value
			rec.Status = channel.Success
		}
		rec.Timestamp = time.Now()
	}

	return p.records, nil
}

// Records returns the full original record list.
func (p *PreparedRead) Records() []*channel.Record {
	return p.records
}

// Close releases resources held by the prepared read. The base
// implementation holds none.
func (p *PreparedRead) Close() error {
	return nil
}

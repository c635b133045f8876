package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldlink/channel"
	"fieldlink/logging"
)

// Notifier drives push-style notifications for registered listeners. It
// polls the subscribed channels at a fixed rate using a prepared read that
// is rebuilt only when the registration set changes, and dispatches an
// event to a listener when its channel's value changes or its status flips.
type Notifier struct {
	drv  *Driver
	rate time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Poll state, touched only by the poll goroutine.
	prepared *PreparedRead
	regs     []*Registration
	version  uint64
	last     map[*Registration]string
	started  bool
	mu       sync.Mutex
}

// NewNotifier creates a notifier polling at the given rate.
func NewNotifier(drv *Driver, rate time.Duration) *Notifier {
	if rate <= 0 {
		rate = time.Second
	}
	return &Notifier{
		drv:  drv,
		rate: rate,
		last: make(map[*Registration]string),
	}
}

// Start begins the poll loop. Calling Start on a running notifier is a
// no-op.
func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.started = true

	n.wg.Add(1)
	go n.pollLoop()
}

// Stop halts the poll loop and waits for it to finish.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	cancel := n.cancel
	n.mu.Unlock()

	cancel()
	n.wg.Wait()
}

func (n *Notifier) pollLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.rate)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.poll()
		}
	}
}

// poll executes one notification pass.
func (n *Notifier) poll() {
	n.refreshPrepared()
	if n.prepared == nil || len(n.regs) == 0 {
		return
	}

	if _, err := n.prepared.Execute(); err != nil {
		// Connection-level failure; nothing was read, retry next tick.
		logging.DebugError("notifier", "poll", err)
		return
	}

	for i, reg := range n.regs {
		rec := n.prepared.records[i]
		n.dispatch(reg, rec)
	}
}

// refreshPrepared rebuilds the prepared read when the registration set has
// changed since the last pass. Records excluded at prepare time cannot
// occur here: registrations are validated at registration time.
func (n *Notifier) refreshPrepared() {
	version := n.drv.Listeners().Version()
	if n.prepared != nil && version == n.version {
		return
	}

	n.regs = n.drv.Listeners().Registrations()
	n.version = version

	records := make([]*channel.Record, len(n.regs))
	for i, reg := range n.regs {
		records[i] = &channel.Record{
			Name:   reg.Request.ChannelName,
			Config: reg.Request.Config,
			Type:   reg.Request.ValueType,
		}
	}
	n.prepared = n.drv.PrepareRead(records)

	// Drop change-detection state for registrations that went away.
	seen := make(map[*Registration]bool, len(n.regs))
	for _, reg := range n.regs {
		seen[reg] = true
	}
	for reg := range n.last {
		if !seen[reg] {
			delete(n.last, reg)
		}
	}
}

// dispatch notifies the registration's listener when the observed value or
// status changed since the previous pass.
func (n *Notifier) dispatch(reg *Registration, rec *channel.Record) {
	rendered := fmt.Sprintf("%s|%v", rec.Status, rec.Value)
	if prev, ok := n.last[reg]; ok && prev == rendered {
		return
	}
	n.last[reg] = rendered

	reg.Listener.OnChannelEvent(channel.Event{
		ChannelName: rec.Name,
		Value:       rec.Value,
		Status:      rec.Status,
		Timestamp:   rec.Timestamp,
	})
}

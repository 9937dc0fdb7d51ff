package sms

import (
	"log/slog"
	"sync"
	"time"
)

// Delivery report statuses accepted from the gateway.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

type logicalSend struct {
	remaining map[string]struct{}
	sealed    bool
	finished  bool
	done      chan Outcome
	timer     *time.Timer
}

// Pending tracks in-flight logical sends awaiting delivery reports. All
// segments of one send share a single outcome channel; the first final
// verdict tears the registration down and later reports for the same refs
// are ignored.
type Pending struct {
	mu     sync.Mutex
	byRef  map[string]*logicalSend
	logger *slog.Logger
}

// NewPending creates an empty pending-send table.
func NewPending(logger *slog.Logger) *Pending {
	return &Pending{
		byRef:  make(map[string]*logicalSend),
		logger: logger.With("component", "sms_pending"),
	}
}

// Registration is one logical send whose segment refs are still being
// collected. Reports can resolve against already tracked refs while later
// segments are still in flight with the gateway.
type Registration struct {
	p    *Pending
	send *logicalSend
}

// Begin opens a registration for one logical send.
func (p *Pending) Begin() *Registration {
	return &Registration{
		p: p,
		send: &logicalSend{
			remaining: make(map[string]struct{}),
			done:      make(chan Outcome, 1),
		},
	}
}

// Track adds one submitted segment ref. A report for the ref resolves against
// this registration from this point on, even before the ref set is sealed.
func (r *Registration) Track(ref string) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if r.send.finished {
		return
	}
	r.send.remaining[ref] = struct{}{}
	r.p.byRef[ref] = r.send
}

// Seal marks the ref set complete and returns the outcome channel, which
// delivers exactly one Outcome. A send whose every ref already reported
// success settles immediately. A non-positive timeout disables the report
// deadline.
func (r *Registration) Seal(timeout time.Duration) <-chan Outcome {
	p := r.p
	p.mu.Lock()
	r.send.sealed = true
	switch {
	case r.send.finished:
		p.mu.Unlock()
	case len(r.send.remaining) == 0:
		p.mu.Unlock()
		p.finish(r.send, Outcome{Success: true})
	default:
		if timeout > 0 {
			r.send.timer = time.AfterFunc(timeout, func() {
				p.finish(r.send, Outcome{Success: false, Reason: "delivery report timeout"})
			})
		}
		p.mu.Unlock()
	}
	return r.send.done
}

// Abandon tears the registration down so reports for its refs are ignored.
// Used when the caller gives up on the send before an outcome arrives.
func (r *Registration) Abandon(reason string) {
	r.p.finish(r.send, Outcome{Success: false, Reason: reason})
}

// Register arms tracking for one logical send whose segment refs are all
// known up front. The returned channel delivers exactly one Outcome.
func (p *Pending) Register(refs []string, timeout time.Duration) <-chan Outcome {
	reg := p.Begin()
	if len(refs) == 0 {
		p.finish(reg.send, Outcome{Success: false, Reason: "no segments submitted"})
		return reg.send.done
	}
	for _, ref := range refs {
		reg.Track(ref)
	}
	return reg.Seal(timeout)
}

// Resolve applies one segment delivery report. Unknown or late refs are
// ignored and reported as false.
func (p *Pending) Resolve(ref, status, reason string) bool {
	p.mu.Lock()
	send, ok := p.byRef[ref]
	if !ok {
		p.mu.Unlock()
		p.logger.Debug("delivery report for unknown ref", "ref", ref, "status", status)
		return false
	}

	switch status {
	case StatusSent, StatusDelivered:
		delete(send.remaining, ref)
		delete(p.byRef, ref)
		settled := send.sealed && len(send.remaining) == 0
		p.mu.Unlock()
		if settled {
			p.finish(send, Outcome{Success: true})
		}
	default:
		p.mu.Unlock()
		if reason == "" {
			reason = "segment failed with status " + status
		}
		p.finish(send, Outcome{Success: false, Reason: reason})
	}
	return true
}

// finish delivers the outcome once and removes every ref of the send.
func (p *Pending) finish(send *logicalSend, outcome Outcome) {
	p.mu.Lock()
	if send.finished {
		p.mu.Unlock()
		return
	}
	send.finished = true
	for ref := range send.remaining {
		delete(p.byRef, ref)
	}
	send.remaining = map[string]struct{}{}
	if send.timer != nil {
		send.timer.Stop()
	}
	p.mu.Unlock()

	// done is buffered and the finished flag guarantees a single delivery.
	send.done <- outcome
}

package callstate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"callflow/internal/event"
	"callflow/internal/metrics"
)

// PhoneState mirrors the platform's call-state signal values.
type PhoneState string

const (
	StateIdle    PhoneState = "IDLE"
	StateRinging PhoneState = "RINGING"
	StateOffHook PhoneState = "OFFHOOK"
)

// Signal is one raw phone-state change, optionally carrying a number.
type Signal struct {
	State  PhoneState `json:"state"`
	Number string     `json:"number"`
}

// CallInfo is the authoritative record of the most recent call as reported by
// the platform's call history.
type CallInfo struct {
	Phone           string `json:"phone"`
	ContactName     string `json:"contact_name"`
	DurationSeconds int    `json:"duration_seconds"`
	Type            int    `json:"type"`
	Timestamp       int64  `json:"timestamp"`
}

// CallHistory reads the latest call from the platform call log. A nil result
// with a nil error means no data; implementations convert permission problems
// into no-data rather than returning a fatal error.
type CallHistory interface {
	LatestCall(ctx context.Context) (*CallInfo, error)
}

// Router consumes one encoded call event. Calls are fire-and-forget.
type Router interface {
	Route(payload []byte)
}

// Tracker turns the serialized stream of phone-state signals into discrete
// call events. It keeps exactly one active call's start time and inferred
// direction; overlapping calls are not modeled.
type Tracker struct {
	mu         sync.Mutex
	state      PhoneState
	startTime  time.Time
	number     string
	isIncoming bool
	running    bool
	cancel     context.CancelFunc
	ctx        context.Context

	history     CallHistory
	router      Router
	sink        event.Sink
	lease       *WakeLease
	settleDelay time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	now func() time.Time
}

// Config holds tracker construction parameters.
type Config struct {
	SettleDelay time.Duration
	WakeMaxHold time.Duration
}

// New creates a tracker. Events are handed to router after the settle delay
// and mirrored to the sink.
func New(cfg Config, history CallHistory, router Router, sink event.Sink, metricRegistry *metrics.Metrics, logger *slog.Logger) *Tracker {
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}
	return &Tracker{
		state:       StateIdle,
		history:     history,
		router:      router,
		sink:        sink,
		lease:       NewWakeLease(cfg.WakeMaxHold, logger),
		settleDelay: settle,
		logger:      logger.With("component", "callstate"),
		metrics:     metricRegistry,
		now:         time.Now,
	}
}

// Start begins monitoring: acquires the wake lease and arms the tracker to
// accept signals. Idempotent.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.lease.Acquire()
	t.running = true
	t.logger.Info("call monitoring started")
}

// Stop ends monitoring, cancels any pending deferred emissions and releases
// the wake lease unconditionally.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		t.lease.Release()
		return
	}
	t.cancel()
	t.lease.Release()
	t.running = false
	t.state = StateIdle
	t.number = ""
	t.startTime = time.Time{}
	t.logger.Info("call monitoring stopped")
}

// IsMonitoring reports whether the tracker is accepting signals.
func (t *Tracker) IsMonitoring() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// OnSignal consumes one phone-state signal. It returns immediately; call-end
// processing is deferred onto a worker goroutine after the settle delay so
// the platform has time to write its call history first.
func (t *Tracker) OnSignal(sig Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	switch sig.State {
	case StateIdle, StateRinging, StateOffHook:
	default:
		return
	}
	if t.metrics != nil {
		t.metrics.PhoneSignals.WithLabelValues(string(sig.State)).Inc()
	}

	switch {
	case t.state == StateIdle && sig.State == StateRinging:
		t.isIncoming = true
		t.number = sig.Number
		t.startTime = t.now()
		t.logger.Debug("incoming call ringing")

	case t.state == StateRinging && sig.State == StateOffHook:
		// Answered: duration is measured from pickup, not from ring.
		t.startTime = t.now()
		t.logger.Debug("incoming call answered")

	case t.state == StateIdle && sig.State == StateOffHook:
		t.isIncoming = false
		t.number = sig.Number
		t.startTime = t.now()
		t.logger.Debug("outgoing call started")

	case sig.State == StateIdle && t.state != StateIdle:
		t.onCallEndedLocked()

	default:
		// Any other combination is not a transition.
	}

	t.state = sig.State
}

func (t *Tracker) onCallEndedLocked() {
	wasMissed := t.state == StateRinging
	direction := event.DirectionOutgoing
	switch {
	case wasMissed:
		direction = event.DirectionMissed
	case t.isIncoming:
		direction = event.DirectionIncoming
	}

	duration := 0
	if !wasMissed && !t.startTime.IsZero() {
		duration = int(t.now().Sub(t.startTime) / time.Second)
	}

	fallbackNumber := t.number
	ctx := t.ctx

	// Reset per-call state before the deferred emission runs.
	t.number = ""
	t.isIncoming = false
	t.startTime = time.Time{}

	t.logger.Debug("call ended", "direction", direction, "duration_seconds", duration)

	go t.emitAfterSettle(ctx, fallbackNumber, direction, duration)
}

// emitAfterSettle waits out the settle delay, reconciles against the call
// history and emits the call event. The tracker's own direction and duration
// are the fallback when the history yields nothing.
func (t *Tracker) emitAfterSettle(ctx context.Context, fallbackNumber string, direction event.Direction, duration int) {
	select {
	case <-time.After(t.settleDelay):
	case <-ctx.Done():
		return
	}

	phone := fallbackNumber
	contactName := ""

	if t.history != nil {
		info, err := t.history.LatestCall(ctx)
		if err != nil {
			t.logger.Debug("call history unavailable", "error", err)
		} else if info != nil {
			if info.Phone != "" {
				phone = info.Phone
			}
			contactName = info.ContactName
			// The platform call log is authoritative whenever it has a
			// record; the tracker's own estimate only covers the no-data case.
			duration = info.DurationSeconds
		}
	}
	if direction == event.DirectionMissed {
		duration = 0
	}

	if phone == "" {
		// Expected for restricted callers; drop without surfacing an error.
		t.logger.Debug("no phone number for call event, dropping")
		return
	}

	evt := event.NewCallEvent(phone, contactName, direction, duration)
	if t.metrics != nil {
		t.metrics.CallEvents.WithLabelValues(string(direction)).Inc()
	}
	t.sink.CallEvent(evt)

	payload, err := json.Marshal(evt)
	if err != nil {
		t.logger.Error("encode call event", "error", err)
		return
	}
	t.router.Route(payload)
}

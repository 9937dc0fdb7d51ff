package callstate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"callflow/internal/event"
)

type historyFunc func(ctx context.Context) (*CallInfo, error)

func (f historyFunc) LatestCall(ctx context.Context) (*CallInfo, error) {
	return f(ctx)
}

type captureRouter struct {
	events chan event.CallEvent
}

func newCaptureRouter() *captureRouter {
	return &captureRouter{events: make(chan event.CallEvent, 4)}
}

func (r *captureRouter) Route(payload []byte) {
	var evt event.CallEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		panic(err)
	}
	r.events <- evt
}

type nopSink struct{}

func (nopSink) CallEvent(event.CallEvent) {}

func (nopSink) MessageLog(event.MessageLog) {}

func (nopSink) Error(string, string) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker(history CallHistory) (*Tracker, *captureRouter) {
	capture := newCaptureRouter()
	tracker := New(Config{SettleDelay: 10 * time.Millisecond}, history, capture, nopSink{}, nil, discardLogger())
	tracker.Start()
	return tracker, capture
}

func waitEvent(t *testing.T, capture *captureRouter) event.CallEvent {
	t.Helper()
	select {
	case evt := <-capture.events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call event")
		return event.CallEvent{}
	}
}

func expectNoEvent(t *testing.T, capture *captureRouter) {
	t.Helper()
	select {
	case evt := <-capture.events:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAnsweredIncomingCall(t *testing.T) {
	tracker, capture := newTestTracker(historyFunc(func(context.Context) (*CallInfo, error) {
		return nil, nil
	}))
	defer tracker.Stop()

	tracker.OnSignal(Signal{State: StateRinging, Number: "5551234567"})
	tracker.OnSignal(Signal{State: StateOffHook})
	tracker.OnSignal(Signal{State: StateIdle})

	evt := waitEvent(t, capture)
	if evt.Direction != event.DirectionIncoming {
		t.Fatalf("expected incoming, got %s", evt.Direction)
	}
	if evt.Phone != "5551234567" {
		t.Fatalf("expected tracker fallback number, got %q", evt.Phone)
	}
	if evt.EventID == "" || evt.Type != event.TypeCallEvent {
		t.Fatal("event id or type missing")
	}
}

func TestMissedCallHasZeroDuration(t *testing.T) {
	tracker, capture := newTestTracker(historyFunc(func(context.Context) (*CallInfo, error) {
		// History reports stale duration from an earlier call; missed calls
		// must still come out as zero.
		return &CallInfo{Phone: "5551234567", DurationSeconds: 42}, nil
	}))
	defer tracker.Stop()

	tracker.OnSignal(Signal{State: StateRinging, Number: "5551234567"})
	tracker.OnSignal(Signal{State: StateIdle})

	evt := waitEvent(t, capture)
	if evt.Direction != event.DirectionMissed {
		t.Fatalf("expected missed, got %s", evt.Direction)
	}
	if evt.DurationSeconds != 0 {
		t.Fatalf("expected zero duration, got %d", evt.DurationSeconds)
	}
}

func TestOutgoingCallUsesHistoryValues(t *testing.T) {
	tracker, capture := newTestTracker(historyFunc(func(context.Context) (*CallInfo, error) {
		return &CallInfo{Phone: "5559876543", ContactName: "Dana", DurationSeconds: 33}, nil
	}))
	defer tracker.Stop()

	tracker.OnSignal(Signal{State: StateOffHook})
	tracker.OnSignal(Signal{State: StateIdle})

	evt := waitEvent(t, capture)
	if evt.Direction != event.DirectionOutgoing {
		t.Fatalf("expected outgoing, got %s", evt.Direction)
	}
	if evt.Phone != "5559876543" || evt.ContactName != "Dana" {
		t.Fatalf("history values not preferred: %+v", evt)
	}
	if evt.DurationSeconds != 33 {
		t.Fatalf("expected history duration, got %d", evt.DurationSeconds)
	}
}

func TestAnsweredCallPrefersHistoryDurationEvenWhenZero(t *testing.T) {
	tracker, capture := newTestTracker(historyFunc(func(context.Context) (*CallInfo, error) {
		return &CallInfo{Phone: "5551234567", DurationSeconds: 0}, nil
	}))
	defer tracker.Stop()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	tracker.OnSignal(Signal{State: StateRinging, Number: "5551234567"})
	tracker.OnSignal(Signal{State: StateOffHook})
	tracker.now = func() time.Time { return base.Add(10 * time.Second) }
	tracker.OnSignal(Signal{State: StateIdle})

	evt := waitEvent(t, capture)
	if evt.Direction != event.DirectionIncoming {
		t.Fatalf("expected incoming, got %s", evt.Direction)
	}
	if evt.DurationSeconds != 0 {
		t.Fatalf("history record must override the tracker estimate, got %d", evt.DurationSeconds)
	}
}

func TestEventDroppedWithoutAnyNumber(t *testing.T) {
	tracker, capture := newTestTracker(historyFunc(func(context.Context) (*CallInfo, error) {
		return nil, nil
	}))
	defer tracker.Stop()

	tracker.OnSignal(Signal{State: StateOffHook})
	tracker.OnSignal(Signal{State: StateIdle})

	expectNoEvent(t, capture)
}

func TestSignalsIgnoredWhileStopped(t *testing.T) {
	tracker, capture := newTestTracker(historyFunc(func(context.Context) (*CallInfo, error) {
		return nil, nil
	}))
	tracker.Stop()

	tracker.OnSignal(Signal{State: StateRinging, Number: "5551234567"})
	tracker.OnSignal(Signal{State: StateIdle})

	expectNoEvent(t, capture)
}

func TestStopCancelsPendingEmission(t *testing.T) {
	capture := newCaptureRouter()
	tracker := New(Config{SettleDelay: 200 * time.Millisecond}, historyFunc(func(context.Context) (*CallInfo, error) {
		return nil, nil
	}), capture, nopSink{}, nil, discardLogger())
	tracker.Start()

	tracker.OnSignal(Signal{State: StateRinging, Number: "5551234567"})
	tracker.OnSignal(Signal{State: StateIdle})
	tracker.Stop()

	select {
	case evt := <-capture.events:
		t.Fatalf("emission should have been cancelled, got %+v", evt)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestUnknownSignalIsIgnored(t *testing.T) {
	tracker, capture := newTestTracker(historyFunc(func(context.Context) (*CallInfo, error) {
		return nil, nil
	}))
	defer tracker.Stop()

	tracker.OnSignal(Signal{State: "WEIRD", Number: "5551234567"})
	tracker.OnSignal(Signal{State: StateRinging, Number: "5551234567"})
	tracker.OnSignal(Signal{State: StateIdle})

	evt := waitEvent(t, capture)
	if evt.Direction != event.DirectionMissed {
		t.Fatalf("expected missed after ignored signal, got %s", evt.Direction)
	}
}

func TestWakeLeaseLifecycle(t *testing.T) {
	lease := NewWakeLease(50*time.Millisecond, discardLogger())

	lease.Acquire()
	if !lease.Held() {
		t.Fatal("expected lease held after acquire")
	}

	lease.Release()
	if lease.Held() {
		t.Fatal("expected lease released")
	}

	// Auto-release after max hold.
	lease.Acquire()
	time.Sleep(150 * time.Millisecond)
	if lease.Held() {
		t.Fatal("expected auto-release after max hold")
	}

	// Release on an already released lease is a no-op.
	lease.Release()
}

package sms

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receiveOutcome(t *testing.T, done <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestPendingAllSegmentsDelivered(t *testing.T) {
	pending := NewPending(testLogger())
	done := pending.Register([]string{"ref-1", "ref-2"}, 0)

	if !pending.Resolve("ref-1", StatusSent, "") {
		t.Fatal("expected ref-1 to be known")
	}
	select {
	case out := <-done:
		t.Fatalf("outcome delivered before all segments settled: %+v", out)
	default:
	}

	if !pending.Resolve("ref-2", StatusDelivered, "") {
		t.Fatal("expected ref-2 to be known")
	}
	out := receiveOutcome(t, done)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
}

func TestPendingFirstFailureSettlesSend(t *testing.T) {
	pending := NewPending(testLogger())
	done := pending.Register([]string{"ref-1", "ref-2"}, 0)

	pending.Resolve("ref-1", StatusFailed, "no credit")

	out := receiveOutcome(t, done)
	if out.Success || out.Reason != "no credit" {
		t.Fatalf("expected failure with gateway reason, got %+v", out)
	}

	// Remaining refs were torn down with the send.
	if pending.Resolve("ref-2", StatusSent, "") {
		t.Fatal("expected ref-2 to be unknown after failure")
	}
}

func TestPendingFailureWithoutReason(t *testing.T) {
	pending := NewPending(testLogger())
	done := pending.Register([]string{"ref-1"}, 0)

	pending.Resolve("ref-1", "rejected", "")

	out := receiveOutcome(t, done)
	if out.Success || out.Reason != "segment failed with status rejected" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestPendingTimeout(t *testing.T) {
	pending := NewPending(testLogger())
	done := pending.Register([]string{"ref-1"}, 20*time.Millisecond)

	out := receiveOutcome(t, done)
	if out.Success || out.Reason != "delivery report timeout" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	if pending.Resolve("ref-1", StatusSent, "") {
		t.Fatal("expected ref to be gone after timeout")
	}
}

func TestPendingReportBeforeSealIsNotLost(t *testing.T) {
	pending := NewPending(testLogger())
	reg := pending.Begin()
	reg.Track("ref-1")

	// Report for the first segment lands while the second is still in flight.
	if !pending.Resolve("ref-1", StatusDelivered, "") {
		t.Fatal("expected ref-1 to resolve before the ref set is sealed")
	}

	reg.Track("ref-2")
	done := reg.Seal(0)

	select {
	case out := <-done:
		t.Fatalf("outcome delivered with ref-2 still pending: %+v", out)
	default:
	}

	pending.Resolve("ref-2", StatusSent, "")
	out := receiveOutcome(t, done)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
}

func TestPendingEarlyFailureKeepsReason(t *testing.T) {
	pending := NewPending(testLogger())
	reg := pending.Begin()
	reg.Track("ref-1")

	pending.Resolve("ref-1", StatusFailed, "no credit")

	// Later refs of an already failed send are never tracked.
	reg.Track("ref-2")
	out := receiveOutcome(t, reg.Seal(0))
	if out.Success || out.Reason != "no credit" {
		t.Fatalf("expected early failure reason to survive sealing, got %+v", out)
	}
	if pending.Resolve("ref-2", StatusSent, "") {
		t.Fatal("expected ref-2 to be unknown after failure")
	}
}

func TestPendingAllReportsBeforeSeal(t *testing.T) {
	pending := NewPending(testLogger())
	reg := pending.Begin()
	reg.Track("ref-1")

	pending.Resolve("ref-1", StatusDelivered, "")

	out := receiveOutcome(t, reg.Seal(time.Minute))
	if !out.Success {
		t.Fatalf("expected immediate success at seal, got %+v", out)
	}
}

func TestPendingAbandonClearsRefs(t *testing.T) {
	pending := NewPending(testLogger())
	reg := pending.Begin()
	reg.Track("ref-1")
	reg.Track("ref-2")

	reg.Abandon("send cancelled")

	if pending.Resolve("ref-1", StatusSent, "") {
		t.Fatal("expected ref-1 to be gone after abandon")
	}
	if pending.Resolve("ref-2", StatusFailed, "late") {
		t.Fatal("expected ref-2 to be gone after abandon")
	}
}

func TestPendingUnknownRef(t *testing.T) {
	pending := NewPending(testLogger())
	if pending.Resolve("never-registered", StatusSent, "") {
		t.Fatal("expected unknown ref to report false")
	}
}

func TestPendingNoSegments(t *testing.T) {
	pending := NewPending(testLogger())
	out := receiveOutcome(t, pending.Register(nil, 0))
	if out.Success {
		t.Fatal("expected failure when nothing was submitted")
	}
}

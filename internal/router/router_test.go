package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callflow/internal/event"
	"callflow/internal/rules"
	"callflow/internal/sms"
)

type sendCall struct {
	Phone          string
	Body           string
	AttachmentPath string
	Line           int
}

type fakeChannel struct {
	outcome sms.Outcome
	calls   chan sendCall
}

func newFakeChannel(outcome sms.Outcome) *fakeChannel {
	return &fakeChannel{outcome: outcome, calls: make(chan sendCall, 4)}
}

func (c *fakeChannel) Send(ctx context.Context, phone, body, attachmentPath string, line int) sms.Outcome {
	c.calls <- sendCall{Phone: phone, Body: body, AttachmentPath: attachmentPath, Line: line}
	return c.outcome
}

func (c *fakeChannel) Segments(body string) int {
	return sms.SegmentCount(body)
}

type captureSink struct {
	mu       sync.Mutex
	errors   []string
	messages []event.MessageLog
}

func (s *captureSink) CallEvent(event.CallEvent) {}

func (s *captureSink) MessageLog(msg event.MessageLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *captureSink) Error(code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, code)
}

func (s *captureSink) errorCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

func (s *captureSink) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type allowLookup struct{}

func (allowLookup) IsContact(context.Context, string) rules.ContactResult {
	return rules.ContactYes
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const routerConfig = `{
	"business_name": "Acme Plumbing",
	"plan": "sms",
	"rules": {
		"unique_per_day": true,
		"sms": {"enabled": true, "missed_template_id": 7},
		"sms_sim_slot": 2
	},
	"templates": [{"id": 7, "body": "Sorry we missed you - {{business_name}}"}]
}`

func newTestRouter(t *testing.T, channel sms.Channel, sink event.Sink) (*Router, *rules.Engine) {
	t.Helper()
	engine := rules.NewEngine(rules.NewSentRegistry(), allowLookup{}, testLogger())
	require.NoError(t, engine.UpdateConfig([]byte(routerConfig)))
	r := New(engine, channel, nil, nil, nil, sink, nil, testLogger())
	t.Cleanup(r.Shutdown)
	return r, engine
}

func routePayload(t *testing.T, r *Router, evt event.CallEvent) {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	r.Route(payload)
}

func missedEvent(id string) event.CallEvent {
	return event.CallEvent{
		Type:      event.TypeCallEvent,
		Phone:     "5551234567",
		Direction: event.DirectionMissed,
		EventID:   id,
	}
}

func TestRouteProceedSendsRenderedMessage(t *testing.T) {
	channel := newFakeChannel(sms.Outcome{Success: true})
	sink := &captureSink{}
	r, engine := newTestRouter(t, channel, sink)

	routePayload(t, r, missedEvent("evt-1"))

	select {
	case call := <-channel.calls:
		assert.Equal(t, "5551234567", call.Phone)
		assert.Equal(t, "Sorry we missed you - Acme Plumbing", call.Body)
		assert.Equal(t, 2, call.Line)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was never invoked")
	}

	require.Eventually(t, func() bool {
		return sink.messageCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "message log not emitted")

	// The successful send must feed the daily dedupe.
	verdict := engine.Evaluate(context.Background(), missedEvent("evt-2"))
	assert.False(t, verdict.Proceed)
	assert.Equal(t, "Already messaged today", verdict.Reason)
}

type staticNames struct {
	name string
}

func (s staticNames) LookupContactName(context.Context, string) string {
	return s.name
}

func TestRouteFillsContactNameFromLookup(t *testing.T) {
	cfg := `{
		"business_name": "Acme",
		"plan": "sms",
		"rules": {"sms": {"enabled": true, "missed_template_id": 7}},
		"templates": [{"id": 7, "body": "Hi {{contact_name}}, sorry we missed you"}]
	}`
	engine := rules.NewEngine(rules.NewSentRegistry(), allowLookup{}, testLogger())
	require.NoError(t, engine.UpdateConfig([]byte(cfg)))

	channel := newFakeChannel(sms.Outcome{Success: true})
	r := New(engine, channel, nil, nil, staticNames{name: "Dana"}, &captureSink{}, nil, testLogger())
	t.Cleanup(r.Shutdown)

	evt := missedEvent("evt-1")
	evt.ContactName = "" // bridge-ingress events may arrive without a name
	routePayload(t, r, evt)

	select {
	case call := <-channel.calls:
		assert.Equal(t, "Hi Dana, sorry we missed you", call.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was never invoked")
	}
}

func TestRouteKeepsContactNameFromEvent(t *testing.T) {
	cfg := `{
		"plan": "sms",
		"rules": {"sms": {"enabled": true, "missed_template_id": 7}},
		"templates": [{"id": 7, "body": "Hi {{contact_name}}"}]
	}`
	engine := rules.NewEngine(rules.NewSentRegistry(), allowLookup{}, testLogger())
	require.NoError(t, engine.UpdateConfig([]byte(cfg)))

	channel := newFakeChannel(sms.Outcome{Success: true})
	r := New(engine, channel, nil, nil, staticNames{name: "Wrong"}, &captureSink{}, nil, testLogger())
	t.Cleanup(r.Shutdown)

	evt := missedEvent("evt-1")
	evt.ContactName = "Sam"
	routePayload(t, r, evt)

	select {
	case call := <-channel.calls:
		assert.Equal(t, "Hi Sam", call.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was never invoked")
	}
}

func TestRouteRejectedEventNeverReachesChannel(t *testing.T) {
	channel := newFakeChannel(sms.Outcome{Success: true})
	sink := &captureSink{}
	r, _ := newTestRouter(t, channel, sink)

	evt := missedEvent("evt-1")
	evt.Direction = event.DirectionIncoming // no incoming template bound
	routePayload(t, r, evt)

	select {
	case call := <-channel.calls:
		t.Fatalf("unexpected send: %+v", call)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Zero(t, sink.messageCount())
}

func TestRouteSendFailureReportsError(t *testing.T) {
	channel := newFakeChannel(sms.Outcome{Success: false, Reason: "gateway down"})
	sink := &captureSink{}
	r, engine := newTestRouter(t, channel, sink)

	routePayload(t, r, missedEvent("evt-1"))

	select {
	case <-channel.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("channel was never invoked")
	}

	require.Eventually(t, func() bool {
		codes := sink.errorCodes()
		return len(codes) == 1 && codes[0] == "send_failed"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sink.messageCount())

	// A failed send must not consume the daily budget; a retry can proceed.
	verdict := engine.Evaluate(context.Background(), missedEvent("evt-2"))
	assert.True(t, verdict.Proceed)
}

func TestRouteMalformedPayload(t *testing.T) {
	channel := newFakeChannel(sms.Outcome{Success: true})
	sink := &captureSink{}
	r, _ := newTestRouter(t, channel, sink)

	r.Route([]byte(`{not json`))

	require.Eventually(t, func() bool {
		codes := sink.errorCodes()
		return len(codes) == 1 && codes[0] == "bad_event"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouteDropsEventWithoutPhone(t *testing.T) {
	channel := newFakeChannel(sms.Outcome{Success: true})
	sink := &captureSink{}
	r, _ := newTestRouter(t, channel, sink)

	evt := missedEvent("evt-1")
	evt.Phone = ""
	routePayload(t, r, evt)

	select {
	case call := <-channel.calls:
		t.Fatalf("unexpected send: %+v", call)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Empty(t, sink.errorCodes())
}

func TestShutdownCancelsDelayedSend(t *testing.T) {
	cfg := `{
		"plan": "sms",
		"rules": {
			"delay_seconds": 30,
			"sms": {"enabled": true, "missed_template_id": 7}
		},
		"templates": [{"id": 7, "body": "hi"}]
	}`
	engine := rules.NewEngine(rules.NewSentRegistry(), allowLookup{}, testLogger())
	require.NoError(t, engine.UpdateConfig([]byte(cfg)))

	channel := newFakeChannel(sms.Outcome{Success: true})
	r := New(engine, channel, nil, nil, nil, &captureSink{}, nil, testLogger())

	routePayload(t, r, missedEvent("evt-1"))
	time.Sleep(50 * time.Millisecond) // let the worker reach the delay
	r.Shutdown()

	select {
	case call := <-channel.calls:
		t.Fatalf("delayed send should have been cancelled: %+v", call)
	case <-time.After(300 * time.Millisecond):
	}
}

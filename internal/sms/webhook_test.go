package sms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func postReport(handler http.Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/delivery", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Gateway-Secret", secret)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookResolvesPendingSend(t *testing.T) {
	pending := NewPending(testLogger())
	done := pending.Register([]string{"ref-1"}, 0)
	handler := NewWebhookHandler(testLogger(), nil, "", pending)

	rec := postReport(handler, "", `{"message_ref":"ref-1","status":"delivered"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case out := <-done:
		if !out.Success {
			t.Fatalf("expected success, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("outcome not delivered")
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	handler := NewWebhookHandler(testLogger(), nil, "s3cret", NewPending(testLogger()))

	if rec := postReport(handler, "wrong", `{"message_ref":"ref-1","status":"sent"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := postReport(handler, "s3cret", `{"message_ref":"ref-1","status":"sent"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid secret, got %d", rec.Code)
	}
}

func TestWebhookValidation(t *testing.T) {
	handler := NewWebhookHandler(testLogger(), nil, "", NewPending(testLogger()))

	if rec := postReport(handler, "", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
	if rec := postReport(handler, "", `{"status":"sent"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing ref, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/webhook/delivery", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

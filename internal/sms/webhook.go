package sms

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"callflow/internal/metrics"
)

// deliveryReport is one gateway callback for a single segment.
type deliveryReport struct {
	MessageRef string `json:"message_ref"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
}

// WebhookHandler receives asynchronous delivery reports from the gateway and
// resolves them against the pending-send table.
type WebhookHandler struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	secret  string
	pending *Pending
}

// NewWebhookHandler creates a delivery-report webhook handler. When secret is
// non-empty, requests must carry it in the X-Gateway-Secret header.
func NewWebhookHandler(logger *slog.Logger, metricRegistry *metrics.Metrics, secret string, pending *Pending) *WebhookHandler {
	return &WebhookHandler{
		logger:  logger.With("component", "delivery_webhook"),
		metrics: metricRegistry,
		secret:  secret,
		pending: pending,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.secret != "" && strings.TrimSpace(r.Header.Get("X-Gateway-Secret")) != h.secret {
		if h.metrics != nil {
			h.metrics.Errors.WithLabelValues("delivery_webhook_auth").Inc()
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var report deliveryReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		if h.metrics != nil {
			h.metrics.Errors.WithLabelValues("delivery_webhook").Inc()
		}
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if report.MessageRef == "" {
		http.Error(w, "message_ref is required", http.StatusBadRequest)
		return
	}

	known := h.pending.Resolve(report.MessageRef, report.Status, report.Reason)
	if !known {
		h.logger.Debug("ignoring report for unknown or settled send", "ref", report.MessageRef)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

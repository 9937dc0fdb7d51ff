package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"callflow/internal/callstate"
	"callflow/internal/metrics"
	"callflow/internal/router"
	"callflow/internal/rules"
	"callflow/internal/sms"
	"callflow/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies groups the core components the HTTP surface drives.
type Dependencies struct {
	Engine  *rules.Engine
	Tracker *callstate.Tracker
	Router  *router.Router
	Store   store.Store
	Channel sms.Channel
	Hub     *StreamHub
}

// Server wraps an http.Server with the bridge-facing routes.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	metrics         *metrics.Metrics
	deps            Dependencies
	deliveryWebhook http.Handler
}

// New creates the HTTP server listening on addr.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deliveryWebhook http.Handler, deps Dependencies) *Server {
	server := &Server{
		logger:          logger.With("component", "http"),
		metrics:         metricRegistry,
		deps:            deps,
		deliveryWebhook: deliveryWebhook,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/config", server.handleConfig)
	mux.HandleFunc("/v1/phone-state", server.handlePhoneState)
	mux.HandleFunc("/v1/call-event", server.handleCallEvent)
	mux.HandleFunc("/v1/segments", server.handleSegments)
	mux.HandleFunc("/v1/messages", server.handleMessages)
	mux.HandleFunc("/v1/monitoring", server.handleMonitoring)
	mux.HandleFunc("/v1/monitoring/start", server.handleMonitoringStart)
	mux.HandleFunc("/v1/monitoring/stop", server.handleMonitoringStop)

	if deps.Hub != nil {
		mux.Handle("/v1/events", deps.Hub)
	}
	if deliveryWebhook != nil {
		mux.Handle("/webhook/delivery", deliveryWebhook)
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig applies a configuration update payload. On success the payload
// is also written through to durable storage; a malformed payload leaves the
// previous snapshot authoritative.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := s.deps.Engine.UpdateConfig(payload); err != nil {
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("config_parse").Inc()
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid config payload"})
		return
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveRuleConfig(r.Context(), payload); err != nil {
			s.logger.Warn("persist rule config failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePhoneState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var sig callstate.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	s.deps.Tracker.OnSignal(sig)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCallEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	s.deps.Router.Route(payload)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleSegments answers the segmentation-count query used for UI display.
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := r.URL.Query().Get("body")
	writeJSON(w, http.StatusOK, map[string]int{"segments": s.deps.Channel.Segments(body)})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Store == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	records, err := s.deps.Store.ListRecentMessageLogs(r.Context(), 50)
	if err != nil {
		s.logger.Error("list message logs failed", "error", err)
		http.Error(w, "failed to list messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": records})
}

func (s *Server) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": s.deps.Tracker.IsMonitoring()})
}

func (s *Server) handleMonitoringStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Tracker.Start()
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": true})
}

func (s *Server) handleMonitoringStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Tracker.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": false})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

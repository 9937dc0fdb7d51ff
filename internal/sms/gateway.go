package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"callflow/internal/cache"
	"callflow/internal/metrics"
)

const defaultLineCacheTTL = 5 * time.Minute

// Line is one active originating identity on the gateway.
type Line struct {
	ID     string `json:"id"`
	MSISDN string `json:"msisdn"`
	Label  string `json:"label"`
}

// Config holds gateway client configuration.
type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	DeliveryTimeout time.Duration
}

// Gateway is the SMS channel backed by an HTTP gateway. Segments are
// submitted synchronously; the final outcome arrives asynchronously through
// the delivery-report webhook and is aggregated by the pending table.
type Gateway struct {
	logger          *slog.Logger
	baseURL         string
	apiKey          string
	http            *http.Client
	metrics         *metrics.Metrics
	cache           *cache.Redis
	pending         *Pending
	deliveryTimeout time.Duration
	lineTTL         time.Duration
}

// NewGateway creates a gateway channel.
func NewGateway(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		logger:          logger.With("component", "sms_gateway"),
		baseURL:         cfg.BaseURL,
		apiKey:          cfg.APIKey,
		http:            &http.Client{Timeout: timeout},
		metrics:         metricRegistry,
		cache:           redis,
		pending:         NewPending(logger),
		deliveryTimeout: cfg.DeliveryTimeout,
		lineTTL:         defaultLineCacheTTL,
	}
}

// Pending exposes the pending-send table so the delivery webhook can resolve
// reports into outcomes.
func (g *Gateway) Pending() *Pending {
	return g.pending
}

// Segments implements Channel.
func (g *Gateway) Segments(body string) int {
	return SegmentCount(body)
}

// Send submits every segment of the message on the selected originating line
// and blocks until the aggregated delivery outcome, a timeout or context
// cancellation. Exactly one outcome is returned per call.
func (g *Gateway) Send(ctx context.Context, phone, body, attachmentPath string, line int) Outcome {
	lineID := g.resolveLine(ctx, line)
	parts := SplitSegments(body)
	if g.metrics != nil {
		g.metrics.SMSSegments.Observe(float64(len(parts)))
	}

	started := time.Now()
	// Each ref is tracked the moment its submit returns, so a delivery report
	// racing the next segment's submission still resolves against this send.
	reg := g.pending.Begin()
	for i, part := range parts {
		req := submitRequest{
			To:     phone,
			Body:   part,
			LineID: lineID,
			Part:   i + 1,
			Of:     len(parts),
		}
		if i == 0 {
			req.AttachmentPath = attachmentPath
		}
		ref, err := g.submitSegment(ctx, req)
		if err != nil {
			g.logger.Error("segment submit failed", "part", i+1, "of", len(parts), "error", err)
			if g.metrics != nil {
				g.metrics.SMSOutcomes.WithLabelValues("failure").Inc()
			}
			reg.Abandon("submit failed")
			return Outcome{Success: false, Reason: fmt.Sprintf("submit segment %d/%d: %v", i+1, len(parts), err)}
		}
		reg.Track(ref)
	}

	done := reg.Seal(g.deliveryTimeout)

	var outcome Outcome
	select {
	case outcome = <-done:
	case <-ctx.Done():
		outcome = Outcome{Success: false, Reason: "send cancelled"}
		reg.Abandon("send cancelled")
	}

	if g.metrics != nil {
		g.metrics.SMSSendDuration.Observe(time.Since(started).Seconds())
		label := "failure"
		if outcome.Success {
			label = "success"
		}
		g.metrics.SMSOutcomes.WithLabelValues(label).Inc()
	}
	return outcome
}

type submitRequest struct {
	To             string `json:"to"`
	Body           string `json:"body"`
	LineID         string `json:"line_id,omitempty"`
	AttachmentPath string `json:"attachment_path,omitempty"`
	Part           int    `json:"part"`
	Of             int    `json:"of"`
}

type submitResponse struct {
	MessageRef string `json:"message_ref"`
	Error      string `json:"error"`
}

func (g *Gateway) submitSegment(ctx context.Context, payload submitRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		g.countRequest("messages", "transport_error")
		return "", fmt.Errorf("submit segment: %w", err)
	}
	defer resp.Body.Close()
	g.countRequest("messages", strconv.Itoa(resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read submit response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed submitResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse submit response: %w", err)
	}
	if parsed.MessageRef == "" {
		return "", fmt.Errorf("gateway accepted segment without message ref")
	}
	return parsed.MessageRef, nil
}

// resolveLine maps a configured line index to a gateway line id. Index 0 is
// the gateway default; out-of-range or unavailable indexes fall back to it.
func (g *Gateway) resolveLine(ctx context.Context, index int) string {
	if index <= 0 {
		return ""
	}
	lines, err := g.Lines(ctx)
	if err != nil {
		g.logger.Warn("line enumeration failed, using default line", "error", err)
		return ""
	}
	if index >= len(lines) {
		g.logger.Warn("line index out of range, using default line", "index", index, "lines", len(lines))
		return ""
	}
	return lines[index].ID
}

// Lines enumerates the active originating lines, cached briefly in Redis.
func (g *Gateway) Lines(ctx context.Context) ([]Line, error) {
	const cacheKey = "callflow:gateway:lines"
	if g.cache != nil {
		var cached []Line
		ok, err := g.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			g.logger.Warn("read line cache failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/lines", nil)
	if err != nil {
		return nil, fmt.Errorf("build lines request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		g.countRequest("lines", "transport_error")
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer resp.Body.Close()
	g.countRequest("lines", strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned %d listing lines", resp.StatusCode)
	}

	var lines []Line
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		return nil, fmt.Errorf("parse lines response: %w", err)
	}

	if g.cache != nil {
		if err := g.cache.SetJSON(ctx, cacheKey, lines, g.lineTTL); err != nil {
			g.logger.Warn("set line cache failed", "error", err)
		}
	}
	return lines, nil
}

func (g *Gateway) countRequest(endpoint, status string) {
	if g.metrics != nil {
		g.metrics.GatewayRequests.WithLabelValues(endpoint, status).Inc()
	}
}

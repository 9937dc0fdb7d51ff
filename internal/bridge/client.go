// Package bridge talks to the platform app-shell over its local HTTP API.
// The shell owns the contact database and the platform call log; this client
// only performs simple read-only queries against it.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"callflow/internal/callstate"
	"callflow/internal/metrics"
	"callflow/internal/rules"
)

// Config holds bridge client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client queries the app-shell bridge. Permission problems on the device
// surface as HTTP 403 and are reported as "unavailable" rather than errors,
// so rule checks can degrade to their permissive defaults.
type Client struct {
	logger  *slog.Logger
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

// New creates a bridge client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "bridge"),
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		metrics: metricRegistry,
	}
}

type contactResponse struct {
	Found bool   `json:"found"`
	Name  string `json:"name"`
}

// IsContact implements rules.ContactLookup.
func (c *Client) IsContact(ctx context.Context, phone string) rules.ContactResult {
	resp, err := c.lookupContact(ctx, phone)
	if err != nil {
		c.logger.Warn("contact lookup failed", "error", err)
		c.countError("bridge_contacts")
		return rules.ContactUnavailable
	}
	if resp == nil {
		return rules.ContactUnavailable
	}
	if resp.Found {
		return rules.ContactYes
	}
	return rules.ContactNo
}

// LookupContactName returns the display name for phone, or empty when the
// number is unknown or the lookup is unavailable.
func (c *Client) LookupContactName(ctx context.Context, phone string) string {
	resp, err := c.lookupContact(ctx, phone)
	if err != nil || resp == nil {
		return ""
	}
	return resp.Name
}

func (c *Client) lookupContact(ctx context.Context, phone string) (*contactResponse, error) {
	endpoint := fmt.Sprintf("%s/contacts/lookup?phone=%s", c.baseURL, url.QueryEscape(phone))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build contact request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		// Contacts permission denied on the device.
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("bridge returned %d for contact lookup", resp.StatusCode)
	}

	var parsed contactResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse contact response: %w", err)
	}
	return &parsed, nil
}

// LatestCall implements callstate.CallHistory. A nil result means the call
// log had no data or could not be read.
func (c *Client) LatestCall(ctx context.Context) (*callstate.CallInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/calllog/latest", nil)
	if err != nil {
		return nil, fmt.Errorf("build call log request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.countError("bridge_calllog")
		return nil, fmt.Errorf("read call log: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusForbidden:
		c.logger.Debug("call log permission denied")
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("bridge returned %d for call log", resp.StatusCode)
	}

	var info callstate.CallInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("parse call log response: %w", err)
	}
	return &info, nil
}

func (c *Client) countError(component string) {
	if c.metrics != nil {
		c.metrics.Errors.WithLabelValues(component).Inc()
	}
}

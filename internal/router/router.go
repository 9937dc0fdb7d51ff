package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"callflow/internal/cache"
	"callflow/internal/event"
	"callflow/internal/metrics"
	"callflow/internal/rules"
	"callflow/internal/sms"
	"callflow/internal/store"
)

// eventGuardTTL bounds how long an event id is remembered for the
// consumed-exactly-once guarantee.
const eventGuardTTL = 24 * time.Hour

// ContactNames resolves a display name for a phone number. An empty result
// means the number is unknown or the lookup is unavailable.
type ContactNames interface {
	LookupContactName(ctx context.Context, phone string) string
}

// Router consumes call events, runs them through the rule engine and executes
// proceed verdicts on the SMS channel.
type Router struct {
	engine  *rules.Engine
	channel sms.Channel
	store   store.Store
	cache   *cache.Redis
	names   ContactNames
	sink    event.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a router. The cache, store and names collaborators may be nil;
// the corresponding steps (duplicate guard, message-log persistence, contact
// name enrichment) are then skipped.
func New(engine *rules.Engine, channel sms.Channel, st store.Store, redis *cache.Redis, names ContactNames, sink event.Sink, metricRegistry *metrics.Metrics, logger *slog.Logger) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		engine:  engine,
		channel: channel,
		store:   st,
		cache:   redis,
		names:   names,
		sink:    sink,
		metrics: metricRegistry,
		logger:  logger.With("component", "router"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Shutdown aborts pending delays and in-flight outcome waits. Transport-level
// sends already submitted to the gateway are not aborted.
func (r *Router) Shutdown() {
	r.cancel()
}

// Route consumes one encoded call event, fire-and-forget. Decoding, rule
// evaluation, the configured delay and the channel send all run on a worker
// goroutine so the caller returns immediately.
func (r *Router) Route(payload []byte) {
	go r.process(payload)
}

func (r *Router) process(payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic recovered in router", "panic", rec)
			if r.metrics != nil {
				r.metrics.Errors.WithLabelValues("router_panic").Inc()
			}
		}
	}()

	var evt event.CallEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		r.logger.Error("bad call event payload", "error", err)
		r.sink.Error("bad_event", err.Error())
		return
	}
	if evt.Phone == "" || !evt.Direction.Valid() {
		r.logger.Warn("call event missing phone or direction, dropping", "event_id", evt.EventID)
		return
	}

	if !r.claimEvent(evt.EventID) {
		r.logger.Debug("duplicate call event, dropping", "event_id", evt.EventID)
		return
	}

	verdict := r.engine.Evaluate(r.ctx, evt)
	if r.metrics != nil {
		label := "reject"
		if verdict.Proceed {
			label = "proceed"
		}
		r.metrics.Evaluations.WithLabelValues(label).Inc()
		if !verdict.Proceed {
			r.metrics.Rejections.WithLabelValues(verdict.Reason).Inc()
		}
	}
	if !verdict.Proceed {
		r.logger.Info("call event rejected",
			"event_id", evt.EventID,
			"direction", evt.Direction,
			"reason", verdict.Reason,
		)
		return
	}

	if verdict.Delay > 0 {
		select {
		case <-time.After(verdict.Delay):
		case <-r.ctx.Done():
			r.logger.Info("delayed send cancelled", "event_id", evt.EventID)
			return
		}
	}

	contactName := evt.ContactName
	if contactName == "" && r.names != nil {
		contactName = r.names.LookupContactName(r.ctx, evt.Phone)
	}

	body := RenderTemplate(verdict.TemplateBody, map[string]string{
		"business_name": r.engine.BusinessName(),
		"contact_name":  contactName,
		"phone":         evt.Phone,
	})
	segments := r.channel.Segments(body)

	outcome := r.channel.Send(r.ctx, evt.Phone, body, verdict.AttachmentPath, verdict.Line)
	if !outcome.Success {
		r.logger.Error("sms send failed",
			"event_id", evt.EventID,
			"reason", outcome.Reason,
		)
		r.sink.Error("send_failed", fmt.Sprintf("sms to %s: %s", rules.NormalizePhone(evt.Phone), outcome.Reason))
		r.recordMessage(evt, body, segments, verdict.Line, "failed")
		return
	}

	r.engine.MarkSent(evt.Phone)
	r.recordMessage(evt, body, segments, verdict.Line, "sent")
	r.sink.MessageLog(event.MessageLog{
		Phone:     evt.Phone,
		Body:      body,
		Channel:   "sms",
		Line:      verdict.Line,
		Segments:  segments,
		EventID:   evt.EventID,
		Timestamp: time.Now().UnixMilli(),
	})
	r.logger.Info("sms sent",
		"event_id", evt.EventID,
		"direction", evt.Direction,
		"segments", segments,
	)
}

// claimEvent reports whether this router is the first consumer of the event.
// Guard failures are fail-open: a broken cache must not stop sending.
func (r *Router) claimEvent(eventID string) bool {
	if r.cache == nil || eventID == "" {
		return true
	}
	first, err := r.cache.MarkOnce(r.ctx, "callflow:event:"+eventID, eventGuardTTL)
	if err != nil {
		r.logger.Warn("event guard unavailable", "error", err)
		return true
	}
	return first
}

func (r *Router) recordMessage(evt event.CallEvent, body string, segments, line int, status string) {
	if r.store == nil {
		return
	}
	entry := store.MessageLogRecord{
		ID:       uuid.NewString(),
		EventID:  evt.EventID,
		Phone:    evt.Phone,
		Body:     body,
		Channel:  "sms",
		Line:     line,
		Segments: segments,
		Status:   status,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.InsertMessageLog(ctx, entry); err != nil {
		r.logger.Warn("persist message log failed", "error", err)
		if r.metrics != nil {
			r.metrics.Errors.WithLabelValues("message_log").Inc()
		}
	}
}

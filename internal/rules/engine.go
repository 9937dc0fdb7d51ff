package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callflow/internal/event"
)

// ContactResult is the tri-state answer of a contact-membership lookup, so
// policy can tell "not a contact" apart from "could not determine".
type ContactResult int

const (
	ContactNo ContactResult = iota
	ContactYes
	ContactUnavailable
)

// ContactLookup resolves whether a phone number belongs to a saved contact.
// Implementations must be idempotent and side-effect free; permission or
// transport problems are reported as ContactUnavailable, never as an error
// that aborts evaluation.
type ContactLookup interface {
	IsContact(ctx context.Context, phone string) ContactResult
}

// Evaluation is the outcome of running a call event through the rule pipeline.
// Reason is informational only; callers must not branch on its text.
type Evaluation struct {
	Proceed        bool
	Reason         string
	TemplateBody   string
	AttachmentPath string
	Line           int
	Delay          time.Duration
}

func reject(reason string) Evaluation {
	return Evaluation{Reason: reason}
}

// Engine applies the active configuration snapshot to call events. A single
// read/write lock guards the snapshot and template store; updates replace
// them wholesale so a concurrent evaluation never observes a partial config.
type Engine struct {
	mu       sync.RWMutex
	snapshot *Snapshot

	registry *SentRegistry
	lookup   ContactLookup
	logger   *slog.Logger

	now func() time.Time
}

// NewEngine creates an engine with no configuration loaded. Until the first
// successful UpdateConfig every evaluation rejects.
func NewEngine(registry *SentRegistry, lookup ContactLookup, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		lookup:   lookup,
		logger:   logger.With("component", "rules"),
		now:      time.Now,
	}
}

// UpdateConfig parses payload and atomically replaces the active snapshot.
// On a parse error the previous snapshot stays authoritative.
func (e *Engine) UpdateConfig(payload []byte) error {
	snap, err := ParseSnapshot(payload)
	if err != nil {
		e.logger.Error("rule config rejected", "error", err)
		return err
	}

	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()

	smsEnabled := snap.Rules != nil && snap.Rules.SMS != nil && snap.Rules.SMS.Enabled
	e.logger.Info("rule config updated",
		"plan", snap.Plan,
		"templates", len(snap.Templates),
		"sms_enabled", smsEnabled,
	)
	return nil
}

// BusinessName returns the business name from the active snapshot.
func (e *Engine) BusinessName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snapshot == nil {
		return ""
	}
	return e.snapshot.BusinessName
}

// MarkSent records the event's number in the sent-today registry.
func (e *Engine) MarkSent(phone string) {
	e.registry.MarkSent(phone)
}

// Evaluate runs the fixed rule pipeline over one call event. The pipeline
// short-circuits on the first rejection; check order follows business
// priority: entitlement, schedule, exclusion, dedup, audience, channel.
func (e *Engine) Evaluate(ctx context.Context, evt event.CallEvent) Evaluation {
	e.mu.RLock()
	snap := e.snapshot
	e.mu.RUnlock()

	if snap == nil || snap.Rules == nil {
		return reject("No rule config")
	}
	rules := snap.Rules

	if snap.Plan == PlanNone {
		return reject("No active plan")
	}
	if snap.PlanExpiresAt > 0 && e.now().UnixMilli() > snap.PlanExpiresAt {
		return reject("Plan expired")
	}

	if wh := rules.WorkingHours; wh != nil && wh.Enabled {
		if !e.withinWorkingHours(wh) {
			return reject("Outside working hours")
		}
	}

	cleanPhone := NormalizePhone(evt.Phone)
	for _, excluded := range rules.ExcludedNumbers {
		suffix := NormalizePhone(excluded)
		if suffix != "" && strings.HasSuffix(cleanPhone, suffix) {
			return reject("Number excluded")
		}
	}

	if rules.UniquePerDay && e.registry.Contains(evt.Phone) {
		return reject("Already messaged today")
	}

	if cf := rules.ContactFilter; cf != nil && cf.Mode != "" && cf.Mode != FilterAll {
		switch e.lookup.IsContact(ctx, evt.Phone) {
		case ContactYes:
			if cf.Mode == FilterNonContactsOnly {
				return reject("Contact filtered")
			}
		case ContactNo:
			if cf.Mode == FilterContactsOnly {
				return reject("Non-contact filtered")
			}
		case ContactUnavailable:
			// Membership cannot be determined, fail open.
			e.logger.Warn("contact lookup unavailable, filter skipped", "mode", cf.Mode)
		}
	}

	var tmpl *Template
	if sms := rules.SMS; sms != nil && sms.Enabled {
		if planCoversSMS(snap.Plan) {
			if id := sms.TemplateIDFor(evt.Direction); id > 0 {
				if entry, ok := snap.Templates[id]; ok {
					tmpl = &entry
				}
			} else {
				e.logger.Debug("no template bound for direction", "direction", evt.Direction)
			}
		} else {
			e.logger.Debug("plan does not include sms", "plan", snap.Plan)
		}
	}
	if tmpl == nil {
		return reject(fmt.Sprintf("No SMS configured for %s calls", evt.Direction))
	}

	return Evaluation{
		Proceed:        true,
		TemplateBody:   tmpl.Body,
		AttachmentPath: tmpl.ImagePath,
		Line:           rules.SMSLine,
		Delay:          time.Duration(rules.DelaySeconds) * time.Second,
	}
}

// withinWorkingHours reports whether "now" falls strictly between today's
// configured start and end. Malformed time strings pass permissively.
func (e *Engine) withinWorkingHours(wh *WorkingHours) bool {
	start, err := time.Parse("15:04", wh.StartTime)
	if err != nil {
		e.logger.Warn("bad working hours start", "value", wh.StartTime)
		return true
	}
	end, err := time.Parse("15:04", wh.EndTime)
	if err != nil {
		e.logger.Warn("bad working hours end", "value", wh.EndTime)
		return true
	}

	now := e.now()
	startToday := time.Date(now.Year(), now.Month(), now.Day(), start.Hour(), start.Minute(), 0, 0, now.Location())
	endToday := time.Date(now.Year(), now.Month(), now.Day(), end.Hour(), end.Minute(), 0, 0, now.Location())
	return now.After(startToday) && now.Before(endToday)
}

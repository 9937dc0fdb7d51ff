package rules

import (
	"encoding/json"
	"fmt"

	"callflow/internal/event"
)

// Plan kinds. Anything unrecognised is treated as an entitlement the SMS
// channel does not cover.
const (
	PlanNone = "none"
	PlanSMS  = "sms"
)

// Contact filter modes.
const (
	FilterAll             = "all"
	FilterContactsOnly    = "contacts_only"
	FilterNonContactsOnly = "non_contacts_only"
)

// Template is one renderable message body with an optional attachment.
type Template struct {
	Body      string
	ImagePath string
}

// SMSChannel holds the per-direction template bindings for the SMS channel.
type SMSChannel struct {
	Enabled            bool  `json:"enabled"`
	IncomingTemplateID int64 `json:"incoming_template_id"`
	OutgoingTemplateID int64 `json:"outgoing_template_id"`
	MissedTemplateID   int64 `json:"missed_template_id"`
}

// TemplateIDFor returns the template id bound to the given call direction,
// or 0 when none is bound.
func (c *SMSChannel) TemplateIDFor(dir event.Direction) int64 {
	switch dir {
	case event.DirectionIncoming:
		return c.IncomingTemplateID
	case event.DirectionOutgoing:
		return c.OutgoingTemplateID
	case event.DirectionMissed:
		return c.MissedTemplateID
	}
	return 0
}

// WorkingHours is an optional local-time window outside of which nothing is sent.
type WorkingHours struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// ContactFilter restricts sending to contacts or non-contacts.
type ContactFilter struct {
	Mode string `json:"mode"`
}

// RuleSet is the rule portion of a configuration snapshot.
type RuleSet struct {
	WorkingHours    *WorkingHours  `json:"working_hours"`
	ExcludedNumbers []string       `json:"excluded_numbers"`
	UniquePerDay    bool           `json:"unique_per_day"`
	ContactFilter   *ContactFilter `json:"contact_filter"`
	DelaySeconds    int            `json:"delay_seconds"`
	SMSLine         int            `json:"sms_sim_slot"`
	SMS             *SMSChannel    `json:"sms"`
}

// Snapshot is the active rule configuration, plan entitlement and template
// store. It is immutable once built and replaced wholesale on every update.
type Snapshot struct {
	BusinessName  string
	Plan          string
	PlanExpiresAt int64
	Rules         *RuleSet
	Templates     map[int64]Template
}

type configPayload struct {
	BusinessName  string   `json:"business_name"`
	Plan          *string  `json:"plan"`
	PlanExpiresAt int64    `json:"plan_expires_at"`
	Rules         *RuleSet `json:"rules"`
	Templates     []struct {
		ID        int64   `json:"id"`
		Body      string  `json:"body"`
		ImagePath *string `json:"image_path"`
	} `json:"templates"`
}

// ParseSnapshot decodes a configuration update payload. Missing fields default
// permissively: an absent plan becomes "none", which rejects all evaluations.
// Templates with a non-positive id or empty body are dropped silently.
func ParseSnapshot(payload []byte) (*Snapshot, error) {
	var raw configPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse rule config: %w", err)
	}

	snap := &Snapshot{
		BusinessName:  raw.BusinessName,
		Plan:          PlanNone,
		PlanExpiresAt: raw.PlanExpiresAt,
		Rules:         raw.Rules,
		Templates:     make(map[int64]Template, len(raw.Templates)),
	}
	if raw.Plan != nil && *raw.Plan != "" {
		snap.Plan = *raw.Plan
	}

	for _, tmpl := range raw.Templates {
		if tmpl.ID <= 0 || tmpl.Body == "" {
			continue
		}
		entry := Template{Body: tmpl.Body}
		if tmpl.ImagePath != nil {
			entry.ImagePath = *tmpl.ImagePath
		}
		snap.Templates[tmpl.ID] = entry
	}

	return snap, nil
}

// planCoversSMS reports whether the plan kind includes SMS capability.
func planCoversSMS(plan string) bool {
	return plan == PlanSMS
}

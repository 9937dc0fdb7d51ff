package event

import (
	"time"

	"github.com/google/uuid"
)

// Direction classifies a completed call.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionMissed   Direction = "missed"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionIncoming, DirectionOutgoing, DirectionMissed:
		return true
	}
	return false
}

// TypeCallEvent is the discriminator carried by call event payloads.
const TypeCallEvent = "call_event"

// CallEvent describes one fully-observed phone call. It is created once per
// completed call and never mutated afterwards.
type CallEvent struct {
	Type            string    `json:"type"`
	Phone           string    `json:"phone"`
	ContactName     string    `json:"contact_name"`
	Direction       Direction `json:"direction"`
	DurationSeconds int       `json:"duration_seconds"`
	CallTimestamp   int64     `json:"call_timestamp"`
	EventID         string    `json:"event_id"`
}

// NewCallEvent builds a call event stamped with the current time and a fresh id.
func NewCallEvent(phone, contactName string, direction Direction, durationSeconds int) CallEvent {
	return CallEvent{
		Type:            TypeCallEvent,
		Phone:           phone,
		ContactName:     contactName,
		Direction:       direction,
		DurationSeconds: durationSeconds,
		CallTimestamp:   time.Now().UnixMilli(),
		EventID:         uuid.NewString(),
	}
}

// MessageLog describes one outbound message for the external stream.
type MessageLog struct {
	Phone     string `json:"phone"`
	Body      string `json:"body"`
	Channel   string `json:"channel"`
	Line      int    `json:"line"`
	Segments  int    `json:"segments"`
	EventID   string `json:"event_id"`
	Timestamp int64  `json:"timestamp"`
}

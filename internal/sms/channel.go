// Package sms implements the outbound messaging channel on top of an HTTP
// SMS gateway with asynchronous delivery reports.
package sms

import "context"

// Outcome is the single logical result of a send, covering all segments.
type Outcome struct {
	Success bool
	Reason  string
}

// Channel sends one logical message and blocks until its outcome is known.
// Exactly one outcome is produced per call; callers that must not block run
// Send on their own goroutine.
type Channel interface {
	Send(ctx context.Context, phone, body, attachmentPath string, line int) Outcome
	Segments(body string) int
}

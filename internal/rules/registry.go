package rules

import (
	"strings"
	"sync"
	"time"
)

// NormalizePhone strips everything but digits. All registry membership tests
// and exclusion matches operate on the normalized form.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SentRegistry tracks which normalized numbers were already messaged today.
// The stored set is valid only for its stored calendar date: every access
// first checks the current date and clears the set when the day has rolled
// over. The date check and the conditional clear are atomic with respect to
// concurrent callers.
type SentRegistry struct {
	mu      sync.Mutex
	date    string
	numbers map[string]struct{}

	now func() time.Time
}

// NewSentRegistry creates an empty registry.
func NewSentRegistry() *SentRegistry {
	return &SentRegistry{
		numbers: make(map[string]struct{}),
		now:     time.Now,
	}
}

// Contains reports whether the number was already messaged today.
func (r *SentRegistry) Contains(phone string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()
	_, ok := r.numbers[NormalizePhone(phone)]
	return ok
}

// MarkSent records the number as messaged today. Set semantics: marking the
// same number twice on one day is a no-op.
func (r *SentRegistry) MarkSent(phone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()
	r.numbers[NormalizePhone(phone)] = struct{}{}
}

// Len returns the number of entries recorded for the current day.
func (r *SentRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()
	return len(r.numbers)
}

func (r *SentRegistry) rolloverLocked() {
	today := r.now().Format("2006-01-02")
	if r.date != today {
		r.numbers = make(map[string]struct{})
		r.date = today
	}
}

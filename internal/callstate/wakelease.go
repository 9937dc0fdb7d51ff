package callstate

import (
	"log/slog"
	"sync"
	"time"
)

// WakeLease is a bounded keep-alive token held while call monitoring is
// active. It auto-releases after the maximum hold duration so a missed
// Release can never pin the resource indefinitely.
type WakeLease struct {
	mu      sync.Mutex
	held    bool
	timer   *time.Timer
	maxHold time.Duration
	logger  *slog.Logger
}

// NewWakeLease creates a lease with the given maximum hold duration.
func NewWakeLease(maxHold time.Duration, logger *slog.Logger) *WakeLease {
	if maxHold <= 0 {
		maxHold = 10 * time.Minute
	}
	return &WakeLease{
		maxHold: maxHold,
		logger:  logger.With("component", "wake_lease"),
	}
}

// Acquire takes the lease and arms the auto-release timer. Re-acquiring an
// already held lease re-arms the timer.
func (l *WakeLease) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.held = true
	l.timer = time.AfterFunc(l.maxHold, func() {
		l.logger.Warn("wake lease hit max hold, auto-releasing", "max_hold", l.maxHold)
		l.Release()
	})
}

// Release drops the lease. Safe to call on every exit path, held or not.
func (l *WakeLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.held = false
}

// Held reports whether the lease is currently held.
func (l *WakeLease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

package event

import "log/slog"

// Sink receives outbound notifications destined for the external app shell.
// Delivery is best-effort and one-directional; implementations must never
// block the caller for long.
type Sink interface {
	CallEvent(evt CallEvent)
	MessageLog(entry MessageLog)
	Error(code, message string)
}

// LogSink writes notifications to the structured log. It is the fallback sink
// used when no listener transport is attached.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by the provided logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "event_sink")}
}

func (s *LogSink) CallEvent(evt CallEvent) {
	s.logger.Info("call event",
		"event_id", evt.EventID,
		"direction", evt.Direction,
		"duration_seconds", evt.DurationSeconds,
	)
}

func (s *LogSink) MessageLog(entry MessageLog) {
	s.logger.Info("message sent",
		"event_id", entry.EventID,
		"channel", entry.Channel,
		"segments", entry.Segments,
	)
}

func (s *LogSink) Error(code, message string) {
	s.logger.Error("outbound error", "code", code, "message", message)
}

// MultiSink fans notifications out to several sinks.
type MultiSink []Sink

func (m MultiSink) CallEvent(evt CallEvent) {
	for _, s := range m {
		s.CallEvent(evt)
	}
}

func (m MultiSink) MessageLog(entry MessageLog) {
	for _, s := range m {
		s.MessageLog(entry)
	}
}

func (m MultiSink) Error(code, message string) {
	for _, s := range m {
		s.Error(code, message)
	}
}

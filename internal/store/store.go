package store

import (
	"context"
	"io/fs"
	"time"
)

// MessageLogRecord is one outbound message persisted for auditing.
type MessageLogRecord struct {
	ID        string
	EventID   string
	Phone     string
	Body      string
	Channel   string
	Line      int
	Segments  int
	Status    string
	CreatedAt time.Time
}

// Store defines durable persistence for the service: the last-applied rule
// configuration (read at cold start, written on every accepted update) and
// the outbound message log.
type Store interface {
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	SaveRuleConfig(ctx context.Context, payload []byte) error
	// LoadRuleConfig returns nil with no error when no config was ever saved.
	LoadRuleConfig(ctx context.Context) ([]byte, error)

	InsertMessageLog(ctx context.Context, entry MessageLogRecord) error
	ListRecentMessageLogs(ctx context.Context, limit int) ([]MessageLogRecord, error)
}

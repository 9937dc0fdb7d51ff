package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists service state in a local SQLite database. This is the
// on-device default when no DATABASE_URL is configured.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a connection to the SQLite database, creating the parent
// directory when needed.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store_sqlite"),
	}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping ensures the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies the SQLite schema from the embedded migration files.
func (s *SQLiteStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sqlContent, err := fs.ReadFile(filesystem, "sqlite/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(sqlContent)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// SaveRuleConfig stores the last-applied configuration payload.
func (s *SQLiteStore) SaveRuleConfig(ctx context.Context, payload []byte) error {
	const q = `
INSERT INTO rule_config (key, payload, updated_at)
VALUES ('active', ?, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP;
`
	if _, err := s.db.ExecContext(ctx, q, string(payload)); err != nil {
		return fmt.Errorf("save rule config: %w", err)
	}
	return nil
}

// LoadRuleConfig returns the last-applied configuration payload.
func (s *SQLiteStore) LoadRuleConfig(ctx context.Context) ([]byte, error) {
	const q = `SELECT payload FROM rule_config WHERE key = 'active';`
	var payload string
	if err := s.db.QueryRowContext(ctx, q).Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load rule config: %w", err)
	}
	return []byte(payload), nil
}

// InsertMessageLog stores one outbound message record.
func (s *SQLiteStore) InsertMessageLog(ctx context.Context, entry MessageLogRecord) error {
	const q = `
INSERT INTO message_log (id, event_id, phone, body, channel, line, segments, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, q,
		entry.ID,
		entry.EventID,
		entry.Phone,
		entry.Body,
		entry.Channel,
		entry.Line,
		entry.Segments,
		entry.Status,
	)
	if err != nil {
		return fmt.Errorf("insert message log: %w", err)
	}
	return nil
}

// ListRecentMessageLogs returns the latest outbound messages.
func (s *SQLiteStore) ListRecentMessageLogs(ctx context.Context, limit int) ([]MessageLogRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, event_id, phone, body, channel, line, segments, status, created_at
FROM message_log
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list message logs: %w", err)
	}
	defer rows.Close()

	var records []MessageLogRecord
	for rows.Next() {
		var rec MessageLogRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Phone, &rec.Body, &rec.Channel, &rec.Line, &rec.Segments, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message log: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message logs: %w", err)
	}
	return records, nil
}

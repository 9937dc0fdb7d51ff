package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists service state in Postgres.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a connection pool to the database.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "store_postgres"),
	}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes SQL files at the root of filesystem in
// lexicographical order, each inside its own transaction.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	entries, err := fs.ReadDir(filesystem, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sqlBytes, err := fs.ReadFile(filesystem, entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			_, execErr := tx.Exec(ctx, string(sqlBytes))
			return execErr
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// SaveRuleConfig stores the last-applied configuration payload.
func (s *PostgresStore) SaveRuleConfig(ctx context.Context, payload []byte) error {
	const q = `
INSERT INTO rule_config (key, payload, updated_at)
VALUES ('active', $1, NOW())
ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW();
`
	if _, err := s.pool.Exec(ctx, q, string(payload)); err != nil {
		return fmt.Errorf("save rule config: %w", err)
	}
	return nil
}

// LoadRuleConfig returns the last-applied configuration payload.
func (s *PostgresStore) LoadRuleConfig(ctx context.Context) ([]byte, error) {
	const q = `SELECT payload FROM rule_config WHERE key = 'active';`
	var payload string
	if err := s.pool.QueryRow(ctx, q).Scan(&payload); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load rule config: %w", err)
	}
	return []byte(payload), nil
}

// InsertMessageLog stores one outbound message record.
func (s *PostgresStore) InsertMessageLog(ctx context.Context, entry MessageLogRecord) error {
	const q = `
INSERT INTO message_log (id, event_id, phone, body, channel, line, segments, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := s.pool.Exec(ctx, q,
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
func (s *PostgresStore) ListRecentMessageLogs(ctx context.Context, limit int) ([]MessageLogRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, event_id, phone, body, channel, line, segments, status, created_at
FROM message_log
ORDER BY created_at DESC
LIMIT $1;
`
	rows, err := s.pool.Query(ctx, q, limit)
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

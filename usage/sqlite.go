package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS token_usage (
		id TEXT PRIMARY KEY,
		exchange_id TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('input', 'output')),
		model TEXT NOT NULL DEFAULT '',
		tokens INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_token_usage_exchange ON token_usage(exchange_id);
	CREATE INDEX IF NOT EXISTS idx_token_usage_created ON token_usage(created_at);
`

// timeLayout sorts lexically for UTC times.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps usage records in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Entry
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := logrus.WithField("component", "usage")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.WithField("path", path).Info("Usage store initialized")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveUsage stores a record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, record *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (id, exchange_id, direction, model, tokens, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ExchangeID,
		string(record.Direction),
		record.Model,
		record.Tokens,
		record.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"exchange_id": record.ExchangeID,
		"direction":   record.Direction,
		"tokens":      record.Tokens,
	}).Debug("Saved token usage")
	return nil
}

// ExchangeUsage returns the records of one exchange, oldest first.
func (s *SQLiteStore) ExchangeUsage(ctx context.Context, exchangeID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exchange_id, direction, model, tokens, created_at
		FROM token_usage
		WHERE exchange_id = ?
		ORDER BY created_at ASC, direction ASC
	`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("querying exchange usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var (
			r         Record
			direction string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ExchangeID, &direction, &r.Model, &r.Tokens, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		r.Direction = Direction(direction)
		if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return records, nil
}

// Stats aggregates the records matching filter.
func (s *SQLiteStore) Stats(ctx context.Context, filter Filter) (*Stats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'input' THEN tokens ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'output' THEN tokens ELSE 0 END), 0),
			COUNT(DISTINCT exchange_id)
		FROM token_usage
		WHERE 1=1
	`
	args := []any{}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.InputTokens, &stats.OutputTokens, &stats.Exchanges); err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}
	stats.TotalTokens = stats.InputTokens + stats.OutputTokens
	return &stats, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package results

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	elapsed_s REAL NOT NULL,
	mode TEXT NOT NULL,
	mode_code INTEGER NOT NULL,
	setpoint REAL NOT NULL,
	voltage REAL NOT NULL,
	current REAL NOT NULL,
	power REAL NOT NULL,
	load_on INTEGER NOT NULL,
	profile TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id, ts);
`

// SQLiteSink stores samples in a local SQLite file.
type SQLiteSink struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteSink(ctx context.Context, path string, logger *zap.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "loadbank.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("SQLite results store opened", zap.String("path", path))
	return &SQLiteSink{db: db, logger: logger}, nil
}

func (s *SQLiteSink) Record(ctx context.Context, sample Sample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (run_id, ts, elapsed_s, mode, mode_code, setpoint, voltage, current, power, load_on, profile)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.RunID.String(),
		sample.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		sample.Elapsed.Seconds(),
		sample.Mode,
		sample.ModeCode,
		sample.Setpoint,
		sample.Voltage,
		sample.Current,
		sample.Power,
		sample.LoadOn,
		sample.Profile,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// Count returns the number of samples stored for runID.
func (s *SQLiteSink) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

package results

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS loadbank_samples (
	id BIGSERIAL PRIMARY KEY,
	run_id UUID NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	elapsed_s DOUBLE PRECISION NOT NULL,
	mode TEXT NOT NULL,
	mode_code INTEGER NOT NULL,
	setpoint DOUBLE PRECISION NOT NULL,
	voltage DOUBLE PRECISION NOT NULL,
	current DOUBLE PRECISION NOT NULL,
	power DOUBLE PRECISION NOT NULL,
	load_on BOOLEAN NOT NULL,
	profile TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_loadbank_samples_run ON loadbank_samples(run_id, ts);
`

// PostgresSink stores samples in a shared lab database.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresSink(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	poolConfig.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Postgres results store connected",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database))
	return &PostgresSink{pool: pool, logger: logger}, nil
}

func (p *PostgresSink) Record(ctx context.Context, s Sample) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO loadbank_samples (run_id, ts, elapsed_s, mode, mode_code, setpoint, voltage, current, power, load_on, profile)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.RunID, s.Timestamp, s.Elapsed.Seconds(), s.Mode, s.ModeCode,
		s.Setpoint, s.Voltage, s.Current, s.Power, s.LoadOn, s.Profile,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}

// Package results records one sample per control tick to a log sink.
package results

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sample is one row of a run log.
type Sample struct {
	RunID     uuid.UUID     `json:"run_id"`
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`
	// Mode is the device mode name, e.g. "CURRENT".
	Mode     string  `json:"mode"`
	ModeCode int     `json:"mode_code"`
	Setpoint float64 `json:"setpoint"`
	Voltage  float64 `json:"voltage"`
	Current  float64 `json:"current"`
	Power    float64 `json:"power"`
	LoadOn   bool    `json:"load_on"`
	// Profile is the scheduler state, empty without a profile.
	Profile string `json:"profile,omitempty"`
}

type Sink interface {
	Record(ctx context.Context, s Sample) error
	Close() error
}

// Discard drops every sample.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, Sample) error { return nil }
func (discard) Close() error { return nil }

const (
	KindNone     = "none"
	KindTSV      = "tsv"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

type Options struct {
	Kind string
	// Dir receives TSV logs.
	Dir string
	// Tag is appended to TSV file names.
	Tag string
	// DSN is the SQLite file or the Postgres connection string.
	DSN string
}

// Open creates the sink selected by opts.Kind.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	switch kind {
	case "", KindNone:
		return Discard, nil
	case KindTSV:
		return NewTSVSink(opts.Dir, opts.Tag, time.Now(), logger)
	case KindSQLite:
		return NewSQLiteSink(ctx, opts.DSN, logger)
	case KindPostgres:
		return NewPostgresSink(ctx, opts.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported results sink %q", opts.Kind)
	}
}

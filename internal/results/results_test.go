package results

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSample(runID uuid.UUID) Sample {
	return Sample{
		RunID:     runID,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC),
		Elapsed:   1500 * time.Millisecond,
		Mode:      "CURRENT",
		ModeCode:  1,
		Setpoint:  2,
		Voltage:   23.8,
		Current:   2,
		Power:     47.6,
		LoadOn:    true,
		Profile:   "running",
	}
}

func TestTSVFileName(t *testing.T) {
	start := time.Date(2015, 3, 9, 14, 5, 7, 0, time.Local)
	assert.Equal(t, "150309-140507-controller-bench.tsv", TSVFileName(start, "bench"))
}

func TestTSVSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	sink, err := NewTSVSink(dir, "run1", time.Now(), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, testSample(uuid.New())))

	unknown := testSample(uuid.New())
	unknown.ModeCode = 999
	require.NoError(t, sink.Record(ctx, unknown))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.Error(t, sink.Record(ctx, unknown))

	b, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time\tmode\tsetpoint\tvoltage\tcurrent\tpower", lines[0])
	assert.Equal(t, "1.5\t1\t2\t23.8\t2\t47.6", lines[1])
	assert.Equal(t, "1.5\t999\t999\t23.8\t2\t47.6", lines[2])
}

func TestTSVSinkNilLogger(t *testing.T) {
	sink, err := NewTSVSink(t.TempDir(), "nolog", time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), testSample(uuid.New())))
	require.NoError(t, sink.Close())
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	sink, err := NewSQLiteSink(ctx, path, zap.NewNop())
	require.NoError(t, err)

	runID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Record(ctx, testSample(runID)))
	}
	require.NoError(t, sink.Record(ctx, testSample(uuid.New())))

	n, err := sink.Count(ctx, runID.String())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, sink.Close())

	reopened, err := NewSQLiteSink(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	n, err = reopened.Count(ctx, runID.String())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	sink, err := Open(ctx, Options{Kind: "none"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Discard, sink)
	assert.NoError(t, sink.Record(ctx, Sample{}))

	sink, err = Open(ctx, Options{Kind: "TSV", Dir: t.TempDir(), Tag: "x"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &TSVSink{}, sink)
	require.NoError(t, sink.Close())

	sink, err = Open(ctx, Options{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "r.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteSink{}, sink)
	require.NoError(t, sink.Close())

	_, err = Open(ctx, Options{Kind: "influx"}, nil)
	assert.Error(t, err)
}

func TestOpenPostgresBadDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{Kind: "postgres", DSN: "postgres://%zz"}, nil)
	assert.Error(t, err)
}

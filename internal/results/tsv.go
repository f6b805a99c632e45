package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var tsvHeader = []string{"time", "mode", "setpoint", "voltage", "current", "power"}

// TSVSink writes a tab separated log with numeric mode codes so the file
// loads straight into MATLAB.
type TSVSink struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// TSVFileName returns "<yymmdd-hhmmss>-controller-<tag>.tsv".
func TSVFileName(start time.Time, tag string) string {
	return start.Format("060102-150405") + "-controller-" + tag + ".tsv"
}

func NewTSVSink(dir, tag string, start time.Time, logger *zap.Logger) (*TSVSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, TSVFileName(start, tag))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results log: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(tsvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, err
	}

	logger.Info("Results log opened", zap.String("path", path))
	return &TSVSink{path: path, logger: logger, file: f, writer: w}, nil
}

func (s *TSVSink) Path() string {
	return s.path
}

func (s *TSVSink) Record(_ context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return fmt.Errorf("results log %s closed", s.path)
	}

	setpoint := formatFloat(sample.Setpoint)
	if sample.ModeCode == 999 {
		setpoint = "999"
	}
	record := []string{
		formatFloat(sample.Elapsed.Seconds()),
		strconv.Itoa(sample.ModeCode),
		setpoint,
		formatFloat(sample.Voltage),
		formatFloat(sample.Current),
		formatFloat(sample.Power),
	}
	if err := s.writer.Write(record); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *TSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	err := s.writer.Error()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.writer = nil
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

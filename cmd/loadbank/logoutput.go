package main

import (
	"io"
	"sync"
)

// logOutput is the zap sink. It starts on stderr and is pointed at the
// console while the prompt is up, so log lines do not overwrite it.
type logOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func newLogOutput(w io.Writer) *logOutput {
	return &logOutput{w: w}
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *logOutput) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (o *logOutput) Redirect(w io.Writer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.w = w
}

// Package file implements the output transport: formatted snapshot records
// written to an io.Writer, typically os.Stdout or a RotatingFile.
//
// Pipeline position:
//
//	scheduler (Cycle) → format/json | format/csv → transport/file
//
// Each record is followed by a newline. SendBatch writes all records of one
// collection cycle under a single lock so a cycle's output stays contiguous
// even when several sinks share the writer.
package file

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transport interface
// ─────────────────────────────────────────────────────────────────────────────

// Transport delivers pre-formatted records. Close flushes and releases the
// destination when the transport owns it.
type Transport interface {
	Send(data []byte) error
	SendBatch(records [][]byte) error
	Close() error
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config controls WriterTransport behaviour.
type Config struct {
	// Writer is the destination. nil defaults to os.Stdout.
	Writer io.Writer

	// Newline appended after each record. Default "\n".
	Newline string

	// CloseWriter makes Close also close Writer when it implements io.Closer.
	// Leave false for os.Stdout.
	CloseWriter bool
}

// ─────────────────────────────────────────────────────────────────────────────
// WriterTransport
// ─────────────────────────────────────────────────────────────────────────────

// WriterTransport implements Transport on top of an io.Writer. It is safe for
// concurrent use.
type WriterTransport struct {
	mu      sync.Mutex
	w       io.Writer
	nl      []byte
	owned   bool
	closed  bool
	records uint64
	logger  *slog.Logger
}

// New constructs a WriterTransport. Pass nil for a no-op logger.
func New(cfg Config, logger *slog.Logger) *WriterTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	nl := cfg.Newline
	if nl == "" {
		nl = "\n"
	}
	return &WriterTransport{
		w:      w,
		nl:     []byte(nl),
		owned:  cfg.CloseWriter,
		logger: logger,
	}
}

// Send writes one record followed by the newline.
func (t *WriterTransport) Send(data []byte) error {
	return t.SendBatch([][]byte{data})
}

// SendBatch writes every record, each followed by the newline, in a single
// Write call. Empty records are skipped. An empty batch is a no-op.
func (t *WriterTransport) SendBatch(records [][]byte) error {
	var buf bytes.Buffer
	n := 0
	for _, r := range records {
		if len(r) == 0 {
			continue
		}
		buf.Write(r)
		buf.Write(t.nl)
		n++
	}
	if n == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport/file: write: transport closed")
	}
	if _, err := t.w.Write(buf.Bytes()); err != nil {
		t.logger.Error("transport/file: write failed",
			"error", err.Error(),
			"records", n,
			"bytes", buf.Len(),
		)
		return fmt.Errorf("transport/file: write: %w", err)
	}
	t.records += uint64(n)

	t.logger.Debug("transport/file: sent batch", "records", n, "bytes", buf.Len())
	return nil
}

// Records returns the number of records written so far.
func (t *WriterTransport) Records() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records
}

// Close marks the transport closed. The underlying writer is closed only when
// Config.CloseWriter was set; otherwise its lifetime belongs to the caller.
func (t *WriterTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if !t.owned {
		return nil
	}
	if c, ok := t.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("transport/file: close: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

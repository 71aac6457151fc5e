// Package csv implements the CSV output formatter: one row per resource
// snapshot with a fixed column layout, preceded by a header row on the first
// call unless the destination already has one.
//
// Columns:
//
//	timestamp, proxy_id, host, <metric>..., <interface>..., status
//
// Metric cells hold the value with two decimals, or are empty when the metric
// has no value. Interface cells hold "in/out" in bits per second, with an
// empty side for a direction without a value.
package csv

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vpbank/proxymon/models"
)

// DefaultMetrics is the metric column order used when Config.Metrics is empty.
var DefaultMetrics = []string{"cpu", "mem", "cc", "cs", "http", "https", "ftp"}

// TimestampLayout renders the timestamp column in local time.
const TimestampLayout = "2006-01-02 15:04:05"

// StatusOK marks a row without failed outcomes.
const StatusOK = "ok"

// Config controls the column layout.
type Config struct {
	// Metrics lists the metric columns in order. Defaults to DefaultMetrics.
	Metrics []string

	// Interfaces lists the interface columns; they are sorted by name.
	Interfaces []string

	// SkipHeader suppresses the header row, e.g. when appending to a file
	// that already has one.
	SkipHeader bool

	// Location for the timestamp column. Defaults to time.Local.
	Location *time.Location
}

// CSVFormatter renders snapshots as CSV rows. It is safe for concurrent use.
type CSVFormatter struct {
	metrics    []string
	interfaces []string
	loc        *time.Location
	logger     *slog.Logger

	mu         sync.Mutex
	headerDone bool
}

// New constructs a CSVFormatter. Pass nil for a no-op logger.
func New(cfg Config, logger *slog.Logger) *CSVFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	metrics := cfg.Metrics
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	ifaces := append([]string(nil), cfg.Interfaces...)
	sort.Strings(ifaces)
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &CSVFormatter{
		metrics:    metrics,
		interfaces: ifaces,
		loc:        loc,
		logger:     logger,
		headerDone: cfg.SkipHeader,
	}
}

// Header returns the column names.
func (f *CSVFormatter) Header() []string {
	h := make([]string, 0, 4+len(f.metrics)+len(f.interfaces))
	h = append(h, "timestamp", "proxy_id", "host")
	h = append(h, f.metrics...)
	h = append(h, f.interfaces...)
	return append(h, "status")
}

// HeaderLine returns the CSV-encoded header row including its newline, for
// destinations that write the header themselves.
func (f *CSVFormatter) HeaderLine() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(f.Header())
	w.Flush()
	return buf.Bytes()
}

// Format renders snap as one CSV line without the trailing newline. The
// first call also emits the header line, separated by a newline.
func (f *CSVFormatter) Format(snap *models.ResourceSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("format/csv: snapshot must not be nil")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	f.mu.Lock()
	if !f.headerDone {
		if err := w.Write(f.Header()); err != nil {
			f.mu.Unlock()
			return nil, fmt.Errorf("format/csv: header: %w", err)
		}
		f.headerDone = true
	}
	f.mu.Unlock()

	if err := w.Write(f.Record(snap)); err != nil {
		return nil, fmt.Errorf("format/csv: record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("format/csv: flush: %w", err)
	}

	f.logger.Debug("format/csv: formatted snapshot",
		"target", snap.Target.Name,
		"bytes", buf.Len(),
	)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Record returns the cells of snap's row.
func (f *CSVFormatter) Record(snap *models.ResourceSnapshot) []string {
	rec := make([]string, 0, 4+len(f.metrics)+len(f.interfaces))
	rec = append(rec,
		snap.Timestamp.In(f.loc).Format(TimestampLayout),
		snap.Target.ID,
		snap.Target.Address,
	)
	for _, name := range f.metrics {
		rec = append(rec, cell(snap.Metrics[name]))
	}
	for _, name := range f.interfaces {
		it, ok := snap.Interfaces[name]
		if !ok {
			rec = append(rec, "")
			continue
		}
		in, out := cell(it.In), cell(it.Out)
		if in == "" && out == "" {
			rec = append(rec, "")
			continue
		}
		rec = append(rec, in+"/"+out)
	}
	return append(rec, status(snap))
}

func cell(o models.Outcome) string {
	if o.Kind != models.OutcomeValue {
		return ""
	}
	return strconv.FormatFloat(o.Value, 'f', 2, 64)
}

// status is StatusOK, or the failed metrics with their reasons in name order.
func status(snap *models.ResourceSnapshot) string {
	var failed []string
	for name, o := range snap.Metrics {
		if o.Kind == models.OutcomeFailed && o.Failure != nil {
			failed = append(failed, name+": "+string(o.Failure.Reason))
		}
	}
	for name, it := range snap.Interfaces {
		if it.In.Kind == models.OutcomeFailed && it.In.Failure != nil {
			failed = append(failed, name+".in: "+string(it.In.Failure.Reason))
		}
		if it.Out.Kind == models.OutcomeFailed && it.Out.Failure != nil {
			failed = append(failed, name+".out: "+string(it.Out.Failure.Reason))
		}
	}
	if len(failed) == 0 {
		return StatusOK
	}
	sort.Strings(failed)
	return strings.Join(failed, "; ")
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

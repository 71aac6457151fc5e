// Package json implements the JSON output formatter. Each resource snapshot
// becomes one JSON document.
//
// Pipeline position:
//
//	scheduler (Cycle) → format/json → transport/file
//
// All json struct tags are declared on the model types themselves, so
// serialisation is a single json.Marshal call with optional indentation.
package json

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vpbank/proxymon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls JSONFormatter behaviour.
type Config struct {
	// PrettyPrint emits indented, human-readable JSON when true.
	PrettyPrint bool

	// Indent is the indent string used when PrettyPrint=true.
	// Defaults to two spaces when empty and PrettyPrint=true.
	Indent string
}

// ─────────────────────────────────────────────────────────────────────────────
// JSONFormatter
// ─────────────────────────────────────────────────────────────────────────────

// JSONFormatter serialises snapshots with encoding/json. It is safe for
// concurrent use; all fields are immutable after construction.
type JSONFormatter struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a JSONFormatter. If logger is nil, a no-op logger is
// substituted.
func New(cfg Config, logger *slog.Logger) *JSONFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.PrettyPrint && cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &JSONFormatter{cfg: cfg, logger: logger}
}

// Format serialises snap to JSON:
//
//	{
//	  "timestamp": "2026-02-26T10:30:00.123Z",
//	  "target": { "name": …, "id": …, "address": … },
//	  "metrics": { "cpu": { "kind": "value", "value": 45, "status": "normal" }, … },
//	  "interfaces": { "eth0": { "in": …, "out": …, "status": … } },
//	  "metadata": { "collector_id": …, "cycle_duration_ms": …, "failed": … }
//	}
func (f *JSONFormatter) Format(snap *models.ResourceSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("format/json: snapshot must not be nil")
	}

	var (
		data []byte
		err  error
	)
	if f.cfg.PrettyPrint {
		data, err = json.MarshalIndent(snap, "", f.cfg.Indent)
	} else {
		data, err = json.Marshal(snap)
	}
	if err != nil {
		f.logger.Error("format/json: marshal failed",
			"target", snap.Target.Name,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("format/json: marshal: %w", err)
	}

	f.logger.Debug("format/json: formatted snapshot",
		"target", snap.Target.Name,
		"metric_count", len(snap.Metrics),
		"bytes", len(data),
	)
	return data, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

// noopWriter discards all log output when no logger is provided.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

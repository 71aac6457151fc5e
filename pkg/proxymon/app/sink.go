package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	csvformat "github.com/vpbank/proxymon/format/csv"
	jsonformat "github.com/vpbank/proxymon/format/json"
	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/config"
	filetransport "github.com/vpbank/proxymon/transport/file"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// OutputConfig selects where and how snapshots are written.
type OutputConfig struct {
	// Format is FormatJSON (default) or FormatCSV.
	Format string

	// PrettyPrint indents JSON output.
	PrettyPrint bool

	// FilePath, when set, appends to a rotating file instead of Writer.
	FilePath string

	// MaxBytes and MaxBackups control rotation of FilePath.
	MaxBytes   int64
	MaxBackups int

	// Daily writes one file per day named after FilePath with the date
	// before the extension, e.g. logs/resource_usage_20260226.csv.
	Daily bool

	// Writer is used when FilePath is empty. nil = os.Stdout.
	Writer io.Writer
}

// formatter is the part of format/json and format/csv the sink needs.
type formatter interface {
	Format(snap *models.ResourceSnapshot) ([]byte, error)
}

// outputSink formats every snapshot of a cycle and writes them as one batch.
type outputSink struct {
	format    formatter
	transport filetransport.Transport
	logger    *slog.Logger
}

// newOutputSink builds the formatter and transport for cfg. The CSV interface
// columns come from the loaded resources.
func newOutputSink(cfg OutputConfig, loaded *config.LoadedConfig, logger *slog.Logger) (*outputSink, error) {
	var (
		f      formatter
		header []byte
	)
	switch cfg.Format {
	case "", FormatJSON:
		f = jsonformat.New(jsonformat.Config{PrettyPrint: cfg.PrettyPrint}, logger)
	case FormatCSV:
		ifaces := make([]string, 0, len(loaded.Resources.Interfaces))
		for _, spec := range loaded.Resources.Interfaces {
			ifaces = append(ifaces, spec.Name)
		}
		c := csvformat.New(csvformat.Config{
			Interfaces: ifaces,
			// A file writes its own header on every fresh file.
			SkipHeader: cfg.FilePath != "",
		}, logger)
		header = c.HeaderLine()
		f = c
	default:
		return nil, fmt.Errorf("app: unknown output format %q (expected json|csv)", cfg.Format)
	}

	tcfg := filetransport.Config{Writer: cfg.Writer}
	if cfg.FilePath != "" {
		rf, err := filetransport.NewRotatingFile(filetransport.RotateConfig{
			FilePath:   cfg.FilePath,
			MaxBytes:   cfg.MaxBytes,
			MaxBackups: cfg.MaxBackups,
			Daily:      cfg.Daily,
			Header:     header,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: output file: %w", err)
		}
		tcfg = filetransport.Config{Writer: rf, CloseWriter: true}
	} else if tcfg.Writer == nil {
		tcfg.Writer = os.Stdout
	}

	return &outputSink{
		format:    f,
		transport: filetransport.New(tcfg, logger),
		logger:    logger,
	}, nil
}

// Deliver implements scheduler.Sink. A snapshot that fails to format is
// logged and skipped; the rest of the cycle is still written.
func (s *outputSink) Deliver(_ context.Context, snaps []models.ResourceSnapshot) error {
	records := make([][]byte, 0, len(snaps))
	var errs []error
	for i := range snaps {
		data, err := s.format.Format(&snaps[i])
		if err != nil {
			s.logger.Warn("app: format error", "target", snaps[i].Target.Name, "error", err.Error())
			errs = append(errs, err)
			continue
		}
		records = append(records, data)
	}
	if err := s.transport.SendBatch(records); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the transport and any file it owns.
func (s *outputSink) Close() error {
	return s.transport.Close()
}

package file

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// RotateConfig
// ─────────────────────────────────────────────────────────────────────────────

// RotateConfig controls rotation of an output file.
//
// When MaxBytes would be exceeded the active file is renamed with a numeric
// suffix (snapshots.csv → snapshots.csv.1) and a fresh file is opened. Up to
// MaxBackups old files are kept.
//
// With Daily set the active file carries the local date before its extension
// (resource_usage.csv → resource_usage_20260226.csv) and a new file is started
// on the first write after midnight. Size rotation applies within a day.
type RotateConfig struct {
	// FilePath is the active file name (required). With Daily it is the
	// template the dated name is derived from.
	FilePath string

	// Daily starts one file per calendar day.
	Daily bool

	// Now is the clock used for Daily. Defaults to time.Now.
	Now func() time.Time

	// MaxBytes triggers rotation when the active file would exceed this size.
	// Zero disables rotation.
	MaxBytes int64

	// MaxBackups is the number of rotated files to keep. Zero keeps all.
	MaxBackups int

	// Header is written at the start of every empty file, including each
	// file opened after a rotation. CSV output sets it to the header row.
	Header []byte
}

// ─────────────────────────────────────────────────────────────────────────────
// RotatingFile
// ─────────────────────────────────────────────────────────────────────────────

// RotatingFile is an io.WriteCloser that performs size-based rotation.
// It is safe for concurrent use.
type RotatingFile struct {
	mu     sync.Mutex
	cfg    RotateConfig
	path   string // active file
	day    string // YYYYMMDD of the active file when Daily
	file   *os.File
	size   int64
	logger *slog.Logger
}

// NewRotatingFile opens (or creates) the file at cfg.FilePath in append mode.
// The caller must call Close when finished.
func NewRotatingFile(cfg RotateConfig, logger *slog.Logger) (*RotatingFile, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("transport/file: rotate: FilePath is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport/file: rotate: mkdir %s: %w", dir, err)
	}

	rf := &RotatingFile{cfg: cfg, path: cfg.FilePath, logger: logger}
	if cfg.Daily {
		rf.day = cfg.Now().Format(dayLayout)
		rf.path = DatedPath(cfg.FilePath, rf.day)
	}
	if err := rf.openFile(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer. A single Write is never split across files.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, fmt.Errorf("transport/file: rotate: %s is closed", rf.path)
	}
	if rf.cfg.Daily {
		if day := rf.cfg.Now().Format(dayLayout); day != rf.day {
			if err := rf.rollDay(day); err != nil {
				return 0, err
			}
		}
	}
	if rf.cfg.MaxBytes > 0 && rf.size > int64(len(rf.cfg.Header)) &&
		rf.size+int64(len(p)) > rf.cfg.MaxBytes {
		if err := rf.rotate(); err != nil {
			// Keep writing to whatever is open rather than dropping the record.
			rf.logger.Error("transport/file: rotate failed", "error", err.Error())
			if rf.file == nil {
				return 0, err
			}
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Path returns the name of the active file.
func (rf *RotatingFile) Path() string {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.path
}

// Size returns the current size of the active file.
func (rf *RotatingFile) Size() int64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.size
}

// Close closes the active file. Further writes fail.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

const dayLayout = "20060102"

// DatedPath inserts _day before the extension of path.
func DatedPath(path, day string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + day + ext
}

// rollDay closes the active file and opens the file for day.
func (rf *RotatingFile) rollDay(day string) error {
	if err := rf.file.Close(); err != nil {
		rf.logger.Warn("transport/file: rotate: close error", "error", err.Error())
	}
	rf.file = nil
	rf.day = day
	rf.path = DatedPath(rf.cfg.FilePath, day)
	rf.logger.Info("transport/file: new day", "file", rf.path)
	return rf.openFile()
}

// openFile opens the active file, records its size and writes the header
// when the file is empty.
func (rf *RotatingFile) openFile() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("transport/file: rotate: open %s: %w", rf.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("transport/file: rotate: stat %s: %w", rf.path, err)
	}
	rf.file = f
	rf.size = info.Size()

	if rf.size == 0 && len(rf.cfg.Header) > 0 {
		n, err := f.Write(rf.cfg.Header)
		rf.size += int64(n)
		if err != nil {
			return fmt.Errorf("transport/file: rotate: header %s: %w", rf.path, err)
		}
	}
	return nil
}

// rotate shifts the backups up by one and opens a fresh active file:
//
//	snapshots.csv   → snapshots.csv.1
//	snapshots.csv.1 → snapshots.csv.2
//	snapshots.csv.N → removed when N > MaxBackups
func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			rf.logger.Warn("transport/file: rotate: close error", "error", err.Error())
		}
		rf.file = nil
	}

	base := rf.path
	limit := rf.cfg.MaxBackups
	if limit > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", base, limit))
	} else {
		limit = rf.findMaxBackup()
	}
	for i := limit; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", base, i), fmt.Sprintf("%s.%d", base, i+1))
	}

	if err := os.Rename(base, base+".1"); err != nil && !os.IsNotExist(err) {
		rf.logger.Warn("transport/file: rotate: rename error", "error", err.Error())
	}
	if rf.cfg.MaxBackups > 0 {
		rf.prune()
	}

	rf.logger.Info("transport/file: rotated", "file", base)
	rf.size = 0
	return rf.openFile()
}

// findMaxBackup returns the highest numbered backup that currently exists.
func (rf *RotatingFile) findMaxBackup() int {
	highest := 0
	for i := 1; ; i++ {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", rf.path, i)); os.IsNotExist(err) {
			return highest
		}
		highest = i
	}
}

// prune removes backup files beyond MaxBackups.
func (rf *RotatingFile) prune() {
	for i := rf.cfg.MaxBackups + 1; ; i++ {
		name := fmt.Sprintf("%s.%d", rf.path, i)
		if err := os.Remove(name); err != nil {
			return
		}
		rf.logger.Debug("transport/file: pruned old backup", "file", name)
	}
}

// Package config provides YAML configuration loading for proxymon.
//
// It reads three directory trees (driven by environment variables) and
// produces a LoadedConfig value that is used by the rest of the application.
//
//	PROXYMON_TARGET_DEFINITIONS_DIRECTORY_PATH   → Targets map
//	PROXYMON_DEFAULTS_DIRECTORY_PATH             → TargetDefault
//	PROXYMON_RESOURCE_DEFINITIONS_DIRECTORY_PATH → Resources
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/producer/metrics"
	"github.com/vpbank/proxymon/snmp/ber"
)

// externalKeyword routes a metric to the SSH memory collector.
const externalKeyword = "ssh"

// externalMetric is the only metric the external collector can serve.
const externalMetric = "mem"

// ─────────────────────────────────────────────────────────────────────────────
// Paths
// ─────────────────────────────────────────────────────────────────────────────

// Paths holds the directory locations for every configuration tree.
type Paths struct {
	Targets   string // PROXYMON_TARGET_DEFINITIONS_DIRECTORY_PATH
	Defaults  string // PROXYMON_DEFAULTS_DIRECTORY_PATH
	Resources string // PROXYMON_RESOURCE_DEFINITIONS_DIRECTORY_PATH
}

// PathsFromEnv reads each path from its environment variable, falling back to
// the documented default when the variable is unset or empty.
func PathsFromEnv() Paths {
	return Paths{
		Targets:   envOr("PROXYMON_TARGET_DEFINITIONS_DIRECTORY_PATH", "/etc/proxymon/targets"),
		Defaults:  envOr("PROXYMON_DEFAULTS_DIRECTORY_PATH", "/etc/proxymon/defaults"),
		Resources: envOr("PROXYMON_RESOURCE_DEFINITIONS_DIRECTORY_PATH", "/etc/proxymon/resources"),
	}
}

// Dirs lists the configured directories in load order.
func (p Paths) Dirs() []string {
	return []string{p.Defaults, p.Targets, p.Resources}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ─────────────────────────────────────────────────────────────────────────────
// LoadedConfig
// ─────────────────────────────────────────────────────────────────────────────

// LoadedConfig is the fully parsed representation of all configuration trees.
type LoadedConfig struct {
	// Targets maps target name → resolved Target (defaults merged in).
	Targets map[string]models.Target

	// TargetDefault is the merged global target default.
	TargetDefault TargetDefaults

	// Resources is the metric catalogue applied to every target.
	Resources Resources
}

// TargetNames returns the target names in sorted order.
func (c *LoadedConfig) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for n := range c.Targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads all configuration directories specified by paths and returns a
// fully resolved LoadedConfig. Errors from individual files are accumulated and
// returned together so that operators see all problems at once.
//
// If a directory does not exist, that section is skipped silently. Files that
// are not valid YAML are skipped with a warning; entries that are valid YAML
// but cannot be resolved (bad OID, missing ip) are errors.
func Load(paths Paths, logger *slog.Logger) (*LoadedConfig, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	var errs []string

	// 1. Target defaults —————————————————————————————————————————————————————
	defaults, err := loadTargetDefaults(paths.Defaults, logger)
	if err != nil {
		errs = append(errs, err.Error())
	}

	// 2. Targets ——————————————————————————————————————————————————————————————
	targets, err := loadTargets(paths.Targets, defaults, logger)
	if err != nil {
		errs = append(errs, err.Error())
	}

	// 3. Resources ————————————————————————————————————————————————————————————
	resources, err := loadResources(paths.Resources, logger)
	if err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}

	return &LoadedConfig{
		Targets:       targets,
		TargetDefault: defaults,
		Resources:     resources,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Target defaults
// ─────────────────────────────────────────────────────────────────────────────

type rawDefaults struct {
	Default rawTargetEntry `yaml:"default"`
}

func loadTargetDefaults(dir string, logger *slog.Logger) (TargetDefaults, error) {
	var zero TargetDefaults
	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return zero, nil
		}
		return zero, fmt.Errorf("list defaults dir %q: %w", dir, err)
	}

	var merged TargetDefaults
	for _, path := range files {
		var raw rawDefaults
		if err := decodeFile(path, &raw); err != nil {
			logger.Warn("config: skip malformed defaults file", "file", path, "error", err.Error())
			continue
		}
		merged = mergeDefaults(merged, raw.Default)
		logger.Debug("config: loaded target defaults", "file", path)
	}
	return merged, nil
}

// mergeDefaults fills zero fields in dst with values from src.
func mergeDefaults(dst TargetDefaults, src rawTargetEntry) TargetDefaults {
	if dst.Port == 0 && src.Port != 0 {
		dst.Port = src.Port
	}
	if dst.Community == "" && src.Community != "" {
		dst.Community = src.Community
	}
	if dst.Timeout == 0 && src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if dst.SSH.Port == 0 && src.SSH.Port != 0 {
		dst.SSH.Port = src.SSH.Port
	}
	if dst.SSH.Username == "" && src.SSH.Username != "" {
		dst.SSH.Username = src.SSH.Username
	}
	if dst.SSH.Password == "" && src.SSH.Password != "" {
		dst.SSH.Password = src.SSH.Password
	}
	return dst
}

// ─────────────────────────────────────────────────────────────────────────────
// Targets
// ─────────────────────────────────────────────────────────────────────────────

func loadTargets(dir string, defaults TargetDefaults, logger *slog.Logger) (map[string]models.Target, error) {
	result := make(map[string]models.Target)
	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("list targets dir %q: %w", dir, err)
	}

	var errs []error
	for _, path := range files {
		var raw map[string]rawTargetEntry
		if err := decodeFile(path, &raw); err != nil {
			logger.Warn("config: skip malformed target file", "file", path, "error", err.Error())
			continue
		}
		for name, entry := range raw {
			if strings.TrimSpace(entry.IP) == "" {
				errs = append(errs, fmt.Errorf("target %q in %s: missing ip", name, path))
				continue
			}
			t := resolveTarget(name, entry, defaults)
			if t.Community == "" {
				logger.Info("config: target has no community, snmp disabled", "target", name)
			}
			result[name] = t
		}
		logger.Debug("config: loaded target file", "file", path, "count", len(raw))
	}
	return result, errors.Join(errs...)
}

// resolveTarget merges a raw target entry with defaults, producing a
// fully-resolved Target.
func resolveTarget(name string, e rawTargetEntry, d TargetDefaults) models.Target {
	port := e.Port
	if port == 0 {
		port = d.Port
	}
	if port == 0 {
		port = DefaultPort
	}

	timeout := e.Timeout
	if timeout == 0 {
		timeout = d.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeoutMs
	}

	community := e.Community
	if community == "" {
		community = d.Community
	}

	sshPort := e.SSH.Port
	if sshPort == 0 {
		sshPort = d.SSH.Port
	}
	if sshPort == 0 {
		sshPort = DefaultSSHPort
	}
	user := e.SSH.Username
	if user == "" {
		user = d.SSH.Username
	}
	pass := e.SSH.Password
	if pass == "" {
		pass = d.SSH.Password
	}

	id := e.ID
	if id == "" {
		id = name
	}

	return models.Target{
		Name:      name,
		ID:        id,
		Address:   strings.TrimSpace(e.IP),
		Port:      port,
		Community: community,
		Timeout:   time.Duration(timeout) * time.Millisecond,
		SSH: models.SSHCredentials{
			Port:     sshPort,
			Username: user,
			Password: pass,
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Resources
// ─────────────────────────────────────────────────────────────────────────────

func loadResources(dir string, logger *slog.Logger) (Resources, error) {
	res := Resources{Thresholds: metrics.Thresholds{}}
	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("list resources dir %q: %w", dir, err)
	}

	oids := make(map[string]string)
	ifaces := make(map[string]rawInterfaceOIDs)
	for _, path := range files {
		var raw rawResourceFile
		if err := decodeFile(path, &raw); err != nil {
			logger.Warn("config: skip malformed resources file", "file", path, "error", err.Error())
			continue
		}
		for k, v := range raw.OIDs {
			oids[k] = v
		}
		for k, v := range raw.InterfaceOIDs {
			ifaces[k] = v
		}
		for k, v := range raw.Thresholds {
			res.Thresholds[k] = v
		}
		logger.Debug("config: loaded resources file", "file", path,
			"oids", len(raw.OIDs),
			"interfaces", len(raw.InterfaceOIDs),
		)
	}

	var errs []error
	for _, name := range sortedKeys(oids) {
		src, err := resolveSource(name, oids[name], true, logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Metrics = append(res.Metrics, models.MetricSpec{Name: name, Source: src})
	}
	for _, name := range sortedKeys(ifaces) {
		in, errIn := resolveSource(name+".in", ifaces[name].In, false, logger)
		out, errOut := resolveSource(name+".out", ifaces[name].Out, false, logger)
		if errIn != nil || errOut != nil {
			errs = append(errs, errIn, errOut)
			continue
		}
		res.Interfaces = append(res.Interfaces, models.InterfaceSpec{Name: name, In: in, Out: out})
	}

	for name, p := range res.Thresholds {
		if p.Inverted() {
			logger.Warn("config: threshold warning exceeds critical; warning tier is unreachable",
				"metric", name,
				"warning", p.Warning,
				"critical", p.Critical,
			)
		}
	}
	return res, errors.Join(errs...)
}

// resolveSource turns the configured string for one metric into its source.
// Blank disables the metric. The external keyword is honoured only for the
// memory metric and only when external is allowed.
func resolveSource(name, raw string, external bool, logger *slog.Logger) (models.MetricSource, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return models.DisabledSource(), nil
	case strings.EqualFold(s, externalKeyword):
		if external && name == externalMetric {
			return models.ExternalSource(), nil
		}
		logger.Warn("config: external collection is only available for mem, metric disabled", "metric", name)
		return models.DisabledSource(), nil
	}
	oid, err := ber.ParseOID(strings.TrimPrefix(s, "."))
	if err != nil {
		return models.MetricSource{}, fmt.Errorf("metric %q: %w", name, err)
	}
	return models.OIDSource(oid), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// yamlFiles returns all *.yml / *.yaml files under dir, sorted by path.
func yamlFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yml" || ext == ".yaml" {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

// decodeFile opens path and unmarshals the YAML content into out. An empty
// file decodes to the zero value.
func decodeFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false) // extra keys are fine
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

package config

import (
	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/producer/metrics"
)

// Hard-coded fallbacks applied when neither the target entry nor the defaults
// set a field.
const (
	DefaultPort      = 161
	DefaultTimeoutMs = 2000
	DefaultSSHPort   = 22
)

// TargetDefaults is the merged `default:` block applied to every target's
// zero-valued fields.
type TargetDefaults struct {
	Port      int
	Community string
	Timeout   int // milliseconds
	SSH       SSHDefaults
}

// SSHDefaults holds shared SSH credentials for the memory collector.
type SSHDefaults struct {
	Port     int
	Username string
	Password string
}

// Resources is the metric catalogue shared by every target.
type Resources struct {
	// Metrics is sorted by name.
	Metrics []models.MetricSpec

	// Interfaces is sorted by name.
	Interfaces []models.InterfaceSpec

	// Thresholds holds only the configured pairs; Lookup supplies defaults.
	Thresholds metrics.Thresholds
}

// rawTargetEntry is the YAML form of one target. It doubles as the schema of
// the `default:` block.
type rawTargetEntry struct {
	IP        string `yaml:"ip"`
	ID        string `yaml:"id"`
	Port      int    `yaml:"port"`
	Community string `yaml:"community"`
	Timeout   int    `yaml:"timeout"` // milliseconds
	SSH       rawSSH `yaml:"ssh"`
}

type rawSSH struct {
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// rawResourceFile is the YAML form of one resources file. Several files are
// merged key by key in path order.
type rawResourceFile struct {
	OIDs          map[string]string               `yaml:"oids"`
	InterfaceOIDs map[string]rawInterfaceOIDs     `yaml:"interface_oids"`
	Thresholds    map[string]models.ThresholdPair `yaml:"thresholds"`
}

type rawInterfaceOIDs struct {
	In  string `yaml:"in"`
	Out string `yaml:"out"`
}

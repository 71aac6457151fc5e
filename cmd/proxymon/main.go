// Command proxymon polls a fleet of proxy servers over SNMPv2c (and SSH for
// memory) and writes one resource snapshot per target per cycle.
//
// It loads YAML configuration from directories specified by environment
// variables (or command-line flags), builds the pipeline, and runs until
// interrupted (SIGINT / SIGTERM).
//
// Usage:
//
//	proxymon [run] [flags]
//	proxymon once [flags]
//	proxymon get <address> <oid>... [flags]
//	proxymon validate [flags]
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/vpbank/proxymon/pkg/proxymon/app"
	"github.com/vpbank/proxymon/pkg/proxymon/config"
	"github.com/vpbank/proxymon/pkg/proxymon/memory"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/pkg/proxymon/scheduler"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Flags
// ─────────────────────────────────────────────────────────────────────────────

// options holds every persistent flag.
type options struct {
	logLevel string
	logFmt   string
	collID   string

	interval      time.Duration
	maxTargets    int
	engine        string
	rateMaxPeriod time.Duration

	// Pool
	poolMaxIdle int
	poolIdleSec int

	sshKnownHosts string
	sshCommand    string

	outFormat     string
	pretty        bool
	outFile       string
	outMaxBytes   int64
	outMaxBackups int
	outDaily      bool

	telemetryListen string
	watchConfig     bool

	// Config path overrides (defaults read from env).
	cfgTargets   string
	cfgDefaults  string
	cfgResources string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:     "proxymon",
		Version: version,
		Short:   "SNMPv2c resource poller for a proxy server fleet",
		Long: `proxymon polls CPU, memory, connection counters and interface traffic from a
fleet of proxy servers every interval and writes one snapshot per target as
JSON or CSV. Without a subcommand it behaves like "proxymon run".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	f.StringVar(&opts.logFmt, "log.fmt", "json", "Log format: json, text, pretty")
	f.StringVar(&opts.collID, "collector.id", "", "Collector instance ID (default: hostname)")

	f.DurationVar(&opts.interval, "interval", scheduler.DefaultInterval, "Time between cycle starts")
	f.IntVar(&opts.maxTargets, "max.concurrent.targets", 0, "Targets collected at once (0=unlimited)")
	f.StringVar(&opts.engine, "snmp.engine", app.EngineNative, "SNMP engine: native, gosnmp")
	f.IntVar(&opts.poolMaxIdle, "snmp.pool.max.idle", 2, "Max idle gosnmp sessions per target")
	f.IntVar(&opts.poolIdleSec, "snmp.pool.idle.timeout", 30, "Idle session timeout in seconds")
	f.DurationVar(&opts.rateMaxPeriod, "rate.max.interval", app.DefaultRateMaxInterval, "Longest counter sample spacing that still yields a rate")

	f.StringVar(&opts.sshKnownHosts, "ssh.known.hosts", "", "known_hosts file for SSH host key checks (empty=accept any)")
	f.StringVar(&opts.sshCommand, "ssh.command", "", "Memory command run over SSH (default: /proc/meminfo awk)")

	f.StringVar(&opts.outFormat, "output.format", app.FormatJSON, "Snapshot format: json, csv")
	f.BoolVar(&opts.pretty, "format.pretty", false, "Pretty-print JSON output")
	f.StringVar(&opts.outFile, "output.file", "", "Append snapshots to this file instead of stdout")
	f.Int64Var(&opts.outMaxBytes, "output.max.bytes", 0, "Max file size in bytes before rotation (0=disabled)")
	f.IntVar(&opts.outMaxBackups, "output.max.backups", 5, "Max rotated backup files to keep (0=unlimited)")
	f.BoolVar(&opts.outDaily, "output.daily", false, "Start a new output file each day (name_YYYYMMDD.ext)")

	f.StringVar(&opts.telemetryListen, "telemetry.listen", "", "Self-metrics HTTP address, e.g. :9116 (empty=disabled)")
	f.BoolVar(&opts.watchConfig, "config.watch", true, "Reload configuration when its files change")

	f.StringVar(&opts.cfgTargets, "config.targets", "", "Override PROXYMON_TARGET_DEFINITIONS_DIRECTORY_PATH")
	f.StringVar(&opts.cfgDefaults, "config.defaults", "", "Override PROXYMON_DEFAULTS_DIRECTORY_PATH")
	f.StringVar(&opts.cfgResources, "config.resources", "", "Override PROXYMON_RESOURCE_DEFINITIONS_DIRECTORY_PATH")

	root.AddCommand(
		newRunCmd(opts),
		newOnceCmd(opts),
		newGetCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "pretty":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text|pretty)", format)
	}

	return slog.New(handler), nil
}

// configPaths returns the env-derived paths with flag overrides applied.
func (o *options) configPaths() config.Paths {
	p := config.PathsFromEnv()
	if o.cfgTargets != "" {
		p.Targets = o.cfgTargets
	}
	if o.cfgDefaults != "" {
		p.Defaults = o.cfgDefaults
	}
	if o.cfgResources != "" {
		p.Resources = o.cfgResources
	}
	return p
}

// appConfig maps the flags onto app.Config.
func (o *options) appConfig() app.Config {
	return app.Config{
		ConfigPaths:          o.configPaths(),
		CollectorID:          o.collID,
		Interval:             o.interval,
		MaxConcurrentTargets: o.maxTargets,
		Engine:               o.engine,
		PoolOptions: poller.PoolOptions{
			MaxIdlePerTarget: o.poolMaxIdle,
			IdleTimeout:      secondsToDuration(o.poolIdleSec),
		},
		RateMaxInterval: o.rateMaxPeriod,
		SSH: memory.SSHOptions{
			Command:        o.sshCommand,
			KnownHostsFile: o.sshKnownHosts,
		},
		Output: app.OutputConfig{
			Format:      o.outFormat,
			PrettyPrint: o.pretty,
			FilePath:    o.outFile,
			MaxBytes:    o.outMaxBytes,
			MaxBackups:  o.outMaxBackups,
			Daily:       o.outDaily,
		},
		TelemetryListen: o.telemetryListen,
		WatchConfig:     o.watchConfig,
	}
}

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

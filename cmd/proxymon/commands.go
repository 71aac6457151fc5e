package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/app"
	"github.com/vpbank/proxymon/pkg/proxymon/config"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/pkg/proxymon/scheduler"
	"github.com/vpbank/proxymon/snmp/ber"
)

// ─────────────────────────────────────────────────────────────────────────────
// run
// ─────────────────────────────────────────────────────────────────────────────

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll every interval until interrupted (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts)
		},
	}
}

func runDaemon(cmd *cobra.Command, opts *options) error {
	logger, err := buildLogger(opts.logLevel, opts.logFmt)
	if err != nil {
		return err
	}

	application := app.New(opts.appConfig(), logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("proxymon: running, press Ctrl-C to stop")

	<-ctx.Done()
	logger.Info("proxymon: received shutdown signal")

	application.Stop()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// once
// ─────────────────────────────────────────────────────────────────────────────

func newOnceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print the snapshots to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := buildLogger(opts.logLevel, opts.logFmt)
			if err != nil {
				return err
			}

			cfg := opts.appConfig()
			cfg.Output.FilePath = ""
			cfg.Output.Writer = cmd.OutOrStdout()
			cfg.WatchConfig = false
			cfg.TelemetryListen = ""

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = app.New(cfg, logger).RunOnce(ctx)
			return err
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get
// ─────────────────────────────────────────────────────────────────────────────

func newGetCmd(opts *options) *cobra.Command {
	var (
		community string
		port      int
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "get <address>[:port] <oid>...",
		Short: "Send one GetRequest and print the typed bindings",
		Example: `  proxymon get 192.0.2.10 1.3.6.1.4.1.2021.11.9.0
  proxymon get 192.0.2.10:1161 --community monitor 1.3.6.1.2.1.2.2.1.10.1 1.3.6.1.2.1.2.2.1.16.1`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(opts.logLevel, opts.logFmt)
			if err != nil {
				return err
			}
			target, err := parseAddress(args[0], port)
			if err != nil {
				return err
			}
			target.Community = community
			target.Timeout = timeout

			oids := make([]ber.OID, 0, len(args)-1)
			for _, s := range args[1:] {
				oid, err := ber.ParseOID(s)
				if err != nil {
					return fmt.Errorf("oid %q: %w", s, err)
				}
				oids = append(oids, oid)
			}

			var getter poller.Getter
			switch opts.engine {
			case app.EngineNative:
				getter = poller.NewEngine(poller.EngineOptions{}, logger)
			case app.EngineGoSNMP:
				pool := poller.NewConnectionPool(poller.PoolOptions{}, logger)
				defer pool.Close()
				getter = poller.NewPooledGetter(pool, nil, logger)
			default:
				return fmt.Errorf("unknown engine %q (expected %s|%s)", opts.engine, app.EngineNative, app.EngineGoSNMP)
			}

			vbs, err := getter.Get(cmd.Context(), poller.Request{
				Target:    target,
				Community: community,
				OIDs:      oids,
				Timeout:   timeout,
			})
			if err != nil {
				return describeGetError(err)
			}
			printBindings(cmd.OutOrStdout(), vbs)
			return nil
		},
	}
	cmd.Flags().StringVar(&community, "community", "public", "SNMPv2c community")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "UDP port when the address has none")
	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultTimeoutMs*time.Millisecond, "Response timeout")
	return cmd
}

// parseAddress accepts host or host:port.
func parseAddress(s string, defaultPort int) (models.Target, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host, portStr = s, strconv.Itoa(defaultPort)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p <= 0 || p > 65535 {
		return models.Target{}, fmt.Errorf("address %q: invalid port", s)
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return models.Target{}, fmt.Errorf("address %q: missing host", s)
	}
	return models.Target{Name: host, ID: host, Address: host, Port: p}, nil
}

func describeGetError(err error) error {
	var agentErr *ber.AgentError
	switch {
	case errors.Is(err, poller.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("get: no response before timeout: %w", err)
	case errors.As(err, &agentErr):
		return fmt.Errorf("get: agent error: %w", err)
	case errors.Is(err, ber.ErrMalformedResponse):
		return fmt.Errorf("get: malformed response: %w", err)
	}
	return fmt.Errorf("get: %w", err)
}

func printBindings(w io.Writer, vbs []ber.VarBind) {
	for _, vb := range vbs {
		fmt.Fprintf(w, "%s = %s\n", vb.OID, vb.Value)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// validate
// ─────────────────────────────────────────────────────────────────────────────

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and print the resolved poll plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := buildLogger(opts.logLevel, opts.logFmt)
			if err != nil {
				return err
			}
			paths := opts.configPaths()
			loaded, err := config.Load(paths, logger)
			if err != nil {
				return err
			}
			plans := scheduler.ResolvePlans(loaded, poller.DefaultMaxOIDs, logger)
			printPlans(cmd.OutOrStdout(), paths, loaded, plans)
			return nil
		},
	}
}

func printPlans(w io.Writer, paths config.Paths, loaded *config.LoadedConfig, plans []scheduler.Plan) {
	fmt.Fprintf(w, "targets:   %s\ndefaults:  %s\nresources: %s\n\n", paths.Targets, paths.Defaults, paths.Resources)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tID\tADDRESS\tOID\tEXTERNAL\tDISABLED\tINTERFACES\tREQUESTS")
	for _, p := range plans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			p.Target.Name, p.Target.ID, p.Target.HostPort(),
			len(p.Scalars), len(p.External), len(p.Disabled),
			len(p.Interfaces), len(p.Batches))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d target(s), %d metric(s), %d interface(s), %d threshold override(s)\n",
		len(plans), len(loaded.Resources.Metrics), len(loaded.Resources.Interfaces), len(loaded.Resources.Thresholds))
}

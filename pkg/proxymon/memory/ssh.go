package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/vpbank/proxymon/models"
)

// DefaultCommand prints used memory as a percentage of MemTotal.
const DefaultCommand = `awk '/MemTotal/ {total=$2} /MemAvailable/ {available=$2} END {printf "%.0f", 100 - (available / total * 100)}' /proc/meminfo`

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// SSHOptions configures the SSH collector.
type SSHOptions struct {
	// Command is run on the target; its trimmed stdout must be a number.
	Command string

	// KnownHostsFile verifies host keys. When empty any host key is accepted.
	KnownHostsFile string

	// Dial opens the TCP connection. Defaults to net.Dialer.DialContext.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func (o *SSHOptions) defaults() {
	if o.Command == "" {
		o.Command = DefaultCommand
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SSHCollector
// ─────────────────────────────────────────────────────────────────────────────

// SSHCollector runs a command over SSH with password authentication and parses
// its output as a percentage. Each call opens and closes its own connection.
type SSHCollector struct {
	opts    SSHOptions
	hostKey ssh.HostKeyCallback
	logger  *slog.Logger
}

// NewSSHCollector validates opts and loads the known_hosts file, if any.
func NewSSHCollector(opts SSHOptions, logger *slog.Logger) (*SSHCollector, error) {
	opts.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("memory: known hosts %s: %w", opts.KnownHostsFile, err)
		}
		hostKey = cb
	} else {
		logger.Warn("memory: ssh host keys are not verified; set ssh.known_hosts to enable checking")
	}
	return &SSHCollector{opts: opts, hostKey: hostKey, logger: logger}, nil
}

// MemoryPercent implements Collector.
func (c *SSHCollector) MemoryPercent(ctx context.Context, target models.Target, timeout time.Duration) (float64, error) {
	fail := func(kind, err error) (float64, error) {
		return 0, &Error{Kind: kind, Target: target.Name, Err: err}
	}
	if target.SSH.Username == "" {
		return fail(ErrAuthFailure, errors.New("no ssh username configured"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := target.SSHHostPort()
	conn, err := c.opts.Dial(ctx, "tcp", addr)
	if err != nil {
		return fail(classify(ctx, err), err)
	}
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(d)
	}

	cfg := &ssh.ClientConfig{
		User: target.SSH.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.SSH.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = target.SSH.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: c.hostKey,
		Timeout:         timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return fail(classify(ctx, err), err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fail(classify(ctx, err), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(c.opts.Command) }()

	select {
	case <-ctx.Done():
		_ = client.Close()
		return fail(ErrTimeout, ctx.Err())
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			return fail(classify(ctx, err), err)
		}
	}

	out := strings.TrimSpace(stdout.String())
	v, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return fail(ErrCommandFailure, fmt.Errorf("unparseable output %q", out))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fail(ErrCommandFailure, fmt.Errorf("non-finite output %q", out))
	}

	c.logger.Debug("memory: collected",
		"target", target.Name,
		"percent", v,
	)
	return clampPercent(v), nil
}

// classify maps a connection, handshake or session error onto a failure
// kind. x/crypto/ssh reports authentication failure only through its message.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return ErrAuthFailure
	}
	return ErrCommandFailure
}

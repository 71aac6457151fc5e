package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/vpbank/proxymon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-process SSH server
// ─────────────────────────────────────────────────────────────────────────────

type execReply struct {
	output string
	status uint32
	delay  time.Duration
}

type sshServer struct {
	target  models.Target
	hostKey ssh.PublicKey
}

// startSSHServer accepts password "secret" for user "monitor" and answers
// every exec request with reply.
func startSSHServer(t *testing.T, reply execReply) sshServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "monitor" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg, reply)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	return sshServer{
		target: models.Target{
			Name:    "proxy-a",
			Address: "127.0.0.1",
			SSH:     models.SSHCredentials{Port: port, Username: "monitor", Password: "secret"},
		},
		hostKey: signer.PublicKey(),
	}
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig, reply execReply) {
	defer nc.Close()
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				_ = req.Reply(true, nil)
				time.Sleep(reply.delay)
				_, _ = ch.Write([]byte(reply.output))
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{reply.status}))
				return
			}
		}()
	}
}

func newCollector(t *testing.T) *SSHCollector {
	t.Helper()
	c, err := NewSSHCollector(SSHOptions{}, nil)
	require.NoError(t, err)
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestSSHCollector_Success(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "42\n"})

	v, err := newCollector(t).MemoryPercent(context.Background(), srv.target, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestSSHCollector_ClampsOutput(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "117"})

	v, err := newCollector(t).MemoryPercent(context.Background(), srv.target, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
}

func TestSSHCollector_AuthFailure(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "42"})
	target := srv.target
	target.SSH.Password = "wrong"

	_, err := newCollector(t).MemoryPercent(context.Background(), target, 2*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailure)
	assert.Equal(t, "auth", KindName(err))

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "proxy-a", me.Target)
}

func TestSSHCollector_MissingUsername(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "42"})
	target := srv.target
	target.SSH.Username = ""

	_, err := newCollector(t).MemoryPercent(context.Background(), target, time.Second)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestSSHCollector_Timeout(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "42", delay: 2 * time.Second})

	start := time.Now()
	_, err := newCollector(t).MemoryPercent(context.Background(), srv.target, 300*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestSSHCollector_NonZeroExit(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "", status: 1})

	_, err := newCollector(t).MemoryPercent(context.Background(), srv.target, 2*time.Second)
	assert.ErrorIs(t, err, ErrCommandFailure)
}

func TestSSHCollector_NonNumericOutput(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "awk: cannot open /proc/meminfo"})

	_, err := newCollector(t).MemoryPercent(context.Background(), srv.target, 2*time.Second)
	assert.ErrorIs(t, err, ErrCommandFailure)
	assert.Equal(t, "command", KindName(err))
}

func TestSSHCollector_NonFiniteOutput(t *testing.T) {
	for _, out := range []string{"NaN", "nan", "Inf", "-Inf", "+infinity"} {
		srv := startSSHServer(t, execReply{output: out + "\n"})

		_, err := newCollector(t).MemoryPercent(context.Background(), srv.target, 2*time.Second)
		assert.ErrorIs(t, err, ErrCommandFailure, out)
	}
}

func TestSSHCollector_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	target := models.Target{
		Name:    "proxy-down",
		Address: "127.0.0.1",
		SSH:     models.SSHCredentials{Port: port, Username: "monitor", Password: "secret"},
	}
	_, err = newCollector(t).MemoryPercent(context.Background(), target, time.Second)
	assert.ErrorIs(t, err, ErrCommandFailure)
}

func TestSSHCollector_KnownHosts(t *testing.T) {
	srv := startSSHServer(t, execReply{output: "10"})

	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{srv.target.SSHHostPort()}, srv.hostKey)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))

	c, err := NewSSHCollector(SSHOptions{KnownHostsFile: path}, nil)
	require.NoError(t, err)
	v, err := c.MemoryPercent(context.Background(), srv.target, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	// A different key for the same host must be rejected.
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)
	bad := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(bad, []byte(knownhosts.Line([]string{srv.target.SSHHostPort()}, otherSigner.PublicKey())+"\n"), 0o600))

	c, err = NewSSHCollector(SSHOptions{KnownHostsFile: bad}, nil)
	require.NoError(t, err)
	_, err = c.MemoryPercent(context.Background(), srv.target, 2*time.Second)
	assert.ErrorIs(t, err, ErrCommandFailure)
}

func TestNewSSHCollector_MissingKnownHosts(t *testing.T) {
	_, err := NewSSHCollector(SSHOptions{KnownHostsFile: filepath.Join(t.TempDir(), "absent")}, nil)
	assert.Error(t, err)
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, clampPercent(-3))
	assert.Equal(t, 55.5, clampPercent(55.5))
	assert.Equal(t, 100.0, clampPercent(100.01))
}

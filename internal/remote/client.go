package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/metrics"
)

const (
	defaultPort = 22
	defaultUser = "root"
)

// Options configures a Client.
type Options struct {
	// DialTimeout bounds TCP connect plus SSH handshake. Zero means no
	// limit beyond the caller's context.
	DialTimeout time.Duration
	// KnownHostsPath, when set, enables host key verification.
	KnownHostsPath string
	// InsecureSkipHostKeyCheck accepts any host key without a warning.
	InsecureSkipHostKeyCheck bool
}

// Client opens one SSH connection per call. It holds no connection state and
// is safe for concurrent use.
type Client struct {
	opts     Options
	hostKeys ssh.HostKeyCallback
}

var _ Executor = (*Client)(nil)

// NewClient builds a Client, loading the known_hosts file if configured.
func NewClient(opts Options) (*Client, error) {
	c := &Client{opts: opts}
	switch {
	case opts.KnownHostsPath != "":
		cb, err := knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts %s: %w", opts.KnownHostsPath, err)
		}
		c.hostKeys = cb
	case opts.InsecureSkipHostKeyCheck:
		c.hostKeys = ssh.InsecureIgnoreHostKey()
	default:
		log.Warn("host key verification disabled; set ssh.known_hosts to enable it")
		c.hostKeys = ssh.InsecureIgnoreHostKey()
	}
	return c, nil
}

// Run opens a session, runs cmd, and returns its captured output. Stdout and
// stderr are captured byte-for-byte. A nonzero exit status is reported in
// Result.ExitCode with a nil error; only connection-level failures return an
// error, always a *ConnectionError.
func (c *Client) Run(ctx context.Context, p Params, cmd string) (res *Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSession("run", sessionResult(err), time.Since(start)) }()

	client, err := c.dial(ctx, p)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Host: p.Host, Stage: "session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	log.Debug("ssh run", "host", p.Host, "cmd", summarize(cmd))
	code, err := exitStatus(session.Run(cmd))
	if err != nil {
		return nil, &ConnectionError{Host: p.Host, Stage: "exec", Err: err}
	}
	return &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}, nil
}

// dial connects and authenticates. The context bounds both the TCP dial and
// the SSH handshake.
func (c *Client) dial(ctx context.Context, p Params) (*ssh.Client, error) {
	if p.Host == "" {
		return nil, &ConnectionError{Host: p.Host, Stage: "dial", Err: errors.New("host is required")}
	}
	signer, err := ssh.ParsePrivateKey(p.PrivateKey)
	if err != nil {
		return nil, &ConnectionError{Host: p.Host, Stage: "key", Err: err}
	}

	user := p.User
	if user == "" {
		user = defaultUser
	}
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(p.Host, strconv.Itoa(port))

	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Host: p.Host, Stage: "dial", Err: err}
	}

	// Abort a stalled handshake when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: c.hostKeys,
	})
	if !stop() {
		if err == nil {
			sc.Close()
		}
		conn.Close()
		return nil, &ConnectionError{Host: p.Host, Stage: "handshake", Err: ctx.Err()}
	}
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Host: p.Host, Stage: "handshake", Err: err}
	}
	return ssh.NewClient(sc, chans, reqs), nil
}

// exitStatus maps the error from Session.Run/Wait to an exit code. Remote
// command failures are data, not errors.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, nil
	}
	return 0, err
}

func sessionResult(err error) string {
	var te *TransferError
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &te):
		return metrics.ResultXferError
	default:
		return metrics.ResultConnError
	}
}

// summarize shortens a command for debug logs; commands may carry large
// base64 payloads.
func summarize(cmd string) string {
	const max = 160
	cmd = strings.ReplaceAll(cmd, "\n", `\n`)
	if len(cmd) <= max {
		return cmd
	}
	return cmd[:max] + "…(" + strconv.Itoa(len(cmd)) + " bytes)"
}

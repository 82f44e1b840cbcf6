// Package remote implements reef's per-call SSH primitives: run one command
// and capture its output, stream one command's output live, and push or pull
// one file over SFTP.
//
// No connection is pooled. Every call dials, authenticates, does its one
// thing and closes the connection before returning, on every path. A context
// bounds connection establishment; once a command has been issued it runs to
// completion on the remote side even if the caller goes away. Only Stream
// offers consumer-driven teardown.
package remote

import (
	"context"
	"fmt"
)

// Params identifies one host and the key to log in with. Params are supplied
// per call and never cached.
type Params struct {
	Host       string
	PrivateKey []byte
	// Port defaults to 22.
	Port int
	// User defaults to root.
	User string
}

// Result is the captured output of one remote command. A nonzero ExitCode is
// a normal outcome, not an error. ExitCode is -1 when the session ended
// without reporting a status (e.g. the remote process was killed by a signal).
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// OK reports whether the command exited zero.
func (r *Result) OK() bool { return r.ExitCode == 0 }

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string { return r.Stdout + r.Stderr }

// Runner runs a single command on a host.
type Runner interface {
	Run(ctx context.Context, p Params, cmd string) (*Result, error)
}

// Streamer runs a single command and exposes its stdout live.
type Streamer interface {
	Stream(ctx context.Context, p Params, cmd string) (*Stream, error)
}

// Transferrer moves single files between the local machine and a host.
type Transferrer interface {
	Push(ctx context.Context, p Params, localPath, remotePath string) error
	Pull(ctx context.Context, p Params, remotePath, localPath string) error
}

// Executor is the full set of primitives.
type Executor interface {
	Runner
	Streamer
	Transferrer
}

// ConnectionError reports a failure to reach, authenticate with, or keep a
// session open on a host. No command output is available when it occurs.
type ConnectionError struct {
	Host string
	// Stage is where it failed: "key", "dial", "handshake", "session",
	// "exec" or "sftp".
	Stage string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Stage, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransferError reports an SFTP failure on a specific path after the
// connection was established.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

package remote

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/metrics"
)

// ErrStreamClosed is returned by Stream.Wait when the consumer tore the
// stream down before the remote command reported its exit status.
var ErrStreamClosed = errors.New("stream closed before command exited")

// Stream is a live view of one remote command's stdout. Reads return output
// chunks as they arrive; the sequence cannot be restarted. Stderr is
// discarded.
//
// The caller owns the Stream: it must be read to EOF, waited on, or closed.
// Reaching EOF or calling Wait releases the session once the command exits;
// Close (or cancelling the context passed to Client.Stream) tears it down
// immediately.
type Stream struct {
	host    string
	stdout  io.Reader
	session *ssh.Session
	client  *ssh.Client
	started time.Time

	exited chan struct{}
	code   int
	err    error

	closed       atomic.Bool
	teardownOnce sync.Once

	mu         sync.Mutex
	stopCancel func() bool
}

// Stream starts cmd and returns its live stdout.
func (c *Client) Stream(ctx context.Context, p Params, cmd string) (*Stream, error) {
	start := time.Now()
	client, err := c.dial(ctx, p)
	if err != nil {
		metrics.ObserveSession("stream", metrics.ResultConnError, time.Since(start))
		return nil, err
	}

	fail := func(stage string, err error) (*Stream, error) {
		client.Close()
		metrics.ObserveSession("stream", metrics.ResultConnError, time.Since(start))
		return nil, &ConnectionError{Host: p.Host, Stage: stage, Err: err}
	}

	session, err := client.NewSession()
	if err != nil {
		return fail("session", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return fail("session", err)
	}
	session.Stderr = io.Discard

	log.Debug("ssh stream", "host", p.Host, "cmd", summarize(cmd))
	if err := session.Start(cmd); err != nil {
		session.Close()
		return fail("exec", err)
	}

	s := &Stream{
		host:    p.Host,
		stdout:  stdout,
		session: session,
		client:  client,
		started: start,
		exited:  make(chan struct{}),
	}
	go s.wait()
	stop := context.AfterFunc(ctx, func() { s.Close() })
	s.mu.Lock()
	s.stopCancel = stop
	s.mu.Unlock()
	return s, nil
}

func (s *Stream) wait() {
	defer close(s.exited)
	code, err := exitStatus(s.session.Wait())
	if s.closed.Load() && (err != nil || code < 0) {
		code, err = -1, ErrStreamClosed
	} else if err != nil {
		err = &ConnectionError{Host: s.host, Stage: "exec", Err: err}
	}
	s.code, s.err = code, err
}

// Read implements io.Reader over the remote command's stdout. At EOF the
// session is released once the command's exit status has arrived.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		<-s.exited
		s.teardown()
	}
	return n, err
}

// Wait discards any unread output, waits for the command to exit, releases
// the session and returns the exit code.
func (s *Stream) Wait() (int, error) {
	_, _ = io.Copy(io.Discard, s)
	<-s.exited
	s.teardown()
	return s.code, s.err
}

// Close tears down the session and connection. Any in-flight Read returns
// and Wait reports ErrStreamClosed unless the command had already exited.
func (s *Stream) Close() error {
	s.closed.Store(true)
	s.teardown()
	return nil
}

func (s *Stream) teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		stop := s.stopCancel
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.session.Close()
		s.client.Close()

		result := metrics.ResultOK
		if s.closed.Load() {
			result = metrics.ResultClosed
		}
		metrics.ObserveSession("stream", result, time.Since(s.started))
		log.Debug("ssh stream released", "host", s.host, "closed_by_consumer", s.closed.Load())
	})
}

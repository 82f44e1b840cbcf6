// Package fakeremote provides a scripted remote.Executor that records every
// call. Replies are chosen by the first rule whose substring appears in the
// command; unmatched commands succeed with empty output.
package fakeremote

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/majorcontext/reef/internal/remote"
)

// Call is one recorded primitive invocation.
type Call struct {
	// Kind is "run", "stream", "push" or "pull".
	Kind   string
	Host   string
	Cmd    string
	Local  string
	Remote string
}

// Reply scripts the answer to a matching Run.
type Reply struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err, when set, is returned instead of a result.
	Err error
}

type rule struct {
	host   string
	substr string
	reply  Reply
}

// Fake is a scripted remote.Executor. It is safe for concurrent use.
type Fake struct {
	mu    sync.Mutex
	calls []Call
	rules []rule

	// PushFunc and PullFunc override the default transfers, which copy
	// nothing and create an empty local file respectively.
	PushFunc func(p remote.Params, localPath, remotePath string) error
	PullFunc func(p remote.Params, remotePath, localPath string) error
}

var _ remote.Executor = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake { return &Fake{} }

// On scripts the reply for any command containing substr, on any host.
func (f *Fake) On(substr string, r Reply) *Fake {
	return f.OnHost("", substr, r)
}

// OnHost scripts the reply for commands containing substr on one host.
func (f *Fake) OnHost(host, substr string, r Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{host: host, substr: substr, reply: r})
	return f
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Run implements remote.Runner.
func (f *Fake) Run(_ context.Context, p remote.Params, cmd string) (*remote.Result, error) {
	f.record(Call{Kind: "run", Host: p.Host, Cmd: cmd})

	f.mu.Lock()
	var reply Reply
	for _, r := range f.rules {
		if (r.host == "" || r.host == p.Host) && strings.Contains(cmd, r.substr) {
			reply = r.reply
			break
		}
	}
	f.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &remote.Result{Stdout: reply.Stdout, Stderr: reply.Stderr, ExitCode: reply.ExitCode}, nil
}

// Stream implements remote.Streamer. Live streams need a real session, so
// the fake always fails.
func (f *Fake) Stream(_ context.Context, p remote.Params, cmd string) (*remote.Stream, error) {
	f.record(Call{Kind: "stream", Host: p.Host, Cmd: cmd})
	return nil, &remote.ConnectionError{Host: p.Host, Stage: "session", Err: errors.New("fakeremote: streaming not supported")}
}

// Push implements remote.Transferrer.
func (f *Fake) Push(_ context.Context, p remote.Params, localPath, remotePath string) error {
	f.record(Call{Kind: "push", Host: p.Host, Local: localPath, Remote: remotePath})
	if f.PushFunc != nil {
		return f.PushFunc(p, localPath, remotePath)
	}
	return nil
}

// Pull implements remote.Transferrer.
func (f *Fake) Pull(_ context.Context, p remote.Params, remotePath, localPath string) error {
	f.record(Call{Kind: "pull", Host: p.Host, Local: localPath, Remote: remotePath})
	if f.PullFunc != nil {
		return f.PullFunc(p, remotePath, localPath)
	}
	return os.WriteFile(localPath, nil, 0o600)
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the command of every recorded Run, in order.
func (f *Fake) Commands() []string {
	var cmds []string
	for _, c := range f.Calls() {
		if c.Kind == "run" {
			cmds = append(cmds, c.Cmd)
		}
	}
	return cmds
}

// Ran reports whether any Run command contained substr.
func (f *Fake) Ran(substr string) bool {
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

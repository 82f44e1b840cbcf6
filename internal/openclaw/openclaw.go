// Package openclaw wraps the OpenClaw CLI on a remote host. Each method maps
// to one or a few fixed command lines. Caller-supplied identifiers are
// validated before they reach a command, and free text (chat messages,
// tokens, JSON) travels base64-encoded.
package openclaw

import (
	"context"
	"strings"

	"github.com/majorcontext/reef/internal/remote"
)

// AgentsDir is where OpenClaw keeps per-agent state on every host.
const AgentsDir = "$HOME/.openclaw/agents"

// Client issues OpenClaw commands through the remote primitives.
type Client struct {
	exec remote.Executor
}

// New returns a Client.
func New(e remote.Executor) *Client {
	return &Client{exec: e}
}

// Result is the outcome of a state-changing CLI call.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// CommandOutput is the raw output of a diagnostic command.
type CommandOutput struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func (c *Client) run(ctx context.Context, p remote.Params, cmd string) (*remote.Result, error) {
	return c.exec.Run(ctx, p, cmd)
}

// result runs cmd and reports success by exit status.
func (c *Client) result(ctx context.Context, p remote.Params, cmd string) (Result, error) {
	res, err := c.run(ctx, p, cmd)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: res.OK(), Output: strings.TrimSpace(res.Combined())}, nil
}

// output runs cmd and returns everything it printed.
func (c *Client) output(ctx context.Context, p remote.Params, cmd string) (CommandOutput, error) {
	res, err := c.run(ctx, p, cmd)
	if err != nil {
		return CommandOutput{}, err
	}
	return CommandOutput{Output: res.Combined(), ExitCode: res.ExitCode}, nil
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

package openclaw

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/shellcmd"
)

// ChatReply is an agent's answer to one message.
type ChatReply struct {
	Reply     string `json:"reply"`
	AgentID   string `json:"agent_id"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

// Chat sends message to an agent and waits for the full reply. Output that
// is not the CLI's JSON envelope is returned as plain text.
func (c *Client) Chat(ctx context.Context, p remote.Params, agentID, message string) (*ChatReply, error) {
	if err := shellcmd.ValidateID("agent ID", agentID); err != nil {
		return nil, err
	}
	res, err := c.run(ctx, p, chatCommand(agentID, message)+" --json 2>&1")
	if err != nil {
		return nil, err
	}

	out := strings.TrimSpace(res.Stdout)
	if strings.HasPrefix(out, "{") {
		var env struct {
			Reply     *string `json:"reply"`
			Content   *string `json:"content"`
			Message   *string `json:"message"`
			AgentID   string  `json:"agentId"`
			Model     string  `json:"model"`
			SessionID string  `json:"sessionId"`
		}
		if err := json.Unmarshal([]byte(out), &env); err == nil {
			r := &ChatReply{AgentID: agentID, Model: env.Model, SessionID: env.SessionID}
			if env.AgentID != "" {
				r.AgentID = env.AgentID
			}
			switch {
			case env.Reply != nil:
				r.Reply = *env.Reply
			case env.Content != nil:
				r.Reply = *env.Content
			case env.Message != nil:
				r.Reply = *env.Message
			}
			return r, nil
		}
	}

	reply := out
	if reply == "" {
		reply = strings.TrimSpace(res.Stderr)
	}
	if reply == "" {
		reply = "(no response)"
	}
	return &ChatReply{Reply: reply, AgentID: agentID}, nil
}

// StreamChat sends message to an agent and returns its reply as a live
// stream. The caller owns the stream.
func (c *Client) StreamChat(ctx context.Context, p remote.Params, agentID, message string) (*remote.Stream, error) {
	if err := shellcmd.ValidateID("agent ID", agentID); err != nil {
		return nil, err
	}
	return c.exec.Stream(ctx, p, chatCommand(agentID, message)+" 2>/dev/null")
}

// Upgrade updates the OpenClaw package, restarts the gateway and prints the
// new version, streaming all output. The caller owns the stream.
func (c *Client) Upgrade(ctx context.Context, p remote.Params) (*remote.Stream, error) {
	return c.exec.Stream(ctx, p, shellcmd.Join(
		`echo "=== Upgrading OpenClaw ==="`,
		"npm update -g openclaw 2>&1",
		`echo ""`,
		`echo "=== Restarting Gateway ==="`,
		"openclaw gateway restart 2>&1",
		`echo ""`,
		`echo "=== Version ==="`,
		"openclaw --version 2>&1",
	))
}

func chatCommand(agentID, message string) string {
	assign, ref := shellcmd.DecodeVar("msg", []byte(message))
	return assign + "openclaw agent --agent " + agentID + " -m " + ref
}

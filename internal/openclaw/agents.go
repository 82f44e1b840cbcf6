package openclaw

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/shellcmd"
)

// Agent is one entry of `openclaw agents list --json`.
type Agent struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	IdentityName  string `json:"identityName"`
	IdentityEmoji string `json:"identityEmoji"`
	Workspace     string `json:"workspace"`
	AgentDir      string `json:"agentDir"`
	Model         string `json:"model"`
	IsDefault     bool   `json:"isDefault"`
}

// DisplayName returns the best human-readable name available.
func (a Agent) DisplayName() string {
	switch {
	case a.IdentityName != "":
		return a.IdentityName
	case a.Name != "":
		return a.Name
	default:
		return a.ID
	}
}

// ListAgents asks the CLI for the agent list and falls back to the entries
// of the agents directory when the CLI gives nothing usable. Entries whose
// id is not a safe identifier are dropped.
func (c *Client) ListAgents(ctx context.Context, p remote.Params) ([]Agent, error) {
	res, err := c.run(ctx, p, "openclaw agents list --json 2>/dev/null")
	if err != nil {
		return nil, err
	}
	if out := strings.TrimSpace(res.Stdout); strings.HasPrefix(out, "[") {
		var agents []Agent
		if err := json.Unmarshal([]byte(out), &agents); err == nil {
			return safeAgents(agents), nil
		}
		log.Debug("agents list is not valid JSON, falling back to directory listing", "host", p.Host)
	}

	res, err = c.run(ctx, p, "ls -1 "+AgentsDir+"/ 2>/dev/null || true")
	if err != nil {
		return nil, err
	}
	var agents []Agent
	for _, id := range lines(res.Stdout) {
		agents = append(agents, Agent{ID: id, IdentityName: id, AgentDir: "~/.openclaw/agents/" + id})
	}
	return safeAgents(agents), nil
}

func safeAgents(in []Agent) []Agent {
	out := in[:0]
	for _, a := range in {
		if shellcmd.ValidateID("agent ID", a.ID) == nil {
			out = append(out, a)
		}
	}
	return out
}

// CreateAgent adds an agent with its own workspace and copies the default
// agent's auth profile so the new agent can reach its model provider.
func (c *Client) CreateAgent(ctx context.Context, p remote.Params, name, model string) (Result, error) {
	if err := shellcmd.ValidateID("agent name", name); err != nil {
		return Result{}, err
	}
	cmd := "openclaw agents add " + name +
		" --workspace " + AgentsDir + "/" + name + "/workspace --non-interactive --json"
	if model != "" {
		assign, ref := shellcmd.DecodeVar("model", []byte(model))
		cmd = assign + cmd + " --model " + ref
	}
	res, err := c.result(ctx, p, cmd+" 2>&1")
	if err != nil || !res.Success {
		return res, err
	}

	agentDir := AgentsDir + "/" + strings.ToLower(name) + "/agent"
	copyAuth := shellcmd.Join(
		"mkdir -p "+agentDir,
		"(cp "+AgentsDir+"/main/agent/auth-profiles.json "+agentDir+"/auth-profiles.json 2>/dev/null || true)",
	)
	if _, err := c.run(ctx, p, copyAuth); err != nil {
		log.Warn("copying auth profile to new agent failed", "host", p.Host, "agent", name, "error", err)
	}
	return res, nil
}

// DeleteAgent removes an agent through the CLI.
func (c *Client) DeleteAgent(ctx context.Context, p remote.Params, agentID string) (Result, error) {
	if err := shellcmd.ValidateID("agent ID", agentID); err != nil {
		return Result{}, err
	}
	return c.result(ctx, p, "openclaw agents delete "+agentID+" --force --json 2>&1")
}

// HasAuthProfile reports whether the agent has at least one model provider
// profile configured.
func (c *Client) HasAuthProfile(ctx context.Context, p remote.Params, agentID string) (bool, error) {
	if err := shellcmd.ValidateID("agent ID", agentID); err != nil {
		return false, err
	}
	res, err := c.run(ctx, p, "cat "+AgentsDir+"/"+agentID+`/agent/auth-profiles.json 2>/dev/null || echo "MISSING"`)
	if err != nil {
		return false, err
	}
	var parsed struct {
		Profiles map[string]json.RawMessage `json:"profiles"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &parsed); err != nil {
		return false, nil
	}
	return len(parsed.Profiles) > 0, nil
}

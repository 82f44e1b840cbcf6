package openclaw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/shellcmd"
)

// Channels maps a chat channel type to its configured account ids, e.g.
// {"telegram": ["default", "ada"]}.
type Channels map[string][]string

// Binding routes messages matching a channel (and optionally an account) to
// an agent.
type Binding struct {
	Match   BindingMatch `json:"match"`
	AgentID string       `json:"agentId"`
}

// BindingMatch selects the messages a Binding applies to.
type BindingMatch struct {
	Channel   string `json:"channel,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// Label renders the match as "channel" or "channel:account".
func (m BindingMatch) Label() string {
	if m.AccountID == "" {
		return m.Channel
	}
	return m.Channel + ":" + m.AccountID
}

// ListChannels returns the configured chat channels. Unparseable output
// yields an empty set.
func (c *Client) ListChannels(ctx context.Context, p remote.Params) (Channels, error) {
	res, err := c.run(ctx, p, "openclaw channels list --json --no-usage 2>/dev/null")
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Chat Channels `json:"chat"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &parsed); err != nil || parsed.Chat == nil {
		return Channels{}, nil
	}
	return parsed.Chat, nil
}

// Bindings returns the routing bindings from the OpenClaw config.
// Unparseable output yields no bindings.
func (c *Client) Bindings(ctx context.Context, p remote.Params) ([]Binding, error) {
	res, err := c.run(ctx, p, `openclaw config get bindings --json 2>/dev/null || echo "[]"`)
	if err != nil {
		return nil, err
	}
	var bindings []Binding
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &bindings); err != nil {
		return nil, nil
	}
	return bindings, nil
}

// BindChannel routes a channel (or one account on it) to agentID, replacing
// any binding with the same match.
func (c *Client) BindChannel(ctx context.Context, p remote.Params, agentID, channel, accountID string) (Result, error) {
	if err := shellcmd.ValidateIDs("agent ID", agentID, "channel", channel); err != nil {
		return Result{}, err
	}
	if accountID != "" {
		if err := shellcmd.ValidateID("account ID", accountID); err != nil {
			return Result{}, err
		}
	}

	existing, err := c.Bindings(ctx, p)
	if err != nil {
		return Result{}, err
	}
	match := BindingMatch{Channel: channel, AccountID: accountID}
	bindings := make([]Binding, 0, len(existing)+1)
	for _, b := range existing {
		if b.Match.Channel == channel && b.Match.AccountID == accountID {
			continue
		}
		bindings = append(bindings, b)
	}
	bindings = append(bindings, Binding{Match: match, AgentID: agentID})

	data, err := json.Marshal(bindings)
	if err != nil {
		return Result{}, fmt.Errorf("encoding bindings: %w", err)
	}
	assign, ref := shellcmd.DecodeVar("bindings", data)
	res, err := c.result(ctx, p, assign+"openclaw config set bindings "+ref+" --json 2>&1")
	if err != nil || !res.Success {
		return res, err
	}
	return Result{Success: true, Output: fmt.Sprintf("Bound %s → %s", match.Label(), agentID)}, nil
}

// AddChannel registers a chat channel account using token.
func (c *Client) AddChannel(ctx context.Context, p remote.Params, channel, token, accountID string) (Result, error) {
	if err := shellcmd.ValidateID("channel type", channel); err != nil {
		return Result{}, err
	}
	assign, ref := shellcmd.DecodeVar("token", []byte(token))
	cmd := assign + "openclaw channels add --channel " + channel + " --token " + ref
	if accountID != "" {
		if err := shellcmd.ValidateID("account ID", accountID); err != nil {
			return Result{}, err
		}
		cmd += " --account " + accountID
	}
	return c.result(ctx, p, cmd+" 2>&1")
}

// ApprovePairing authorizes the user behind a pairing code and notifies them.
func (c *Client) ApprovePairing(ctx context.Context, p remote.Params, channel, code string) (Result, error) {
	if err := shellcmd.ValidateIDs("channel", channel, "pairing code", code); err != nil {
		return Result{}, err
	}
	return c.result(ctx, p, "openclaw pairing approve --channel "+channel+" "+code+" --notify 2>&1")
}

// ListPairingRequests returns pending pairing requests for a channel as the
// CLI's JSON output.
func (c *Client) ListPairingRequests(ctx context.Context, p remote.Params, channel string) (Result, error) {
	if err := shellcmd.ValidateID("channel", channel); err != nil {
		return Result{}, err
	}
	return c.result(ctx, p, "openclaw pairing list --channel "+channel+" --json 2>&1")
}

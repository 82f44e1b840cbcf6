package fleet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/reef/internal/fleet"
	"github.com/majorcontext/reef/internal/openclaw"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/testutil/fakeremote"
)

func TestBuildOverview(t *testing.T) {
	hosts := []fleet.Host{
		{ID: "reef-a", Params: remote.Params{Host: "10.0.0.1"}},
		{ID: "reef-b", Params: remote.Params{Host: "10.0.0.2"}},
	}
	fake := fakeremote.New().
		OnHost("10.0.0.1", "agents list", fakeremote.Reply{
			Stdout: `[{"id":"main","identityName":"Ada","identityEmoji":"🦊","isDefault":true},{"id":"hal"}]`,
		}).
		OnHost("10.0.0.1", "channels list", fakeremote.Reply{
			Stdout: `{"chat":{"telegram":["default","hal"],"gmail":["ada@example.com"]}}`,
		}).
		OnHost("10.0.0.1", "config get bindings", fakeremote.Reply{
			Stdout: `[{"match":{"channel":"telegram","accountId":"hal"},"agentId":"hal"},{"match":{"channel":"gmail","accountId":"ada@example.com"},"agentId":"main"}]`,
		}).
		OnHost("10.0.0.1", "journalctl", fakeremote.Reply{Stdout: "ada@example.com\n"}).
		OnHost("10.0.0.1", "openclaw --version", fakeremote.Reply{Stdout: "2026.3.1\n"}).
		OnHost("10.0.0.1", "agents/main/agent/auth-profiles.json", fakeremote.Reply{Stdout: `{"profiles":{"anthropic:default":{}}}`}).
		OnHost("10.0.0.1", "du -sh $HOME/.openclaw/agents/main", fakeremote.Reply{Stdout: "40M\n"}).
		OnHost("10.0.0.1", "du -sh $HOME/.openclaw/agents/hal", fakeremote.Reply{Err: errors.New("session reset")}).
		OnHost("10.0.0.2", "", fakeremote.Reply{Err: &remote.ConnectionError{Host: "10.0.0.2", Stage: "dial", Err: errors.New("i/o timeout")}})

	ov := fleet.BuildOverview(context.Background(), fleet.New(fleet.Options{Concurrency: 4}), openclaw.New(fake), hosts)

	require.Len(t, ov.Errors, 1)
	assert.Equal(t, "reef-b", ov.Errors[0].Instance)
	assert.Contains(t, ov.Errors[0].Error, "i/o timeout")

	require.Len(t, ov.Instances, 1)
	assert.Equal(t, "reef-a", ov.Instances[0].Instance)
	assert.Equal(t, "2026.3.1", ov.Instances[0].OpenClawVersion)

	require.Len(t, ov.Agents, 2)
	assert.Equal(t, fleet.AgentRow{
		Instance:         "reef-a",
		AgentID:          "main",
		AgentName:        "Ada",
		AgentEmoji:       "🦊",
		Channels:         []string{"gmail:ada@example.com", "telegram:default"},
		WorkspaceSize:    "40M",
		HasAPIKey:        true,
		HasGmailBinding:  true,
		GmailWatchActive: true,
		// telegram:default is unbound and lands on the default agent.
		HasTelegramBinding: true,
	}, ov.Agents[0])
	assert.Equal(t, fleet.AgentRow{
		Instance:           "reef-a",
		AgentID:            "hal",
		AgentName:          "hal",
		Channels:           []string{"telegram:hal"},
		WorkspaceSize:      "?",
		HasTelegramBinding: true,
	}, ov.Agents[1])
}

func TestBuildOverviewNoAgents(t *testing.T) {
	fake := fakeremote.New().
		On("agents list", fakeremote.Reply{Stdout: "[]"}).
		On("channels list", fakeremote.Reply{Stdout: `{"chat":{"telegram":["default"]}}`})

	ov := fleet.BuildOverview(context.Background(), fleet.New(fleet.Options{}), openclaw.New(fake),
		[]fleet.Host{{ID: "reef-a", Params: remote.Params{Host: "10.0.0.1"}}})

	assert.Empty(t, ov.Agents)
	assert.Empty(t, ov.Errors)
	require.Len(t, ov.Instances, 1)
	assert.Equal(t, "unknown", ov.Instances[0].OpenClawVersion)
}

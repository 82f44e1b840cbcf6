package fleet

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/reef/internal/openclaw"
)

// AgentRow is one agent in the fleet overview.
type AgentRow struct {
	Instance           string   `json:"instance"`
	AgentID            string   `json:"agent_id"`
	AgentName          string   `json:"agent_name"`
	AgentEmoji         string   `json:"agent_emoji"`
	Channels           []string `json:"channels"`
	WorkspaceSize      string   `json:"workspace_size"`
	HasAPIKey          bool     `json:"has_api_key"`
	HasGmailBinding    bool     `json:"has_gmail_binding"`
	GmailWatchActive   bool     `json:"gmail_watch_active"`
	HasTelegramBinding bool     `json:"has_telegram_binding"`
}

// InstanceInfo is one host in the fleet overview.
type InstanceInfo struct {
	Instance string `json:"instance"`
	openclaw.InstanceDiagnostics
}

// HostError records a host that could not be surveyed.
type HostError struct {
	Instance string `json:"instance"`
	Error    string `json:"error"`
}

// Overview is a fleet-wide survey of agents and hosts.
type Overview struct {
	Agents    []AgentRow     `json:"agents"`
	Instances []InstanceInfo `json:"instances"`
	Errors    []HostError    `json:"errors,omitempty"`
}

type hostSurvey struct {
	rows []AgentRow
	info InstanceInfo
}

// BuildOverview surveys every host concurrently. Hosts that cannot be
// reached are listed in Errors and contribute nothing else.
func BuildOverview(ctx context.Context, a *Aggregator, oc *openclaw.Client, hosts []Host) *Overview {
	results := Hosts(ctx, a, hosts, func(ctx context.Context, h Host) (hostSurvey, error) {
		return surveyHost(ctx, oc, h)
	})

	ov := &Overview{Agents: []AgentRow{}, Instances: []InstanceInfo{}}
	for _, r := range results {
		if r.Err != nil {
			ov.Errors = append(ov.Errors, HostError{Instance: r.Host, Error: r.Err.Error()})
			continue
		}
		ov.Agents = append(ov.Agents, r.Value.rows...)
		ov.Instances = append(ov.Instances, r.Value.info)
	}
	return ov
}

func surveyHost(ctx context.Context, oc *openclaw.Client, h Host) (hostSurvey, error) {
	var (
		agents   []openclaw.Agent
		channels openclaw.Channels
		bindings []openclaw.Binding
		diag     *openclaw.InstanceDiagnostics
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { agents, err = oc.ListAgents(gctx, h.Params); return })
	g.Go(func() (err error) { channels, err = oc.ListChannels(gctx, h.Params); return })
	g.Go(func() (err error) { bindings, err = oc.Bindings(gctx, h.Params); return })
	g.Go(func() (err error) { diag, err = oc.InstanceDiagnostics(gctx, h.Params); return })
	if err := g.Wait(); err != nil {
		return hostSurvey{}, err
	}

	// Per-agent probes settle individually; a failed probe degrades its
	// column instead of the row.
	sizes := make([]string, len(agents))
	apiKeys := make([]bool, len(agents))
	var probes errgroup.Group
	for i, agent := range agents {
		probes.Go(func() error {
			sizes[i] = "?"
			if health, err := oc.AgentHealth(ctx, h.Params, agent.ID); err == nil {
				sizes[i] = health.DirSize
			}
			return nil
		})
		probes.Go(func() error {
			apiKeys[i], _ = oc.HasAuthProfile(ctx, h.Params, agent.ID)
			return nil
		})
	}
	_ = probes.Wait()

	agentChannels := channelsByAgent(agents, channels, bindings)
	rows := make([]AgentRow, len(agents))
	for i, agent := range agents {
		chs := agentChannels[agent.ID]
		if chs == nil {
			chs = []string{}
		}
		var gmailAccount string
		hasGmail := false
		for _, c := range chs {
			if acct, ok := strings.CutPrefix(c, "gmail:"); ok {
				gmailAccount, hasGmail = acct, true
				break
			}
		}
		rows[i] = AgentRow{
			Instance:           h.ID,
			AgentID:            agent.ID,
			AgentName:          agent.DisplayName(),
			AgentEmoji:         agent.IdentityEmoji,
			Channels:           chs,
			WorkspaceSize:      sizes[i],
			HasAPIKey:          apiKeys[i],
			HasGmailBinding:    hasGmail,
			GmailWatchActive:   gmailAccount != "" && slices.Contains(diag.ActiveGmailWatches, gmailAccount),
			HasTelegramBinding: slices.ContainsFunc(chs, func(c string) bool { return strings.HasPrefix(c, "telegram:") }),
		}
	}

	return hostSurvey{rows: rows, info: InstanceInfo{Instance: h.ID, InstanceDiagnostics: *diag}}, nil
}

// channelsByAgent maps agent ids to channel labels from the bindings. Channel
// accounts with no binding of their own are routed by OpenClaw to the
// default agent (or the first agent), so they are listed there.
func channelsByAgent(agents []openclaw.Agent, channels openclaw.Channels, bindings []openclaw.Binding) map[string][]string {
	out := make(map[string][]string)
	bound := make(map[string]bool)
	for _, b := range bindings {
		bound[b.Match.Channel+":"+b.Match.AccountID] = true
		if b.Match.Channel == "" || b.AgentID == "" {
			continue
		}
		out[b.AgentID] = append(out[b.AgentID], b.Match.Label())
	}
	if len(agents) == 0 {
		return out
	}

	def := agents[0]
	for _, a := range agents {
		if a.IsDefault {
			def = a
			break
		}
	}
	types := make([]string, 0, len(channels))
	for t := range channels {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		for _, acct := range channels[t] {
			label := t + ":" + acct
			if bound[label] || slices.Contains(out[def.ID], label) {
				continue
			}
			out[def.ID] = append(out[def.ID], label)
		}
	}
	return out
}

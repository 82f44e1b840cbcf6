package openclaw

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/shellcmd"
)

// Health summarises a host.
type Health struct {
	ProcessRunning bool   `json:"process_running"`
	Disk           string `json:"disk"`
	Memory         string `json:"memory"`
	Uptime         string `json:"uptime"`
	// Output is every probe's output under section headings.
	Output string `json:"output"`
}

// AgentHealth summarises one agent's state directory.
type AgentHealth struct {
	Exists  bool   `json:"exists"`
	DirSize string `json:"dir_size"`
	// LastActivity is the newest file modification as RFC 3339, or "never".
	LastActivity   string `json:"last_activity"`
	ProcessRunning bool   `json:"process_running"`
}

var runtimeRe = regexp.MustCompile(`Runtime:\s*(\S+)`)

// runAll runs cmds concurrently on one host and returns their results in
// order. The first connection error cancels the rest.
func (c *Client) runAll(ctx context.Context, p remote.Params, cmds ...string) ([]*remote.Result, error) {
	results := make([]*remote.Result, len(cmds))
	g, gctx := errgroup.WithContext(ctx)
	for i, cmd := range cmds {
		g.Go(func() error {
			res, err := c.run(gctx, p, cmd)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Health probes the gateway, disk, memory, uptime and OpenClaw's own health
// report in parallel.
func (c *Client) Health(ctx context.Context, p remote.Params) (*Health, error) {
	res, err := c.runAll(ctx, p,
		"openclaw gateway status 2>&1",
		"df -h /",
		"free -h",
		"uptime -p",
		"openclaw health 2>&1",
	)
	if err != nil {
		return nil, err
	}
	gateway, disk, mem, uptime, oc := res[0], res[1], res[2], res[3], res[4]

	h := &Health{
		Disk:   strings.TrimSpace(disk.Stdout),
		Memory: strings.TrimSpace(mem.Stdout),
		Uptime: strings.TrimSpace(uptime.Stdout),
	}
	if m := runtimeRe.FindStringSubmatch(gateway.Stdout); m != nil {
		h.ProcessRunning = m[1] == "running"
	}
	h.Output = strings.Join([]string{
		"=== Gateway ===", strings.TrimSpace(gateway.Stdout), "",
		"=== Disk ===", h.Disk, "",
		"=== Memory ===", h.Memory, "",
		"=== Uptime ===", h.Uptime, "",
		"=== OpenClaw Health ===", strings.TrimSpace(oc.Stdout),
	}, "\n")
	return h, nil
}

// AgentHealth checks an agent's directory, its size, its most recent file
// change and whether a process mentioning the agent is running.
func (c *Client) AgentHealth(ctx context.Context, p remote.Params, agentID string) (*AgentHealth, error) {
	if err := shellcmd.ValidateID("agent ID", agentID); err != nil {
		return nil, err
	}
	dir := AgentsDir + "/" + agentID
	res, err := c.runAll(ctx, p,
		"test -d "+dir+` && echo "exists" || echo "missing"`,
		"du -sh "+dir+` 2>/dev/null | cut -f1 || echo "0"`,
		"find "+dir+` -type f -printf '%T@\n' 2>/dev/null | sort -n | tail -1 || echo "0"`,
		`pgrep -f "`+selfSafePattern(agentID)+`" > /dev/null 2>&1 && echo "running" || echo "stopped"`,
	)
	if err != nil {
		return nil, err
	}
	return &AgentHealth{
		Exists:         strings.TrimSpace(res[0].Stdout) == "exists",
		DirSize:        strings.TrimSpace(res[1].Stdout),
		LastActivity:   lastActivity(res[2].Stdout),
		ProcessRunning: strings.TrimSpace(res[3].Stdout) == "running",
	}, nil
}

// selfSafePattern brackets the first character of id so that a pgrep for it
// does not match the shell whose command line carries the pattern.
func selfSafePattern(id string) string {
	return "[" + id[:1] + "]" + id[1:]
}

func lastActivity(epoch string) string {
	secs, err := strconv.ParseFloat(strings.TrimSpace(epoch), 64)
	if err != nil || secs <= 0 {
		return "never"
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * 1e9)
	return time.Unix(whole, nanos).UTC().Format(time.RFC3339)
}

package openclaw

import (
	"context"
	"regexp"
	"strings"

	"github.com/majorcontext/reef/internal/remote"
)

// InstanceDiagnostics describes a host's integrations.
type InstanceDiagnostics struct {
	OpenClawVersion    string   `json:"openclaw_version"`
	GogAccounts        []string `json:"gog_accounts"`
	PubsubEndpoint     string   `json:"pubsub_endpoint"`
	TailscaleFunnel    string   `json:"tailscale_funnel"`
	GCPProject         string   `json:"gcp_project"`
	ActiveGmailWatches []string `json:"active_gmail_watches"`
}

var funnelRe = regexp.MustCompile(`https://([^\s/]+)`)

// Status runs `openclaw status --all --deep`.
func (c *Client) Status(ctx context.Context, p remote.Params) (CommandOutput, error) {
	return c.output(ctx, p, "openclaw status --all --deep 2>&1")
}

// Doctor runs OpenClaw's self-check, optionally letting it repair what it
// finds.
func (c *Client) Doctor(ctx context.Context, p remote.Params, fix bool) (CommandOutput, error) {
	flags := "--non-interactive"
	if fix {
		flags = "--fix " + flags
	}
	return c.output(ctx, p, "openclaw doctor "+flags+" 2>&1")
}

// Hygiene runs OpenClaw's security and hygiene check.
func (c *Client) Hygiene(ctx context.Context, p remote.Params) (CommandOutput, error) {
	out, err := c.output(ctx, p, "openclaw check 2>&1")
	if err == nil && out.ExitCode == 127 {
		out.Output += "openclaw check is not available on this host\n"
	}
	return out, err
}

// InstanceDiagnostics gathers Google account, Pub/Sub, Tailscale funnel, GCP
// project, Gmail watcher and version information in parallel. Missing tools
// produce "none" or empty values rather than errors.
func (c *Client) InstanceDiagnostics(ctx context.Context, p remote.Params) (*InstanceDiagnostics, error) {
	res, err := c.runAll(ctx, p,
		"GOG_KEYRING_PASSWORD=openclaw gog auth list 2>/dev/null || true",
		"gcloud pubsub subscriptions list --format='value(pushConfig.pushEndpoint)' 2>/dev/null || true",
		"tailscale funnel status 2>&1 | grep 'https://' | head -1 || true",
		`cat $HOME/.config/gogcli/gcp-project 2>/dev/null || gcloud config get-value project 2>/dev/null || echo "none"`,
		"journalctl --user -u openclaw-gateway --no-pager -n 200 2>/dev/null | grep 'gmail-watcher.*watch started for' | awk '{print $NF}' | sort -u || true",
		`openclaw --version 2>/dev/null || echo "unknown"`,
	)
	if err != nil {
		return nil, err
	}

	d := &InstanceDiagnostics{
		PubsubEndpoint:     orNone(res[1].Stdout),
		TailscaleFunnel:    "none",
		GCPProject:         orNone(res[3].Stdout),
		ActiveGmailWatches: lines(res[4].Stdout),
		OpenClawVersion:    strings.TrimSpace(res[5].Stdout),
	}
	if d.OpenClawVersion == "" {
		d.OpenClawVersion = "unknown"
	}
	for _, l := range lines(res[0].Stdout) {
		d.GogAccounts = append(d.GogAccounts, strings.SplitN(l, "\t", 2)[0])
	}
	if m := funnelRe.FindStringSubmatch(res[2].Stdout); m != nil {
		d.TailscaleFunnel = m[1]
	}
	return d, nil
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return "none"
}

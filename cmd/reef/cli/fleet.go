package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/audit"
	"github.com/majorcontext/reef/internal/fleet"
	"github.com/majorcontext/reef/internal/metrics"
	"github.com/majorcontext/reef/internal/openclaw"
	"github.com/majorcontext/reef/internal/ui"
)

func newFleetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Run checks across every configured instance",
		Long: `Run a check on many instances at once. Every instance is attempted; an
unreachable instance is reported without stopping the others. Pass
instance ids to limit the sweep. Reef exits 1 when any unit failed.`,
	}
	cmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file (node_exporter textfile format)")

	cmd.AddCommand(newFleetHealthCmd(a), newFleetAgentsCmd(a), newFleetOverviewCmd(a))
	return cmd
}

// unitRow is one fleet unit in JSON output.
type unitRow[T any] struct {
	Instance string `json:"instance"`
	Agent    string `json:"agent,omitempty"`
	Value    T      `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

// sweep resolves the target hosts. The returned done func journals the
// sweep, writes --metrics-file and returns the sweep's exit status, so it
// runs whether or not units failed. Instances that could not be resolved
// count as failed units.
func (a *app) sweep(ctx context.Context, command string, ids []string) ([]fleet.Host, map[string]string, func(units int, failed map[string]string) error) {
	hosts, unresolved := a.inv.Hosts(ctx, ids)
	pre := make(map[string]string, len(unresolved))
	for id, err := range unresolved {
		pre[id] = err.Error()
	}
	done := func(units int, failed map[string]string) error {
		for id, msg := range pre {
			failed[id] = msg
			metrics.RecordFleetUnit(true)
		}
		a.journal(audit.EntrySweep, audit.SweepData{Command: command, Units: units + len(pre), Failed: failed})
		if a.metricsFile != "" {
			if err := metrics.WriteTextfile(a.metricsFile); err != nil {
				return fmt.Errorf("writing metrics: %w", err)
			}
		}
		if len(failed) > 0 {
			return &ExitError{Code: 1}
		}
		return nil
	}
	return hosts, pre, done
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newFleetHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health [instance...]",
		Short: "Check the gateway, disk, memory and uptime of every instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.remote()
			if err != nil {
				return err
			}
			oc := openclaw.New(c)
			hosts, unresolved, done := a.sweep(cmd.Context(), "fleet health", args)

			results := fleet.Hosts(cmd.Context(), a.aggregator(), hosts, func(ctx context.Context, h fleet.Host) (*openclaw.Health, error) {
				return oc.Health(ctx, h.Params)
			})

			failed := make(map[string]string)
			rows := make([]unitRow[*openclaw.Health], 0, len(results)+len(unresolved))
			for _, r := range results {
				row := unitRow[*openclaw.Health]{Instance: r.Host, Value: r.Value}
				if r.Failed() {
					row.Error = r.Err.Error()
					failed[r.Host] = row.Error
				}
				rows = append(rows, row)
			}
			for _, id := range sortedKeys(unresolved) {
				rows = append(rows, unitRow[*openclaw.Health]{Instance: id, Error: unresolved[id]})
			}
			status := done(len(results), failed)

			if err := a.emit(rows, func() error {
				t := ui.NewTable("INSTANCE", "GATEWAY", "UPTIME", "ERROR")
				for _, r := range rows {
					if r.Error != "" {
						t.Row(r.Instance, ui.Status(false), "", r.Error)
						continue
					}
					t.Row(r.Instance, ui.Status(r.Value.ProcessRunning)+" "+running(r.Value.ProcessRunning), r.Value.Uptime, "")
				}
				return t.Flush()
			}); err != nil {
				return err
			}
			return status
		},
	}
}

func newFleetAgentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "agents [instance...]",
		Short: "Check every agent on every instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.remote()
			if err != nil {
				return err
			}
			oc := openclaw.New(c)
			hosts, unresolved, done := a.sweep(cmd.Context(), "fleet agents", args)

			results := fleet.Agents(cmd.Context(), a.aggregator(), hosts,
				func(ctx context.Context, h fleet.Host) ([]string, error) {
					agents, err := oc.ListAgents(ctx, h.Params)
					if err != nil {
						return nil, err
					}
					ids := make([]string, len(agents))
					for i, ag := range agents {
						ids[i] = ag.ID
					}
					return ids, nil
				},
				func(ctx context.Context, h fleet.Host, agent string) (*openclaw.AgentHealth, error) {
					return oc.AgentHealth(ctx, h.Params, agent)
				})

			failed := make(map[string]string)
			rows := make([]unitRow[*openclaw.AgentHealth], 0, len(results)+len(unresolved))
			for _, r := range results {
				row := unitRow[*openclaw.AgentHealth]{Instance: r.Host, Agent: r.Agent, Value: r.Value}
				if r.Failed() {
					row.Error = r.Err.Error()
					key := r.Host
					if r.Agent != "" {
						key += "/" + r.Agent
					}
					failed[key] = row.Error
				}
				rows = append(rows, row)
			}
			for _, id := range sortedKeys(unresolved) {
				rows = append(rows, unitRow[*openclaw.AgentHealth]{Instance: id, Error: unresolved[id]})
			}
			status := done(len(results), failed)

			if err := a.emit(rows, func() error {
				t := ui.NewTable("INSTANCE", "AGENT", "SIZE", "LAST ACTIVITY", "PROCESS", "ERROR")
				for _, r := range rows {
					if r.Error != "" {
						t.Row(r.Instance, r.Agent, "", "", "", r.Error)
						continue
					}
					t.Row(r.Instance, r.Agent, r.Value.DirSize, r.Value.LastActivity, running(r.Value.ProcessRunning), "")
				}
				return t.Flush()
			}); err != nil {
				return err
			}
			return status
		},
	}
}

func newFleetOverviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overview [instance...]",
		Short: "Survey agents, channels and integrations across the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.remote()
			if err != nil {
				return err
			}
			hosts, unresolved, done := a.sweep(cmd.Context(), "fleet overview", args)

			ov := fleet.BuildOverview(cmd.Context(), a.aggregator(), openclaw.New(c), hosts)
			failed := make(map[string]string)
			for _, e := range ov.Errors {
				failed[e.Instance] = e.Error
			}
			for _, id := range sortedKeys(unresolved) {
				ov.Errors = append(ov.Errors, fleet.HostError{Instance: id, Error: unresolved[id]})
			}
			status := done(len(hosts), failed)

			if err := a.emit(ov, func() error {
				ui.Section("Agents")
				t := ui.NewTable("INSTANCE", "AGENT", "NAME", "CHANNELS", "SIZE", "API KEY", "GMAIL", "TELEGRAM")
				for _, r := range ov.Agents {
					gmail := ui.YesNo(r.HasGmailBinding)
					if r.HasGmailBinding && !r.GmailWatchActive {
						gmail += ui.Yellow(" (watch inactive)")
					}
					t.Row(r.Instance, r.AgentID, r.AgentEmoji+" "+r.AgentName, fmt.Sprint(len(r.Channels)),
						r.WorkspaceSize, ui.YesNo(r.HasAPIKey), gmail, ui.YesNo(r.HasTelegramBinding))
				}
				if err := t.Flush(); err != nil {
					return err
				}

				fmt.Fprintln(ui.Stdout())
				ui.Section("Instances")
				t = ui.NewTable("INSTANCE", "OPENCLAW", "GCP PROJECT", "FUNNEL", "GMAIL WATCHES")
				for _, in := range ov.Instances {
					t.Row(in.Instance, in.OpenClawVersion, in.GCPProject, in.TailscaleFunnel, fmt.Sprint(len(in.ActiveGmailWatches)))
				}
				if err := t.Flush(); err != nil {
					return err
				}

				for _, e := range ov.Errors {
					ui.Warnf("%s: %s", e.Instance, e.Error)
				}
				return nil
			}); err != nil {
				return err
			}
			return status
		},
	}
}

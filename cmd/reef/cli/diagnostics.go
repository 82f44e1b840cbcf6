package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/openclaw"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/ui"
)

func newHealthCmd(a *app) *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "health <instance>",
		Short: "Check an instance, or one agent on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if agent != "" {
				h, err := oc.AgentHealth(cmd.Context(), p, agent)
				if err != nil {
					return err
				}
				return a.emit(h, func() error {
					ui.Outcome(h.Exists, fmt.Sprintf("%s on %s", agent, args[0]), "")
					t := ui.NewTable("SIZE", "LAST ACTIVITY", "PROCESS")
					t.Row(h.DirSize, h.LastActivity, running(h.ProcessRunning))
					return t.Flush()
				})
			}
			h, err := oc.Health(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.emit(h, func() error {
				ui.Outcome(h.ProcessRunning, fmt.Sprintf("%s gateway %s", args[0], running(h.ProcessRunning)), h.Output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "check this agent instead of the instance")
	return cmd
}

func running(b bool) string {
	if b {
		return "running"
	}
	return "stopped"
}

// commandOutputCmd builds a command that prints one diagnostic's output and
// exits with its status.
func commandOutputCmd(a *app, use, short string, fn func(context.Context, *openclaw.Client, remote.Params) (openclaw.CommandOutput, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <instance>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := fn(cmd.Context(), oc, p)
			if err != nil {
				return err
			}
			if err := a.emit(out, func() error {
				fmt.Fprint(ui.Stdout(), out.Output)
				if out.Output != "" && !strings.HasSuffix(out.Output, "\n") {
					fmt.Fprintln(ui.Stdout())
				}
				return nil
			}); err != nil {
				return err
			}
			return exitFor(out.ExitCode)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return commandOutputCmd(a, "status", "Show openclaw status --all --deep",
		func(ctx context.Context, oc *openclaw.Client, p remote.Params) (openclaw.CommandOutput, error) {
			return oc.Status(ctx, p)
		})
}

func newDoctorCmd(a *app) *cobra.Command {
	var fix bool
	cmd := commandOutputCmd(a, "doctor", "Run openclaw doctor on an instance",
		func(ctx context.Context, oc *openclaw.Client, p remote.Params) (openclaw.CommandOutput, error) {
			return oc.Doctor(ctx, p, fix)
		})
	cmd.Flags().BoolVar(&fix, "fix", false, "let openclaw doctor repair what it finds")
	return cmd
}

func newHygieneCmd(a *app) *cobra.Command {
	return commandOutputCmd(a, "hygiene", "Run OpenClaw's security and hygiene check",
		func(ctx context.Context, oc *openclaw.Client, p remote.Params) (openclaw.CommandOutput, error) {
			return oc.Hygiene(ctx, p)
		})
}

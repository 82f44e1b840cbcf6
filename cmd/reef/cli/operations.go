package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/audit"
	"github.com/majorcontext/reef/internal/migrate"
	"github.com/majorcontext/reef/internal/restart"
	"github.com/majorcontext/reef/internal/ui"
)

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <instance>",
		Short: "Restart the OpenClaw gateway on an instance",
		Long: `Restart the OpenClaw gateway, escalating only when the restart command
itself fails:

  1. openclaw gateway restart, then a health check
  2. systemctl --user restart openclaw-gateway, then is-active
  3. pkill -KILL, then a check that the process is gone

The forced kill only verifies that the process stopped, not that it came
back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, p, err := a.target(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := restart.New(c, restart.WithSettle(a.cfg.Restart.Settle)).Restart(cmd.Context(), p)
			a.journal(audit.EntryRestart, audit.RestartData{
				Instance: args[0],
				Success:  out.Success,
				Method:   string(out.Method),
				Output:   out.Output,
				OpID:     out.OpID,
			})
			if err := a.emit(out, func() error {
				verb := "restarted"
				if !out.Success {
					verb = "restart failed"
				}
				ui.Outcome(out.Success, fmt.Sprintf("%s %s via %s", args[0], verb, out.Method), out.Output)
				return nil
			}); err != nil {
				return err
			}
			if !out.Success {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	var from, to string
	var deleteSource bool
	cmd := &cobra.Command{
		Use:   "migrate <agent> --from <instance> --to <instance>",
		Short: "Move an agent's state directory between instances",
		Long: `Archive ~/.openclaw/agents/<agent> on the source, relay it through a local
staging file, and extract it on the destination. The source directory is
removed only with --delete-source and only after extraction succeeded.
There is no rollback: a failure reports the step that failed.`,
		Example: `  reef migrate hal --from reef-a --to reef-b --delete-source`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, src, err := a.target(cmd.Context(), from)
			if err != nil {
				return err
			}
			_, dst, err := a.target(cmd.Context(), to)
			if err != nil {
				return err
			}
			out := migrate.New(c,
				migrate.WithStagingDir(a.cfg.Migrate.StagingDir),
				migrate.WithRemoteTempDir(a.cfg.Migrate.RemoteTempDir),
			).Migrate(cmd.Context(), migrate.Request{
				Source:       src,
				Destination:  dst,
				AgentID:      args[0],
				DeleteSource: deleteSource,
			})
			a.journal(audit.EntryMigration, audit.MigrationData{
				Source:        from,
				Destination:   to,
				AgentID:       args[0],
				DeleteSource:  deleteSource,
				Success:       out.Success,
				FailedStep:    out.FailedStep,
				SourceDeleted: out.SourceDeleted,
				Error:         out.Error,
				OpID:          out.OpID,
			})
			if err := a.emit(out, func() error {
				if out.Success {
					ui.Outcome(true, fmt.Sprintf("migrated %s from %s to %s", args[0], from, to), "")
					return nil
				}
				ui.Outcome(false, fmt.Sprintf("migration of %s failed at %q", args[0], out.FailedStep), out.Error)
				return nil
			}); err != nil {
				return err
			}
			if !out.Success {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source instance")
	cmd.Flags().StringVar(&to, "to", "", "destination instance")
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "remove the agent from the source after a successful copy")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBackupCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "backup <instance> <agent>",
		Short: "Download an agent's state directory as a .tar.gz",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, agent := args[0], args[1]
			if output == "" {
				output = fmt.Sprintf("%s-%s-%s.tar.gz", instance, agent, time.Now().UTC().Format("20060102T150405Z"))
			}
			abs, err := filepath.Abs(output)
			if err != nil {
				return err
			}
			oc, p, err := a.openclaw(cmd.Context(), instance)
			if err != nil {
				return err
			}

			entry := audit.BackupData{Instance: instance, AgentID: agent, LocalPath: abs}
			berr := oc.Backup(cmd.Context(), p, agent, abs)
			if berr != nil {
				entry.Error = berr.Error()
				os.Remove(abs)
			}
			a.journal(audit.EntryBackup, entry)
			if berr != nil {
				return berr
			}
			return a.emit(entry, func() error {
				ui.Outcome(true, fmt.Sprintf("backed up %s from %s to %s", agent, instance, abs), "")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default <instance>-<agent>-<time>.tar.gz)")
	return cmd
}

func newDeployCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <instance> <agent> <archive>",
		Short: "Upload an agent archive to an instance and run openclaw doctor",
		Long: `Upload a .tar.gz produced by "reef backup", extract it into
~/.openclaw/agents and print the output of openclaw doctor. The archive
must contain only <agent>/.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := oc.Deploy(cmd.Context(), p, args[1], args[2])
			if err != nil {
				return err
			}
			if err := a.emit(res, func() error {
				ui.Outcome(res.Success, fmt.Sprintf("deployed %s to %s", args[1], args[0]), res.DoctorOutput)
				return nil
			}); err != nil {
				return err
			}
			if !res.Success {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

// Package cli implements the reef command-line interface using Cobra.
// Every command resolves its target instances from the config file and runs
// one operation over SSH; mutating operations are recorded in the audit
// journal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/ui"
)

// ExitError carries a process exit status without an error message, e.g.
// the exit code of a remote command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// exitFor turns a remote exit code into a command result. Sessions that
// ended without a status report 255, as ssh does.
func exitFor(code int) error {
	switch {
	case code == 0:
		return nil
	case code < 0:
		return &ExitError{Code: 255}
	default:
		return &ExitError{Code: code}
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "reef",
		Short: "Reef - SSH control plane for OpenClaw agent fleets",
		Long: `Reef manages a fleet of remote OpenClaw hosts over SSH.

Each command opens its own SSH session, runs, and closes it; nothing is
kept running between commands. Instances and their key references are
configured in ~/.reef/config.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVar(&a.jsonOut, "json", false, "output in JSON format")
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.reef/config.yaml, env: REEF_CONFIG)")

	root.AddCommand(
		newExecCmd(a),
		newStreamCmd(a),
		newChatCmd(a),
		newUpgradeCmd(a),
		newFilesCmd(a),
		newRestartCmd(a),
		newMigrateCmd(a),
		newBackupCmd(a),
		newDeployCmd(a),
		newHealthCmd(a),
		newStatusCmd(a),
		newDoctorCmd(a),
		newHygieneCmd(a),
		newAgentsCmd(a),
		newChannelsCmd(a),
		newFleetCmd(a),
		newAuditCmd(a),
		newInstancesCmd(a),
		newCleanCmd(a),
	)
	return root
}

// Execute runs the root command. Interrupts cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, NewRootCmd())
}

func run(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	log.Close()
	var ee *ExitError
	if err != nil && !errors.As(err, &ee) {
		ui.Errorf("%v", err)
	}
	return err
}

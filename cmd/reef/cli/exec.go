package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/ui"
)

func newExecCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <instance> -- <command>...",
		Short: "Run a command on an instance and print its output",
		Long: `Run one shell command on an instance and print its stdout and stderr.
Reef exits with the remote command's exit status.

Example:
  reef exec reef-a -- df -h /`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, p, err := a.target(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := c.Run(cmd.Context(), p, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if err := a.emit(res, func() error {
				fmt.Fprint(ui.Stdout(), res.Stdout)
				fmt.Fprint(ui.Stderr(), res.Stderr)
				return nil
			}); err != nil {
				return err
			}
			return exitFor(res.ExitCode)
		},
	}
}

func newStreamCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <instance> -- <command>...",
		Short: "Run a command on an instance and print its output as it arrives",
		Long: `Run one shell command and copy its stdout live. Stderr is discarded.
Interrupting reef tears the session down.

Example:
  reef stream reef-a -- journalctl --user -u openclaw-gateway -f`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, p, err := a.target(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s, err := c.Stream(cmd.Context(), p, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return copyStream(s)
		},
	}
}

// copyStream copies s to stdout, waits for the exit status and closes s.
func copyStream(s *remote.Stream) error {
	defer s.Close()
	if _, err := io.Copy(ui.Stdout(), s); err != nil {
		return err
	}
	code, err := s.Wait()
	if err != nil {
		return err
	}
	return exitFor(code)
}

func newChatCmd(a *app) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "chat <instance> <agent> <message>...",
		Short: "Send a message to an agent and print the reply",
		Long: `Send a message to an agent through the OpenClaw CLI on its instance.
With --stream the reply is printed as it is generated.

Example:
  reef chat reef-a main "summarise today's inbox"`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			message := strings.Join(args[2:], " ")
			if stream {
				s, err := oc.StreamChat(cmd.Context(), p, args[1], message)
				if err != nil {
					return err
				}
				return copyStream(s)
			}
			reply, err := oc.Chat(cmd.Context(), p, args[1], message)
			if err != nil {
				return err
			}
			return a.emit(reply, func() error {
				_, err := fmt.Fprintln(ui.Stdout(), reply.Reply)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print the reply as it arrives")
	return cmd
}

func newUpgradeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <instance>",
		Short: "Upgrade OpenClaw on an instance and restart its gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s, err := oc.Upgrade(cmd.Context(), p)
			if err != nil {
				return err
			}
			return copyStream(s)
		},
	}
}

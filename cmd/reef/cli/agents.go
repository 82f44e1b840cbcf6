package cli

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/openclaw"
	"github.com/majorcontext/reef/internal/ui"
)

// printResult renders a state-changing OpenClaw call and fails the command
// when it did not succeed.
func (a *app) printResult(summary string, res openclaw.Result) error {
	if err := a.emit(res, func() error {
		ui.Outcome(res.Success, summary, res.Output)
		return nil
	}); err != nil {
		return err
	}
	if !res.Success {
		return &ExitError{Code: 1}
	}
	return nil
}

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List, create and delete agents on an instance",
	}

	list := &cobra.Command{
		Use:   "list <instance>",
		Short: "List agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			agents, err := oc.ListAgents(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.emit(agents, func() error {
				t := ui.NewTable("ID", "NAME", "MODEL", "DEFAULT")
				for _, ag := range agents {
					t.Row(ag.ID, strings.TrimSpace(ag.IdentityEmoji+" "+ag.DisplayName()), ag.Model, ui.YesNo(ag.IsDefault))
				}
				return t.Flush()
			})
		},
	}

	var model string
	create := &cobra.Command{
		Use:   "create <instance> <name>",
		Short: "Create an agent with its own workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := oc.CreateAgent(cmd.Context(), p, args[1], model)
			if err != nil {
				return err
			}
			return a.printResult(fmt.Sprintf("create %s on %s", args[1], args[0]), res)
		},
	}
	create.Flags().StringVar(&model, "model", "", "model for the new agent (e.g. anthropic/claude-sonnet-4)")

	del := &cobra.Command{
		Use:   "delete <instance> <agent>",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := oc.DeleteAgent(cmd.Context(), p, args[1])
			if err != nil {
				return err
			}
			return a.printResult(fmt.Sprintf("delete %s on %s", args[1], args[0]), res)
		},
	}

	cmd.AddCommand(list, create, del)
	return cmd
}

func newChannelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage chat channels, bindings and pairing on an instance",
	}

	list := &cobra.Command{
		Use:   "list <instance>",
		Short: "List channel accounts and the agents they are bound to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			channels, err := oc.ListChannels(cmd.Context(), p)
			if err != nil {
				return err
			}
			bindings, err := oc.Bindings(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.emit(struct {
				Channels openclaw.Channels `json:"channels"`
				Bindings []openclaw.Binding `json:"bindings"`
			}{channels, bindings}, func() error {
				bound := make(map[string]string, len(bindings))
				for _, b := range bindings {
					bound[b.Match.Label()] = b.AgentID
				}
				types := make([]string, 0, len(channels))
				for typ := range channels {
					types = append(types, typ)
				}
				sort.Strings(types)
				t := ui.NewTable("CHANNEL", "ACCOUNT", "AGENT")
				for _, typ := range types {
					for _, acct := range channels[typ] {
						agent := bound[typ+":"+acct]
						if agent == "" {
							agent = bound[typ]
						}
						if agent == "" {
							agent = ui.Dim("(default)")
						}
						t.Row(typ, acct, agent)
					}
				}
				return t.Flush()
			})
		},
	}

	bind := &cobra.Command{
		Use:   "bind <instance> <agent> <channel> [account]",
		Short: "Route a channel, or one account on it, to an agent",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			account := ""
			if len(args) == 4 {
				account = args[3]
			}
			res, err := oc.BindChannel(cmd.Context(), p, args[1], args[2], account)
			if err != nil {
				return err
			}
			return a.printResult("bind on "+args[0], res)
		},
	}

	var account string
	add := &cobra.Command{
		Use:   "add <instance> <channel>",
		Short: "Add a channel account; the token is read from stdin",
		Example: `  op read op://Ops/telegram-hal/token | reef channels add reef-a telegram --account hal`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := bufio.NewReader(os.Stdin).ReadString('\n')
			token = strings.TrimSpace(token)
			if token == "" {
				if err != nil {
					return fmt.Errorf("reading token from stdin: %w", err)
				}
				return fmt.Errorf("empty token on stdin")
			}
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := oc.AddChannel(cmd.Context(), p, args[1], token, account)
			if err != nil {
				return err
			}
			return a.printResult(fmt.Sprintf("add %s channel on %s", args[1], args[0]), res)
		},
	}
	add.Flags().StringVar(&account, "account", "", "account id for the new channel")

	pairing := &cobra.Command{
		Use:   "pairing <instance> <channel>",
		Short: "List pending pairing requests",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := oc.ListPairingRequests(cmd.Context(), p, args[1])
			if err != nil {
				return err
			}
			return a.printResult(fmt.Sprintf("%s pairing requests on %s", args[1], args[0]), res)
		},
	}

	approve := &cobra.Command{
		Use:   "approve <instance> <channel> <code>",
		Short: "Approve a pairing request",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, p, err := a.openclaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := oc.ApprovePairing(cmd.Context(), p, args[1], args[2])
			if err != nil {
				return err
			}
			return a.printResult(fmt.Sprintf("approve %s pairing on %s", args[1], args[0]), res)
		},
	}

	cmd.AddCommand(list, bind, add, pairing, approve)
	return cmd
}

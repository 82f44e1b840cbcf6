package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/ui"
)

func newInstancesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List configured instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			insts := a.inv.List()
			return a.emit(insts, func() error {
				if len(insts) == 0 {
					ui.Infof("No instances configured. Add them under instances: in %s", a.configFile())
					return nil
				}
				t := ui.NewTable("ID", "LABEL", "HOST", "PORT", "USER", "KEY")
				for _, in := range insts {
					port, user := in.Port, in.User
					if port == 0 {
						port = a.cfg.SSH.Port
					}
					if user == "" {
						user = a.cfg.SSH.User
					}
					scheme, _, _ := strings.Cut(in.KeyRef, "://")
					t.Row(in.ID, in.Label, in.Host, strconv.Itoa(port), user, scheme)
				}
				return t.Flush()
			})
		},
	}
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/audit"
	"github.com/majorcontext/reef/internal/ui"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the local operation journal",
		Long: `Reef records restarts, migrations, backups, file writes and fleet sweeps
in a hash-chained journal (audit.path in the config). Each entry commits to
the previous one, so edits or deletions are detected by "reef audit verify".`,
	}

	var limit int
	var typ string
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := audit.OpenStore(a.cfg.Audit.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.Recent(limit, audit.EntryType(typ))
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []*audit.Entry{}
			}
			return a.emit(entries, func() error {
				t := ui.NewTable("SEQ", "TIME", "TYPE", "DATA")
				for _, e := range entries {
					t.Row(strconv.FormatUint(e.Sequence, 10), e.Timestamp.Local().Format("2006-01-02 15:04:05"), string(e.Type), string(e.Data))
				}
				return t.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	list.Flags().StringVar(&typ, "type", "", "only show entries of this type (restart, migration, file_write, backup, sweep)")

	show := &cobra.Command{
		Use:   "show <seq>",
		Short: "Show one journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence %q", args[0])
			}
			store, err := audit.OpenStore(a.cfg.Audit.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			e, err := store.Get(seq)
			if err != nil {
				return fmt.Errorf("entry %d: %w", seq, err)
			}
			return ui.JSON(e)
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the journal's hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := audit.OpenStore(a.cfg.Audit.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			res, err := store.VerifyChain()
			if err != nil {
				return fmt.Errorf("verifying chain: %w", err)
			}
			if err := a.emit(res, func() error {
				if res.Valid {
					ui.Outcome(true, fmt.Sprintf("hash chain intact: %d entries, no gaps, all hashes valid", res.EntryCount), "")
					return nil
				}
				ui.Outcome(false, fmt.Sprintf("hash chain broken at entry %d of %d", res.BrokenAt, res.EntryCount), res.Error)
				return nil
			}); err != nil {
				return err
			}
			if !res.Valid {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, verify)
	return cmd
}

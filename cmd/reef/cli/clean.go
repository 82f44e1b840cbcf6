package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/migrate"
	"github.com/majorcontext/reef/internal/ui"
)

func newCleanCmd(a *app) *cobra.Command {
	var dryRun bool
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove staging archives left by interrupted migrations",
		Long: `Migrations relay archives through migrate.staging_dir and remove them
when they finish. An archive older than --min-age was left by a reef
process that was killed mid-transfer and is safe to remove.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stale, err := migrate.FindStale(a.cfg.Migrate.StagingDir, minAge)
			if err != nil {
				return err
			}
			if stale == nil {
				stale = []migrate.StaleArchive{}
			}
			var skipped []string
			if !dryRun {
				skipped, err = migrate.CleanStale(stale, minAge)
			}
			if eerr := a.emit(stale, func() error {
				if len(stale) == 0 {
					ui.Infof("No stale staging archives in %s", a.cfg.Migrate.StagingDir)
					return nil
				}
				var total int64
				t := ui.NewTable("PATH", "SIZE", "MODIFIED")
				for _, s := range stale {
					total += s.Size
					t.Row(s.Path, migrate.FormatSize(s.Size), s.ModTime.Local().Format("2006-01-02 15:04"))
				}
				if err := t.Flush(); err != nil {
					return err
				}
				if dryRun {
					ui.Infof("Would remove %d archive(s), %s", len(stale), migrate.FormatSize(total))
					return nil
				}
				for _, p := range skipped {
					ui.Warnf("skipped %s: modified since scan", p)
				}
				ui.Infof("Removed %d archive(s)", len(stale)-len(skipped))
				return nil
			}); eerr != nil {
				return eerr
			}
			if err != nil {
				return fmt.Errorf("cleaning %s: %w", a.cfg.Migrate.StagingDir, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list archives without removing them")
	cmd.Flags().DurationVar(&minAge, "min-age", time.Hour, "only consider archives older than this")
	return cmd
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/metaportal/internal/cleaner"
	"github.com/zjrosen/metaportal/internal/export"
)

var cleanDryRun bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete QR codes that are no longer needed",
	Long: `Delete QR codes that are no longer needed by the exported portal data.

Every configured chain keeps its specs QR and all metadata QR codes from the
version the export file serves onwards. Files of chains that are no longer
configured are deleted, together with latest pointers that would be left
dangling. The command refuses to delete anything when the export
file has no entry for a configured chain; run collect first.

Examples:
  metaportal clean --dry-run
  metaportal clean -c config_dev.yaml`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "only list the files that would be deleted")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := printer(cmd)

	res, reg, err := scanRegistry(ctx)
	if err != nil {
		return err
	}
	snap, err := export.ReadFile(cfg.DataFile)
	if err != nil {
		return err
	}

	opts := cleaner.Options{PruneUnsignedDuplicates: cfg.Clean.PruneUnsignedDuplicates}
	remove, err := cleaner.Plan(ctx, res.Records, res.Pointers, reg, cleaner.LiveStateFromSnapshot(snap), cfg.PortalIDs(), opts)
	if err != nil {
		return err
	}
	if len(remove) == 0 {
		out.NothingToDelete()
		return nil
	}

	done, err := cleaner.Clean(ctx, remove, cleanDryRun)
	for _, path := range done {
		if cleanDryRun {
			out.WouldDelete(path)
		} else {
			out.Deleted(path)
		}
	}
	return err
}

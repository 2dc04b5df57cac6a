package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/metaportal/internal/export"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/watcher"
)

var (
	collectWatch    bool
	collectDebounce time.Duration
)

var collectCmd = &cobra.Command{
	Use:     "collect",
	Aliases: []string{"export"},
	Short:   "Export the portal data file",
	Long: `Fetch the live runtime version of every configured chain, resolve the QR
codes to serve and write the portal data file. The latest metadata pointer of
each chain is moved to its newest metadata QR.

Nothing is written when a configured chain has no specs QR or cannot be
fetched.

With --watch the export is rebuilt whenever a QR code is added, replaced or
removed, until interrupted. Failed rebuilds are reported and leave the
previous data file in place.

Examples:
  metaportal collect
  metaportal collect --watch --debounce 5s`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().BoolVarP(&collectWatch, "watch", "w", false, "rebuild the export when the QR directory changes")
	collectCmd.Flags().DurationVar(&collectDebounce, "debounce", time.Second, "quiet period before a rebuild in watch mode")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, _ []string) error {
	if !collectWatch {
		return collectOnce(cmd)
	}
	return watchCollect(cmd.Context(), cmd)
}

func collectOnce(cmd *cobra.Command) error {
	ctx := cmd.Context()

	snap, pointers, err := buildSnapshot(ctx, newFetcher(cfg))
	if err != nil {
		return err
	}
	if err := export.Publish(ctx, snap, pointers, cfg.DataFile); err != nil {
		return err
	}
	printer(cmd).Exported(cfg.DataFile, snap.Len())
	return nil
}

// watchCollect exports once, then again on every debounced change of the QR
// directory until ctx is done. The watch starts before the first export.
func watchCollect(ctx context.Context, cmd *cobra.Command) error {
	w, err := watcher.New(watcher.Config{Dir: cfg.QrDir, DebounceDur: collectDebounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	if err != nil {
		return err
	}
	if err := collectOnce(cmd); err != nil {
		return err
	}
	log.Info(log.CatExport, "Watching for changes", "dir", cfg.QrDir)

	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatExport, "Stopped watching", "dir", cfg.QrDir)
			return nil
		case <-onChange:
			if err := collectOnce(cmd); err != nil {
				log.ErrorErr(log.CatExport, "Rebuild failed", err)
				printer(cmd).Failure(err)
			}
		}
	}
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/metaportal/internal/render"
	"github.com/zjrosen/metaportal/internal/updater"
)

var (
	updateSource string
	updateSign   bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Generate missing QR codes",
	Long: `Generate the specs and metadata QR codes that are missing for the
configured chains.

With --source node (default) the specs and the current metadata are fetched
from each chain's RPC endpoints. With --source github the runtime of every
chain with github_release set is taken from the repository's latest release.

Codes are written unsigned unless --sign is given.

Examples:
  metaportal update
  metaportal update --source github --sign`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updateSource, "source", string(updater.SourceNode), "where to take metadata from: node or github")
	updateCmd.Flags().BoolVar(&updateSign, "sign", false, "sign the generated codes")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := printer(cmd)

	source, err := updater.ParseSource(updateSource)
	if err != nil {
		return err
	}
	_, reg, err := scanRegistry(ctx)
	if err != nil {
		return err
	}

	u := &updater.Updater{
		QrDir:    cfg.QrDir,
		Fetcher:  newFetcher(cfg),
		Renderer: render.NewQR(),
	}
	if source == updater.SourceGitHub {
		u.Releases = newReleases(cfg)
	}
	if updateSign {
		key, err := loadSigner()
		if err != nil {
			return err
		}
		u.Signer = key
	}

	written, err := u.Run(ctx, cfg.Chains, reg, source)
	for _, p := range written {
		out.Generated(p.Name.String())
	}
	if err == nil && len(written) == 0 {
		out.NothingToUpdate()
	}
	return err
}

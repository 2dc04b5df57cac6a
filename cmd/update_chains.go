package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/log"
)

var (
	chainsEnv     string
	chainsVersion string
	chainsFile    string
	chainsBaseURL string
)

var updateChainsCmd = &cobra.Command{
	Use:   "update-chains",
	Short: "Rewrite the chains section from the upstream chains list",
	Long: `Replace the chains section of the config file with the chains of the
upstream chains list. Each listed chain is mapped through chain_templates,
keyed by its lower-cased name, to the local name and color. Relay chains
maintained by hand are skipped.

Other sections of the config file, and its comments, are preserved.

Examples:
  metaportal update-chains --env prod
  metaportal update-chains --env dev -c config_dev.yaml
  metaportal update-chains --file chains.json`,
	RunE: runUpdateChains,
}

func init() {
	updateChainsCmd.Flags().StringVar(&chainsEnv, "env", "prod", "chains list to use: prod or dev")
	updateChainsCmd.Flags().StringVar(&chainsVersion, "list-version", "v2", "chains list version")
	updateChainsCmd.Flags().StringVar(&chainsFile, "file", "", "read the chains list from a local file")
	updateChainsCmd.Flags().StringVar(&chainsBaseURL, "base-url", config.ChainListURL, "base URL of the chains lists")
	rootCmd.AddCommand(updateChainsCmd)
}

func runUpdateChains(cmd *cobra.Command, _ []string) error {
	var list []config.ListedChain
	var err error
	if chainsFile != "" {
		list, err = config.ReadChainList(chainsFile)
	} else {
		var name string
		name, err = config.ChainListFile(chainsEnv)
		if err != nil {
			return err
		}
		url := strings.TrimSuffix(chainsBaseURL, "/") + "/" + chainsVersion + "/" + name
		list, err = config.FetchChainList(cmd.Context(), httpClient, url)
	}
	if err != nil {
		return err
	}

	chains, err := config.ChainsFromList(list, cfg.ChainTemplates)
	if err != nil {
		return err
	}
	if err := config.ValidateChains(chains); err != nil {
		return err
	}
	if err := config.SaveChains(cfgPath, chains); err != nil {
		return err
	}
	log.Info(log.CatConfig, "Chains updated", "config", cfgPath, "chains", len(chains))
	printer(cmd).ChainsWritten(cfgPath, len(chains))
	return nil
}

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/metaportal/internal/export"
	"github.com/zjrosen/metaportal/internal/log"
)

var deploymentURL string

var checkDeploymentCmd = &cobra.Command{
	Use:   "check-deployment",
	Short: "Check whether the deployed portal is up to date",
	Long: `Build the portal data from the live chains and compare it with the data
file served by the deployment at deployment.url (or --url).

Exits with code 12 when they differ and a re-deploy is required. When the
local build fails, for example because new metadata is not signed yet, the
deployment is considered up to date.`,
	RunE: runCheckDeployment,
}

func init() {
	checkDeploymentCmd.Flags().StringVar(&deploymentURL, "url", "", "base URL of the deployed portal (default: deployment.url)")
	rootCmd.AddCommand(checkDeploymentCmd)
}

// deployedDataURL joins the portal base URL and the data file's asset path.
func deployedDataURL() (string, error) {
	base := deploymentURL
	if base == "" {
		base = cfg.Deployment.URL
	}
	if base == "" {
		return "", errors.New("no deployment url: set deployment.url or pass --url")
	}
	rel, err := export.AssetPath(cfg.DataFile, cfg.PublicDir)
	if err != nil {
		return "", fmt.Errorf("data_file: %w", err)
	}
	return strings.TrimSuffix(base, "/") + "/" + rel, nil
}

func runCheckDeployment(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := printer(cmd)

	url, err := deployedDataURL()
	if err != nil {
		return err
	}
	deployed, err := export.FetchDeployed(ctx, httpClient, url)
	if err != nil {
		return err
	}

	local, _, err := buildSnapshot(ctx, newFetcher(cfg))
	if err != nil {
		log.Warn(log.CatExport, "Local build failed, not requesting a re-deploy", "error", err)
		out.UpToDate()
		return nil
	}

	equal, diff, err := export.Compare(deployed, local)
	if err != nil {
		return err
	}
	if equal {
		out.UpToDate()
		return nil
	}
	out.Diff(diff)
	return &exitCodeError{code: ExitRedeploy, msg: "re-deploy is required", quiet: true}
}

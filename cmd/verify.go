package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/metaportal/internal/payload"
	"github.com/zjrosen/metaportal/internal/render"
	"github.com/zjrosen/metaportal/internal/verifier"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify every QR code",
	Long: `Verify every QR code in the QR directory: it must be signed, its signature
must be made by verifier.public_key and its payload must belong to the
chain and version its file name says.

All files are checked; the command fails if any of them does not verify.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := printer(cmd)

	key, err := cfg.Verifier.Key()
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("%w: set verifier.public_key in %s", payload.ErrNoPublicKey, cfgPath)
	}

	res, _, err := scanRegistry(ctx)
	if err != nil {
		return err
	}

	verified, err := verifier.Dir(ctx, res.Records, render.Reader{}, key)
	for _, p := range verified {
		out.Verified(p.Name.String())
	}
	if err != nil {
		return err
	}
	out.Done()
	return nil
}

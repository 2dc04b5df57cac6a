package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/metaportal/internal/payload"
	"github.com/zjrosen/metaportal/internal/render"
	"github.com/zjrosen/metaportal/internal/signer"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign unsigned QR codes",
	Long: `Sign every unsigned QR code that has no signed counterpart yet.

The signing seed is read from the environment variable named by
signing.seed_env (default SIGNING_SEED), which may be set in the file named by
signing.env_file (default .env). Signed codes are written next to the unsigned
ones; clean removes the unsigned codes once they are no longer needed.`,
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)
}

// loadSigner loads the signing key and checks it against the configured
// verifier key.
func loadSigner() (*payload.Ed25519Signer, error) {
	key, err := payload.LoadSigner(cfg.Signing.EnvFile, cfg.Signing.SeedEnv)
	if err != nil {
		return nil, err
	}
	want, err := cfg.Verifier.Key()
	if err != nil {
		return nil, err
	}
	if want != nil {
		if !bytes.Equal(want, key.PublicKey()) {
			return nil, fmt.Errorf("%w: signing key does not match verifier.public_key", payload.ErrWrongKey)
		}
	}
	return key, nil
}

func runSign(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := printer(cmd)

	res, _, err := scanRegistry(ctx)
	if err != nil {
		return err
	}
	scanned := res.Records
	if len(signer.Pending(scanned)) == 0 {
		out.NothingToSign()
		return nil
	}

	key, err := loadSigner()
	if err != nil {
		return err
	}
	s := &signer.Signer{Reader: render.Reader{}, Renderer: render.NewQR(), Key: key}
	signed, err := s.SignAll(ctx, scanned)
	for _, p := range signed {
		out.Signed(p.Name.String())
	}
	return err
}

package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/export"
	"github.com/zjrosen/metaportal/internal/fetch"
	"github.com/zjrosen/metaportal/internal/payload"
	"github.com/zjrosen/metaportal/internal/render"
)

const testSeed = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type stubFetcher struct {
	live map[string]uint32
	fail bool
}

func (s *stubFetcher) FetchSpecs(_ context.Context, chain config.Chain) (fetch.ChainSpecs, error) {
	if s.fail {
		return fetch.ChainSpecs{}, errors.New("node unreachable")
	}
	return fetch.ChainSpecs{Name: chain.Name, GenesisHash: "0x01", Unit: "KSM", Decimals: 12, Base58Prefix: 2}, nil
}

func (s *stubFetcher) FetchMetadata(_ context.Context, chain config.Chain) (fetch.Metadata, error) {
	if s.fail {
		return fetch.Metadata{}, errors.New("node unreachable")
	}
	v := s.live[chain.Name]
	return fetch.Metadata{Version: v, Meta: []byte(fmt.Sprintf("meta %d", v)), BlockHash: "0xb1", GenesisHash: "0x01"}, nil
}

type testEnv struct {
	dir      string
	cfgPath  string
	qrDir    string
	dataFile string
	fetcher  *stubFetcher
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:      dir,
		cfgPath:  filepath.Join(dir, "config.yaml"),
		qrDir:    filepath.Join(dir, "public", "qr"),
		dataFile: filepath.Join(dir, "public", "data.json"),
		fetcher:  &stubFetcher{live: map[string]uint32{"kusama": 9}},
	}
	require.NoError(t, os.MkdirAll(env.qrDir, 0o755))

	yaml := `data_file: public/data.json
public_dir: public
qr_dir: public/qr
signing:
  env_file: missing.env
chains:
  - name: kusama
    title: Kusama
    color: "#000000"
    rpc_endpoints:
      - wss://kusama.example
` + extra
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(yaml), 0o644))

	prev := newFetcher
	newFetcher = func(config.Config) fetch.Fetcher { return env.fetcher }
	t.Cleanup(func() { newFetcher = prev })
	return env
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute(context.Background())
	return out.String(), err
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append(args, "--config", e.cfgPath)...)
}

func (e *testEnv) qrFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.qrDir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestUpdateCollectClean(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "update")
	require.NoError(t, err)
	require.Contains(t, out, "generated unsigned_kusama_specs.png")
	require.Contains(t, out, "generated unsigned_kusama_metadata_9.apng")

	out, err = env.run(t, "update")
	require.NoError(t, err)
	require.Contains(t, out, "Nothing to update")

	_, err = env.run(t, "collect")
	require.NoError(t, err)
	snap, err := export.ReadFile(env.dataFile)
	require.NoError(t, err)
	spec, ok := snap.Get("kusama")
	require.True(t, ok)
	require.Equal(t, uint32(9), spec.MetadataQr.Version)
	require.Equal(t, "qr/unsigned_kusama_metadata_9.apng", spec.MetadataQr.File.Path)
	require.Nil(t, spec.MetadataQr.File.SignedBy)
	require.Equal(t, payload.RPCSource("0xb1"), spec.MetadataQr.File.Source)
	require.Equal(t, "qr/kusama_metadata_latest.apng", spec.LatestMetadata)
	link, err := os.Readlink(filepath.Join(env.qrDir, "kusama_metadata_latest.apng"))
	require.NoError(t, err)
	require.Equal(t, "unsigned_kusama_metadata_9.apng", link)

	env.fetcher.live["kusama"] = 10
	_, err = env.run(t, "update")
	require.NoError(t, err)

	out, err = env.run(t, "clean")
	require.NoError(t, err)
	require.Contains(t, out, "Nothing to delete", "the export still serves version 9")

	_, err = env.run(t, "export")
	require.NoError(t, err)

	out, err = env.run(t, "clean", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "unsigned_kusama_metadata_9.apng would be deleted")
	require.Contains(t, env.qrFiles(t), "unsigned_kusama_metadata_9.apng")

	out, err = env.run(t, "clean")
	require.NoError(t, err)
	require.Contains(t, out, "unsigned_kusama_metadata_9.apng was deleted")
	require.ElementsMatch(t, []string{
		"unsigned_kusama_specs.png",
		"unsigned_kusama_metadata_10.apng",
		"kusama_metadata_latest.apng",
	}, env.qrFiles(t))

	out, err = env.run(t, "clean")
	require.NoError(t, err)
	require.Contains(t, out, "Nothing to delete")
}

func TestClean_DroppedChainLeavesNoPointer(t *testing.T) {
	polkadot := `  - name: polkadot
    title: Polkadot
    color: "#e6007a"
    rpc_endpoints:
      - wss://polkadot.example
`
	env := newTestEnv(t, polkadot)
	env.fetcher.live["polkadot"] = 20

	_, err := env.run(t, "update")
	require.NoError(t, err)
	_, err = env.run(t, "collect")
	require.NoError(t, err)
	require.Contains(t, env.qrFiles(t), "polkadot_metadata_latest.apng")

	raw, err := os.ReadFile(env.cfgPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(strings.Replace(string(raw), polkadot, "", 1)), 0o644))

	out, err := env.run(t, "clean")
	require.NoError(t, err)
	require.Contains(t, out, "unsigned_polkadot_metadata_20.apng was deleted")
	require.Contains(t, out, "polkadot_metadata_latest.apng was deleted")
	require.ElementsMatch(t, []string{
		"unsigned_kusama_specs.png",
		"unsigned_kusama_metadata_9.apng",
		"kusama_metadata_latest.apng",
	}, env.qrFiles(t))

	for _, name := range env.qrFiles(t) {
		_, err := os.Stat(filepath.Join(env.qrDir, name))
		require.NoError(t, err, "%s must resolve", name)
	}
}

func TestClean_WithoutExportEntryDeletesNothing(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "update")
	require.NoError(t, err)
	require.NoError(t, export.WriteFile(env.dataFile, export.NewSnapshot()))

	_, err = env.run(t, "clean")
	require.ErrorContains(t, err, "unsafe deletion")
	require.Equal(t, ExitFailure, ExitCode(err))
	require.Len(t, env.qrFiles(t), 2)
}

func TestCollect_MissingSpecsWritesNothing(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "collect")
	require.ErrorContains(t, err, "no specs qr found for kusama")
	require.NoFileExists(t, env.dataFile)
}

func TestSignCleanVerify(t *testing.T) {
	key, err := payload.NewSigner(testSeed)
	require.NoError(t, err)
	env := newTestEnv(t, fmt.Sprintf(`verifier:
  name: Parity
  public_key: "0x%s"
clean:
  prune_unsigned_duplicates: true
`, hex.EncodeToString(key.PublicKey())))

	_, err = env.run(t, "update")
	require.NoError(t, err)

	out, err := env.run(t, "verify")
	require.Error(t, err)
	require.ErrorContains(t, err, "file is not signed")
	require.NotContains(t, out, "Done")

	t.Setenv("SIGNING_SEED", testSeed)
	out, err = env.run(t, "sign")
	require.NoError(t, err)
	require.Contains(t, out, "kusama_specs.png signed")
	require.Contains(t, out, "kusama_metadata_9.apng signed")

	out, err = env.run(t, "sign")
	require.NoError(t, err)
	require.Contains(t, out, "Nothing to sign")

	_, err = env.run(t, "collect")
	require.NoError(t, err)
	snap, err := export.ReadFile(env.dataFile)
	require.NoError(t, err)
	spec, _ := snap.Get("kusama")
	require.Equal(t, "qr/kusama_metadata_9.apng", spec.MetadataQr.File.Path)
	require.Equal(t, "Parity", *spec.MetadataQr.File.SignedBy)

	out, err = env.run(t, "clean")
	require.NoError(t, err)
	require.Contains(t, out, "unsigned_kusama_metadata_9.apng was deleted")
	require.Contains(t, out, "unsigned_kusama_specs.png was deleted")

	out, err = env.run(t, "verify")
	require.NoError(t, err)
	require.Contains(t, out, "kusama_metadata_9.apng is verified!")
	require.Contains(t, out, "kusama_specs.png is verified!")
	require.Contains(t, out, "Done")
}

func TestSign_RejectsForeignKey(t *testing.T) {
	env := newTestEnv(t, `verifier:
  public_key: "0x0000000000000000000000000000000000000000000000000000000000000000"
`)
	_, err := env.run(t, "update")
	require.NoError(t, err)

	t.Setenv("SIGNING_SEED", testSeed)
	_, err = env.run(t, "sign")
	require.ErrorIs(t, err, payload.ErrWrongKey)
}

func TestUpdate_SignedDirectly(t *testing.T) {
	env := newTestEnv(t, "")
	t.Setenv("SIGNING_SEED", testSeed)

	out, err := env.run(t, "update", "--sign")
	require.NoError(t, err)
	require.Contains(t, out, "generated kusama_metadata_9.apng")
	require.ElementsMatch(t, []string{"kusama_specs.png", "kusama_metadata_9.apng"}, env.qrFiles(t))
}

func TestVerify_RequiresPublicKey(t *testing.T) {
	env := newTestEnv(t, "")
	t.Setenv("SIGNING_SEED", testSeed)
	_, err := env.run(t, "update", "--sign")
	require.NoError(t, err)

	out, err := env.run(t, "verify")
	require.ErrorIs(t, err, payload.ErrNoPublicKey)
	require.NotContains(t, out, "is verified")
}

func TestVerify_ForeignSignature(t *testing.T) {
	env := newTestEnv(t, "")
	t.Setenv("SIGNING_SEED", testSeed)
	_, err := env.run(t, "update", "--sign")
	require.NoError(t, err)

	// the files carry valid signatures, but not by the configured verifier
	verifierKey, err := payload.NewSigner("0x" + strings.Repeat("42", 32))
	require.NoError(t, err)
	f, err := os.OpenFile(env.cfgPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "verifier:\n  name: Parity\n  public_key: \"0x%s\"\n", hex.EncodeToString(verifierKey.PublicKey()))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := env.run(t, "verify")
	require.ErrorIs(t, err, payload.ErrWrongKey)
	require.NotContains(t, out, "is verified")
	require.NotContains(t, out, "Done")

	_, err = env.run(t, "collect")
	require.NoError(t, err)
	snap, err := export.ReadFile(env.dataFile)
	require.NoError(t, err)
	spec, _ := snap.Get("kusama")
	require.Equal(t, "qr/kusama_specs.png", spec.SpecsQr.Path)
	require.Nil(t, spec.SpecsQr.SignedBy)
	require.Nil(t, spec.MetadataQr.File.SignedBy)
}

func TestUpdate_RejectsMixedCaseChain(t *testing.T) {
	env := newTestEnv(t, "")
	raw, err := os.ReadFile(env.cfgPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.cfgPath, bytes.Replace(raw, []byte("name: kusama"), []byte("name: Kusama"), 1), 0o644))
	env.fetcher.live["Kusama"] = 9
	t.Setenv("SIGNING_SEED", testSeed)

	_, err = env.run(t, "update", "--sign")
	require.ErrorIs(t, err, config.ErrInvalid)
	require.ErrorContains(t, err, "portal id must be lower case")
	require.Empty(t, env.qrFiles(t))
}

func TestUpdate_UnknownSource(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "update", "--source", "ipfs")
	require.ErrorContains(t, err, "unknown source")
}

func TestCheckDeployment(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "update")
	require.NoError(t, err)
	_, err = env.run(t, "collect")
	require.NoError(t, err)

	srv := httptest.NewServer(http.FileServer(http.Dir(filepath.Join(env.dir, "public"))))
	defer srv.Close()

	out, err := env.run(t, "check-deployment", "--url", srv.URL+"/")
	require.NoError(t, err)
	require.Contains(t, out, "up to date")

	env.fetcher.live["kusama"] = 10
	_, err = env.run(t, "update")
	require.NoError(t, err)

	out, err = env.run(t, "check-deployment", "--url", srv.URL)
	require.Error(t, err)
	require.Equal(t, ExitRedeploy, ExitCode(err))
	require.True(t, IsQuiet(err))
	require.Contains(t, out, "re-deploy required")
	require.Contains(t, out, `+    "liveMetaVersion": 10,`)

	env.fetcher.fail = true
	out, err = env.run(t, "check-deployment", "--url", srv.URL)
	require.NoError(t, err, "a failing local build must not request a re-deploy")
	require.Contains(t, out, "up to date")
}

func TestCheckDeployment_NoURL(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "check-deployment")
	require.ErrorContains(t, err, "no deployment url")
}

func TestUpdateChains(t *testing.T) {
	env := newTestEnv(t, `chain_templates:
  statemine:
    name: statemine
    color: "#113911"
`)
	list := filepath.Join(env.dir, "chains.json")
	require.NoError(t, os.WriteFile(list, []byte(`[
  {"name": "Kusama", "nodes": [{"name": "Parity", "url": "wss://kusama-rpc.polkadot.io"}], "icon": "ksm.svg"},
  {"name": "Statemine", "nodes": [{"name": "Parity", "url": "wss://statemine.example"}], "icon": "statemine.svg", "options": ["testnet"]}
]`), 0o644))

	out, err := env.run(t, "update-chains", "--file", list)
	require.NoError(t, err)
	require.Contains(t, out, "1 chains written")

	got, err := config.Load(viper.New(), env.cfgPath)
	require.NoError(t, err)
	require.Len(t, got.Chains, 1)
	require.Equal(t, "statemine", got.Chains[0].Name)
	require.Equal(t, "Statemine", got.Chains[0].Title)
	require.True(t, got.Chains[0].Testnet)
	require.Equal(t, "#113911", got.ChainTemplates["statemine"].Color)
}

func TestUpdateChains_RejectsMixedCaseTemplate(t *testing.T) {
	env := newTestEnv(t, `chain_templates:
  statemine:
    name: Statemine
`)
	before, err := os.ReadFile(env.cfgPath)
	require.NoError(t, err)
	list := filepath.Join(env.dir, "chains.json")
	require.NoError(t, os.WriteFile(list, []byte(`[
  {"name": "Statemine", "nodes": [{"name": "Parity", "url": "wss://statemine.example"}], "icon": "statemine.svg"}
]`), 0o644))

	_, err = env.run(t, "update-chains", "--file", list)
	require.ErrorIs(t, err, config.ErrInvalid)
	require.ErrorContains(t, err, "portal id must be lower case")
	after, err := os.ReadFile(env.cfgPath)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestUpdateChains_UnknownEnv(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "update-chains", "--env", "staging")
	require.ErrorContains(t, err, "unknown env")
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, os.WriteFile(env.cfgPath, []byte("qr_dir: ''\n"), 0o644))

	_, err := env.run(t, "verify")
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestDefaultConfigIsCreated(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "clean")
	require.ErrorIs(t, err, os.ErrNotExist, "the default qr directory does not exist yet")
	require.FileExists(t, config.DefaultPath)

	data, err := os.ReadFile(config.DefaultPath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "# metaportal configuration"))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, ExitOK, ExitCode(nil))
	require.Equal(t, ExitFailure, ExitCode(errors.New("boom")))

	redeploy := &exitCodeError{code: ExitRedeploy, msg: "re-deploy is required", quiet: true}
	require.Equal(t, ExitRedeploy, ExitCode(redeploy))
	require.Equal(t, ExitRedeploy, ExitCode(fmt.Errorf("check: %w", redeploy)))
	require.True(t, IsQuiet(redeploy))
	require.False(t, IsQuiet(errors.New("boom")))
}

func TestCollectWatch(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "update")
	require.NoError(t, err)
	env.fetcher.live["kusama"] = 10

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"collect", "--watch", "--debounce", "20ms", "--config", env.cfgPath})
	done := make(chan error, 1)
	go func() { done <- Execute(ctx) }()

	servedVersion := func() uint32 {
		snap, err := export.ReadFile(env.dataFile)
		if err != nil {
			return 0
		}
		spec, ok := snap.Get("kusama")
		if !ok || spec.MetadataQr == nil {
			return 0
		}
		return spec.MetadataQr.Version
	}
	require.Eventually(t, func() bool { return servedVersion() == 9 }, 5*time.Second, 20*time.Millisecond)

	env10 := payload.NewMetadata("kusama", 10, "0x01", []byte("meta 10"))
	require.NoError(t, render.NewQR().Render(
		filepath.Join(env.qrDir, "unsigned_kusama_metadata_10.apng"), env10, payload.RPCSource("0xb2")))

	require.Eventually(t, func() bool { return servedVersion() == 10 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collect --watch did not stop")
	}
	link, err := os.Readlink(filepath.Join(env.qrDir, "kusama_metadata_latest.apng"))
	require.NoError(t, err)
	require.Equal(t, "unsigned_kusama_metadata_10.apng", link)
}

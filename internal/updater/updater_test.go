package updater

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/domain/asset"
	"github.com/zjrosen/metaportal/internal/domain/registry"
	"github.com/zjrosen/metaportal/internal/fetch"
	"github.com/zjrosen/metaportal/internal/payload"
)

const qrDir = "qr"

type fakeFetcher struct {
	specs map[string]fetch.ChainSpecs
	meta  map[string]fetch.Metadata
	calls int
}

func (f *fakeFetcher) FetchSpecs(_ context.Context, chain config.Chain) (fetch.ChainSpecs, error) {
	f.calls++
	s, ok := f.specs[chain.Name]
	if !ok {
		return fetch.ChainSpecs{}, &fetch.Error{Chain: chain.Name, Endpoint: "wss://down", Err: errors.New("refused")}
	}
	return s, nil
}

func (f *fakeFetcher) FetchMetadata(_ context.Context, chain config.Chain) (fetch.Metadata, error) {
	f.calls++
	m, ok := f.meta[chain.Name]
	if !ok {
		return fetch.Metadata{}, &fetch.Error{Chain: chain.Name, Endpoint: "wss://down", Err: errors.New("refused")}
	}
	return m, nil
}

type rendered struct {
	env *payload.Envelope
	src *payload.Source
}

type fakeRenderer map[string]rendered

func (f fakeRenderer) Render(path string, env *payload.Envelope, src *payload.Source) error {
	f[path] = rendered{env: env, src: src}
	return nil
}

type fakeReleases struct {
	releases  map[string]*fetch.Release
	blobs     map[string][]byte
	listCalls int
}

func (f *fakeReleases) LatestRelease(_ context.Context, repo string) (*fetch.Release, error) {
	f.listCalls++
	rel, ok := f.releases[repo]
	if !ok {
		return nil, errors.New("not found")
	}
	return rel, nil
}

func (f *fakeReleases) Download(_ context.Context, rt fetch.Runtime) ([]byte, error) {
	return f.blobs[rt.DownloadURL], nil
}

func regOf(t *testing.T, names ...string) *registry.Registry {
	t.Helper()
	var recs []asset.Path
	for _, n := range names {
		fn, err := asset.ParseFileName(n)
		require.NoError(t, err)
		recs = append(recs, asset.NewPath(qrDir, fn))
	}
	return registry.New(recs)
}

func written(paths []asset.Path) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.Name.String())
	}
	return out
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("node")
	require.NoError(t, err)
	require.Equal(t, SourceNode, s)
	s, err = ParseSource("github")
	require.NoError(t, err)
	require.Equal(t, SourceGitHub, s)
	_, err = ParseSource("ipfs")
	require.Error(t, err)
}

func TestRun_NodeGeneratesMissingAssets(t *testing.T) {
	f := &fakeFetcher{
		specs: map[string]fetch.ChainSpecs{"kusama": {Name: "Kusama", GenesisHash: "0xb0a8", Unit: "KSM"}},
		meta:  map[string]fetch.Metadata{"kusama": {Version: 10, Meta: []byte{1, 2}, BlockHash: "0xbeef", GenesisHash: "0xb0a8"}},
	}
	r := fakeRenderer{}
	u := &Updater{QrDir: qrDir, Fetcher: f, Renderer: r}

	out, err := u.Run(context.Background(), []config.Chain{{Name: "kusama"}}, regOf(t, "kusama_metadata_9.apng"), SourceNode)
	require.NoError(t, err)
	require.Equal(t, []string{"unsigned_kusama_specs.png", "unsigned_kusama_metadata_10.apng"}, written(out))

	meta := r[filepath.Join(qrDir, "unsigned_kusama_metadata_10.apng")]
	require.NotNil(t, meta.env)
	require.Equal(t, "kusama", meta.env.Chain)
	require.Equal(t, uint32(10), meta.env.Version)
	require.False(t, meta.env.IsSigned())
	require.Equal(t, payload.RPCSource("0xbeef"), meta.src)

	specs := r[filepath.Join(qrDir, "unsigned_kusama_specs.png")]
	require.Nil(t, specs.src)
	claims, err := specs.env.Claims()
	require.NoError(t, err)
	require.Equal(t, asset.KindSpecs, claims.Kind)
}

func TestRun_NodeSkipsExisting(t *testing.T) {
	f := &fakeFetcher{
		meta: map[string]fetch.Metadata{"kusama": {Version: 10}},
	}
	r := fakeRenderer{}
	u := &Updater{QrDir: qrDir, Fetcher: f, Renderer: r}

	out, err := u.Run(context.Background(), []config.Chain{{Name: "kusama"}},
		regOf(t, "kusama_specs.png", "unsigned_kusama_metadata_10.apng"), SourceNode)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, r)
}

func TestRun_SignsWhenSignerSet(t *testing.T) {
	signer, err := payload.NewSigner("0x0202020202020202020202020202020202020202020202020202020202020202")
	require.NoError(t, err)
	f := &fakeFetcher{meta: map[string]fetch.Metadata{"statemint": {Version: 3, BlockHash: "0x01"}}}
	r := fakeRenderer{}
	u := &Updater{QrDir: qrDir, Fetcher: f, Renderer: r, Signer: signer}

	chain := config.Chain{Name: "statemint", RelayChain: "polkadot"}
	out, err := u.Run(context.Background(), []config.Chain{chain}, regOf(t, "polkadot-statemint_specs.png"), SourceNode)
	require.NoError(t, err)
	require.Equal(t, []string{"polkadot-statemint_metadata_3.apng"}, written(out))

	env := r[filepath.Join(qrDir, "polkadot-statemint_metadata_3.apng")].env
	require.NoError(t, payload.Verify(env, signer.PublicKey()))
	require.Equal(t, "polkadot-statemint", env.Chain)
}

func TestRun_IsolatesChainFailures(t *testing.T) {
	f := &fakeFetcher{
		specs: map[string]fetch.ChainSpecs{"westend": {GenesisHash: "0xe143"}},
		meta:  map[string]fetch.Metadata{"westend": {Version: 7}},
	}
	r := fakeRenderer{}
	u := &Updater{QrDir: qrDir, Fetcher: f, Renderer: r}

	chains := []config.Chain{{Name: "kusama"}, {Name: "westend"}}
	out, err := u.Run(context.Background(), chains, regOf(t), SourceNode)
	require.Error(t, err)
	require.ErrorContains(t, err, "updating kusama")
	var ferr *fetch.Error
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, []string{"unsigned_westend_specs.png", "unsigned_westend_metadata_7.apng"}, written(out))
}

func TestRun_GitHub(t *testing.T) {
	blob := []byte("runtime wasm")
	rel := &fetch.Release{
		Repo: "paritytech/polkadot",
		Tag:  "v0.9.40",
		Runtimes: map[string]fetch.Runtime{
			"polkadot": {Chain: "polkadot", Version: 9400, DownloadURL: "https://dl/polkadot"},
			"kusama":   {Chain: "kusama", Version: 9400, DownloadURL: "https://dl/kusama"},
		},
	}
	releases := &fakeReleases{
		releases: map[string]*fetch.Release{"paritytech/polkadot": rel},
		blobs:    map[string][]byte{"https://dl/polkadot": blob, "https://dl/kusama": blob},
	}
	f := &fakeFetcher{specs: map[string]fetch.ChainSpecs{
		"polkadot": {GenesisHash: "0x91b1"},
		"kusama":   {GenesisHash: "0xb0a8"},
	}}
	r := fakeRenderer{}
	u := &Updater{QrDir: qrDir, Fetcher: f, Releases: releases, Renderer: r}

	chains := []config.Chain{
		{Name: "polkadot", GithubRelease: "paritytech/polkadot"},
		{Name: "kusama", GithubRelease: "paritytech/polkadot"},
		{Name: "westend"},
	}
	out, err := u.Run(context.Background(), chains, regOf(t, "kusama_metadata_9400.apng"), SourceGitHub)
	require.NoError(t, err)
	require.Equal(t, []string{"unsigned_polkadot_metadata_9400.apng"}, written(out))
	require.Equal(t, 1, releases.listCalls)

	got := r[filepath.Join(qrDir, "unsigned_polkadot_metadata_9400.apng")]
	require.Equal(t, blob, got.env.Content)
	require.Equal(t, "0x91b1", got.env.GenesisHash)
	require.Equal(t, payload.WasmSource("paritytech/polkadot", fetch.WasmHash(blob)), got.src)
}

func TestRun_GitHubMissingRuntime(t *testing.T) {
	releases := &fakeReleases{releases: map[string]*fetch.Release{
		"org/repo": {Repo: "org/repo", Runtimes: map[string]fetch.Runtime{}},
	}}
	f := &fakeFetcher{}
	u := &Updater{QrDir: qrDir, Fetcher: f, Releases: releases, Renderer: fakeRenderer{}}

	out, err := u.Run(context.Background(), []config.Chain{{Name: "rococo", GithubRelease: "org/repo"}}, regOf(t), SourceGitHub)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Zero(t, f.calls)
}

func TestRun_GitHubReleaseFailure(t *testing.T) {
	u := &Updater{QrDir: qrDir, Fetcher: &fakeFetcher{}, Releases: &fakeReleases{}, Renderer: fakeRenderer{}}

	_, err := u.Run(context.Background(), []config.Chain{{Name: "rococo", GithubRelease: "org/missing"}}, regOf(t), SourceGitHub)
	require.ErrorContains(t, err, "updating rococo")
}

func TestRun_UnknownSource(t *testing.T) {
	u := &Updater{QrDir: qrDir, Fetcher: &fakeFetcher{}, Renderer: fakeRenderer{}}
	_, err := u.Run(context.Background(), []config.Chain{{Name: "kusama"}}, regOf(t), Source("ipfs"))
	require.Error(t, err)
}

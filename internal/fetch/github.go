package fetch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/zjrosen/metaportal/internal/log"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

const runtimeMarker = "_runtime-v"

// Runtime is a wasm runtime published as a release asset named
// "<chain>_runtime-v<version>.compact.compressed.wasm".
type Runtime struct {
	Chain       string
	Version     uint32
	DownloadURL string
}

// ParseRuntimeAsset decodes a release asset name.
func ParseRuntimeAsset(name, downloadURL string) (Runtime, error) {
	if !strings.HasSuffix(name, ".wasm") {
		return Runtime{}, fmt.Errorf("%s has no .wasm extension", name)
	}
	info, _, _ := strings.Cut(name, ".")
	chain, version, ok := strings.Cut(info, runtimeMarker)
	if !ok || chain == "" {
		return Runtime{}, fmt.Errorf("%s: no runtime info found", name)
	}
	v, err := strconv.ParseUint(version, 10, 32)
	if err != nil {
		return Runtime{}, fmt.Errorf("%s: invalid runtime version: %w", name, err)
	}
	return Runtime{Chain: chain, Version: uint32(v), DownloadURL: downloadURL}, nil
}

// Release is the set of runtimes attached to one GitHub release.
type Release struct {
	Repo     string
	Tag      string
	Runtimes map[string]Runtime // by chain
}

// GitHub reads runtimes from the latest release of a repository.
type GitHub struct {
	Client *http.Client
	APIURL string
	Token  string
}

// NewGitHub returns a client for apiURL, or the public API when empty.
func NewGitHub(apiURL, token string) *GitHub {
	if apiURL == "" {
		apiURL = DefaultGitHubAPI
	}
	return &GitHub{
		Client: &http.Client{Timeout: 2 * time.Minute},
		APIURL: strings.TrimSuffix(apiURL, "/"),
		Token:  token,
	}
}

type releaseJSON struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// LatestRelease lists runtime assets of the latest release of repo
// ("owner/repo"). Assets that are not runtimes are ignored.
func (g *GitHub) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", g.APIURL, repo)
	body, err := g.get(ctx, url, "application/vnd.github+json")
	if err != nil {
		return nil, &Error{Chain: repo, Endpoint: url, Err: err}
	}

	var rel releaseJSON
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, &Error{Chain: repo, Endpoint: url, Err: fmt.Errorf("decode release: %w", err)}
	}

	out := &Release{Repo: repo, Tag: rel.TagName, Runtimes: make(map[string]Runtime)}
	for _, a := range rel.Assets {
		rt, err := ParseRuntimeAsset(a.Name, a.BrowserDownloadURL)
		if err != nil {
			log.Debug(log.CatFetch, "skipping release asset", "repo", repo, "asset", a.Name, "reason", err)
			continue
		}
		out.Runtimes[rt.Chain] = rt
	}
	log.Info(log.CatFetch, "Latest release", "repo", repo, "tag", rel.TagName, "runtimes", len(out.Runtimes))
	return out, nil
}

// Download fetches the runtime blob.
func (g *GitHub) Download(ctx context.Context, rt Runtime) ([]byte, error) {
	log.Info(log.CatFetch, "Downloading runtime", "chain", rt.Chain, "version", rt.Version)
	body, err := g.get(ctx, rt.DownloadURL, "application/octet-stream")
	if err != nil {
		return nil, &Error{Chain: rt.Chain, Endpoint: rt.DownloadURL, Err: err}
	}
	return body, nil
}

func (g *GitHub) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// WasmHash returns the 0x prefixed blake2b-256 hash of a runtime blob.
func WasmHash(blob []byte) string {
	sum := blake2b.Sum256(blob)
	return "0x" + hex.EncodeToString(sum[:])
}

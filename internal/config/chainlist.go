package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
)

// ChainListURL is where update-chains reads the upstream chains list from.
// The env selects the file: chains.json for prod, chains_dev.json for dev.
const ChainListURL = "https://raw.githubusercontent.com/nova-wallet/nova-utils/master/chains"

// ExcludedListChains are upstream entries never imported; they are
// maintained by hand.
var ExcludedListChains = []string{
	"Polkadot",
	"Kusama",
	"Westend",
	"Moonbeam",
	"Moonriver",
	"Moonbase Relay Testnet",
	"Arctic Relay Testnet",
}

// ListedChain is one entry of the upstream chains list.
type ListedChain struct {
	Name    string       `json:"name"`
	Nodes   []ListedNode `json:"nodes"`
	Icon    string       `json:"icon"`
	Options []string     `json:"options,omitempty"`
}

// ListedNode is an RPC node of a ListedChain.
type ListedNode struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ChainListFile returns the list file name for env ("prod" or "dev").
func ChainListFile(env string) (string, error) {
	switch env {
	case "prod":
		return "chains.json", nil
	case "dev":
		return "chains_dev.json", nil
	default:
		return "", fmt.Errorf("unknown env %q, should be dev or prod", env)
	}
}

// ParseChainList decodes a chains list.
func ParseChainList(r io.Reader) ([]ListedChain, error) {
	var list []ListedChain
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding chains list: %w", err)
	}
	return list, nil
}

// ReadChainList reads a chains list from a local file.
func ReadChainList(path string) ([]ListedChain, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from a CLI flag
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseChainList(f)
}

// FetchChainList downloads a chains list.
func FetchChainList(ctx context.Context, client *http.Client, url string) ([]ListedChain, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching chains list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching chains list: unexpected status %s", resp.Status)
	}
	return ParseChainList(resp.Body)
}

// ChainsFromList maps upstream entries to configured chains through
// templates, keyed by lower-cased upstream name. Excluded entries are
// skipped; an entry without template is an error.
func ChainsFromList(list []ListedChain, templates map[string]ChainTemplate) ([]Chain, error) {
	var chains []Chain
	for _, listed := range list {
		if slices.Contains(ExcludedListChains, listed.Name) {
			continue
		}
		tmpl, ok := templates[strings.ToLower(listed.Name)]
		if !ok {
			return nil, fmt.Errorf("%w: no chain template for %q", ErrInvalid, listed.Name)
		}
		endpoints := make([]string, 0, len(listed.Nodes))
		for _, node := range listed.Nodes {
			endpoints = append(endpoints, node.URL)
		}
		chains = append(chains, Chain{
			Name:         tmpl.Name,
			Title:        listed.Name,
			Color:        tmpl.Color,
			Icon:         listed.Icon,
			RPCEndpoints: endpoints,
			Testnet:      slices.Contains(listed.Options, "testnet"),
		})
	}
	return chains, nil
}

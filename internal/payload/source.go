package payload

import (
	"encoding/json"
	"fmt"
)

// Source types.
const (
	SourceRPC  = "Rpc"
	SourceWasm = "Wasm"
)

// Source records where the content of an asset came from: a node at a block,
// or a runtime blob from a GitHub release.
type Source struct {
	Type       string `json:"type"`
	Block      string `json:"block,omitempty"`
	GithubRepo string `json:"github_repo,omitempty"`
	Hash       string `json:"hash,omitempty"`
}

// RPCSource returns the provenance of content fetched from a node at block.
func RPCSource(block string) *Source {
	return &Source{Type: SourceRPC, Block: block}
}

// WasmSource returns the provenance of content taken from a release runtime.
func WasmSource(repo, hash string) *Source {
	return &Source{Type: SourceWasm, GithubRepo: repo, Hash: hash}
}

// ParseSource decodes and validates the JSON form.
func ParseSource(data []byte) (*Source, error) {
	var s Source
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding source: %w", err)
	}
	switch s.Type {
	case SourceRPC:
		if s.Block == "" {
			return nil, fmt.Errorf("rpc source without block")
		}
	case SourceWasm:
		if s.GithubRepo == "" || s.Hash == "" {
			return nil, fmt.Errorf("wasm source without repo or hash")
		}
	default:
		return nil, fmt.Errorf("unknown source type %q", s.Type)
	}
	return &s, nil
}

// Package fetch talks to the outside world on behalf of a run: Substrate
// nodes over JSON-RPC and GitHub releases. Results are plain values; nothing
// in this package touches the QR directory.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/metaportal/internal/config"
)

// ChainSpecs describes a network as published in the export file.
type ChainSpecs struct {
	Name         string
	Title        string
	Base58Prefix uint16
	Decimals     uint8
	Unit         string
	GenesisHash  string // 0x prefixed hex
	Logo         string
}

// Metadata is the runtime metadata served by a node at one block.
type Metadata struct {
	Version     uint32
	Meta        []byte
	BlockHash   string
	GenesisHash string
}

// ChainInfo bundles the specs and the live runtime version of a chain.
type ChainInfo struct {
	Specs       ChainSpecs
	LiveVersion uint32
}

// Fetcher fetches chain specs and metadata for configured chains.
type Fetcher interface {
	FetchSpecs(ctx context.Context, chain config.Chain) (ChainSpecs, error)
	FetchMetadata(ctx context.Context, chain config.Chain) (Metadata, error)
}

// Info fetches specs and the live metadata version of chain.
func Info(ctx context.Context, f Fetcher, chain config.Chain) (ChainInfo, error) {
	specs, err := f.FetchSpecs(ctx, chain)
	if err != nil {
		return ChainInfo{}, err
	}
	meta, err := f.FetchMetadata(ctx, chain)
	if err != nil {
		return ChainInfo{}, err
	}
	return ChainInfo{Specs: specs, LiveVersion: meta.Version}, nil
}

// ErrNoEndpoint is returned for a chain without RPC endpoints.
var ErrNoEndpoint = errors.New("no rpc endpoint configured")

// Error reports a failed call to a collaborator for one chain.
type Error struct {
	Chain    string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("fetching %s: %v", e.Chain, e.Err)
	}
	return fmt.Sprintf("fetching %s from %s: %v", e.Chain, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

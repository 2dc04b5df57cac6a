// Package export builds the snapshot consumed by the portal and publishes it
// together with the latest-metadata pointers.
//
// Build is pure apart from reading provenance out of asset files: it either
// returns a complete snapshot with its pointer plan or an error, never a
// partial result. Publish performs the mutations.
package export

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/domain/asset"
	"github.com/zjrosen/metaportal/internal/domain/registry"
	"github.com/zjrosen/metaportal/internal/fetch"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/payload"
	"github.com/zjrosen/metaportal/internal/render"
	"github.com/zjrosen/metaportal/internal/tracing"
)

var (
	// ErrConfiguration is returned when a configured chain lacks a required
	// artifact.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingInfo is returned when no fetched chain info exists for a
	// configured chain.
	ErrMissingInfo = errors.New("missing chain info")
)

// Pointer is a planned latest-metadata link.
type Pointer struct {
	Path   string     // link location
	Target asset.Path // authoritative newest metadata file
}

// Builder assembles export snapshots.
//
// A signed file is attributed to VerifierName only when its envelope
// verifies against PublicKey. Without Envelopes or PublicKey no file is
// attributed.
type Builder struct {
	PublicDir    string
	VerifierName string
	PublicKey    ed25519.PublicKey
	Envelopes    render.EnvelopeReader
	Sources      render.SourceReader // optional
}

// Build creates the snapshot for chains, in their order. info is keyed by
// portal id and provides the live version of each chain.
func (b *Builder) Build(ctx context.Context, chains []config.Chain, reg registry.Resolver, info map[string]fetch.ChainInfo) (snap *Snapshot, pointers []Pointer, err error) {
	_, span := tracing.Start(ctx, tracing.SpanExportBuild, attribute.Int(tracing.AttrCount, len(chains)))
	defer func() { tracing.Finish(span, err) }()

	snap = NewSnapshot()
	for _, chain := range chains {
		spec, pointer, err := b.buildChain(chain, reg, info)
		if err != nil {
			return nil, nil, err
		}
		snap.Set(chain.PortalID(), spec)
		if pointer != nil {
			pointers = append(pointers, *pointer)
		}
	}
	return snap, pointers, nil
}

func (b *Builder) buildChain(chain config.Chain, reg registry.Resolver, info map[string]fetch.ChainInfo) (ChainSpec, *Pointer, error) {
	id := chain.PortalID()
	ci, ok := info[id]
	if !ok {
		return ChainSpec{}, nil, fmt.Errorf("%w for %s", ErrMissingInfo, id)
	}
	specsRec, ok := reg.Specs(id)
	if !ok {
		return ChainSpec{}, nil, fmt.Errorf("%w: no specs qr found for %s", ErrConfiguration, id)
	}
	specsQr, err := b.qrCode(specsRec)
	if err != nil {
		return ChainSpec{}, nil, err
	}

	live := ci.LiveVersion
	spec := ChainSpec{
		Title:           chain.DisplayTitle(),
		Color:           chain.Color,
		GenesisHash:     ci.Specs.GenesisHash,
		Unit:            ci.Specs.Unit,
		Base58Prefix:    ci.Specs.Base58Prefix,
		Logo:            ci.Specs.Logo,
		Decimals:        ci.Specs.Decimals,
		LiveMetaVersion: live,
		SpecsQr:         specsQr,
		RelayChain:      chain.RelayChain,
		Testnet:         chain.Testnet,
	}
	if len(chain.RPCEndpoints) > 0 {
		spec.RPCEndpoint = chain.RPCEndpoints[0]
	}
	if chain.Icon != "" {
		spec.Logo = chain.Icon
	}

	collected := reg.CollectFrom(id, live)
	if len(collected) > 0 {
		head := collected[0]
		if v, _ := head.Name.Content.Version(); v <= live {
			file, err := b.qrCode(head)
			if err != nil {
				return ChainSpec{}, nil, err
			}
			spec.MetadataQr = &MetadataQr{Version: v, File: file}
		}
	}

	if next, ok := reg.NextVersion(id, live); ok {
		rec, _ := reg.Metadata(id, next)
		file, err := b.qrCode(rec)
		if err != nil {
			return ChainSpec{}, nil, err
		}
		spec.NextMetadataVersion = &next
		spec.NextMetadataQr = &file
	}

	var pointer *Pointer
	if newest, ok := reg.Latest(id); ok {
		p := Pointer{
			Path:   filepath.Join(newest.Dir, asset.LatestPointerName(id, newest.Name.Extension)),
			Target: newest,
		}
		latest, err := AssetPath(p.Path, b.PublicDir)
		if err != nil {
			return ChainSpec{}, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		spec.LatestMetadata = latest
		pointer = &p
	} else {
		log.Warn(log.CatExport, "no metadata qr found", "chain", id, "live", live)
	}

	return spec, pointer, nil
}

func (b *Builder) qrCode(rec asset.Path) (QrCode, error) {
	path, err := AssetPath(rec.String(), b.PublicDir)
	if err != nil {
		return QrCode{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	qr := QrCode{Path: path}
	if b.signedByVerifier(rec) {
		name := b.VerifierName
		qr.SignedBy = &name
	}
	if b.Sources != nil {
		src, err := b.Sources.ReadSource(rec.String())
		if err != nil {
			return QrCode{}, fmt.Errorf("reading source of %s: %w", rec.Name, err)
		}
		qr.Source = src
	}
	return qr, nil
}

func (b *Builder) signedByVerifier(rec asset.Path) bool {
	if !rec.Name.Signed || b.Envelopes == nil || len(b.PublicKey) == 0 {
		return false
	}
	env, err := b.Envelopes.ReadEnvelope(rec.String())
	if err == nil {
		err = payload.Verify(env, b.PublicKey)
	}
	if err != nil {
		log.Warn(log.CatExport, "signed file not attributed to verifier", "file", rec.Name.String(), "error", err)
		return false
	}
	return true
}

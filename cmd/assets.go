package cmd

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/domain/registry"
	"github.com/zjrosen/metaportal/internal/export"
	"github.com/zjrosen/metaportal/internal/fetch"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/render"
	"github.com/zjrosen/metaportal/internal/scan"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// scanRegistry scans the QR directory and resolves it.
func scanRegistry(ctx context.Context) (*scan.Result, *registry.Registry, error) {
	res, err := scan.Dir(ctx, cfg.QrDir)
	if err != nil {
		return nil, nil, err
	}

	_, span := tracing.Start(ctx, tracing.SpanRegistryBuild, attribute.Int(tracing.AttrCount, len(res.Records)))
	reg := registry.New(res.Records)
	span.SetAttributes(attribute.Int("registry.chains", len(reg.Chains())))
	tracing.Finish(span, nil)

	log.Debug(log.CatRegistry, "Registry built", "records", len(res.Records), "chains", len(reg.Chains()), "warnings", len(res.Warnings))
	return res, reg, nil
}

// buildSnapshot fetches live chain info and builds the export without
// writing anything.
func buildSnapshot(ctx context.Context, f fetch.Fetcher) (*export.Snapshot, []export.Pointer, error) {
	_, reg, err := scanRegistry(ctx)
	if err != nil {
		return nil, nil, err
	}

	info := make(map[string]fetch.ChainInfo, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		fctx, span := tracing.Start(ctx, tracing.SpanFetchChain, attribute.String(tracing.AttrChain, chain.PortalID()))
		ci, err := fetch.Info(fctx, f, chain)
		tracing.Finish(span, err)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching %s: %w", chain.PortalID(), err)
		}
		info[chain.PortalID()] = ci
	}

	key, err := cfg.Verifier.Key()
	if err != nil {
		return nil, nil, err
	}
	b := &export.Builder{
		PublicDir:    cfg.PublicDir,
		VerifierName: cfg.Verifier.Name,
		PublicKey:    key,
		Envelopes:    render.Reader{},
		Sources:      render.Reader{},
	}
	return b.Build(ctx, cfg.Chains, reg, info)
}

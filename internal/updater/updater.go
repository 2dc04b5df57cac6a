// Package updater generates the QR assets that are missing for the
// configured chains, either from a live node or from the runtimes attached to
// a GitHub release.
package updater

import (
	"context"
	"errors"
	"fmt"

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

// Source selects where metadata comes from.
type Source string

const (
	SourceNode   Source = "node"
	SourceGitHub Source = "github"
)

// ParseSource validates a --source value.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceNode, SourceGitHub:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown source %q (want %s or %s)", s, SourceNode, SourceGitHub)
	}
}

// ReleaseSource lists and downloads release runtimes.
type ReleaseSource interface {
	LatestRelease(ctx context.Context, repo string) (*fetch.Release, error)
	Download(ctx context.Context, rt fetch.Runtime) ([]byte, error)
}

// Updater writes missing assets into QrDir.
type Updater struct {
	QrDir    string
	Fetcher  fetch.Fetcher
	Releases ReleaseSource // required for SourceGitHub
	Renderer render.Renderer
	Signer   payload.Signer // nil writes unsigned assets
}

// Run generates what reg lacks for every chain. A failing chain does not
// stop the others; failures are returned joined after all chains ran.
func (u *Updater) Run(ctx context.Context, chains []config.Chain, reg registry.Resolver, source Source) (written []asset.Path, err error) {
	releases := make(map[string]*fetch.Release)
	var errs []error
	for _, chain := range chains {
		var out []asset.Path
		var cerr error
		switch source {
		case SourceNode:
			out, cerr = u.fromNode(ctx, chain, reg)
		case SourceGitHub:
			out, cerr = u.fromRelease(ctx, chain, reg, releases)
		default:
			return written, fmt.Errorf("unknown source %q", source)
		}
		written = append(written, out...)
		if cerr != nil {
			log.ErrorErr(log.CatUpdate, "Update failed", cerr, "chain", chain.PortalID())
			errs = append(errs, fmt.Errorf("updating %s: %w", chain.PortalID(), cerr))
		}
	}
	return written, errors.Join(errs...)
}

func (u *Updater) fromNode(ctx context.Context, chain config.Chain, reg registry.Resolver) (written []asset.Path, err error) {
	id := chain.PortalID()
	ctx, span := tracing.Start(ctx, tracing.SpanUpdateChain,
		attribute.String(tracing.AttrChain, id),
		attribute.String("update.source", string(SourceNode)),
	)
	defer func() { tracing.Finish(span, err) }()

	if _, ok := reg.Specs(id); !ok {
		specs, err := u.Fetcher.FetchSpecs(ctx, chain)
		if err != nil {
			return written, err
		}
		content, err := payload.EncodeContent(specs)
		if err != nil {
			return written, fmt.Errorf("encoding specs: %w", err)
		}
		path, err := u.write(id, payload.NewSpecs(id, specs.GenesisHash, content), nil)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	meta, err := u.Fetcher.FetchMetadata(ctx, chain)
	if err != nil {
		return written, err
	}
	span.SetAttributes(attribute.Int64(tracing.AttrVersion, int64(meta.Version)))
	if _, ok := reg.Metadata(id, meta.Version); ok {
		log.Debug(log.CatUpdate, "Metadata up to date", "chain", id, "version", meta.Version)
		return written, nil
	}
	env := payload.NewMetadata(id, meta.Version, meta.GenesisHash, meta.Meta)
	path, err := u.write(id, env, payload.RPCSource(meta.BlockHash))
	if err != nil {
		return written, err
	}
	return append(written, path), nil
}

func (u *Updater) fromRelease(ctx context.Context, chain config.Chain, reg registry.Resolver, releases map[string]*fetch.Release) (written []asset.Path, err error) {
	id := chain.PortalID()
	if chain.GithubRelease == "" {
		log.Debug(log.CatUpdate, "No release repository", "chain", id)
		return nil, nil
	}
	if u.Releases == nil {
		return nil, errors.New("no release source configured")
	}

	ctx, span := tracing.Start(ctx, tracing.SpanUpdateChain,
		attribute.String(tracing.AttrChain, id),
		attribute.String("update.source", string(SourceGitHub)),
	)
	defer func() { tracing.Finish(span, err) }()

	rel, ok := releases[chain.GithubRelease]
	if !ok {
		rel, err = u.Releases.LatestRelease(ctx, chain.GithubRelease)
		if err != nil {
			return nil, err
		}
		releases[chain.GithubRelease] = rel
	}

	rt, ok := rel.Runtimes[chain.Name]
	if !ok {
		log.Warn(log.CatUpdate, "Release has no runtime", "chain", id, "repo", rel.Repo, "tag", rel.Tag)
		return nil, nil
	}
	span.SetAttributes(attribute.Int64(tracing.AttrVersion, int64(rt.Version)))
	if _, ok := reg.Metadata(id, rt.Version); ok {
		log.Debug(log.CatUpdate, "Metadata up to date", "chain", id, "version", rt.Version)
		return nil, nil
	}

	specs, err := u.Fetcher.FetchSpecs(ctx, chain)
	if err != nil {
		return nil, err
	}
	blob, err := u.Releases.Download(ctx, rt)
	if err != nil {
		return nil, err
	}
	env := payload.NewMetadata(id, rt.Version, specs.GenesisHash, blob)
	path, err := u.write(id, env, payload.WasmSource(chain.GithubRelease, fetch.WasmHash(blob)))
	if err != nil {
		return nil, err
	}
	return []asset.Path{path}, nil
}

func (u *Updater) write(id string, env *payload.Envelope, src *payload.Source) (asset.Path, error) {
	claims, err := env.Claims()
	if err != nil {
		return asset.Path{}, err
	}
	signed := u.Signer != nil
	if signed {
		if err := u.Signer.Sign(env); err != nil {
			return asset.Path{}, fmt.Errorf("signing %s: %w", claims.Content(), err)
		}
	}

	path := asset.NewPath(u.QrDir, asset.NewFileName(id, claims.Content(), signed))
	if err := u.Renderer.Render(path.String(), env, src); err != nil {
		return asset.Path{}, fmt.Errorf("rendering %s: %w", path.Name, err)
	}
	log.Info(log.CatUpdate, "Generated", "file", path.Name, "signed", signed)
	return path, nil
}

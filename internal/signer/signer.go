// Package signer signs pending assets: unsigned files whose slot has no
// signed file yet. The signed file is written next to the unsigned one,
// which stays in place until the cleaner removes it.
package signer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/domain/asset"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/payload"
	"github.com/zjrosen/metaportal/internal/render"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// ErrClaimMismatch is returned when an unsigned file holds a payload for
// another slot than its name says.
var ErrClaimMismatch = errors.New("payload does not match file name")

// AssetReader reads back what an asset file embeds.
type AssetReader interface {
	render.EnvelopeReader
	render.SourceReader
}

// Signer signs pending assets with Key.
type Signer struct {
	Reader   AssetReader
	Renderer render.Renderer
	Key      payload.Signer
}

// Pending returns the unsigned records whose slot has no signed record in the
// same directory, sorted by path.
func Pending(records []asset.Path) []asset.Path {
	type key struct {
		dir  string
		slot asset.Slot
	}
	signed := make(map[key]bool)
	for _, rec := range records {
		if rec.Name.Signed {
			signed[key{rec.Dir, rec.Name.Slot()}] = true
		}
	}

	var pending []asset.Path
	for _, rec := range records {
		if !rec.Name.Signed && !signed[key{rec.Dir, rec.Name.Slot()}] {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].String() < pending[j].String() })
	return pending
}

// SignAll signs every pending record. A failure does not stop the others;
// failures are returned joined.
func (s *Signer) SignAll(ctx context.Context, records []asset.Path) (signed []asset.Path, err error) {
	var errs []error
	for _, rec := range Pending(records) {
		out, err := s.SignFile(ctx, rec)
		if err != nil {
			log.ErrorErr(log.CatSign, "Signing failed", err, "file", rec.Name)
			errs = append(errs, err)
			continue
		}
		signed = append(signed, out)
	}
	return signed, errors.Join(errs...)
}

// SignFile signs the payload of rec and writes it under the signed name,
// keeping the embedded source.
func (s *Signer) SignFile(ctx context.Context, rec asset.Path) (out asset.Path, err error) {
	_, span := tracing.Start(ctx, tracing.SpanSignFile,
		attribute.String(tracing.AttrFile, rec.Name.String()),
		attribute.String(tracing.AttrChain, rec.Name.Chain),
	)
	defer func() { tracing.Finish(span, err) }()

	env, err := s.Reader.ReadEnvelope(rec.String())
	if err != nil {
		return asset.Path{}, fmt.Errorf("reading %s: %w", rec.Name, err)
	}
	claims, err := env.Claims()
	if err != nil {
		return asset.Path{}, fmt.Errorf("reading %s: %w", rec.Name, err)
	}
	if claims.Chain != rec.Name.Chain || claims.Content() != rec.Name.Content {
		return asset.Path{}, fmt.Errorf("%w: %s holds %s %s", ErrClaimMismatch, rec.Name, claims.Chain, claims.Content())
	}
	src, err := s.Reader.ReadSource(rec.String())
	if err != nil {
		return asset.Path{}, fmt.Errorf("reading source of %s: %w", rec.Name, err)
	}

	if err := s.Key.Sign(env); err != nil {
		return asset.Path{}, fmt.Errorf("signing %s: %w", rec.Name, err)
	}
	out = asset.NewPath(rec.Dir, rec.Name.WithSigned(true))
	if err := s.Renderer.Render(out.String(), env, src); err != nil {
		return asset.Path{}, fmt.Errorf("rendering %s: %w", out.Name, err)
	}
	log.Info(log.CatSign, "Signed", "file", rec.Name, "out", out.Name)
	return out, nil
}

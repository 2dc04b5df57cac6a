// Package cleaner computes and applies the garbage collection of the QR
// directory.
//
// The removal set is the difference between everything scanned and a keep
// set built from the live state: for every configured chain, every metadata
// file at or above the live version plus the resolved specs file. Files of
// chains that are no longer configured are never kept. Without a live
// version for a configured chain nothing is deleted at all.
//
// Latest pointers are removed with their chain, and whenever their target is
// gone or about to go.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/domain/asset"
	"github.com/zjrosen/metaportal/internal/domain/registry"
	"github.com/zjrosen/metaportal/internal/export"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/scan"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// ErrUnsafeDeletion is returned when a configured chain has no live version.
var ErrUnsafeDeletion = errors.New("unsafe deletion")

// LiveState maps a portal id to the metadata version still in use.
type LiveState map[string]uint32

// Options tunes the collection.
type Options struct {
	// PruneUnsignedDuplicates removes an unsigned metadata file whose slot
	// also holds a signed file, even at or above the live version.
	PruneUnsignedDuplicates bool
}

// LiveStateFromSnapshot reads the live state out of a previously exported
// snapshot. A chain anchors at the metadata version the snapshot serves, or
// at its live version when it serves none.
func LiveStateFromSnapshot(snap *export.Snapshot) LiveState {
	live := make(LiveState, snap.Len())
	for _, id := range snap.IDs() {
		spec, _ := snap.Get(id)
		if spec.MetadataQr != nil {
			live[id] = spec.MetadataQr.Version
			continue
		}
		live[id] = spec.LiveMetaVersion
	}
	return live
}

// FilesToRemove returns the sorted paths of scanned files that are not needed
// by any configured chain.
func FilesToRemove(scanned []asset.Path, reg registry.Resolver, live LiveState, chains []string, opts Options) ([]string, error) {
	anchors := make(map[string]uint32, len(chains))
	for _, chain := range chains {
		v, ok := live[chain]
		if !ok {
			return nil, fmt.Errorf("%w: no live metadata version for %s", ErrUnsafeDeletion, chain)
		}
		anchors[chain] = v
	}

	keep := make(map[string]bool)
	for _, rec := range scanned {
		if keeps(rec, reg, anchors, opts) {
			keep[rec.String()] = true
		}
	}

	var remove []string
	for _, rec := range scanned {
		if !keep[rec.String()] {
			remove = append(remove, rec.String())
		}
	}
	sort.Strings(remove)
	return remove, nil
}

func keeps(rec asset.Path, reg registry.Resolver, anchors map[string]uint32, opts Options) bool {
	chain := rec.Name.Chain
	anchor, configured := anchors[chain]
	if !configured {
		return false
	}

	switch rec.Name.Content.Kind() {
	case asset.KindSpecs:
		resolved, ok := reg.Specs(chain)
		return ok && resolved == rec
	case asset.KindMetadata:
		v, _ := rec.Name.Content.Version()
		if v < anchor {
			return false
		}
		if opts.PruneUnsignedDuplicates && !rec.Name.Signed {
			if resolved, ok := reg.Metadata(chain, v); ok && resolved.Name.Signed {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// StalePointers returns the sorted paths of pointers that would dangle
// after remove is applied: pointers of unconfigured chains and pointers whose
// target is not among the scanned files or is being removed.
func StalePointers(pointers []scan.Pointer, scanned []asset.Path, remove []string, chains []string) []string {
	configured := make(map[string]bool, len(chains))
	for _, chain := range chains {
		configured[chain] = true
	}
	survivors := make(map[string]bool, len(scanned))
	for _, rec := range scanned {
		survivors[rec.String()] = true
	}
	for _, path := range remove {
		delete(survivors, path)
	}

	var stale []string
	for _, p := range pointers {
		if !configured[p.Chain] || !survivors[p.Target] {
			stale = append(stale, p.Path)
		}
	}
	sort.Strings(stale)
	return stale
}

// Plan is FilesToRemove followed by StalePointers inside a clean.plan span.
// Files come first in the result, then pointers.
func Plan(ctx context.Context, scanned []asset.Path, pointers []scan.Pointer, reg registry.Resolver, live LiveState, chains []string, opts Options) (remove []string, err error) {
	_, span := tracing.Start(ctx, tracing.SpanCleanPlan, attribute.Int(tracing.AttrCount, len(scanned)))
	defer func() { tracing.Finish(span, err) }()

	remove, err = FilesToRemove(scanned, reg, live, chains, opts)
	if err != nil {
		return nil, err
	}
	stale := StalePointers(pointers, scanned, remove, chains)
	span.SetAttributes(attribute.Int("clean.stale_pointers", len(stale)))
	log.Debug(log.CatClean, "Removal set computed", "scanned", len(scanned), "remove", len(remove), "pointers", len(stale))
	return append(remove, stale...), nil
}

// Clean deletes paths. With dryRun it only reports them. It returns the paths
// handled before the first failure.
func Clean(ctx context.Context, paths []string, dryRun bool) (done []string, err error) {
	_, span := tracing.Start(ctx, tracing.SpanCleanApply,
		attribute.Int(tracing.AttrCount, len(paths)),
		attribute.Bool("clean.dry_run", dryRun),
	)
	defer func() { tracing.Finish(span, err) }()

	for _, path := range paths {
		if dryRun {
			log.Info(log.CatClean, "Would delete", "path", path)
			done = append(done, path)
			continue
		}
		if err := os.Remove(path); err != nil {
			return done, fmt.Errorf("deleting %s: %w", path, err)
		}
		log.Info(log.CatClean, "Deleted", "path", path)
		done = append(done, path)
	}
	return done, nil
}

// Package scan enumerates the QR directory into asset records.
//
// The scan is pure: it never touches the files it reads. Names that do not
// follow the asset naming scheme are reported as warnings and skipped so that
// a single stray file cannot block a run.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/domain/asset"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// Result is the outcome of scanning one directory. Records carry no ordering
// guarantee.
type Result struct {
	Records  []asset.Path
	Pointers []Pointer
	Warnings []error
}

// Pointer is a latest-metadata symlink found in the directory.
type Pointer struct {
	Path   string
	Chain  string
	Target string // resolved link target, empty when unreadable
}

// Dir lists dir non-recursively. Only regular files become records; other
// symlinks, dotfiles and regular files named like a latest pointer are
// skipped silently. Latest-pointer symlinks are listed in Pointers. Failure
// to read dir itself is returned.
func Dir(ctx context.Context, dir string) (res *Result, err error) {
	_, span := tracing.Start(ctx, tracing.SpanScanDir, attribute.String(tracing.AttrDir, dir))
	defer func() { tracing.Finish(span, err) }()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading qr directory %s: %w", dir, err)
	}

	res = &Result{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type()&os.ModeSymlink != 0 {
			if chain, ok := asset.LatestPointerChain(name); ok {
				res.Pointers = append(res.Pointers, readPointer(dir, name, chain))
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(name, ".") || asset.IsLatestPointer(name) {
			continue
		}

		fn, perr := asset.ParseFileName(name)
		if perr != nil {
			log.Warn(log.CatScan, "skipping file", "dir", dir, "file", name, "reason", perr)
			res.Warnings = append(res.Warnings, perr)
			continue
		}
		res.Records = append(res.Records, asset.NewPath(dir, fn))
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrCount, len(res.Records)),
		attribute.Int(tracing.AttrWarnings, len(res.Warnings)),
		attribute.Int("scan.pointers", len(res.Pointers)),
	)
	log.Debug(log.CatScan, "scanned", "dir", dir, "records", len(res.Records), "pointers", len(res.Pointers), "warnings", len(res.Warnings))
	return res, nil
}

func readPointer(dir, name, chain string) Pointer {
	p := Pointer{Path: filepath.Join(dir, name), Chain: chain}
	target, err := os.Readlink(p.Path)
	if err != nil {
		log.Warn(log.CatScan, "unreadable pointer", "file", name, "reason", err)
		return p
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	p.Target = filepath.Clean(target)
	return p
}

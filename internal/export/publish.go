package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// Publish repoints every latest pointer and then writes the snapshot to
// dataFile atomically.
func Publish(ctx context.Context, snap *Snapshot, pointers []Pointer, dataFile string) (err error) {
	_, span := tracing.Start(ctx, tracing.SpanExportPublish,
		attribute.Int(tracing.AttrCount, snap.Len()),
		attribute.String(tracing.AttrFile, dataFile),
	)
	defer func() { tracing.Finish(span, err) }()

	for _, p := range pointers {
		if err := Repoint(p); err != nil {
			return err
		}
	}
	if err := WriteFile(dataFile, snap); err != nil {
		return err
	}
	log.Info(log.CatExport, "Export written", "file", dataFile, "chains", snap.Len())
	return nil
}

// Repoint replaces the pointer with a symlink to its target. The link target
// is relative so the tree can be moved or served as is.
func Repoint(p Pointer) error {
	if filepath.Dir(p.Path) != filepath.Clean(p.Target.Dir) {
		return fmt.Errorf("pointer %s must live next to %s", p.Path, p.Target)
	}
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing pointer %s: %w", p.Path, err)
	}
	if err := os.Symlink(p.Target.Name.String(), p.Path); err != nil {
		return fmt.Errorf("creating pointer %s: %w", p.Path, err)
	}
	log.Debug(log.CatExport, "Pointer updated", "pointer", filepath.Base(p.Path), "target", p.Target.Name)
	return nil
}

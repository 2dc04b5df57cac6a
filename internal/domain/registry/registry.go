package registry

import (
	"slices"
	"sort"

	"github.com/zjrosen/metaportal/internal/domain/asset"
)

// Registry holds the authoritative asset per slot.
type Registry struct {
	metadata map[string]map[uint32]asset.Path
	specs    map[string]asset.Path
}

// New indexes records. Order of records does not matter.
func New(records []asset.Path) *Registry {
	return &Registry{
		metadata: IndexMetadata(records),
		specs:    IndexSpecs(records),
	}
}

// IndexMetadata maps chain -> version -> authoritative metadata record.
func IndexMetadata(records []asset.Path) map[string]map[uint32]asset.Path {
	index := make(map[string]map[uint32]asset.Path)
	for _, rec := range records {
		version, ok := rec.Name.Content.Version()
		if !ok {
			continue
		}
		versions, exists := index[rec.Name.Chain]
		if !exists {
			versions = make(map[uint32]asset.Path)
			index[rec.Name.Chain] = versions
		}
		if current, taken := versions[version]; !taken || Prefer(rec, current) {
			versions[version] = rec
		}
	}
	return index
}

// IndexSpecs maps chain -> authoritative specs record.
func IndexSpecs(records []asset.Path) map[string]asset.Path {
	index := make(map[string]asset.Path)
	for _, rec := range records {
		if rec.Name.Content.Kind() != asset.KindSpecs {
			continue
		}
		if current, taken := index[rec.Name.Chain]; !taken || Prefer(rec, current) {
			index[rec.Name.Chain] = rec
		}
	}
	return index
}

// Prefer reports whether candidate beats current for the same slot. It is a
// strict total order over distinct paths.
func Prefer(candidate, current asset.Path) bool {
	if candidate.Name.Signed != current.Name.Signed {
		return candidate.Name.Signed
	}
	cc, oc := candidate.Name.HasCanonicalExtension(), current.Name.HasCanonicalExtension()
	if cc != oc {
		return cc
	}
	cn, on := candidate.Name.String(), current.Name.String()
	if cn != on {
		return cn < on
	}
	return candidate.Dir < current.Dir
}

// Chains returns every chain with at least one indexed asset, sorted.
func (r *Registry) Chains() []string {
	seen := make(map[string]bool, len(r.metadata)+len(r.specs))
	for chain := range r.metadata {
		seen[chain] = true
	}
	for chain := range r.specs {
		seen[chain] = true
	}
	chains := make([]string, 0, len(seen))
	for chain := range seen {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// Specs returns the authoritative specs record for chain.
func (r *Registry) Specs(chain string) (asset.Path, bool) {
	rec, ok := r.specs[chain]
	return rec, ok
}

// Metadata returns the authoritative metadata record for chain at version.
func (r *Registry) Metadata(chain string, version uint32) (asset.Path, bool) {
	rec, ok := r.metadata[chain][version]
	return rec, ok
}

// Versions returns the indexed metadata versions of chain in ascending order.
func (r *Registry) Versions(chain string) []uint32 {
	versions := make([]uint32, 0, len(r.metadata[chain]))
	for v := range r.metadata[chain] {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions
}

// Latest returns the authoritative record of the newest metadata version.
func (r *Registry) Latest(chain string) (asset.Path, bool) {
	versions := r.Versions(chain)
	if len(versions) == 0 {
		return asset.Path{}, false
	}
	return r.Metadata(chain, versions[len(versions)-1])
}

// NextVersion returns the smallest indexed version strictly greater than active.
func (r *Registry) NextVersion(chain string, active uint32) (uint32, bool) {
	for _, v := range r.Versions(chain) {
		if v > active {
			return v, true
		}
	}
	return 0, false
}

// CollectFrom returns, in ascending version order, the newest record at or
// below floor followed by every record above it.
func (r *Registry) CollectFrom(chain string, floor uint32) []asset.Path {
	var collected []asset.Path
	for _, v := range r.Versions(chain) {
		rec, _ := r.Metadata(chain, v)
		if v <= floor {
			collected = append(collected[:0], rec)
			continue
		}
		collected = append(collected, rec)
	}
	return collected
}

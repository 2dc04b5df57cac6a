package registry

import "github.com/zjrosen/metaportal/internal/domain/asset"

// Resolver defines read-only access to resolved assets.
// It lets the cleaner and export builder run against fixtures in tests.
type Resolver interface {
	// Specs returns the authoritative specs record for a chain.
	Specs(chain string) (asset.Path, bool)

	// Metadata returns the authoritative metadata record at a version.
	Metadata(chain string, version uint32) (asset.Path, bool)

	// NextVersion returns the first indexed version above active.
	NextVersion(chain string, active uint32) (uint32, bool)

	// Latest returns the authoritative record of the newest metadata version.
	Latest(chain string) (asset.Path, bool)

	// CollectFrom returns the newest record at or below floor plus all newer ones.
	CollectFrom(chain string, floor uint32) []asset.Path
}

// Compile-time check that Registry implements Resolver.
var _ Resolver = (*Registry)(nil)

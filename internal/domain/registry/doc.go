// Package registry implements the resolution engine over scanned QR assets.
//
// The registry is derived state: it is built from one directory scan per run and never
// cached, so it cannot disagree with the filesystem. Like the asset package it
// contains only pure Go code with standard library imports.
//
// # Resolution
//
// Several files can compete for one artifact slot (chain + content kind, and version
// for metadata). Exactly one wins:
//   - a signed file beats an unsigned one, whatever the discovery order
//   - an unsigned file is kept when no signed candidate exists, so tooling can still
//     present it for signing
//   - remaining ties are broken by canonical extension, then by file name, which makes
//     the outcome independent of enumeration order
//
// # Queries
//
// NextVersion returns the first indexed metadata version after the active one.
// CollectFrom returns "one behind, all ahead": the newest record at or below a floor
// version plus every newer record, which is what an export shows.
//
// Resolver is the read-only interface Registry implements, used by the cleaner and the
// export builder so tests can substitute fixtures.
package registry

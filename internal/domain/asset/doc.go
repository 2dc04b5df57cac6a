// Package asset implements the naming scheme of QR asset files.
//
// A QR asset directory is flat. Every file name carries the full identity of the
// artifact it holds, so the directory itself is the database:
//
//	[unsigned_]<chain>_specs.<ext>
//	[unsigned_]<chain>_metadata_<version>.<ext>
//
// The "unsigned_" prefix is the only signal of signing status. Chain identifiers may
// contain underscores, so the content suffix is always stripped from the right.
//
// # Core Types
//
// ContentKind is a closed variant: Metadata(version) or Specs. Use the Metadata and
// Specs constructors and switch on Kind; never compare suffix strings outside this
// package.
//
// FileName is the decoded form of a file name. ParseFileName and FileName.String are
// exact inverses for every valid name, including names with a non-canonical or missing
// extension.
//
// Path couples a FileName with the directory it was found in.
//
// Like the registry package, asset has no knowledge of the filesystem beyond path
// manipulation; scanning lives in internal/scan.
package asset

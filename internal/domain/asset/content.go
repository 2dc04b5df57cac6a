package asset

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates ContentKind.
type Kind int

const (
	KindSpecs Kind = iota
	KindMetadata
)

func (k Kind) String() string {
	switch k {
	case KindSpecs:
		return "specs"
	case KindMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

const (
	specsSuffix    = "specs"
	metadataSuffix = "metadata"
)

// ContentKind is what an asset encodes. Only metadata is versioned.
type ContentKind struct {
	kind    Kind
	version uint32
}

// Metadata returns the content kind of chain metadata at the given spec version.
func Metadata(version uint32) ContentKind {
	return ContentKind{kind: KindMetadata, version: version}
}

// Specs returns the content kind of a chain specification.
func Specs() ContentKind {
	return ContentKind{kind: KindSpecs}
}

// Kind returns the variant tag.
func (c ContentKind) Kind() Kind {
	return c.kind
}

// Version returns the metadata version and true, or 0 and false for specs.
func (c ContentKind) Version() (uint32, bool) {
	if c.kind != KindMetadata {
		return 0, false
	}
	return c.version, true
}

// DefaultExtension is the extension new files of this kind are written with.
func (c ContentKind) DefaultExtension() string {
	switch c.kind {
	case KindMetadata:
		return "apng"
	default:
		return "png"
	}
}

// String returns the file name suffix for the kind, e.g. "metadata_9001".
func (c ContentKind) String() string {
	switch c.kind {
	case KindMetadata:
		return metadataSuffix + "_" + strconv.FormatUint(uint64(c.version), 10)
	default:
		return specsSuffix
	}
}

// parseContentSuffix splits stem into chain and content kind, matching the
// suffix from the right.
func parseContentSuffix(stem string) (string, ContentKind, error) {
	if chain, ok := strings.CutSuffix(stem, "_"+specsSuffix); ok {
		return chain, Specs(), nil
	}

	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return "", ContentKind{}, fmt.Errorf("unknown content suffix in %q", stem)
	}
	version, rest := stem[idx+1:], stem[:idx]

	chain, ok := strings.CutSuffix(rest, "_"+metadataSuffix)
	if !ok {
		return "", ContentKind{}, fmt.Errorf("unknown content suffix in %q", stem)
	}
	v, err := parseVersion(version)
	if err != nil {
		return "", ContentKind{}, err
	}
	return chain, Metadata(v), nil
}

// parseVersion accepts only canonical decimal digits so that the parsed value
// formats back to the same text.
func parseVersion(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty metadata version")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("metadata version %q is not a number", s)
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("metadata version %q has leading zeros", s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("metadata version %q out of range", s)
	}
	return uint32(v), nil
}

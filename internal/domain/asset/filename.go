package asset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// UnsignedPrefix marks a file whose payload carries no signature.
const UnsignedPrefix = "unsigned_"

// latestSuffix names the per-chain pointer to the newest metadata file.
const latestSuffix = "_" + metadataSuffix + "_latest"

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("invalid qr file name")

// ParseError reports a file name that does not follow the naming scheme.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrParse, e.Name, e.Reason)
}

// Is makes errors.Is(err, ErrParse) hold for any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// FileName is the decoded form of a QR asset file name.
type FileName struct {
	Chain     string
	Content   ContentKind
	Signed    bool
	Extension string // without the dot; empty when the name has none
}

// Slot identifies the artifact a file is a candidate for. Signed and unsigned
// files of one slot compete; they are never both authoritative.
type Slot struct {
	Chain   string
	Content ContentKind
}

// NewFileName builds a name with the canonical extension for its content kind.
func NewFileName(chain string, content ContentKind, signed bool) FileName {
	return FileName{
		Chain:     chain,
		Content:   content,
		Signed:    signed,
		Extension: content.DefaultExtension(),
	}
}

// ParseFileName decodes a bare file name (no directory).
func ParseFileName(name string) (FileName, error) {
	stem, ext := splitExtension(name)
	if ext != nil && *ext == "" {
		return FileName{}, &ParseError{Name: name, Reason: "empty extension"}
	}

	signed := true
	if s, ok := strings.CutPrefix(stem, UnsignedPrefix); ok {
		stem = s
		signed = false
	}

	chain, content, err := parseContentSuffix(stem)
	if err != nil {
		return FileName{}, &ParseError{Name: name, Reason: err.Error()}
	}
	if chain == "" {
		return FileName{}, &ParseError{Name: name, Reason: "empty chain name"}
	}

	fn := FileName{Chain: chain, Content: content, Signed: signed}
	if ext != nil {
		fn.Extension = *ext
	}
	return fn, nil
}

// splitExtension splits at the last dot. A leading dot does not start an
// extension. ext is nil when there is no dot at all.
func splitExtension(name string) (string, *string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, nil
	}
	ext := name[idx+1:]
	return name[:idx], &ext
}

// String encodes the name. It is the exact inverse of ParseFileName.
func (f FileName) String() string {
	var b strings.Builder
	if !f.Signed {
		b.WriteString(UnsignedPrefix)
	}
	b.WriteString(f.Chain)
	b.WriteByte('_')
	b.WriteString(f.Content.String())
	if f.Extension != "" {
		b.WriteByte('.')
		b.WriteString(f.Extension)
	}
	return b.String()
}

// Slot returns the artifact slot this file competes for.
func (f FileName) Slot() Slot {
	return Slot{Chain: f.Chain, Content: f.Content}
}

// WithSigned returns a copy of f with the signing status replaced.
func (f FileName) WithSigned(signed bool) FileName {
	f.Signed = signed
	return f
}

// HasCanonicalExtension reports whether the extension is the one NewFileName
// would pick.
func (f FileName) HasCanonicalExtension() bool {
	return f.Extension == f.Content.DefaultExtension()
}

// IsLatestPointer reports whether name is a latest-metadata pointer such as
// "kusama_metadata_latest.apng". Pointers are not assets.
func IsLatestPointer(name string) bool {
	_, ok := LatestPointerChain(name)
	return ok
}

// LatestPointerChain returns the chain a latest-metadata pointer belongs to.
func LatestPointerChain(name string) (string, bool) {
	stem, _ := splitExtension(name)
	chain, ok := strings.CutSuffix(stem, latestSuffix)
	return chain, ok && chain != ""
}

// LatestPointerName returns the pointer file name for chain.
func LatestPointerName(chain, ext string) string {
	name := chain + latestSuffix
	if ext != "" {
		name += "." + ext
	}
	return name
}

// Path is a FileName located in a directory.
type Path struct {
	Dir  string
	Name FileName
}

// NewPath joins dir and name.
func NewPath(dir string, name FileName) Path {
	return Path{Dir: dir, Name: name}
}

// ParsePath decodes the base name of path and keeps its directory.
func ParsePath(path string) (Path, error) {
	name, err := ParseFileName(filepath.Base(path))
	if err != nil {
		return Path{}, err
	}
	return Path{Dir: filepath.Dir(path), Name: name}, nil
}

// String returns the filesystem path.
func (p Path) String() string {
	return filepath.Join(p.Dir, p.Name.String())
}

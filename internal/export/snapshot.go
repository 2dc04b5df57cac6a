package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjrosen/metaportal/internal/payload"
)

// QrCode is a published asset.
type QrCode struct {
	Path     string          `json:"path"`
	SignedBy *string         `json:"signedBy"`
	Source   *payload.Source `json:"source,omitempty"`
}

// MetadataQr is the metadata asset served for a version.
type MetadataQr struct {
	Version uint32 `json:"version"`
	File    QrCode `json:"file"`
}

// ChainSpec is one chain of the export file.
type ChainSpec struct {
	Title               string      `json:"title"`
	Color               string      `json:"color"`
	RPCEndpoint         string      `json:"rpcEndpoint"`
	GenesisHash         string      `json:"genesisHash"`
	Unit                string      `json:"unit"`
	Base58Prefix        uint16      `json:"base58prefix"`
	Logo                string      `json:"logo"`
	Decimals            uint8       `json:"decimals"`
	LiveMetaVersion     uint32      `json:"liveMetaVersion"`
	MetadataQr          *MetadataQr `json:"metadataQr,omitempty"`
	NextMetadataVersion *uint32     `json:"nextMetadataVersion,omitempty"`
	NextMetadataQr      *QrCode     `json:"nextMetadataQr,omitempty"`
	LatestMetadata      string      `json:"latestMetadata,omitempty"`
	SpecsQr             QrCode      `json:"specsQr"`
	RelayChain          string      `json:"relayChain,omitempty"`
	Testnet             bool        `json:"testnet"`
}

// Snapshot maps portal ids to chain specs and keeps insertion order through
// JSON encoding and decoding.
type Snapshot struct {
	ids    []string
	chains map[string]ChainSpec
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{chains: make(map[string]ChainSpec)}
}

// Set adds or replaces the entry for id. A new id goes last.
func (s *Snapshot) Set(id string, spec ChainSpec) {
	if s.chains == nil {
		s.chains = make(map[string]ChainSpec)
	}
	if _, ok := s.chains[id]; !ok {
		s.ids = append(s.ids, id)
	}
	s.chains[id] = spec
}

// Get returns the entry for id.
func (s *Snapshot) Get(id string) (ChainSpec, bool) {
	spec, ok := s.chains[id]
	return spec, ok
}

// IDs returns portal ids in order.
func (s *Snapshot) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Len returns the number of chains.
func (s *Snapshot) Len() int {
	return len(s.ids)
}

// MarshalJSON encodes the snapshot as an object in insertion order.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(s.chains[id])
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping key order.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("export snapshot must be a JSON object")
	}

	*s = Snapshot{chains: make(map[string]ChainSpec)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var spec ChainSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("decoding %s: %w", id, err)
		}
		s.Set(id, spec)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Encode returns the pretty printed file content, newline terminated.
func (s *Snapshot) Encode() ([]byte, error) {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Decode parses the content of an export file.
func Decode(data []byte) (*Snapshot, error) {
	s := NewSnapshot()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadFile reads an export file.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the configured data file
	if err != nil {
		return nil, fmt.Errorf("reading export file: %w", err)
	}
	s, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing export file %s: %w", path, err)
	}
	return s, nil
}

// WriteFile writes s to path through a temp file and rename, so readers see
// either the previous or the new snapshot.
func WriteFile(path string, s *Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// AssetPath returns fsPath relative to publicDir with forward slashes, as
// the portal resolves it.
func AssetPath(fsPath, publicDir string) (string, error) {
	rel, err := filepath.Rel(publicDir, fsPath)
	if err != nil {
		return "", fmt.Errorf("%s is not under %s: %w", fsPath, publicDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not under %s", fsPath, publicDir)
	}
	return filepath.ToSlash(rel), nil
}

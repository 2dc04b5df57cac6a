// Package payload defines the signed envelope carried by every QR asset and
// the signing primitives over it.
//
// An envelope is CBOR with core deterministic encoding, so the same logical
// content always produces the same bytes. The signature covers the blake2b-256
// digest of the envelope encoded without its signature.
package payload

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/zjrosen/metaportal/internal/domain/asset"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("payload: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("payload: CBOR decoder initialization failed: " + err.Error())
	}
}

// ErrMalformed is returned for bytes that do not decode to an envelope.
var ErrMalformed = errors.New("malformed payload")

// Envelope is the content of a QR asset.
type Envelope struct {
	Kind        string `cbor:"kind"`
	Chain       string `cbor:"chain"`
	Version     uint32 `cbor:"version,omitempty"`
	GenesisHash string `cbor:"genesis_hash"`
	Content     []byte `cbor:"content"`
	PublicKey   []byte `cbor:"public_key,omitempty"`
	Signature   []byte `cbor:"signature,omitempty"`
}

// Claims is what an envelope says about itself: the slot it belongs to.
type Claims struct {
	Chain   string
	Kind    asset.Kind
	Version uint32
}

// Content returns the content kind claimed by c.
func (c Claims) Content() asset.ContentKind {
	if c.Kind == asset.KindMetadata {
		return asset.Metadata(c.Version)
	}
	return asset.Specs()
}

// NewMetadata builds an unsigned metadata envelope.
func NewMetadata(chain string, version uint32, genesisHash string, meta []byte) *Envelope {
	return &Envelope{
		Kind:        asset.KindMetadata.String(),
		Chain:       chain,
		Version:     version,
		GenesisHash: genesisHash,
		Content:     meta,
	}
}

// NewSpecs builds an unsigned specs envelope.
func NewSpecs(chain, genesisHash string, specs []byte) *Envelope {
	return &Envelope{
		Kind:        asset.KindSpecs.String(),
		Chain:       chain,
		GenesisHash: genesisHash,
		Content:     specs,
	}
}

// Claims decodes the slot the envelope claims.
func (e *Envelope) Claims() (Claims, error) {
	switch e.Kind {
	case asset.KindMetadata.String():
		return Claims{Chain: e.Chain, Kind: asset.KindMetadata, Version: e.Version}, nil
	case asset.KindSpecs.String():
		return Claims{Chain: e.Chain, Kind: asset.KindSpecs}, nil
	default:
		return Claims{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
}

// IsSigned reports whether the envelope carries a signature.
func (e *Envelope) IsSigned() bool {
	return len(e.Signature) > 0
}

// Digest is the blake2b-256 hash of the envelope without its signature.
// The public key is part of the signed bytes.
func (e *Envelope) Digest() ([32]byte, error) {
	unsigned := *e
	unsigned.Signature = nil
	b, err := encMode.Marshal(&unsigned)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding envelope: %w", err)
	}
	return blake2b.Sum256(b), nil
}

// Marshal encodes e.
func Marshal(e *Envelope) ([]byte, error) {
	return encMode.Marshal(e)
}

// Unmarshal decodes an envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := e.Claims(); err != nil {
		return nil, err
	}
	return &e, nil
}

// EncodeContent encodes structured content, such as chain specs, with the
// envelope codec.
func EncodeContent(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

package payload

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/log"
)

var (
	// ErrUnsigned is returned when verifying an envelope without signature.
	ErrUnsigned = errors.New("payload is not signed")
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("bad signature")
	// ErrWrongKey is returned when an envelope was signed by another key.
	ErrWrongKey = errors.New("signed by unexpected key")
	// ErrNoPublicKey is returned when no verifier key is given to check
	// signatures against.
	ErrNoPublicKey = errors.New("no verifier public key")
	// ErrNoSeed is returned when no signing seed is configured.
	ErrNoSeed = errors.New("signing seed not set")
)

// Signer signs envelopes in place.
type Signer interface {
	Sign(e *Envelope) error
	PublicKey() ed25519.PublicKey
}

// Ed25519Signer signs with an ed25519 key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

var _ Signer = (*Ed25519Signer)(nil)

// NewSigner builds a signer from a hex encoded 32 byte seed.
func NewSigner(seedHex string) (*Ed25519Signer, error) {
	seed, err := config.DecodeHex(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// LoadSigner reads the seed from the environment variable envVar after
// loading envFile, if it exists. Variables already set in the environment
// win over the file.
func LoadSigner(envFile, envVar string) (*Ed25519Signer, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	seed := os.Getenv(envVar)
	if seed == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoSeed, envVar)
	}
	s, err := NewSigner(seed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envVar, err)
	}
	log.Debug(log.CatSign, "Loaded signing key", "env", envVar)
	return s, nil
}

// PublicKey returns the verifying key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign sets the public key and signature of e.
func (s *Ed25519Signer) Sign(e *Envelope) error {
	e.PublicKey = s.PublicKey()
	digest, err := e.Digest()
	if err != nil {
		return err
	}
	e.Signature = ed25519.Sign(s.key, digest[:])
	return nil
}

// Verify checks that e is signed by expected and that the signature is valid.
func Verify(e *Envelope, expected ed25519.PublicKey) error {
	if len(expected) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: expected key has %d bytes", ErrNoPublicKey, len(expected))
	}
	if !e.IsSigned() {
		return ErrUnsigned
	}
	if len(e.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key has %d bytes", ErrBadSignature, len(e.PublicKey))
	}
	if !bytes.Equal(expected, e.PublicKey) {
		return ErrWrongKey
	}
	digest, err := e.Digest()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(e.PublicKey), digest[:], e.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Package verifier checks that a signed asset holds what its file name says.
//
// Signature validity is the payload package's concern; this package binds a
// valid payload to its file name so that a correctly signed payload cannot be
// served under another chain or version.
package verifier

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/domain/asset"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/payload"
	"github.com/zjrosen/metaportal/internal/render"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// ErrVerification matches every *Error.
var ErrVerification = errors.New("verification failed")

// Error reports a file that failed verification.
type Error struct {
	File   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to verify %s: %s", e.File, e.Reason)
}

// Is makes errors.Is(err, ErrVerification) true.
func (e *Error) Is(target error) bool {
	return target == ErrVerification
}

func (e *Error) Unwrap() error { return e.Err }

// Verify checks that record is signed and that claims name the same slot as
// the file name. Chain names are compared lower-cased.
func Verify(record asset.Path, claims payload.Claims) error {
	if !record.Name.Signed {
		return &Error{File: record.Name.String(), Reason: "file is not signed"}
	}
	expected := asset.NewFileName(strings.ToLower(claims.Chain), claims.Content(), true)
	if expected.Slot() != record.Name.Slot() {
		expected.Extension = record.Name.Extension
		return &Error{
			File:   record.Name.String(),
			Reason: fmt.Sprintf("filename mismatch! Expected %s, got %s", expected, record.Name),
		}
	}
	return nil
}

// Dir verifies every record: the embedded envelope must carry a valid
// signature by publicKey and claim the slot of its file name. A failure does
// not stop the others; all failures are returned joined. verified lists the
// files that passed, sorted.
func Dir(ctx context.Context, records []asset.Path, reader render.EnvelopeReader, publicKey ed25519.PublicKey) (verified []asset.Path, err error) {
	_, span := tracing.Start(ctx, tracing.SpanVerifyDir, attribute.Int(tracing.AttrCount, len(records)))
	defer func() { tracing.Finish(span, err) }()

	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: verifying needs the %d byte verifier key", payload.ErrNoPublicKey, ed25519.PublicKeySize)
	}

	sorted := append([]asset.Path(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	var errs []error
	for _, rec := range sorted {
		if err := verifyFile(rec, reader, publicKey); err != nil {
			log.ErrorErr(log.CatVerify, "Verification failed", err, "file", rec.Name)
			errs = append(errs, err)
			continue
		}
		log.Info(log.CatVerify, "Verified", "file", rec.Name)
		verified = append(verified, rec)
	}
	return verified, errors.Join(errs...)
}

func verifyFile(rec asset.Path, reader render.EnvelopeReader, publicKey ed25519.PublicKey) error {
	if !rec.Name.Signed {
		return &Error{File: rec.Name.String(), Reason: "file is not signed"}
	}
	env, err := reader.ReadEnvelope(rec.String())
	if err != nil {
		return &Error{File: rec.Name.String(), Reason: err.Error(), Err: err}
	}
	if err := payload.Verify(env, publicKey); err != nil {
		return &Error{File: rec.Name.String(), Reason: err.Error(), Err: err}
	}
	claims, err := env.Claims()
	if err != nil {
		return &Error{File: rec.Name.String(), Reason: err.Error(), Err: err}
	}
	return Verify(rec, claims)
}

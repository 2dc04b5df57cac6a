// Package render turns envelopes into QR image files and reads them back.
//
// A payload that fits one frame becomes a still PNG; larger payloads become an
// APNG whose frames carry the multipart header. Besides the pixels, every
// file embeds the encoded envelope in a private chunk and, when known, its
// provenance as a zTXt chunk with keyword "Source", so later runs never need
// to decode QR images.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/payload"
)

// SourceKeyword is the zTXt keyword holding the JSON encoded Source.
const SourceKeyword = "Source"

// Renderer writes an envelope as a QR asset file.
type Renderer interface {
	Render(path string, env *payload.Envelope, src *payload.Source) error
}

// EnvelopeReader reads the envelope embedded in an asset file.
type EnvelopeReader interface {
	ReadEnvelope(path string) (*payload.Envelope, error)
}

// SourceReader reads the provenance embedded in an asset file. A nil Source
// with a nil error means the file has none.
type SourceReader interface {
	ReadSource(path string) (*payload.Source, error)
}

// QR renders envelopes with skip2/go-qrcode.
type QR struct {
	Size      int // image width and height in pixels
	FrameSize int // payload bytes per frame
	DelayMs   uint16
	Level     qrcode.RecoveryLevel
}

// NewQR returns a renderer with defaults suited to phone cameras.
func NewQR() *QR {
	return &QR{
		Size:      600,
		FrameSize: DefaultFrameSize,
		DelayMs:   100,
		Level:     qrcode.Low,
	}
}

var _ Renderer = (*QR)(nil)

// Render encodes env into QR frames and writes path atomically.
func (q *QR) Render(path string, env *payload.Envelope, src *payload.Source) error {
	data, err := payload.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding payload for %s: %w", path, err)
	}

	frameSize := q.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	frames, err := Frames(data, frameSize)
	if err != nil {
		return fmt.Errorf("splitting payload for %s: %w", path, err)
	}

	images, err := q.encodeFrames(frames)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}

	anim := animation{
		frames:  images,
		delayMs: q.DelayMs,
		extra:   []chunk{{typ: chunkPayload, data: data}},
	}
	if src != nil {
		text, err := json.Marshal(src)
		if err != nil {
			return fmt.Errorf("encoding source for %s: %w", path, err)
		}
		anim.texts = append(anim.texts, textChunk{keyword: SourceKeyword, text: text})
	}

	var buf bytes.Buffer
	if err := writePNG(&buf, anim); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return err
	}
	log.Debug(log.CatRender, "Rendered", "file", filepath.Base(path), "frames", len(frames), "bytes", len(data))
	return nil
}

// encodeFrames renders every frame at the highest QR version any frame needs
// so that all images share one size.
func (q *QR) encodeFrames(frames [][]byte) ([]*image.Gray, error) {
	codes := make([]*qrcode.QRCode, len(frames))
	version := 0
	for i, f := range frames {
		code, err := qrcode.New(string(f), q.Level)
		if err != nil {
			return nil, err
		}
		codes[i] = code
		version = max(version, code.VersionNumber)
	}

	images := make([]*image.Gray, len(frames))
	for i, code := range codes {
		if code.VersionNumber != version {
			forced, err := qrcode.NewWithForcedVersion(string(frames[i]), version, q.Level)
			if err != nil {
				return nil, err
			}
			code = forced
		}
		images[i] = toGray(code.Image(q.Size))
	}
	return images, nil
}

// Reader reads envelopes and sources from asset files.
type Reader struct{}

var (
	_ EnvelopeReader = Reader{}
	_ SourceReader   = Reader{}
)

// ReadEnvelope implements EnvelopeReader.
func (Reader) ReadEnvelope(path string) (*payload.Envelope, error) { return ReadEnvelope(path) }

// ReadSource implements SourceReader.
func (Reader) ReadSource(path string) (*payload.Source, error) { return ReadSource(path) }

// ReadEnvelope decodes the envelope embedded in the asset at path.
func ReadEnvelope(path string) (*payload.Envelope, error) {
	chunks, err := readFile(path)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.typ == chunkPayload {
			env, err := payload.Unmarshal(c.data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return env, nil
		}
	}
	return nil, fmt.Errorf("%s: no embedded payload", path)
}

// ReadSource decodes the Source text chunk of the asset at path. It returns
// nil when the file carries none.
func ReadSource(path string) (*payload.Source, error) {
	chunks, err := readFile(path)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.typ != chunkZTXT {
			continue
		}
		t, err := decodeZTXT(c.data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if t.keyword != SourceKeyword {
			continue
		}
		src, err := payload.ParseSource(t.text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return src, nil
	}
	return nil, nil
}

func readFile(path string) ([]chunk, error) {
	f, err := os.Open(path) //nolint:gosec // G304: asset paths come from the scanned qr directory
	if err != nil {
		return nil, err
	}
	defer f.Close()
	chunks, err := readChunks(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chunks, nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	temp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp.*")
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

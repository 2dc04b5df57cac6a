package render

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"io"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Chunk types written or read by this package.
const (
	chunkIHDR = "IHDR"
	chunkACTL = "acTL"
	chunkFCTL = "fcTL"
	chunkIDAT = "IDAT"
	chunkFDAT = "fdAT"
	chunkZTXT = "zTXt"
	chunkIEND = "IEND"

	// chunkPayload is a private, safe-to-copy ancillary chunk holding the
	// encoded envelope.
	chunkPayload = "mpLd"
)

// ErrNotPNG is returned when a file is not a PNG.
var ErrNotPNG = errors.New("not a png file")

type chunk struct {
	typ  string
	data []byte
}

// textChunk is a decoded zTXt chunk.
type textChunk struct {
	keyword string
	text    []byte
}

// animation is what gets written: one or more equally sized grayscale frames
// plus ancillary chunks placed before the image data.
type animation struct {
	frames  []*image.Gray
	delayMs uint16
	texts   []textChunk
	extra   []chunk
}

func writePNG(w io.Writer, a animation) error {
	if len(a.frames) == 0 {
		return fmt.Errorf("no frames to write")
	}
	bounds := a.frames[0].Bounds()
	for _, f := range a.frames[1:] {
		if f.Bounds().Size() != bounds.Size() {
			return fmt.Errorf("frame size mismatch: %v vs %v", f.Bounds().Size(), bounds.Size())
		}
	}
	width, height := uint32(bounds.Dx()), uint32(bounds.Dy())

	cw := &chunkWriter{w: w}
	cw.raw(pngSignature)

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale
	cw.chunk(chunkIHDR, ihdr)

	animated := len(a.frames) > 1
	if animated {
		actl := make([]byte, 8)
		binary.BigEndian.PutUint32(actl[0:4], uint32(len(a.frames)))
		binary.BigEndian.PutUint32(actl[4:8], 0) // loop forever
		cw.chunk(chunkACTL, actl)
	}

	for _, t := range a.texts {
		data, err := encodeZTXT(t)
		if err != nil {
			return err
		}
		cw.chunk(chunkZTXT, data)
	}
	for _, c := range a.extra {
		cw.chunk(c.typ, c.data)
	}

	var seq uint32
	for i, frame := range a.frames {
		idat, err := compressGray(frame)
		if err != nil {
			return err
		}
		if animated {
			cw.chunk(chunkFCTL, frameControl(seq, width, height, a.delayMs))
			seq++
		}
		if i == 0 {
			cw.chunk(chunkIDAT, idat)
			continue
		}
		fdat := make([]byte, 4, 4+len(idat))
		binary.BigEndian.PutUint32(fdat, seq)
		seq++
		cw.chunk(chunkFDAT, append(fdat, idat...))
	}

	cw.chunk(chunkIEND, nil)
	return cw.err
}

func frameControl(seq, width, height uint32, delayMs uint16) []byte {
	fctl := make([]byte, 26)
	binary.BigEndian.PutUint32(fctl[0:4], seq)
	binary.BigEndian.PutUint32(fctl[4:8], width)
	binary.BigEndian.PutUint32(fctl[8:12], height)
	// x and y offsets stay zero
	binary.BigEndian.PutUint16(fctl[20:22], delayMs)
	binary.BigEndian.PutUint16(fctl[22:24], 1000)
	// dispose_op and blend_op: none, source
	return fctl
}

func compressGray(img *image.Gray) ([]byte, error) {
	b := img.Bounds()
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	row := make([]byte, 1+b.Dx())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row[0] = 0 // filter: none
		copy(row[1:], img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)])
		if _, err := zw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toGray converts a two color QR image to 8-bit grayscale.
func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(src.At(x, y)).(color.Gray))
		}
	}
	return dst
}

func encodeZTXT(t textChunk) ([]byte, error) {
	if len(t.keyword) == 0 || len(t.keyword) > 79 {
		return nil, fmt.Errorf("invalid zTXt keyword %q", t.keyword)
	}
	var buf bytes.Buffer
	buf.WriteString(t.keyword)
	buf.WriteByte(0) // separator
	buf.WriteByte(0) // compression method: deflate
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(t.text); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeZTXT(data []byte) (textChunk, error) {
	keyword, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(rest) < 1 {
		return textChunk{}, fmt.Errorf("truncated zTXt chunk")
	}
	if rest[0] != 0 {
		return textChunk{}, fmt.Errorf("unsupported zTXt compression method %d", rest[0])
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest[1:]))
	if err != nil {
		return textChunk{}, fmt.Errorf("zTXt: %w", err)
	}
	defer zr.Close()
	text, err := io.ReadAll(zr)
	if err != nil {
		return textChunk{}, fmt.Errorf("zTXt: %w", err)
	}
	return textChunk{keyword: string(keyword), text: text}, nil
}

type chunkWriter struct {
	w   io.Writer
	err error
}

func (cw *chunkWriter) raw(b []byte) {
	if cw.err != nil {
		return
	}
	_, cw.err = cw.w.Write(b)
}

func (cw *chunkWriter) chunk(typ string, data []byte) {
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(data)))
	copy(header[4:8], typ)

	crc := crc32.NewIEEE()
	crc.Write(header[4:8])
	crc.Write(data)
	sum := make([]byte, 4)
	binary.BigEndian.PutUint32(sum, crc.Sum32())

	cw.raw(header)
	cw.raw(data)
	cw.raw(sum)
}

// readChunks returns every chunk of a PNG stream up to IEND, checking CRCs.
func readChunks(r io.Reader) ([]chunk, error) {
	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, ErrNotPNG
	}

	var chunks []chunk
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}
		length := binary.BigEndian.Uint32(header[0:4])
		typ := string(header[4:8])
		if length > 1<<30 {
			return nil, fmt.Errorf("chunk %s too large: %d bytes", typ, length)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("reading chunk %s: %w", typ, err)
		}
		sum := make([]byte, 4)
		if _, err := io.ReadFull(r, sum); err != nil {
			return nil, fmt.Errorf("reading chunk %s crc: %w", typ, err)
		}
		crc := crc32.NewIEEE()
		crc.Write(header[4:8])
		crc.Write(data)
		if crc.Sum32() != binary.BigEndian.Uint32(sum) {
			return nil, fmt.Errorf("chunk %s: crc mismatch", typ)
		}
		chunks = append(chunks, chunk{typ: typ, data: data})
		if typ == chunkIEND {
			return chunks, nil
		}
	}
}

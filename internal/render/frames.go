package render

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DefaultFrameSize is the payload bytes carried by one animation frame.
const DefaultFrameSize = 1000

// frameHeaderLen is the multipart header: 0x00, total frames (u16 BE), frame index (u16 BE).
const frameHeaderLen = 5

// ErrFrames is returned when frames cannot be joined back into a payload.
var ErrFrames = errors.New("invalid frames")

// Frames splits data for display. Data that fits into one frame is returned
// as is; otherwise every chunk of at most size bytes is prefixed with the
// multipart header.
func Frames(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", size)
	}
	if len(data) <= size {
		return [][]byte{data}, nil
	}

	total := (len(data) + size - 1) / size
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("payload of %d bytes needs %d frames, limit is %d", len(data), total, math.MaxUint16)
	}

	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		chunk := data[i*size : min((i+1)*size, len(data))]
		frame := make([]byte, frameHeaderLen, frameHeaderLen+len(chunk))
		frame[0] = 0x00
		binary.BigEndian.PutUint16(frame[1:3], uint16(total))
		binary.BigEndian.PutUint16(frame[3:5], uint16(i))
		frames = append(frames, append(frame, chunk...))
	}
	return frames, nil
}

// JoinFrames is the inverse of Frames. Frames may come in any order.
func JoinFrames(frames [][]byte) ([]byte, error) {
	if len(frames) == 1 {
		return frames[0], nil
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrFrames)
	}

	ordered := make([][]byte, len(frames))
	for _, f := range frames {
		if len(f) < frameHeaderLen || f[0] != 0x00 {
			return nil, fmt.Errorf("%w: missing multipart header", ErrFrames)
		}
		total := int(binary.BigEndian.Uint16(f[1:3]))
		index := int(binary.BigEndian.Uint16(f[3:5]))
		if total != len(frames) {
			return nil, fmt.Errorf("%w: frame claims %d frames, have %d", ErrFrames, total, len(frames))
		}
		if index >= total || ordered[index] != nil {
			return nil, fmt.Errorf("%w: duplicate or out of range index %d", ErrFrames, index)
		}
		ordered[index] = f[frameHeaderLen:]
	}

	var out []byte
	for _, chunk := range ordered {
		out = append(out, chunk...)
	}
	return out, nil
}

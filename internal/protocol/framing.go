package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/klauspost/compress/zlib"
)

// Framer reads and writes varint length-prefixed frames. Once a
// compression threshold is set, bodies at or above it are zlib compressed
// and every frame carries an uncompressed-length field.
type Framer struct {
	r         *bufio.Reader
	w         io.Writer
	threshold atomic.Int32
}

// NewFramer wraps a connection. Compression starts disabled.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	f := &Framer{r: bufio.NewReader(r), w: w}
	f.threshold.Store(-1)
	return f
}

// SetCompression enables compression; a negative threshold disables it.
func (f *Framer) SetCompression(threshold int32) {
	f.threshold.Store(threshold)
}

// Threshold returns the current compression threshold, -1 when disabled.
func (f *Framer) Threshold() int32 {
	return f.threshold.Load()
}

// ReadPacket reads one frame and returns the packet id and body.
func (f *Framer) ReadPacket() ([]byte, error) {
	length, err := ReadVarInt(f.r)
	if err != nil {
		return nil, fmt.Errorf("failed to read packet length: %w", err)
	}
	if length <= 0 || length > MaxPacketSize {
		return nil, fmt.Errorf("invalid packet length: %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	if f.threshold.Load() < 0 {
		return frame, nil
	}

	br := bytes.NewReader(frame)
	dataLen, err := ReadVarInt(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read uncompressed length: %w", err)
	}
	if dataLen == 0 {
		return frame[len(frame)-br.Len():], nil
	}
	if dataLen < 0 || dataLen > MaxPacketSize*8 {
		return nil, fmt.Errorf("invalid uncompressed length: %d", dataLen)
	}

	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed packet: %w", err)
	}
	defer zr.Close()

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, data); err != nil {
		return nil, fmt.Errorf("failed to inflate packet: %w", err)
	}
	return data, nil
}

// WritePacket frames and writes a marshaled packet. Callers serialize
// concurrent writes.
func (f *Framer) WritePacket(data []byte) error {
	frame, err := f.encode(data)
	if err != nil {
		return err
	}
	if _, err := f.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

func (f *Framer) encode(data []byte) ([]byte, error) {
	threshold := f.threshold.Load()

	var body []byte
	switch {
	case threshold < 0:
		body = data
	case int32(len(data)) < threshold:
		body = append(AppendVarInt(nil, 0), data...)
	default:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to compress packet: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress packet: %w", err)
		}
		body = append(AppendVarInt(nil, int32(len(data))), buf.Bytes()...)
	}

	if len(body) > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (max %d)", len(body), MaxPacketSize)
	}
	return append(AppendVarInt(nil, int32(len(body))), body...), nil
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Chunk column dimensions.
const (
	SectionWidth  = 16
	SectionVolume = 16 * 16 * 16
	SectionCount  = 16
	ColumnHeight  = SectionCount * 16
)

// ChunkColumn holds the block state ids of a 16x256x16 column. Sections
// absent from the bit mask stay air (state 0).
type ChunkColumn struct {
	states [SectionCount * SectionVolume]int32
}

// StateAt returns the block state at local coordinates.
func (c *ChunkColumn) StateAt(x, y, z int) int32 {
	return c.states[y<<8|z<<4|x]
}

// DecodeChunk decodes the section data of a MapChunk.
func DecodeChunk(bitMask int32, data []byte) (*ChunkColumn, error) {
	col := &ChunkColumn{}
	r := bytes.NewReader(data)

	for section := 0; section < SectionCount; section++ {
		if bitMask&(1<<section) == 0 {
			continue
		}
		if err := decodeSection(r, col.states[section*SectionVolume:(section+1)*SectionVolume]); err != nil {
			return nil, fmt.Errorf("failed to decode chunk section %d: %w", section, err)
		}
	}

	return col, nil
}

// decodeSection reads one section into dst, indexed y<<8 | z<<4 | x.
// Format: [block count:short][bits per block:ubyte][palette, bpb <= 8]
//
//	[long count:varint][longs]
func decodeSection(r *bytes.Reader, dst []int32) error {
	var blockCount int16
	var bitsPerBlock uint8
	if err := readFields(r, &blockCount, &bitsPerBlock); err != nil {
		return err
	}

	var palette []int32
	if bitsPerBlock <= 8 {
		if bitsPerBlock < 4 {
			bitsPerBlock = 4
		}
		n, err := ReadVarInt(r)
		if err != nil {
			return fmt.Errorf("failed to read palette length: %w", err)
		}
		if n < 0 || int(n) > r.Len() {
			return fmt.Errorf("invalid palette length: %d", n)
		}
		palette = make([]int32, n)
		for i := range palette {
			if palette[i], err = ReadVarInt(r); err != nil {
				return fmt.Errorf("failed to read palette entry: %w", err)
			}
		}
	} else if bitsPerBlock > 32 {
		return fmt.Errorf("invalid bits per block: %d", bitsPerBlock)
	}

	longCount, err := ReadVarInt(r)
	if err != nil {
		return fmt.Errorf("failed to read data array length: %w", err)
	}

	perLong := 64 / int(bitsPerBlock)
	need := (SectionVolume + perLong - 1) / perLong
	if int(longCount) < need || int(longCount)*8 > r.Len() {
		return fmt.Errorf("data array too short: %d longs", longCount)
	}

	longs := make([]uint64, longCount)
	if err := binary.Read(r, binary.BigEndian, longs); err != nil {
		return fmt.Errorf("failed to read data array: %w", err)
	}

	mask := uint64(1)<<bitsPerBlock - 1
	for i := 0; i < SectionVolume; i++ {
		shift := uint(i%perLong) * uint(bitsPerBlock)
		v := (longs[i/perLong] >> shift) & mask

		if palette == nil {
			dst[i] = int32(v)
			continue
		}
		if int(v) >= len(palette) {
			return fmt.Errorf("palette index %d out of range (%d entries)", v, len(palette))
		}
		dst[i] = palette[v]
	}

	return nil
}

package session

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
)

const (
	ColumnWidth  = 32
	ColumnHeight = protocol.ColumnHeight
	ColumnVolume = ColumnWidth * ColumnHeight * ColumnWidth

	// columnBytes is the size of a serialized column.
	columnBytes = ColumnVolume * 2

	// flushAfter is how many upstream chunks a column absorbs before it is
	// first sent. Later chunks re-send it.
	flushAfter = 3

	chunkSectionsHigh = 8
)

// ColumnKey addresses a downstream column, which spans 2x2 upstream chunks.
type ColumnKey struct {
	X, Z int32
}

// VoxelColumn is a 32x256x32 grid of downstream block ids in x, y, z order.
type VoxelColumn struct {
	blocks    [ColumnVolume]uint16
	t         int
	quadrants [4]bool
}

// At returns the block id at column-local coordinates.
func (c *VoxelColumn) At(x, y, z int) uint16 {
	return c.blocks[columnIndex(x, y, z)]
}

// Merges returns how many upstream chunks have been written into the column.
func (c *VoxelColumn) Merges() int {
	return c.t
}

// Bytes serializes the grid as little-endian uint16 values.
func (c *VoxelColumn) Bytes() []byte {
	out := make([]byte, columnBytes)
	for i, v := range c.blocks {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func columnIndex(x, y, z int) int {
	return x*ColumnHeight*ColumnWidth + y*ColumnWidth + z
}

// Assembler merges upstream 16x16 chunks into downstream columns.
type Assembler struct {
	registry *registry.Registry
	compress bool
	columns  map[ColumnKey]*VoxelColumn
	logger   zerolog.Logger
}

// NewAssembler creates an assembler. With compress set, flushed columns
// are zlib compressed.
func NewAssembler(reg *registry.Registry, compress bool, logger zerolog.Logger) *Assembler {
	return &Assembler{
		registry: reg,
		compress: compress,
		columns:  make(map[ColumnKey]*VoxelColumn),
		logger:   logger,
	}
}

// Apply decodes one upstream chunk into its column and returns the
// column load to send, or nil while the column is still filling.
// A chunk that fails to decode leaves the column untouched.
func (a *Assembler) Apply(pkt protocol.MapChunk) (*messages.WorldChunkLoad, error) {
	chunk, err := protocol.DecodeChunk(pkt.BitMask, pkt.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk %d,%d: %w", pkt.X, pkt.Z, err)
	}

	key := ColumnKey{X: floorHalf(pkt.X), Z: floorHalf(pkt.Z)}
	col, ok := a.columns[key]
	if !ok {
		col = &VoxelColumn{}
		a.columns[key] = col
	}

	xa, za, quadrant := 0, 0, 0
	if pkt.X%2 != 0 {
		xa = protocol.SectionWidth
		quadrant |= 1
	}
	if pkt.Z%2 != 0 {
		za = protocol.SectionWidth
		quadrant |= 2
	}

	for x := 0; x < protocol.SectionWidth; x++ {
		for z := 0; z < protocol.SectionWidth; z++ {
			for y := 0; y < ColumnHeight; y++ {
				id := a.registry.StateRawID(chunk.StateAt(x, y, z))
				col.blocks[columnIndex(x+xa, y, z+za)] = uint16(id)
			}
		}
	}

	col.t++
	if !col.quadrants[quadrant] {
		col.quadrants[quadrant] = true
		if col.quadrants == [4]bool{true, true, true, true} {
			a.logger.Debug().
				Int32("x", key.X).
				Int32("z", key.Z).
				Int("merges", col.t).
				Msg("column fully covered")
		}
	}

	if col.t <= flushAfter {
		return nil, nil
	}

	load := &messages.WorldChunkLoad{
		X:      key.X,
		Y:      0,
		Z:      key.Z,
		Height: chunkSectionsHigh,
		Data:   col.Bytes(),
	}
	if a.compress {
		data, err := deflate(load.Data)
		if err != nil {
			return nil, err
		}
		load.Data = data
		load.Compressed = true
	}
	return load, nil
}

// Column returns the column for a key.
func (a *Assembler) Column(key ColumnKey) (*VoxelColumn, bool) {
	col, ok := a.columns[key]
	return col, ok
}

// Len returns the number of columns held.
func (a *Assembler) Len() int {
	return len(a.columns)
}

func floorHalf(v int32) int32 {
	return v >> 1
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress column: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress column: %w", err)
	}
	return buf.Bytes(), nil
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// NBT tag types.
const (
	tagEnd byte = iota
	tagByte
	tagShort
	tagInt
	tagLong
	tagFloat
	tagDouble
	tagByteArray
	tagString
	tagList
	tagCompound
	tagIntArray
	tagLongArray
)

const maxNBTDepth = 512

// skipNBT advances r past one named root tag. The proxy never needs the
// contents of heightmaps or block entities.
func skipNBT(r *bytes.Reader) error {
	typ, err := r.ReadByte()
	if err != nil {
		return err
	}
	if typ == tagEnd {
		return nil
	}
	if err := skipNBTString(r); err != nil {
		return fmt.Errorf("failed to read root tag name: %w", err)
	}
	return skipNBTPayload(r, typ, 0)
}

func skipNBTPayload(r *bytes.Reader, typ byte, depth int) error {
	if depth > maxNBTDepth {
		return fmt.Errorf("nbt nesting exceeds %d", maxNBTDepth)
	}

	switch typ {
	case tagByte:
		return skipBytes(r, 1)
	case tagShort:
		return skipBytes(r, 2)
	case tagInt, tagFloat:
		return skipBytes(r, 4)
	case tagLong, tagDouble:
		return skipBytes(r, 8)
	case tagByteArray:
		return skipNBTArray(r, 1)
	case tagIntArray:
		return skipNBTArray(r, 4)
	case tagLongArray:
		return skipNBTArray(r, 8)
	case tagString:
		return skipNBTString(r)
	case tagList:
		elem, err := r.ReadByte()
		if err != nil {
			return err
		}
		var count int32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return err
		}
		for i := int32(0); i < count; i++ {
			if err := skipNBTPayload(r, elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case tagCompound:
		for {
			child, err := r.ReadByte()
			if err != nil {
				return err
			}
			if child == tagEnd {
				return nil
			}
			if err := skipNBTString(r); err != nil {
				return err
			}
			if err := skipNBTPayload(r, child, depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown nbt tag type: %d", typ)
	}
}

func skipNBTString(r *bytes.Reader) error {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	return skipBytes(r, int64(n))
}

func skipNBTArray(r *bytes.Reader, width int64) error {
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("negative nbt array length: %d", n)
	}
	return skipBytes(r, int64(n)*width)
}

func skipBytes(r *bytes.Reader, n int64) error {
	if n > int64(r.Len()) {
		return io.ErrUnexpectedEOF
	}
	_, err := r.Seek(n, io.SeekCurrent)
	return err
}

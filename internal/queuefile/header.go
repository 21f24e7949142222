package queuefile

import (
	"encoding/binary"
	"fmt"
)

const (
	// headerSize is the fixed width of the file header in bytes.
	headerSize = 16

	// minFileSize is the smallest legal total file length. A freshly
	// created queue is pre-sized to exactly this.
	minFileSize = 4096
)

// header is the logical content of the fixed 16-byte record at offset 0.
// All fields are big-endian uint32 on disk.
type header struct {
	fileLength   uint32
	elementCount uint32
	firstOffset  uint32
	lastOffset   uint32
}

// encode writes h into dst, which must be at least headerSize bytes.
func (h header) encode(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], h.fileLength)
	binary.BigEndian.PutUint32(dst[4:8], h.elementCount)
	binary.BigEndian.PutUint32(dst[8:12], h.firstOffset)
	binary.BigEndian.PutUint32(dst[12:16], h.lastOffset)
}

// decodeHeader parses a header from src and validates it against the
// invariants of the data model. src must be at least headerSize bytes.
func decodeHeader(src []byte) (header, error) {
	h := header{
		fileLength:   binary.BigEndian.Uint32(src[0:4]),
		elementCount: binary.BigEndian.Uint32(src[4:8]),
		firstOffset:  binary.BigEndian.Uint32(src[8:12]),
		lastOffset:   binary.BigEndian.Uint32(src[12:16]),
	}
	if err := h.validate(); err != nil {
		return header{}, err
	}
	return h, nil
}

func (h header) validate() error {
	if h.fileLength < minFileSize {
		return fmt.Errorf("%w: fileLength %d below minimum %d", ErrCorruptHeader, h.fileLength, minFileSize)
	}
	if (h.elementCount == 0) != (h.firstOffset == 0) {
		return fmt.Errorf("%w: elementCount=%d firstOffset=%d disagree on emptiness", ErrCorruptHeader, h.elementCount, h.firstOffset)
	}
	if (h.elementCount == 0) != (h.lastOffset == 0) {
		return fmt.Errorf("%w: elementCount=%d lastOffset=%d disagree on emptiness", ErrCorruptHeader, h.elementCount, h.lastOffset)
	}
	if h.firstOffset != 0 && (h.firstOffset < headerSize || h.firstOffset >= h.fileLength) {
		return fmt.Errorf("%w: firstOffset %d out of range [%d, %d)", ErrCorruptHeader, h.firstOffset, headerSize, h.fileLength)
	}
	if h.lastOffset != 0 && (h.lastOffset < headerSize || h.lastOffset >= h.fileLength) {
		return fmt.Errorf("%w: lastOffset %d out of range [%d, %d)", ErrCorruptHeader, h.lastOffset, headerSize, h.fileLength)
	}
	return nil
}

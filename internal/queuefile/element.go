package queuefile

import "encoding/binary"

// elementHeaderSize is the width of an element's length prefix.
const elementHeaderSize = 4

// nextOffset computes the absolute file offset that follows an element of
// payloadLength bytes starting at current, wrapping around the payload
// area [headerSize, fileLength) the way spec.md §3 defines "wrap-aware
// I/O": positions are never stored, only computed from the header's
// firstOffset/lastOffset plus a traversal length.
func nextOffset(fileLength, current, payloadLength uint32) uint32 {
	payloadAreaLen := uint64(fileLength - headerSize)
	advanced := uint64(current-headerSize) + elementHeaderSize + uint64(payloadLength)
	return headerSize + uint32(advanced%payloadAreaLen)
}

// wrapAwareRead reads n bytes starting at offset from the payload area,
// splitting the read at the physical end of file if necessary.
func wrapAwareRead(a *blockIOAdapter, fileLength, offset uint32, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if uint32(n) <= fileLength-offset {
		if err := a.readAt(out, int64(offset)); err != nil {
			return nil, err
		}
		return out, nil
	}
	firstPart := fileLength - offset
	if err := a.readAt(out[:firstPart], int64(offset)); err != nil {
		return nil, err
	}
	if err := a.readAt(out[firstPart:], int64(headerSize)); err != nil {
		return nil, err
	}
	return out, nil
}

// wrapAwareWrite writes data starting at offset, splitting the write at
// the physical end of file if necessary.
func wrapAwareWrite(a *blockIOAdapter, fileLength, offset uint32, data []byte) error {
	n := uint32(len(data))
	if n == 0 {
		return nil
	}
	if n <= fileLength-offset {
		return a.writeAt(data, int64(offset))
	}
	firstPart := fileLength - offset
	if err := a.writeAt(data[:firstPart], int64(offset)); err != nil {
		return err
	}
	return a.writeAt(data[firstPart:], int64(headerSize))
}

// encodeElement prepends the big-endian length prefix to payload.
func encodeElement(payload []byte) []byte {
	buf := make([]byte, elementHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:elementHeaderSize], uint32(len(payload)))
	copy(buf[elementHeaderSize:], payload)
	return buf
}

// readElementHeader reads the 4-byte length prefix at offset, wrap-aware.
func readElementHeader(a *blockIOAdapter, fileLength, offset uint32) (uint32, error) {
	raw, err := wrapAwareRead(a, fileLength, offset, elementHeaderSize)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

// readElementPayload reads payloadLength bytes of the element whose length
// prefix begins at headerOffset, wrap-aware.
func readElementPayload(a *blockIOAdapter, fileLength, headerOffset, payloadLength uint32) ([]byte, error) {
	payloadOffset := nextOffset(fileLength, headerOffset, 0)
	return wrapAwareRead(a, fileLength, payloadOffset, int(payloadLength))
}

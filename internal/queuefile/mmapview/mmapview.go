// Package mmapview provides a read-only, zero-copy view of a queuefile for
// diagnostic tools that want to walk its elements without going through a
// live Engine — no lock to take, no requirement that the queue be closed
// or even owned by the calling process. It is adapted from the teacher's
// mmap.MmapStore, which backed a sparse offset index; this spec has no
// secondary index, so the plumbing (open/stat/mmap, unmap-and-remap on
// growth, bounds-checked ReadAt) is narrowed down to what a scanner needs,
// and on top of it the type grows the one piece of domain knowledge a
// generic mmap reader has no business having: how to walk the circular
// header-then-elements layout itself.
package mmapview

import (
	"encoding/binary"
	"fmt"
	"os"
	"syscall"
)

// headerSize mirrors queuefile's own constant; Elements walks the on-disk
// layout directly rather than through an Engine, so it carries its own
// copy rather than reaching into an unexported constant of a sibling
// package, the same way the teacher's inspection tools read a storage
// format directly rather than through the owning type.
const headerSize = 16

// View is a read-only memory mapping of a queuefile.
type View struct {
	file *os.File
	data []byte
}

// Open maps path read-only. An empty file maps to a View with no data
// rather than an error, matching syscall.Mmap's rejection of zero-length
// mappings.
func Open(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmapview: open: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapview: stat: %w", err)
	}
	size := fi.Size()
	if size == 0 {
		return &View{file: f}, nil
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapview: mmap: %w", err)
	}
	return &View{file: f, data: data}, nil
}

// Sync remaps the view if the file has grown since Open/the last Sync.
func (v *View) Sync() error {
	stat, err := v.file.Stat()
	if err != nil {
		return fmt.Errorf("mmapview: stat: %w", err)
	}
	size := stat.Size()
	if size <= int64(len(v.data)) {
		return nil
	}
	if len(v.data) > 0 {
		if err := syscall.Munmap(v.data); err != nil {
			return fmt.Errorf("mmapview: munmap: %w", err)
		}
	}
	data, err := syscall.Mmap(int(v.file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		v.data = nil
		return fmt.Errorf("mmapview: remap: %w", err)
	}
	v.data = data
	return nil
}

// ReadAt returns a zero-copy slice of the mapping.
func (v *View) ReadAt(offset, length int) ([]byte, error) {
	if v.data == nil {
		return nil, fmt.Errorf("mmapview: empty or closed")
	}
	if offset+length > len(v.data) {
		return nil, fmt.Errorf("mmapview: out of bounds: len=%d off=%d req=%d", len(v.data), offset, length)
	}
	return v.data[offset : offset+length], nil
}

// Size returns the length of the current mapping.
func (v *View) Size() int64 {
	return int64(len(v.data))
}

// Close unmaps and closes the underlying file.
func (v *View) Close() error {
	if len(v.data) > 0 {
		if err := syscall.Munmap(v.data); err != nil {
			v.file.Close()
			return fmt.Errorf("mmapview: munmap: %w", err)
		}
		v.data = nil
	}
	return v.file.Close()
}

// Header returns the four fields of the 16-byte file header at offset 0.
func (v *View) Header() (fileLength, elementCount, firstOffset, lastOffset uint32, err error) {
	if v.Size() < headerSize {
		return 0, 0, 0, 0, fmt.Errorf("mmapview: file too small to contain a header")
	}
	raw, err := v.ReadAt(0, headerSize)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return binary.BigEndian.Uint32(raw[0:4]),
		binary.BigEndian.Uint32(raw[4:8]),
		binary.BigEndian.Uint32(raw[8:12]),
		binary.BigEndian.Uint32(raw[12:16]),
		nil
}

// Element is one live record's position and length as found by Elements.
type Element struct {
	Offset uint32
	Length uint32
}

// Elements walks the elementCount live records starting at firstOffset,
// the same head-to-tail traversal the Engine uses internally, splitting
// each read at the physical end of file exactly as its wrap-aware I/O
// does. It lets a diagnostic tool enumerate a queue file's contents
// without opening it through the Engine.
func (v *View) Elements() ([]Element, error) {
	fileLength, elementCount, firstOffset, _, err := v.Header()
	if err != nil {
		return nil, err
	}
	if elementCount == 0 {
		return nil, nil
	}

	payloadAreaLen := int64(fileLength - headerSize)
	out := make([]Element, 0, elementCount)
	offset := firstOffset
	for i := uint32(0); i < elementCount; i++ {
		lengthBytes, err := v.readWrapped(fileLength, offset, 4)
		if err != nil {
			return nil, fmt.Errorf("mmapview: element %d: %w", i, err)
		}
		length := binary.BigEndian.Uint32(lengthBytes)
		out = append(out, Element{Offset: offset, Length: length})

		advanced := (int64(offset-headerSize) + 4 + int64(length)) % payloadAreaLen
		offset = headerSize + uint32(advanced)
	}
	return out, nil
}

// readWrapped reads n bytes starting at offset, splitting the read at the
// physical end of file the way queuefile's own wrapAwareRead does.
func (v *View) readWrapped(fileLength, offset uint32, n int) ([]byte, error) {
	if uint32(n) <= fileLength-offset {
		return v.ReadAt(int(offset), n)
	}
	firstPart, err := v.ReadAt(int(offset), int(fileLength-offset))
	if err != nil {
		return nil, err
	}
	secondPart, err := v.ReadAt(headerSize, n-len(firstPart))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, firstPart)
	copy(out[len(firstPart):], secondPart)
	return out, nil
}

package vfscompress

import (
	"encoding/binary"
	"fmt"

	"github.com/filemapper/filemapper/pkg/mapper"
)

const (
	frameMagic0    byte = 0xDA
	frameMagic1    byte = 0xAD
	frameHeaderSize      = 8
)

// File is the minimal random-access file surface the shim interposes
// on. Only the main database file is ever wrapped in a Shim; journal,
// temp and WAL files are handed the underlying File untouched.
type File interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Close() error
}

// Shim interposes on reads and writes of one main database file,
// transparently compressing and decompressing pages at and beyond the
// b-tree region. Classification follows unknown -> pristine -> pristine
// or unknown -> compressed -> compressed: once either terminal state is
// reached it never reverts.
//
// forceNew decides what "pristine" content at the very first write
// means: a freshly created file's first page-1 write looks identical,
// byte for byte, to a pre-existing plain database's first page-1
// write, so the sniffer alone cannot tell apart "new database that
// should become compressed under this codec" from "existing plain
// database opened through this codec's VFS by mistake". forceNew
// resolves that ambiguity in favor of compression, mirroring how the
// codec is bound to the VFS registration rather than discovered.
type Shim struct {
	inner      File
	pageSize   int64
	codec      Codec
	class      Classification
	btreeStart int64
	forceNew   bool
}

// NewShim wraps inner, the main database file, for pages of the given
// size, stacking codec.
func NewShim(inner File, pageSize int64, codec Codec, forceNew bool) *Shim {
	return &Shim{inner: inner, pageSize: pageSize, codec: codec, class: Unknown, forceNew: forceNew}
}

func (s *Shim) Close() error { return s.inner.Close() }

// ReadAt forwards the read, then decompresses in place when the file
// is classified (or becomes classified by this very read) as
// compressed and the page lies in the b-tree region.
func (s *Shim) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.inner.ReadAt(p, off)
	if err != nil {
		return n, err
	}

	if s.class == Unknown && off == 0 && n >= headerSize {
		s.class = Sniff(p[:n], s.codec.Name, Read)
		s.btreeStart = BTreeRegionStart(p[:n])
	}

	if off == 0 && s.class == Compressed && n >= fileHeaderSize {
		copy(p[:fileHeaderSize], []byte(sqliteMagic))
	}

	if s.class != Compressed {
		return n, nil
	}
	pageNum := off / s.pageSize
	if pageNum < s.btreeStart {
		return n, nil
	}
	if n < 2 || p[0] != frameMagic0 || p[1] != frameMagic1 {
		return n, nil
	}
	if n < frameHeaderSize {
		return n, mapper.Wrap(mapper.ErrCorrupt, "reading compressed page", fmt.Errorf("page %d: short frame", pageNum))
	}
	compLen := int(binary.BigEndian.Uint16(p[2:4]))
	framePage := int64(binary.BigEndian.Uint32(p[4:8]))
	if framePage != pageNum || frameHeaderSize+compLen > n {
		return n, mapper.Wrap(mapper.ErrCorrupt, "reading compressed page", fmt.Errorf("page %d: framing mismatch", pageNum))
	}

	out, derr := s.codec.Decompress(p[frameHeaderSize : frameHeaderSize+compLen])
	if derr != nil {
		return n, mapper.Wrap(mapper.ErrCorrupt, "decompressing page", derr)
	}
	copy(p, out)
	for i := len(out); i < len(p); i++ {
		p[i] = 0
	}
	return n, nil
}

// WriteAt classifies the file on the first offset-0 write, then either
// passes the page through or compresses and reframes it, applying the
// shrink-then-grow truncation discipline so a short read never occurs
// mid-write.
func (s *Shim) WriteAt(p []byte, off int64) (int, error) {
	if s.class == Unknown {
		if off != 0 || len(p) < headerSize {
			return s.inner.WriteAt(p, off)
		}
		s.btreeStart = BTreeRegionStart(p)
		switch sniffed := Sniff(p, s.codec.Name, Write); {
		case sniffed == Compressed:
			s.class = Compressed
		case sniffed == Pristine && s.forceNew:
			s.class = Compressed
		default:
			s.class = Pristine
		}
	}

	// Page 0 is never frame-compressed: it carries the superblock the
	// SQL engine parses directly. A compressed file only swaps its
	// first 16 bytes for the codec's custom header.
	if off == 0 && s.class == Compressed {
		buf := append([]byte(nil), p...)
		copy(buf, customHeader(s.codec.Name))
		return s.inner.WriteAt(buf, off)
	}

	pageNum := off / s.pageSize
	if s.class != Compressed || pageNum < s.btreeStart {
		return s.inner.WriteAt(p, off)
	}

	compressed := s.codec.Compress(p, int(s.pageSize)-frameHeaderSize)
	if compressed == nil {
		return s.inner.WriteAt(p, off)
	}

	frame := make([]byte, frameHeaderSize+len(compressed))
	frame[0], frame[1] = frameMagic0, frameMagic1
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(compressed)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(pageNum))
	copy(frame[frameHeaderSize:], compressed)

	if err := s.inner.Truncate(off + int64(len(frame))); err != nil {
		return 0, err
	}
	if _, err := s.inner.WriteAt(frame, off); err != nil {
		return 0, err
	}
	if err := s.inner.Truncate(off + s.pageSize); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Shim) Truncate(size int64) error { return s.inner.Truncate(size) }

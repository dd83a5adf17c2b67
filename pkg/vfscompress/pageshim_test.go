package vfscompress

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// memFile is an in-memory File used by the shim and shrinker tests.
type memFile struct {
	data []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

func (f *memFile) Close() error { return nil }

func buildPage(pageSize int, fill byte, freelistStart, freelistPages, schemaFormat uint32, header []byte) []byte {
	page := make([]byte, pageSize)
	for i := range page {
		page[i] = fill
	}
	copy(page, buildSuperblock(header, freelistStart, freelistPages, schemaFormat, uint16(pageSize)))
	return page
}

func TestShimPassesThroughPristineDatabase(t *testing.T) {
	const pageSize = 512
	f := &memFile{}
	page0 := buildPage(pageSize, 0x07, 2, 0, 4, []byte(sqliteMagic))
	s := NewShim(f, pageSize, mustFind(t, "GZIP"), false)

	if _, err := s.WriteAt(page0, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if len(f.data) != pageSize {
		t.Fatalf("expected passthrough write of exactly one page, got %d bytes", len(f.data))
	}
	if !bytes.Equal(f.data[:fileHeaderSize], []byte(sqliteMagic)) {
		t.Fatalf("pristine header was rewritten")
	}
}

func TestShimCompressesNewDatabaseWhenForced(t *testing.T) {
	const pageSize = 512
	f := &memFile{}
	page0 := buildPage(pageSize, 0x00, 2, 0, 4, []byte(sqliteMagic))
	codec := mustFind(t, "GZIP")
	s := NewShim(f, pageSize, codec, true)

	if _, err := s.WriteAt(page0, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if len(f.data) != pageSize {
		t.Fatalf("expected passthrough write of exactly one page, got %d bytes", len(f.data))
	}
	if !bytes.Equal(f.data[:fileHeaderSize], customHeader("GZIP")) {
		t.Fatalf("expected on-disk header to carry the codec's custom magic")
	}

	buf := make([]byte, pageSize)
	n, err := s.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != pageSize {
		t.Fatalf("got %d bytes, want %d", n, pageSize)
	}
	if !bytes.Equal(buf[:fileHeaderSize], []byte(sqliteMagic)) {
		t.Fatalf("engine-facing header was not restored to canonical magic")
	}
}

func TestShimRoundTripsBTreePage(t *testing.T) {
	const pageSize = 512
	f := &memFile{}
	page0 := buildPage(pageSize, 0x00, 0, 0, 4, []byte(sqliteMagic))
	codec := mustFind(t, "GZIP")
	writer := NewShim(f, pageSize, codec, true)
	if _, err := writer.WriteAt(page0, 0); err != nil {
		t.Fatalf("write page 0: %v", err)
	}

	page1 := make([]byte, pageSize)
	for i := range page1 {
		page1[i] = 0x41
	}
	if _, err := writer.WriteAt(page1, pageSize); err != nil {
		t.Fatalf("write page 1: %v", err)
	}

	reader := NewShim(f, pageSize, codec, false)
	hdr := make([]byte, pageSize)
	if _, err := reader.ReadAt(hdr, 0); err != nil {
		t.Fatalf("read page 0: %v", err)
	}

	buf := make([]byte, pageSize)
	if _, err := reader.ReadAt(buf, pageSize); err != nil {
		t.Fatalf("read page 1: %v", err)
	}
	if !bytes.Equal(buf, page1) {
		t.Fatalf("round trip mismatch")
	}
}

func TestShimFlagsFramingMismatchAsCorrupt(t *testing.T) {
	const pageSize = 512
	f := &memFile{}
	page0 := buildPage(pageSize, 0x00, 0, 0, 4, []byte(sqliteMagic))
	codec := mustFind(t, "GZIP")
	writer := NewShim(f, pageSize, codec, true)
	if _, err := writer.WriteAt(page0, 0); err != nil {
		t.Fatalf("write page 0: %v", err)
	}

	page1 := make([]byte, pageSize)
	for i := range page1 {
		page1[i] = 0x41
	}
	if _, err := writer.WriteAt(page1, pageSize); err != nil {
		t.Fatalf("write page 1: %v", err)
	}

	binary.BigEndian.PutUint32(f.data[pageSize+4:pageSize+8], 99)

	reader := NewShim(f, pageSize, codec, false)
	hdr := make([]byte, pageSize)
	if _, err := reader.ReadAt(hdr, 0); err != nil {
		t.Fatalf("read page 0: %v", err)
	}

	buf := make([]byte, pageSize)
	if _, err := reader.ReadAt(buf, pageSize); err == nil {
		t.Fatalf("expected a framing mismatch error")
	}
}

func mustFind(t *testing.T, name string) Codec {
	t.Helper()
	c, err := Find(name)
	if err != nil {
		t.Fatalf("Find(%q): %v", name, err)
	}
	return c
}

package vfscompress

import (
	"bytes"
	"testing"
)

func TestShrinkCompressesPristineDatabase(t *testing.T) {
	const pageSize = 512
	f := &memFile{}
	page0 := buildPage(pageSize, 0x00, 0, 0, 4, []byte(sqliteMagic))
	page1 := bytes.Repeat([]byte{0x41}, pageSize)
	f.data = append(append([]byte(nil), page0...), page1...)

	if err := Shrink(f, int64(len(f.data)), pageSize, "GZIP"); err != nil {
		t.Fatalf("Shrink: %v", err)
	}

	if !bytes.Equal(f.data[:fileHeaderSize], customHeader("GZIP")) {
		t.Fatalf("expected header rewritten to GZIP's custom header")
	}
	if f.data[pageSize] != frameMagic0 || f.data[pageSize+1] != frameMagic1 {
		t.Fatalf("expected page 1 to carry a compressed frame")
	}
	if len(f.data) != 2*pageSize {
		t.Fatalf("expected output grown back to 2 full pages, got %d bytes", len(f.data))
	}
}

func TestShrinkDecompressesBackToPristine(t *testing.T) {
	const pageSize = 512
	f := &memFile{}
	page0 := buildPage(pageSize, 0x00, 0, 0, 4, []byte(sqliteMagic))
	page1 := bytes.Repeat([]byte{0x41}, pageSize)
	f.data = append(append([]byte(nil), page0...), page1...)

	if err := Shrink(f, int64(len(f.data)), pageSize, "GZIP"); err != nil {
		t.Fatalf("Shrink to GZIP: %v", err)
	}
	if err := Shrink(f, int64(len(f.data)), pageSize, ""); err != nil {
		t.Fatalf("Shrink to pristine: %v", err)
	}

	if !bytes.Equal(f.data[:fileHeaderSize], []byte(sqliteMagic)) {
		t.Fatalf("expected canonical pristine header restored")
	}
	if !bytes.Equal(f.data[pageSize:2*pageSize], page1) {
		t.Fatalf("expected page 1 restored byte for byte")
	}
}

func TestShrinkConvertsBetweenCodecs(t *testing.T) {
	const pageSize = 512
	f := &memFile{}
	page0 := buildPage(pageSize, 0x00, 0, 0, 4, []byte(sqliteMagic))
	page1 := bytes.Repeat([]byte{0x41}, pageSize)
	f.data = append(append([]byte(nil), page0...), page1...)

	if err := Shrink(f, int64(len(f.data)), pageSize, "GZIP"); err != nil {
		t.Fatalf("Shrink to GZIP: %v", err)
	}
	if err := Shrink(f, int64(len(f.data)), pageSize, "LZ4D"); err != nil {
		t.Fatalf("Shrink to LZ4D: %v", err)
	}

	if !bytes.Equal(f.data[:fileHeaderSize], customHeader("LZ4D")) {
		t.Fatalf("expected header rewritten to LZ4D's custom header")
	}

	reader := NewShim(f, pageSize, mustFind(t, "LZ4D"), false)
	hdr := make([]byte, pageSize)
	if _, err := reader.ReadAt(hdr, 0); err != nil {
		t.Fatalf("read page 0: %v", err)
	}
	buf := make([]byte, pageSize)
	if _, err := reader.ReadAt(buf, pageSize); err != nil {
		t.Fatalf("read page 1: %v", err)
	}
	if !bytes.Equal(buf, page1) {
		t.Fatalf("round trip through converted codec mismatch")
	}
}

func TestShrinkRejectsUnrecognizedHeader(t *testing.T) {
	const pageSize = 512
	f := &memFile{data: make([]byte, pageSize)}
	copy(f.data, []byte("not a sqlite database header"))

	if err := Shrink(f, pageSize, pageSize, "GZIP"); err == nil {
		t.Fatalf("expected an error for an unrecognized header")
	}
}

package vfscompress

import (
	"encoding/binary"
	"testing"
)

func buildSuperblock(header []byte, freelistStart, freelistPages, schemaFormat uint32, pageSize uint16) []byte {
	b := make([]byte, headerSize)
	copy(b, header)
	binary.BigEndian.PutUint16(b[offPageSize:], pageSize)
	b[offMaxFraction] = maxFractionWant
	b[offMinFraction] = minFractionWant
	b[offLeafPayload] = leafPayloadWant
	binary.BigEndian.PutUint32(b[offFreelistStart:], freelistStart)
	binary.BigEndian.PutUint32(b[offFreelistPages:], freelistPages)
	binary.BigEndian.PutUint32(b[offSchemaFormat:], schemaFormat)
	return b
}

func TestSniffRecognizesPristineHeader(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 0, 0, 4, 4096)
	if got := Sniff(sb, "GZIP", Read); got != Pristine {
		t.Fatalf("got %v, want Pristine", got)
	}
}

func TestSniffRecognizesCodecHeaderOnRead(t *testing.T) {
	sb := buildSuperblock(customHeader("GZIP"), 0, 0, 4, 4096)
	if got := Sniff(sb, "GZIP", Read); got != Compressed {
		t.Fatalf("got %v, want Compressed", got)
	}
}

func TestSniffRejectsWrongMagic(t *testing.T) {
	sb := buildSuperblock([]byte("not a sqlite db\x00"), 0, 0, 4, 4096)
	if got := Sniff(sb, "GZIP", Read); got != NotADatabase {
		t.Fatalf("got %v, want NotADatabase", got)
	}
}

func TestSniffRejectsBadFractionFields(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 0, 0, 4, 4096)
	sb[offMaxFraction] = 63
	if got := Sniff(sb, "GZIP", Read); got != NotADatabase {
		t.Fatalf("got %v, want NotADatabase", got)
	}
}

func TestSniffRejectsHighSchemaFormat(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 0, 0, 5, 4096)
	if got := Sniff(sb, "GZIP", Read); got != NotADatabase {
		t.Fatalf("got %v, want NotADatabase", got)
	}
}

func TestSniffRejectsShortBuffer(t *testing.T) {
	if got := Sniff(make([]byte, 10), "GZIP", Read); got != NotADatabase {
		t.Fatalf("got %v, want NotADatabase", got)
	}
}

func TestSniffWritePristineStaysPristine(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 0, 0, 4, 4096)
	if got := Sniff(sb, "GZIP", Write); got != Pristine {
		t.Fatalf("got %v, want Pristine", got)
	}
}

func TestPageSizeDecodesSentinel(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 0, 0, 4, 1)
	if got := PageSize(sb); got != 65536 {
		t.Fatalf("got %d, want 65536", got)
	}
}

func TestPageSizeDecodesOrdinaryValue(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 0, 0, 4, 4096)
	if got := PageSize(sb); got != 4096 {
		t.Fatalf("got %d, want 4096", got)
	}
}

func TestBTreeRegionStartAddsFreelistAndOne(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 10, 3, 4, 4096)
	if got := BTreeRegionStart(sb); got != 14 {
		t.Fatalf("got %d, want 14", got)
	}
}

func TestBTreeRegionStartWithNoFreelist(t *testing.T) {
	sb := buildSuperblock([]byte(sqliteMagic), 0, 0, 4, 4096)
	if got := BTreeRegionStart(sb); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

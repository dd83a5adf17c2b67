package vfscompress

import (
	"bytes"
	"encoding/binary"
)

// Classification is the sniffer's verdict on a database file's first page.
type Classification int

const (
	Unknown Classification = iota
	Pristine
	Compressed
	NotADatabase
)

// Direction distinguishes a read-path sniff from a write-path sniff; a
// pristine file short-circuits to pass-through on reads but stays
// pristine across writes.
type Direction int

const (
	Read Direction = iota
	Write
)

const (
	sqliteMagic     = "SQLite format 3\x00"
	headerSize      = 100
	fileHeaderSize  = 16
	maxFractionWant = 64
	minFractionWant = 32
	leafPayloadWant = 32
	maxSchemaFormat = 4

	offPageSize       = 16
	offMaxFraction    = 21
	offMinFraction    = 22
	offLeafPayload    = 23
	offFreelistStart  = 32
	offFreelistPages  = 36
	offSchemaFormat   = 44
)

// customHeader builds the codec's 16-byte stacked file header, padded
// with zeros: "SQLite <CODEC> v.3".
func customHeader(codec string) []byte {
	h := make([]byte, fileHeaderSize)
	copy(h, "SQLite "+codec+" v.3")
	return h
}

// Sniff classifies a 100-byte (or longer) database superblock buffer
// against the canonical SQLite header and the given codec's stacked
// header.
func Sniff(superblock []byte, codec string, dir Direction) Classification {
	if len(superblock) < headerSize {
		return NotADatabase
	}

	header := superblock[:fileHeaderSize]
	isCanonical := bytes.Equal(header, []byte(sqliteMagic))
	isCodec := bytes.Equal(header, customHeader(codec))
	if !isCanonical && !isCodec {
		return NotADatabase
	}

	if superblock[offMaxFraction] != maxFractionWant ||
		superblock[offMinFraction] != minFractionWant ||
		superblock[offLeafPayload] != leafPayloadWant {
		return NotADatabase
	}

	schemaFormat := binary.BigEndian.Uint32(superblock[offSchemaFormat : offSchemaFormat+4])
	if schemaFormat > maxSchemaFormat {
		return NotADatabase
	}

	if isCanonical {
		return Pristine
	}

	if dir == Read {
		return Compressed
	}
	// On the write path even the codec's own header classifies as
	// Pristine; only a prior compressed classification from a read, or
	// the Shim's forceNew choice for a fresh file, turns writes
	// compressed.
	return Pristine
}

// PageSize decodes the header's pagesize field, applying the 1→65536
// sentinel.
func PageSize(superblock []byte) int {
	v := binary.BigEndian.Uint16(superblock[offPageSize : offPageSize+2])
	if v == 1 {
		return 65536
	}
	return int(v)
}

// BTreeRegionStart returns the first page number eligible for
// compression: pages before it hold superblock and freelist structures
// and are never compressed.
func BTreeRegionStart(superblock []byte) int64 {
	start := binary.BigEndian.Uint32(superblock[offFreelistStart : offFreelistStart+4])
	pages := binary.BigEndian.Uint32(superblock[offFreelistPages : offFreelistPages+4])
	return int64(start) + 1 + int64(pages)
}

package xfs

import (
	"encoding/binary"
	"testing"
)

func TestDecodeExtentPacksFields(t *testing.T) {
	// Hand-pack a 128-bit BMBT record: fileoffset=7, startblock=1000,
	// blockcount=50, unwritten=false.
	var fileOffset uint64 = 7
	var startBlock uint64 = 1000
	var blockCount uint64 = 50

	hi := (fileOffset << 9) | (startBlock >> 43)
	lo := ((startBlock & ((1 << 43) - 1)) << 21) | blockCount

	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw[0:8], hi)
	binary.BigEndian.PutUint64(raw[8:16], lo)

	e := decodeExtent(raw)
	if e.fileOffset != fileOffset {
		t.Errorf("fileOffset: got %d, want %d", e.fileOffset, fileOffset)
	}
	if e.startBlock != startBlock {
		t.Errorf("startBlock: got %d, want %d", e.startBlock, startBlock)
	}
	if e.blockCount != blockCount {
		t.Errorf("blockCount: got %d, want %d", e.blockCount, blockCount)
	}
	if e.unwritten {
		t.Errorf("expected unwritten flag to be false")
	}
}

func TestDecodeExtentUnwrittenFlag(t *testing.T) {
	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw[0:8], 1<<63) // set bit 127
	e := decodeExtent(raw)
	if !e.unwritten {
		t.Errorf("expected unwritten flag to be set from bit 127")
	}
}

func TestSplitAndJoinInode(t *testing.T) {
	sb := &SuperBlock{AGBlocks: 1000, AGBlocksLog: 10, InodesPerBlockLog: 2, BlockSizeLog: 12, SectorSizeLog: 9, InodeSizeLog: 8}
	g := newGeometry(sb)

	ag, agino := g.splitInode(g.joinInode(3, 42))
	if ag != 3 || agino != 42 {
		t.Errorf("round trip: got ag=%d agino=%d, want ag=3 agino=42", ag, agino)
	}
}

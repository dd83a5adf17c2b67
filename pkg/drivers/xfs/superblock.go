package xfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// geometry caches the logarithmic fields off the superblock as the
// plain shift/mask values every block and inode address computation
// needs, following the kernel's own agno/agbno/agino split rather than
// a compiler's fixed layout assumptions.
type geometry struct {
	blockSize      int64
	sectorSize     int64
	inodeSize      int64
	agBlockLog     uint
	inoPerBlockLog uint
	agBlocks       int64
	agCount        int64
}

func newGeometry(sb *SuperBlock) geometry {
	return geometry{
		blockSize:      1 << sb.BlockSizeLog,
		sectorSize:     1 << sb.SectorSizeLog,
		inodeSize:      1 << sb.InodeSizeLog,
		agBlockLog:     uint(sb.AGBlocksLog),
		inoPerBlockLog: uint(sb.InodesPerBlockLog),
		agBlocks:       int64(sb.AGBlocks),
		agCount:        int64(sb.AGCount),
	}
}

// blockOffset returns the absolute byte offset of AG-relative block
// agbno within allocation group ag.
func (g geometry) blockOffset(ag int64, agbno uint32) int64 {
	return (ag*g.agBlocks + int64(agbno)) * g.blockSize
}

// splitInode decomposes an absolute inode number into its allocation
// group and AG-relative inode number, per the standard
// agno = ino >> (agblklog+inopblog), agino = ino & mask(agblklog+inopblog)
// split.
func (g geometry) splitInode(ino uint64) (ag int64, agino uint32) {
	shift := g.agBlockLog + g.inoPerBlockLog
	ag = int64(ino >> shift)
	mask := uint64(1)<<shift - 1
	agino = uint32(ino & mask)
	return ag, agino
}

// inodeOffset returns the absolute byte offset of an AG-relative inode
// number within the AG it belongs to.
func (g geometry) inodeOffset(ag int64, agino uint32) int64 {
	agbno := agino >> g.inoPerBlockLog
	blockRem := agino & (1<<g.inoPerBlockLog - 1)
	return g.blockOffset(ag, agbno) + int64(blockRem)*g.inodeSize
}

// joinInode builds an absolute inode number from an AG number and an
// AG-relative inode number, the inverse of splitInode.
func (g geometry) joinInode(ag int64, agino uint32) uint64 {
	shift := g.agBlockLog + g.inoPerBlockLog
	return uint64(ag)<<shift | uint64(agino)
}

func readSuperblock(r io.ReaderAt, agOffset int64) (*SuperBlock, error) {
	buf := make([]byte, 208)
	if _, err := r.ReadAt(buf, agOffset); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}

	sb := new(SuperBlock)
	if err := binary.Read(bytesReader(buf), binary.BigEndian, sb); err != nil {
		return nil, fmt.Errorf("decoding superblock: %w", err)
	}
	if sb.Magic != sbMagic {
		return nil, fmt.Errorf("not an XFS file system: bad superblock magic")
	}
	return sb, nil
}

// readAGF reads the free-space header at the start of an AG's second
// sector.
func readAGF(r io.ReaderAt, g geometry, ag int64) (*AGF, error) {
	buf := make([]byte, agfSize)
	if _, err := r.ReadAt(buf, g.blockOffset(ag, 0)+g.sectorSize); err != nil {
		return nil, fmt.Errorf("reading AGF: %w", err)
	}
	agf := new(AGF)
	if err := binary.Read(bytesReader(buf), binary.BigEndian, agf); err != nil {
		return nil, fmt.Errorf("decoding AGF: %w", err)
	}
	if agf.Magic != agfMagic {
		return nil, fmt.Errorf("AG %d: bad AGF magic", ag)
	}
	return agf, nil
}

// readAGI reads the inode header at the start of an AG's third sector.
func readAGI(r io.ReaderAt, g geometry, ag int64) (*AGI, error) {
	buf := make([]byte, agiSize)
	if _, err := r.ReadAt(buf, g.blockOffset(ag, 0)+2*g.sectorSize); err != nil {
		return nil, fmt.Errorf("reading AGI: %w", err)
	}
	agi := new(AGI)
	if err := binary.Read(bytesReader(buf), binary.BigEndian, agi); err != nil {
		return nil, fmt.Errorf("decoding AGI: %w", err)
	}
	if agi.Magic != agiMagic {
		return nil, fmt.Errorf("AG %d: bad AGI magic", ag)
	}
	return agi, nil
}

package ext

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// ext4ExtentHeader/ext4ExtentIdx/ext4Extent mirror the wire format
// walked in the teacher's pkg/vdecompiler/fs.go (exploreExtentsTree /
// recurseExtentsTree), adapted here to emit mapper.RawExtent records
// instead of a flat byte reader.
type ext4ExtentHeader struct {
	Magic      uint16
	Entries    uint16
	Max        uint16
	Depth      uint16
	Generation uint32
}

type ext4ExtentIdx struct {
	Block  uint32
	LeafLo uint32
	LeafHi uint16
	_      uint16
}

type ext4Extent struct {
	Block uint32
	Len   uint16
	Hi    uint16
	Lo    uint32
}

// walkExtentTree descends the extent tree rooted in a 60-byte i_block
// area, emitting one RawExtent per leaf entry. logicalBlock tracks the
// file-relative block offset so the emitted extents carry a logical
// position, which the coalescer needs to decide mergeability.
func (d *Driver) walkExtentTree(ino int64, data []byte, kind mapper.ExtentKind, emit func(mapper.RawExtent) error) error {
	r := bytes.NewReader(data)
	hdr := new(ext4ExtentHeader)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("reading extent header for inode %d: %w", ino, err)
	}
	if hdr.Magic != extentHeaderMagic {
		return fmt.Errorf("inode %d: extent node missing magic number", ino)
	}

	if hdr.Depth == 0 {
		return d.emitExtentLeaves(ino, r, int(hdr.Entries), kind, emit)
	}

	for i := 0; i < int(hdr.Entries); i++ {
		idx := new(ext4ExtentIdx)
		if err := binary.Read(r, binary.LittleEndian, idx); err != nil {
			return fmt.Errorf("reading extent index %d for inode %d: %w", i, ino, err)
		}
		leaf := int64(idx.LeafLo) | int64(idx.LeafHi)<<32
		block, err := d.readBlock(leaf)
		if err != nil {
			return err
		}
		if err := d.walkExtentTree(ino, block, kind, emit); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) emitExtentLeaves(ino int64, r io.Reader, n int, kind mapper.ExtentKind, emit func(mapper.RawExtent) error) error {
	for i := 0; i < n; i++ {
		ext := new(ext4Extent)
		if err := binary.Read(r, binary.LittleEndian, ext); err != nil {
			return fmt.Errorf("reading extent leaf %d for inode %d: %w", i, ino, err)
		}
		physicalBlock := int64(ext.Lo) | int64(ext.Hi)<<32
		logicalBlock := int64(ext.Block)
		length := int64(ext.Len)
		unwritten := length > 32768
		if unwritten {
			length -= 32768
		}

		physical := physicalBlock * d.blockSize
		logical := logicalBlock * d.blockSize
		raw := mapper.RawExtent{
			Ino:       ino,
			Physical:  physical,
			Logical:   &logical,
			Length:    length * d.blockSize,
			Kind:      kind,
			Unwritten: unwritten,
		}
		if err := emit(raw); err != nil {
			return err
		}
	}
	return nil
}

// walkIndirectBlocks handles pre-extents (ext2/ext3) inodes: 12 direct
// pointers followed by singly/doubly/triply indirect pointer blocks,
// matching dataFromBlockPointers in the teacher's vdecompiler/fs.go.
func (d *Driver) walkIndirectBlocks(ino int64, inode *Inode, kind mapper.ExtentKind, emit func(mapper.RawExtent) error) error {
	logicalBlock := int64(0)

	for _, b := range inode.DirectPointer {
		if b == 0 {
			logicalBlock++
			continue
		}
		if err := d.emitBlockPointer(ino, int64(b), logicalBlock, kind, emit); err != nil {
			return err
		}
		logicalBlock++
	}

	chain := []struct {
		ptr   uint32
		depth int
	}{
		{inode.SinglyIndirect, 1},
		{inode.DoublyIndirect, 2},
		{inode.TriplyIndirect, 3},
	}
	for _, c := range chain {
		if c.ptr == 0 {
			continue
		}
		next, err := d.walkIndirectChain(ino, int64(c.ptr), c.depth, logicalBlock, kind, emit)
		if err != nil {
			return err
		}
		logicalBlock = next
	}
	return nil
}

func (d *Driver) walkIndirectChain(ino int64, block int64, depth int, logicalBlock int64, kind mapper.ExtentKind, emit func(mapper.RawExtent) error) (int64, error) {
	data, err := d.readBlock(block)
	if err != nil {
		return logicalBlock, err
	}
	pointersPerBlock := int(d.blockSize / 4)
	r := bytes.NewReader(data)

	for i := 0; i < pointersPerBlock; i++ {
		var ptr uint32
		if err := binary.Read(r, binary.LittleEndian, &ptr); err != nil {
			return logicalBlock, fmt.Errorf("reading indirect pointer for inode %d: %w", ino, err)
		}
		if ptr == 0 {
			logicalBlock++
			continue
		}
		if depth == 1 {
			if err := d.emitBlockPointer(ino, int64(ptr), logicalBlock, kind, emit); err != nil {
				return logicalBlock, err
			}
			logicalBlock++
		} else {
			next, err := d.walkIndirectChain(ino, int64(ptr), depth-1, logicalBlock, kind, emit)
			if err != nil {
				return logicalBlock, err
			}
			logicalBlock = next
		}
	}
	return logicalBlock, nil
}

func (d *Driver) emitBlockPointer(ino, block, logicalBlock int64, kind mapper.ExtentKind, emit func(mapper.RawExtent) error) error {
	logical := logicalBlock * d.blockSize
	return emit(mapper.RawExtent{
		Ino:      ino,
		Physical: block * d.blockSize,
		Logical:  &logical,
		Length:   d.blockSize,
		Kind:     kind,
	})
}

func (d *Driver) readBlock(block int64) ([]byte, error) {
	buf := make([]byte, d.blockSize)
	if _, err := d.r.ReadAt(buf, block*d.blockSize); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", block, err)
	}
	return buf, nil
}

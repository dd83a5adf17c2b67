package xfs

import (
	"encoding/binary"
	"fmt"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// dirEntry is one decoded directory entry, independent of which of the
// three on-disk encodings (shortform, single-block, multi-block) it
// came from.
type dirEntry struct {
	name string
	ino  uint64
}

// readShortformDir decodes an inline (Format == inodeFormatLocal)
// directory literal area: a small header naming the parent inode,
// followed by packed variable-length entries with no block framing.
func readShortformDir(data []byte, hasFtype bool) ([]dirEntry, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("shortform directory: header too small")
	}
	count := int(data[0])
	i8count := int(data[1])
	inoSize := 4
	if i8count != 0 {
		inoSize = 8
	}

	off := 2 + inoSize // skip parent inumber
	entries := make([]dirEntry, 0, count)
	for i := 0; i < count && off < len(data); i++ {
		if off+1 > len(data) {
			break
		}
		nameLen := int(data[off])
		off++
		off += 2 // sf offset cookie, unused for a tree walk
		if off+nameLen > len(data) {
			break
		}
		name := mapper.RecodeUTF8(string(data[off : off+nameLen]))
		off += nameLen
		if hasFtype {
			off++ // ftype byte
		}
		if off+inoSize > len(data) {
			break
		}
		var ino uint64
		if inoSize == 8 {
			ino = binary.BigEndian.Uint64(data[off : off+8])
		} else {
			ino = uint64(binary.BigEndian.Uint32(data[off : off+4]))
		}
		off += inoSize

		if name == "." || name == ".." || name == "" {
			continue
		}
		entries = append(entries, dirEntry{name: name, ino: ino})
	}
	return entries, nil
}

// readDataBlockEntries decodes every live entry out of one data block
// (magic "XD2B" for the single-block format or "XD2D" for a
// multi-block data block), treating anything else in the pack as a
// leaf or freespace block to be skipped entirely.
//
// A run of unused space is distinguished from a live entry by its
// leading 16 bits: 0xffff is the free-region sentinel, which a real
// inode number cannot collide with on any volume this driver expects
// to see.
func readDataBlockEntries(block []byte, hasFtype bool) ([]dirEntry, error) {
	if len(block) < 4 {
		return nil, fmt.Errorf("directory data block: too small")
	}
	magic := binary.BigEndian.Uint32(block[0:4])
	if magic != dir2BlockMagic && magic != dir2DataMagic {
		return nil, nil
	}

	end := len(block)
	if magic == dir2BlockMagic {
		tail := block[len(block)-8:]
		count := binary.BigEndian.Uint32(tail[0:4])
		end = len(block) - 8 - int(count)*8
	}

	const dataHeaderSize = 16
	var entries []dirEntry
	off := dataHeaderSize
	for off+2 <= end {
		if binary.BigEndian.Uint16(block[off:off+2]) == 0xffff {
			if off+4 > end {
				break
			}
			length := int(binary.BigEndian.Uint16(block[off+2 : off+4]))
			if length <= 0 {
				break
			}
			off += length
			continue
		}

		if off+9 > end {
			break
		}
		ino := binary.BigEndian.Uint64(block[off : off+8])
		nameLen := int(block[off+8])
		hdr := 8 + 1
		if off+hdr+nameLen > end {
			break
		}
		name := mapper.RecodeUTF8(string(block[off+hdr : off+hdr+nameLen]))

		raw := hdr + nameLen + 2 // +2 for the trailing tag
		if hasFtype {
			raw++
		}
		padded := (raw + 7) &^ 7
		if off+padded > end {
			break
		}
		off += padded

		if name != "." && name != ".." && name != "" {
			entries = append(entries, dirEntry{name: name, ino: ino})
		}
	}
	return entries, nil
}

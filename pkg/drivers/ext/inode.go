package ext

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Inode is the on-disk ext2/3/4 inode, extended past the teacher's
// minimal compiler-only struct (pkg/ext/common.go's Inode) with the
// fields needed to classify extents vs. indirect-block addressing and
// to recognise inline data/xattrs.
type Inode struct {
	Permissions      uint16
	UID              uint16
	SizeLower        uint32
	LastAccessTime   uint32
	CreationTime     uint32
	ModificationTime uint32
	DeletionTime     uint32
	GID              uint16
	Links            uint16
	Sectors          uint32
	Flags            uint32
	OSV              uint32
	DirectPointer    [12]uint32
	SinglyIndirect   uint32
	DoublyIndirect   uint32
	TriplyIndirect   uint32
	GenNo            uint32
	FileACL          uint32
	SizeUpper        uint32
	FragAddr         uint32
	OSStuff2         [12]byte
}

const (
	inodeFlagIndexed     = 0x1000
	inodeFlagInlineData  = 0x10000000
	inodeFlagExtents     = 0x00080000
)

func (i *Inode) isExtents() bool   { return i.Flags&inodeFlagExtents != 0 }
func (i *Inode) isInline() bool    { return i.Flags&inodeFlagInlineData != 0 }
func (i *Inode) kind() int         { return int(i.Permissions) & inodeTypeMask }
func (i *Inode) isDir() bool       { return i.kind() == inodeTypeDirectory }
func (i *Inode) isSymlink() bool   { return i.kind() == inodeTypeSymlink }
func (i *Inode) isRegular() bool   { return i.kind() == inodeTypeRegularFile }
func (i *Inode) size() int64       { return int64(i.SizeLower) | int64(i.SizeUpper)<<32 }

func readInode(r io.ReaderAt, sb *Superblock, bgdt []*BlockGroupDescriptor, ino int64) (*Inode, error) {
	bgno := (ino - 1) / int64(sb.InodesPerGroup)
	if bgno < 0 || int(bgno) >= len(bgdt) {
		return nil, fmt.Errorf("inode %d falls outside block group table", ino)
	}
	indexInGroup := (ino - 1) % int64(sb.InodesPerGroup)

	inodeSize := int64(sb.inodeSize())
	tableBlock := bgdt[bgno].inodeTableBlock(sb.has64Bit())
	offset := tableBlock*sb.blockSize() + indexInGroup*inodeSize

	buf := make([]byte, 128)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", ino, err)
	}

	inode := new(Inode)
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, inode); err != nil {
		return nil, fmt.Errorf("decoding inode %d: %w", ino, err)
	}
	return inode, nil
}

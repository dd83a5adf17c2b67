// Package ext implements mapper.Driver for ext2, ext3, and ext4 volumes
// in a single driver that dispatches on the superblock's feature flags,
// mirroring the original single e2mapper binary's multi-format design.
package ext

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// On-disk constants, named the way the teacher's ext.Superblock /
// ext.Inode structures are (pkg/ext/common.go), extended here with the
// feature-flag fields a real-world ext2/3/4 image actually carries.
const (
	signature        = 0xEF53
	superblockOffset = 1024

	featureIncompatFiletype  = 0x0002
	featureIncompatRecover   = 0x0004
	featureIncompatJournal   = 0x0008
	featureIncompatExtents   = 0x0040
	featureIncompat64Bit     = 0x0080
	featureIncompatFlexBG    = 0x0200
	featureRoCompatHugeFile  = 0x0008
	featureRoCompatGdtCsum   = 0x0010
	featureRoCompatMetaBg    = 0x0010
	featureRoCompatExtraIsz  = 0x0040
	defaultInodeSize         = 128
	rootDirInode             = 2
	inodeTypeFIFO            = 0x1000
	inodeTypeCharDevice      = 0x2000
	inodeTypeDirectory       = 0x4000
	inodeTypeBlockDevice     = 0x6000
	inodeTypeRegularFile     = 0x8000
	inodeTypeSymlink         = 0xA000
	inodeTypeSocket          = 0xC000
	inodeTypeMask            = 0xF000
	extentHeaderMagic uint16 = 0xF30A
)

// Superblock is the on-disk ext2/3/4 primary superblock, extended past
// the teacher's minimal compiler-only struct with the 1024-byte-offset
// fields a real volume's feature set requires (journal presence,
// extents, 64-bit block addressing).
type Superblock struct {
	TotalInodes         uint32
	TotalBlocks         uint32
	ReservedBlocks      uint32
	UnallocatedBlocks   uint32
	UnallocatedInodes   uint32
	FirstDataBlock      uint32
	BlockSize           uint32
	FragmentSize        uint32
	BlocksPerGroup      uint32
	FragmentsPerGroup   uint32
	InodesPerGroup      uint32
	LastMountTime       uint32
	LastWrittenTime     uint32
	MountsSinceCheck    uint16
	MountsCheckInterval uint16
	Signature           uint16
	State               uint16
	ErrorProtocol       uint16
	VersionMinor        uint16
	TimeLastCheck       uint32
	TimeCheckInterval   uint32
	OS                  uint32
	VersionMajor        uint32
	SuperUser           uint16
	SuperGroup          uint16
	FirstInode          uint32
	InodeSize           uint16
	BlockGroupNo        uint16
	FeatureCompat       uint32
	FeatureIncompat     uint32
	FeatureRoCompat     uint32
	UUID                [16]byte
	VolumeName          [16]byte
	LastMounted         [64]byte
	AlgoBitmap          uint32
	PreallocBlocks      uint8
	PreallocDirBlocks   uint8
	_                   uint16
	JournalUUID         [16]byte
	JournalInode        uint32
	JournalDev          uint32
	LastOrphan          uint32
	HashSeed            [4]uint32
	DefHashVersion      uint8
	JournalBackupType   uint8
	DescSize            uint16
	DefaultMountOpts    uint32
	FirstMetaBg         uint32
}

func (sb *Superblock) blockSize() int64 {
	return 1024 << sb.BlockSize
}

func (sb *Superblock) inodeSize() int {
	if sb.InodeSize == 0 {
		return defaultInodeSize
	}
	return int(sb.InodeSize)
}

func (sb *Superblock) hasJournal() bool {
	return sb.FeatureCompat&0x0004 != 0
}

func (sb *Superblock) hasExtents() bool {
	return sb.FeatureIncompat&featureIncompatExtents != 0
}

func (sb *Superblock) has64Bit() bool {
	return sb.FeatureIncompat&featureIncompat64Bit != 0
}

// generation reports which of ext2/ext3/ext4 this volume's feature set
// corresponds to, purely for log messages; the driver's behaviour is
// governed directly by the individual feature flags, not by this
// coarse label.
func (sb *Superblock) generation() string {
	switch {
	case sb.hasExtents() || sb.has64Bit():
		return "ext4"
	case sb.hasJournal():
		return "ext3"
	default:
		return "ext2"
	}
}

// BlockGroupDescriptor is one block group descriptor table entry,
// extended with the high halves of its block/inode pointers for
// 64-bit-feature volumes (ignored when featureIncompat64Bit is unset).
type BlockGroupDescriptor struct {
	BlockBitmapLo     uint32
	InodeBitmapLo     uint32
	InodeTableLo      uint32
	UnallocBlocksLo   uint16
	UnallocInodesLo   uint16
	DirectoriesLo     uint16
	Flags             uint16
	_                 [12]byte
	BlockBitmapHi     uint32
	InodeBitmapHi     uint32
	InodeTableHi      uint32
	UnallocBlocksHi   uint16
	UnallocInodesHi   uint16
	DirectoriesHi     uint16
	_                 [4]byte
}

func (bg *BlockGroupDescriptor) inodeTableBlock(has64Bit bool) int64 {
	b := int64(bg.InodeTableLo)
	if has64Bit {
		b |= int64(bg.InodeTableHi) << 32
	}
	return b
}

func (bg *BlockGroupDescriptor) blockBitmapBlock(has64Bit bool) int64 {
	b := int64(bg.BlockBitmapLo)
	if has64Bit {
		b |= int64(bg.BlockBitmapHi) << 32
	}
	return b
}

func (bg *BlockGroupDescriptor) inodeBitmapBlock(has64Bit bool) int64 {
	b := int64(bg.InodeBitmapLo)
	if has64Bit {
		b |= int64(bg.InodeBitmapHi) << 32
	}
	return b
}

// readSuperblock reads and validates the primary superblock at byte
// offset 1024, matching the teacher's SuperblockOffset constant.
func readSuperblock(r io.ReaderAt) (*Superblock, error) {
	buf := make([]byte, 1024)
	if _, err := r.ReadAt(buf, superblockOffset); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}

	sb := new(Superblock)
	if err := binary.Read(bytesReader(buf), binary.LittleEndian, sb); err != nil {
		return nil, fmt.Errorf("decoding superblock: %w", err)
	}
	if sb.Signature != signature {
		return nil, fmt.Errorf("not an ext2/3/4 file system: bad superblock signature")
	}
	return sb, nil
}

func readBGDT(r io.ReaderAt, sb *Superblock) ([]*BlockGroupDescriptor, error) {
	groups := (sb.TotalBlocks + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup

	descSize := int64(32)
	if sb.DescSize > 32 {
		descSize = int64(sb.DescSize)
	}

	bgdtBlock := int64(1)
	if sb.blockSize() == 1024 {
		bgdtBlock = 2
	}
	offset := bgdtBlock * sb.blockSize()

	const fullDescriptorSize = 54

	bgdt := make([]*BlockGroupDescriptor, groups)
	onDisk := make([]byte, descSize)
	padded := make([]byte, fullDescriptorSize)
	for i := 0; i < int(groups); i++ {
		if _, err := r.ReadAt(onDisk, offset+int64(i)*descSize); err != nil {
			return nil, fmt.Errorf("reading block group descriptor %d: %w", i, err)
		}
		for j := range padded {
			padded[j] = 0
		}
		copy(padded, onDisk)

		bgd := new(BlockGroupDescriptor)
		if err := binary.Read(bytesReader(padded), binary.LittleEndian, bgd); err != nil {
			return nil, fmt.Errorf("decoding block group descriptor %d: %w", i, err)
		}
		bgdt[i] = bgd
	}
	return bgdt, nil
}

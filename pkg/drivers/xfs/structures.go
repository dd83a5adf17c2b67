// Package xfs implements mapper.Driver for XFS volumes: AG-relative
// geometry, the superblock/AGF/AGI layout, the inode core plus its
// three data-fork formats (local, extents, btree), and the Dir2
// directory family.
//
// XFS is big-endian on disk; every struct here is read with
// binary.BigEndian. The on-disk layouts below describe the V4 (non-CRC)
// format, the only one a Go struct exists for anywhere in the pack; V5
// (CRC-enabled) fields, and the rmapbt/refcountbt btrees that only exist
// on V5, are out of scope (see DESIGN.md).
package xfs

const (
	sbMagic  = 0x58465342 // "XFSB"
	agfMagic = 0x58414746 // "XAGF"
	agiMagic = 0x58414749 // "XAGI"

	bnoMagic = 0x41425442 // "ABTB", by-block free space btree
	cntMagic = 0x41425443 // "ABTC", by-size free space btree
	ibtMagic = 0x49414254 // "IABT", inode btree

	dir2BlockMagic = 0x58443242 // "XD2B" single-block directory
	dir2DataMagic  = 0x58443244 // "XD2D" multi-block directory data

	dirFDCount = 3

	inodeMagic = 0x494e // "IN"

	inodeFormatDev     = 0
	inodeFormatLocal   = 1
	inodeFormatExtents = 2
	inodeFormatBTree   = 3

	sFileTypeDir  = 2
	sFileTypeLink = 7

	version2FtypeBit = 0x00000200

	agfSize = 64
	agiSize = 296
)

// SuperBlock is the V4 XFS primary superblock, replicated verbatim at
// the start of every allocation group.
type SuperBlock struct {
	Magic                 uint32
	BlockSize             uint32
	DataBlocks            uint64
	RealtimeBlocks        uint64
	RealtimeExtents       uint64
	UUID                  [16]byte
	LogStart              uint64
	RootInode             uint64
	RealtimeBitmapInode   uint64
	RealtimeSummaryInode  uint64
	RealtimeExtentBlocks  uint32
	AGBlocks              uint32
	AGCount               uint32
	RealtimeBitmapBlocks  uint32
	LogBlocks             uint32
	VersionNum            uint16
	SectorSize            uint16
	InodeSize             uint16
	InodesPerBlock        uint16
	FSName                [12]byte
	BlockSizeLog          uint8
	SectorSizeLog         uint8
	InodeSizeLog          uint8
	InodesPerBlockLog     uint8
	AGBlocksLog           uint8
	RealtimeExtentBlkLog  uint8
	InProgress            uint8
	InodesMaxPercentage   uint8
	InodesAllocated       uint64
	InodesFree            uint64
	DataFree              uint64
	RealtimeExtentsFree   uint64
	UserQuotasInode       uint64
	GroupQuotasInode      uint64
	QuotaFlags            uint16
	MiscFlags             uint8
	SharedVN              uint8
	InodeChunkAlignment   uint32
	StripeUnitBlocks      uint32
	StripeWidthBlocks     uint32
	DirBlockLog           uint8
	LogSectorSizeLog      uint8
	LogSectorSize         uint16
	LogStripeUnit         uint32
	MoreFeatures          uint32
	BadFeatures           uint32
}

// AGF is the allocation group free-space header: roots and levels of
// the by-block (index 0) and by-size (index 1) free-space btrees.
type AGF struct {
	Magic       uint32
	Version     uint32
	SeqNo       uint32
	Length      uint32
	Roots       [2]uint32
	Spare0      uint32
	Levels      [2]uint32
	Spare1      uint32
	FLFirst     uint32
	FLLast      uint32
	FLCount     uint32
	FreeBlocks  uint32
	Longest     uint32
	BTreeBlocks uint32
}

// AGI is the allocation group inode header: root and level of the
// inode btree, plus the AG's directory inode pointer metadata.
type AGI struct {
	Magic     uint32
	Version   uint32
	SeqNo     uint32
	Length    uint32
	Count     uint32
	Root      uint32
	Level     uint32
	FreeCount uint32
	NewIno    uint32
	DirIno    uint32
	Unlinked  [64]uint32
}

// btreeNodeHeader prefixes every AG btree block, leaf or node.
type btreeNodeHeader struct {
	Magic    uint32
	Level    uint16
	NumRecs  uint16
	LeftSIB  uint32
	RightSIB uint32
}

// allocRecord is a free-space extent record: both a bno-tree and a
// cnt-tree leaf entry, and (as just the StartBlock half) a node key.
type allocRecord struct {
	StartBlock uint32
	BlockCount uint32
}

// inodeBTRecord is an inode btree leaf entry describing one 64-inode
// chunk.
type inodeBTRecord struct {
	StartIno  uint32
	FreeCount uint32
	Free      uint64
}

type timestamp struct {
	Sec  uint32
	NSec uint32
}

// inodeCore is the fixed 100-byte inode header common to every format.
type inodeCore struct {
	Magic        uint16
	Mode         uint16
	Version      uint8
	Format       uint8
	Onlink       uint16
	UID          uint32
	GID          uint32
	Nlink        uint32
	ProjID       uint16
	Pad          [8]byte
	FlushIter    uint16
	ATime        timestamp
	MTime        timestamp
	CTime        timestamp
	Size         int64
	NBlocks      uint64
	ExtSize      uint32
	NExtents     int32
	ANExtents    int16
	ForkOff      uint8
	AFormat      int8
	DMevMask     uint32
	DMState      uint16
	Flags        uint16
	Gen          uint32
	NextUnlinked uint32
}

// dir2FreeEntry is one "best free space" hint slot in a data block
// header.
type dir2FreeEntry struct {
	Offset uint16
	Length uint16
}

// dir2DataHeader prefixes every directory data block (both the
// single-block XD2B format and the multi-block XD2D format).
type dir2DataHeader struct {
	Magic    uint32
	BestFree [dirFDCount]dir2FreeEntry
}

// dir2LeafEntry indexes one directory entry by hash, stored in the
// single-block format's trailing leaf array.
type dir2LeafEntry struct {
	HashVal uint32
	Address uint32
}

// dir2BlockTail trails a single-block (XD2B) directory's leaf array.
type dir2BlockTail struct {
	Count uint32
	Stale uint32
}

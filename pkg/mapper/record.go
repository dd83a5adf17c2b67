// Package mapper defines the file-system-agnostic record types and
// driver/sink contracts shared by every mapper (ext, xfs, fat, ntfs,
// generic). A driver walks one on-disk file system and feeds these
// records to a Sink; nothing in this package knows how to read an actual
// disk.
package mapper

import "fmt"

// InodeKind classifies an inode record.
type InodeKind int

const (
	InodeFile InodeKind = iota
	InodeDirectory
	InodeMetadata
	InodeSymlink
	InodeFreespace
)

// Code returns the single-character code stored in inode_type_t.
func (k InodeKind) Code() string {
	switch k {
	case InodeFile:
		return "f"
	case InodeDirectory:
		return "d"
	case InodeMetadata:
		return "m"
	case InodeSymlink:
		return "s"
	case InodeFreespace:
		return "r"
	default:
		return "?"
	}
}

// ExtentKind classifies an extent record. The ordering matches
// extent_type_t's seeded ids in the schema for every kind except
// ExtentFreespace, which has no seeded row.
type ExtentKind int

const (
	ExtentFile ExtentKind = iota
	ExtentDirectory
	ExtentTreeNode
	ExtentMetadata
	ExtentXattr
	ExtentSymlink
	ExtentFreespace
)

// Code returns the single-character code stored in extent_type_t.
func (k ExtentKind) Code() string {
	switch k {
	case ExtentFile:
		return "f"
	case ExtentDirectory:
		return "d"
	case ExtentTreeNode:
		return "e"
	case ExtentMetadata:
		return "m"
	case ExtentXattr:
		return "x"
	case ExtentSymlink:
		return "s"
	case ExtentFreespace:
		return "r"
	default:
		return "?"
	}
}

// ExtentFlag is a single bit in an extent's flag set.
type ExtentFlag uint32

const (
	FlagLast ExtentFlag = 1 << iota
	FlagUnknownLocation
	FlagDelayedAlloc
	FlagEncoded
	FlagEncrypted
	FlagNotAligned
	FlagDataInline
	FlagDataTail
	FlagUnwritten
	FlagMerged
	FlagShared
)

// Has reports whether flag is set in flags.
func (f ExtentFlag) Has(flags uint32) bool {
	return flags&uint32(f) != 0
}

// MaxExtentLength is the hard ceiling on a single coalesced extent's
// length, chosen so that length*block_size never overflows a 64-bit
// product downstream (§4.2).
const MaxExtentLength = 1 << 60

// Inode is the normalized representation of one on-disk inode (real or
// synthetic). Negative Ino values are reserved for synthetic metadata
// inodes; real inode numbers from the underlying file system are always
// non-negative.
type Inode struct {
	Ino    int64
	Kind   InodeKind
	Path   string
	ATime  *int64
	CrTime *int64
	CTime  *int64
	MTime  *int64
	Size   *int64
}

// Dentry is one directory-entry record: a (parent, name) pair naming a
// child inode.
type Dentry struct {
	DirIno   int64
	Name     string
	ChildIno int64
}

// Extent is one physical/logical mapping run.
type Extent struct {
	Ino      int64
	Physical int64
	Logical  *int64
	Length   int64
	Flags    uint32
	Kind     ExtentKind
}

// End returns the inclusive end offset of the extent (physical+length-1).
func (e Extent) End() int64 {
	return e.Physical + e.Length - 1
}

// Validate checks the extent invariants from §3: length in [1, 2^60].
func (e Extent) Validate() error {
	if e.Length < 1 {
		return fmt.Errorf("extent length must be >= 1, got %d", e.Length)
	}
	if e.Length > MaxExtentLength {
		return fmt.Errorf("extent length %d exceeds maximum %d", e.Length, MaxExtentLength)
	}
	return nil
}

// FileSystemRecord is the fs_t row describing one mapped volume.
type FileSystemRecord struct {
	Path          string
	BlockSize     int64
	FragmentSize  int64
	TotalBytes    int64
	FreeBytes     int64
	AvailBytes    int64
	TotalInodes   int64
	FreeInodes    int64
	AvailInodes   int64
	MaxNameLen    int64
	Timestamp     string
	Finished      bool
	PathSeparator string
}

// OverviewCell is one (length, cell_no) bucket of the two overview
// histograms a run produces.
type OverviewCell struct {
	Length   int64
	CellNo   int64
	Files    int64
	Dirs     int64
	Mappings int64
	Metadata int64
	Xattrs   int64
	Symlinks int64
}

// counter returns a pointer to the counter matching an extent
// kind, or nil if that kind does not contribute to overview cells.
// extent-tree-node rows count as "mappings"; freespace rows (used only
// by the synthetic freespace file) have no column of their own and are
// excluded.
func (c *OverviewCell) counter(kind ExtentKind) *int64 {
	switch kind {
	case ExtentFile:
		return &c.Files
	case ExtentDirectory:
		return &c.Dirs
	case ExtentTreeNode:
		return &c.Mappings
	case ExtentMetadata:
		return &c.Metadata
	case ExtentXattr:
		return &c.Xattrs
	case ExtentSymlink:
		return &c.Symlinks
	default:
		return nil
	}
}

// Add increments the counter for kind by one, if that kind maps to a
// histogram column.
func (c *OverviewCell) Add(kind ExtentKind) {
	if p := c.counter(kind); p != nil {
		*p++
	}
}

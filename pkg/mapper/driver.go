package mapper

import "context"

// RawExtent is the pre-coalesced unit a driver feeds to the extent
// coalescer: one physically-and-logically-contiguous run as the
// underlying file system's own structures describe it, before merging.
type RawExtent struct {
	Ino      int64
	Physical int64
	Logical  *int64
	Length   int64
	Flags    uint32
	Kind     ExtentKind
	// Unwritten marks a delayed/unwritten extent state (as distinct from
	// the flag bits): two raw extents merge only when both their flag
	// sets and this state match (§4.2).
	Unwritten bool
}

// Sink receives the normalized record stream a driver and its coalescer
// produce. Implementations persist records to the relational store
// (§4.5); Sink itself knows nothing about SQL.
type Sink interface {
	InsertInode(Inode) error
	InsertDentry(Dentry) error
	InsertExtent(Extent) error
	// InjectMetadata registers a synthetic metadata object: it both
	// upserts the inode and appends the dentry linking it under parent.
	InjectMetadata(parent int64, name string, ino int64, kind InodeKind) error
}

// Driver is the per-file-system-type adapter described in §4.1. One
// Driver implementation exists per FS family (ext, xfs, fat, ntfs,
// generic-fallback); all of them are read-only and must not modify the
// underlying image.
type Driver interface {
	// VolumeStats returns the fs_t row for the opened volume.
	VolumeStats() (FileSystemRecord, error)

	// WalkTree traverses the root directory, emitting one inode and one
	// dentry for every encountered file, directory, or symlink, and the
	// raw extents for its data (and, where applicable, attribute) fork.
	// "." and ".." are skipped; every real inode is visited at most once.
	WalkTree(ctx context.Context, sink Sink) error

	// WalkMetadata synthesizes the /$metadata subtree (§4.4).
	WalkMetadata(ctx context.Context, sink Sink) error

	// Close releases any resources (file handles) held by the driver.
	Close() error
}

// Opener is implemented by each FS package's package-level Open function
// so that CLI wiring can be generic across FS types; it is a convention,
// not an interface value anything holds.
type Opener func(device string) (Driver, error)

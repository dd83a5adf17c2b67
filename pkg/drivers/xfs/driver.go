// Package xfs implements mapper.Driver for XFS (V4, non-CRC) volumes:
// superblock/AG geometry, inode core decoding across all three data
// fork formats, Dir2 directory walking, and AG b-tree descent feeding
// the metadata synthesizer's per-group free-space and inode-btree
// files.
package xfs

import (
	"context"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/filemapper/filemapper/pkg/coalescer"
	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/metadata"
)

// superblockProbeSize is the fixed byte span of the primary superblock
// this driver decodes, used as the metadata region length for each
// AG's superblock copy.
const superblockProbeSize = 208

// Driver implements mapper.Driver for a single XFS volume.
type Driver struct {
	f       *os.File
	sb      *SuperBlock
	g       geometry
	hasFtype bool
	seen    map[uint64]bool
	path    string
}

// Open reads and validates the primary superblock (allocation group 0)
// for device, returning a ready-to-walk Driver.
func Open(device string) (*Driver, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, mapper.Wrap(mapper.ErrIO, "opening device", err)
	}

	sb, err := readSuperblock(f, 0)
	if err != nil {
		f.Close()
		return nil, mapper.Wrap(mapper.ErrNotAFileSystem, "reading superblock", err)
	}

	g := newGeometry(sb)
	return &Driver{
		f:        f,
		sb:       sb,
		g:        g,
		hasFtype: sb.MoreFeatures&version2FtypeBit != 0,
		seen:     make(map[uint64]bool),
		path:     device,
	}, nil
}

// UUID returns the volume's file system UUID, for CLI diagnostics.
func (d *Driver) UUID() uuid.UUID {
	id, err := uuid.FromBytes(d.sb.UUID[:])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// VolumeStats returns the fs_t row for the opened volume.
func (d *Driver) VolumeStats() (mapper.FileSystemRecord, error) {
	sb := d.sb
	totalBlocks := int64(sb.DataBlocks)
	freeBlocks := int64(sb.DataFree)

	return mapper.FileSystemRecord{
		Path:          d.path,
		BlockSize:     d.g.blockSize,
		FragmentSize:  d.g.blockSize,
		TotalBytes:    totalBlocks * d.g.blockSize,
		FreeBytes:     freeBlocks * d.g.blockSize,
		AvailBytes:    freeBlocks * d.g.blockSize,
		TotalInodes:   int64(sb.InodesAllocated + sb.InodesFree),
		FreeInodes:    int64(sb.InodesFree),
		AvailInodes:   int64(sb.InodesFree),
		MaxNameLen:    255,
		Timestamp:     time.Now().UTC().Format("2006-01-02 15:04:05"),
		PathSeparator: "/",
	}, nil
}

// WalkTree traverses the root directory, emitting one inode and one
// dentry for every encountered file, directory, or symlink, and its
// coalesced data-fork extents.
func (d *Driver) WalkTree(ctx context.Context, sink mapper.Sink) error {
	return d.walkDir(ctx, d.sb.RootInode, "/", sink)
}

func (d *Driver) walkDir(ctx context.Context, ino uint64, dirPath string, sink mapper.Sink) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if d.seen[ino] {
		return nil
	}
	d.seen[ino] = true

	in, err := readInode(d.f, d.g, ino)
	if err != nil {
		return mapper.Wrap(mapper.ErrIO, "reading inode", err)
	}

	if err := d.emitInode(int64(ino), dirPath, in, sink); err != nil {
		return err
	}
	if !in.isDir() {
		return nil
	}

	entries, err := d.readDirEntries(in)
	if err != nil {
		return mapper.Wrap(mapper.ErrCorruptStructure, "reading directory", err)
	}

	for _, de := range entries {
		childPath := path.Join(dirPath, de.name)
		if err := sink.InsertDentry(mapper.Dentry{DirIno: int64(ino), Name: de.name, ChildIno: int64(de.ino)}); err != nil {
			return mapper.Wrap(mapper.ErrStore, "inserting dentry", err)
		}

		child, err := readInode(d.f, d.g, de.ino)
		if err != nil {
			return mapper.Wrap(mapper.ErrIO, "reading inode", err)
		}
		if child.isDir() {
			if err := d.walkDir(ctx, de.ino, childPath, sink); err != nil {
				return err
			}
			continue
		}
		if d.seen[de.ino] {
			continue
		}
		d.seen[de.ino] = true
		if err := d.emitInode(int64(de.ino), childPath, child, sink); err != nil {
			return err
		}
	}
	return nil
}

// readDirEntries dispatches on the directory inode's data-fork format:
// shortform directories are decoded straight out of the inode literal
// area, while extent- or btree-mapped directories are read block by
// block, each block parsed as either the single-block or multi-block
// Dir2 data layout.
func (d *Driver) readDirEntries(in *inode) ([]dirEntry, error) {
	if in.core.Format == inodeFormatLocal {
		return readShortformDir(in.dataFork(), d.hasFtype)
	}

	data, err := readForkBytes(d.f, d.g.blockSize, in)
	if err != nil {
		return nil, err
	}

	var entries []dirEntry
	for off := int64(0); off+d.g.blockSize <= int64(len(data)); off += d.g.blockSize {
		block := data[off : off+d.g.blockSize]
		blockEntries, err := readDataBlockEntries(block, d.hasFtype)
		if err != nil {
			return nil, err
		}
		entries = append(entries, blockEntries...)
	}
	return entries, nil
}

func (d *Driver) emitInode(ino int64, p string, in *inode, sink mapper.Sink) error {
	kind := mapper.InodeFile
	extentKind := mapper.ExtentFile
	switch {
	case in.isDir():
		kind, extentKind = mapper.InodeDirectory, mapper.ExtentDirectory
	case in.isLink():
		kind, extentKind = mapper.InodeSymlink, mapper.ExtentSymlink
	}

	c := in.core
	atime, mtime, ctime := int64(c.ATime.Sec), int64(c.MTime.Sec), int64(c.CTime.Sec)
	size := in.size()
	if err := sink.InsertInode(mapper.Inode{
		Ino: ino, Kind: kind, Path: p,
		ATime: &atime, CTime: &ctime, MTime: &mtime, Size: &size,
	}); err != nil {
		return mapper.Wrap(mapper.ErrStore, "inserting inode", err)
	}

	if c.Format == inodeFormatLocal || in.size() == 0 {
		return nil
	}

	extents, err := in.dataForkExtents(d.f, d.g.blockSize)
	if err != nil {
		return mapper.Wrap(mapper.ErrCorruptStructure, "walking data fork", err)
	}

	co := coalescer.New(func(e mapper.Extent) error { return sink.InsertExtent(e) })
	for _, e := range extents {
		logical := int64(e.fileOffset) * d.g.blockSize
		raw := mapper.RawExtent{
			Ino:       ino,
			Physical:  int64(e.startBlock) * d.g.blockSize,
			Logical:   &logical,
			Length:    int64(e.blockCount) * d.g.blockSize,
			Kind:      extentKind,
			Unwritten: e.unwritten,
		}
		if err := co.Feed(raw); err != nil {
			return mapper.Wrap(mapper.ErrStore, "merging extents", err)
		}
	}
	return mapper.Wrap(mapper.ErrStore, "flushing extents", co.Flush())
}

// WalkMetadata synthesizes the /$metadata subtree: one directory per
// allocation group holding its superblock copy, AGF/AGI headers, and
// free-space/inode b-tree blocks, plus volume-wide aggregates.
//
// finobt, rmapbt, and refcountbt are V5/CRC-only per-AG btrees with no
// on-disk structure defined anywhere in this driver's grounding, so
// they are omitted rather than synthesized from guesswork; see
// DESIGN.md.
func (d *Driver) WalkMetadata(ctx context.Context, sink mapper.Sink) error {
	groups := int(d.sb.AGCount)
	desc := metadata.Descriptor{
		Groups:         groups,
		AGSize:         d.g.agBlocks * d.g.blockSize,
		GroupFileOrder: []string{"superblock", "agf", "agi", "bnobt", "cntbt", "inobt"},
		PerGroup:       make([]map[string][]metadata.Region, groups),
	}

	// Each AG's AGF/AGI/b-tree regions come from independent pread calls
	// against d.f, so the per-AG descent fans out across a worker group
	// instead of running strictly sequentially: real concurrency across
	// allocation groups, unlike index_db's single serialized connection.
	eg, _ := errgroup.WithContext(ctx)
	for ag := int64(0); ag < int64(groups); ag++ {
		ag := ag
		eg.Go(func() error {
			group := map[string][]metadata.Region{}

			sbRegion := metadata.Region{Physical: d.g.blockOffset(ag, 0), Length: superblockProbeSize}
			group["superblock"] = []metadata.Region{sbRegion}

			agf, err := readAGF(d.f, d.g, ag)
			if err != nil {
				return mapper.Wrap(mapper.ErrCorruptStructure, "reading AGF", err)
			}
			group["agf"] = []metadata.Region{{Physical: d.g.blockOffset(ag, 0) + d.g.sectorSize, Length: agfSize}}

			agi, err := readAGI(d.f, d.g, ag)
			if err != nil {
				return mapper.Wrap(mapper.ErrCorruptStructure, "reading AGI", err)
			}
			group["agi"] = []metadata.Region{{Physical: d.g.blockOffset(ag, 0) + 2*d.g.sectorSize, Length: agiSize}}

			if regions, err := walkAGBTree(d.f, d.g, ag, agf.Roots[0], bnoMagic); err == nil {
				group["bnobt"] = regions
			}
			if regions, err := walkAGBTree(d.f, d.g, ag, agf.Roots[1], cntMagic); err == nil {
				group["cntbt"] = regions
			}
			if regions, err := walkAGBTree(d.f, d.g, ag, agi.Root, ibtMagic); err == nil {
				group["inobt"] = regions
			}

			desc.PerGroup[ag] = group
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	var superblocks []metadata.Region
	for ag := int64(0); ag < int64(groups); ag++ {
		superblocks = append(superblocks, desc.PerGroup[ag]["superblock"][0])
	}
	desc.Superblocks = superblocks

	if d.sb.LogStart != 0 {
		desc.Journal = []metadata.Region{{
			Physical: int64(d.sb.LogStart) * d.g.blockSize,
			Length:   int64(d.sb.LogBlocks) * d.g.blockSize,
		}}
	}

	return metadata.Synthesize(sink, desc)
}

// Close releases the underlying file handle.
func (d *Driver) Close() error {
	return d.f.Close()
}

package fat

import (
	"context"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/filemapper/filemapper/pkg/coalescer"
	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/metadata"
)

const rootDirIno int64 = 1

// Driver implements mapper.Driver for a FAT12/16/32 volume. Unlike
// ext/xfs, FAT inodes have no stable on-disk number: this driver
// assigns sequential synthetic inode numbers in directory-walk order,
// mirroring the original mapper's own wf->ino counter.
type Driver struct {
	f      *os.File
	b      *bpb
	nextIno int64
	path   string
}

// Open reads and validates the boot sector for device, returning a
// ready-to-walk Driver.
func Open(device string) (*Driver, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, mapper.Wrap(mapper.ErrIO, "opening device", err)
	}

	b, err := readBootSector(f)
	if err != nil {
		f.Close()
		return nil, mapper.Wrap(mapper.ErrNotAFileSystem, "reading boot sector", err)
	}

	return &Driver{f: f, b: b, nextIno: rootDirIno + 1, path: device}, nil
}

// UUID returns nil: FAT12/16 volumes carry only a 32-bit serial
// number, not a 128-bit UUID, and this driver does not synthesize one.
func (d *Driver) UUID() uuid.UUID { return uuid.Nil }

// VolumeStats returns the fs_t row for the opened volume.
func (d *Driver) VolumeStats() (mapper.FileSystemRecord, error) {
	total := int64(d.b.totalSectors) * int64(d.b.bytesPerSector)
	free, err := d.countFreeBytes()
	if err != nil {
		return mapper.FileSystemRecord{}, err
	}

	return mapper.FileSystemRecord{
		Path:          d.path,
		BlockSize:     d.b.clusterSize(),
		FragmentSize:  d.b.clusterSize(),
		TotalBytes:    total,
		FreeBytes:     free,
		AvailBytes:    free,
		TotalInodes:   0,
		FreeInodes:    0,
		AvailInodes:   0,
		MaxNameLen:    255,
		Timestamp:     time.Now().UTC().Format("2006-01-02 15:04:05"),
		PathSeparator: "/",
	}, nil
}

func (d *Driver) countFreeBytes() (int64, error) {
	clusterCount := uint32(0)
	if d.b.clusterSize() > 0 {
		dataBytes := int64(d.b.totalSectors)*int64(d.b.bytesPerSector) - d.b.fatOffset() - int64(d.b.numFATs)*d.b.fatSizeBytes()
		clusterCount = uint32(dataBytes / d.b.clusterSize())
	}
	var free int64
	for c := uint32(2); c < clusterCount+2; c++ {
		entry, err := readFATEntry(d.f, d.b, c)
		if err != nil {
			return 0, mapper.Wrap(mapper.ErrIO, "scanning FAT", err)
		}
		if entry == freeCluster {
			free += d.b.clusterSize()
		}
	}
	return free, nil
}

// WalkTree traverses the root directory, emitting one inode and one
// dentry for every encountered file, directory, or volume label.
func (d *Driver) WalkTree(ctx context.Context, sink mapper.Sink) error {
	if err := sink.InsertInode(mapper.Inode{Ino: rootDirIno, Kind: mapper.InodeDirectory, Path: "/"}); err != nil {
		return mapper.Wrap(mapper.ErrStore, "inserting root inode", err)
	}

	root, err := d.readRootDir()
	if err != nil {
		return mapper.Wrap(mapper.ErrCorruptStructure, "reading root directory", err)
	}
	return d.walkEntries(ctx, rootDirIno, "", root, sink)
}

func (d *Driver) readRootDir() ([]dirEntry, error) {
	if d.b.kind == fat32 {
		return d.readClusterChainDir(d.b.rootCluster)
	}
	off := int64(d.b.firstRootDirSector()) * int64(d.b.bytesPerSector)
	size := int64(d.b.rootEntryCount) * dirEntrySize
	buf := make([]byte, size)
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return parseDirBlock(buf), nil
}

func (d *Driver) readClusterChainDir(startCluster uint32) ([]dirEntry, error) {
	var entries []dirEntry
	for _, cluster := range clusterChain(d.f, d.b, startCluster) {
		buf := make([]byte, d.b.clusterSize())
		if _, err := d.f.ReadAt(buf, d.b.clusterOffset(cluster)); err != nil {
			return nil, err
		}
		entries = append(entries, parseDirBlock(buf)...)
	}
	return entries, nil
}

func clusterChain(r readerAt, b *bpb, start uint32) []uint32 {
	var chain []uint32
	seen := map[uint32]bool{}
	cluster := start
	for cluster != 0 && !b.isEOC(cluster) && !seen[cluster] {
		seen[cluster] = true
		chain = append(chain, cluster)
		next, err := readFATEntry(r, b, cluster)
		if err != nil {
			break
		}
		cluster = next
	}
	return chain
}

func (d *Driver) walkEntries(ctx context.Context, dirIno int64, dirPath string, entries []dirEntry, sink mapper.Sink) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	for _, e := range entries {
		ino := d.nextIno
		d.nextIno++
		childPath := path.Join(dirPath, e.name)

		kind, extentKind := extentKindFor(e)
		atime, ctime, mtime := int64(e.accessDate.Unix()), int64(e.createTime.Unix()), int64(e.writeTime.Unix())
		size := int64(e.size)
		if err := sink.InsertInode(mapper.Inode{
			Ino: ino, Kind: kind, Path: "/" + childPath,
			ATime: &atime, CrTime: &ctime, MTime: &mtime, Size: &size,
		}); err != nil {
			return mapper.Wrap(mapper.ErrStore, "inserting inode", err)
		}
		if err := sink.InsertDentry(mapper.Dentry{DirIno: dirIno, Name: e.name, ChildIno: ino}); err != nil {
			return mapper.Wrap(mapper.ErrStore, "inserting dentry", err)
		}

		if err := d.emitClusterExtents(ino, e, extentKind, sink); err != nil {
			return err
		}

		if e.isDir() && e.firstCluster != 0 {
			children, err := d.readClusterChainDir(e.firstCluster)
			if err != nil {
				return mapper.Wrap(mapper.ErrCorruptStructure, "reading directory", err)
			}
			if err := d.walkEntries(ctx, ino, childPath, children, sink); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitClusterExtents coalesces e's cluster chain into merged extents,
// per the original mapper's own "lengthen while physically and
// logically contiguous" rule.
func (d *Driver) emitClusterExtents(ino int64, e dirEntry, kind mapper.ExtentKind, sink mapper.Sink) error {
	if e.firstCluster == 0 {
		return nil
	}
	co := coalescer.New(func(ex mapper.Extent) error { return sink.InsertExtent(ex) })
	for i, cluster := range clusterChain(d.f, d.b, e.firstCluster) {
		logical := int64(i) * d.b.clusterSize()
		raw := mapper.RawExtent{
			Ino:      ino,
			Physical: d.b.clusterOffset(cluster),
			Logical:  &logical,
			Length:   d.b.clusterSize(),
			Kind:     kind,
		}
		if err := co.Feed(raw); err != nil {
			return mapper.Wrap(mapper.ErrStore, "merging extents", err)
		}
	}
	return mapper.Wrap(mapper.ErrStore, "flushing extents", co.Flush())
}

// WalkMetadata synthesizes the /$metadata subtree: the boot sector,
// the primary and backup FAT copies, and the free cluster list,
// matching the original mapper's four metadata files exactly.
func (d *Driver) WalkMetadata(ctx context.Context, sink mapper.Sink) error {
	desc := metadata.Descriptor{
		HiddenFileOrder: []string{"boot_sector", "primary_fat", "backup_fat"},
		HiddenFiles: map[string][]metadata.Region{
			"boot_sector": {{Physical: 0, Length: d.b.clusterSize()}},
			"primary_fat": {{Physical: d.b.fatOffset(), Length: d.b.fatSizeBytes()}},
		},
	}
	if d.b.numFATs > 1 {
		desc.HiddenFiles["backup_fat"] = []metadata.Region{{Physical: d.b.backupFATOffset(), Length: d.b.fatSizeBytes()}}
	}

	free, err := d.freeRegions()
	if err != nil {
		return err
	}
	desc.Freespace = free

	return metadata.Synthesize(sink, desc)
}

func (d *Driver) freeRegions() ([]metadata.Region, error) {
	dataBytes := int64(d.b.totalSectors)*int64(d.b.bytesPerSector) - d.b.fatOffset() - int64(d.b.numFATs)*d.b.fatSizeBytes()
	clusterCount := uint32(dataBytes / d.b.clusterSize())

	var regions []metadata.Region
	var runStart uint32
	inRun := false
	for c := uint32(2); c < clusterCount+2; c++ {
		entry, err := readFATEntry(d.f, d.b, c)
		if err != nil {
			return nil, mapper.Wrap(mapper.ErrIO, "scanning FAT", err)
		}
		if entry == freeCluster {
			if !inRun {
				runStart, inRun = c, true
			}
			continue
		}
		if inRun {
			regions = append(regions, metadata.Region{
				Physical: d.b.clusterOffset(runStart),
				Length:   int64(c-runStart) * d.b.clusterSize(),
			})
			inRun = false
		}
	}
	if inRun {
		regions = append(regions, metadata.Region{
			Physical: d.b.clusterOffset(runStart),
			Length:   int64(clusterCount+2-runStart) * d.b.clusterSize(),
		})
	}
	return regions, nil
}

// Close releases the underlying file handle.
func (d *Driver) Close() error {
	return d.f.Close()
}

package ext

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/filemapper/filemapper/pkg/coalescer"
	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/metadata"
)

// Driver implements mapper.Driver for ext2/ext3/ext4, dispatching
// extent-tree vs. indirect-block data addressing per inode based on
// that inode's own EXTENTS flag, per §4.1.
type Driver struct {
	f         *os.File
	r         io.ReaderAt
	sb        *Superblock
	bgdt      []*BlockGroupDescriptor
	blockSize int64
	seen      map[int64]bool
	path      string
}

// Open reads and validates the superblock and block group descriptor
// table for device, returning a ready-to-walk Driver.
func Open(device string) (*Driver, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, mapper.Wrap(mapper.ErrIO, "opening device", err)
	}

	sb, err := readSuperblock(f)
	if err != nil {
		f.Close()
		return nil, mapper.Wrap(mapper.ErrNotAFileSystem, "reading superblock", err)
	}

	bgdt, err := readBGDT(f, sb)
	if err != nil {
		f.Close()
		return nil, mapper.Wrap(mapper.ErrCorruptStructure, "reading block group descriptor table", err)
	}

	return &Driver{
		f:         f,
		r:         f,
		sb:        sb,
		bgdt:      bgdt,
		blockSize: sb.blockSize(),
		seen:      make(map[int64]bool),
		path:      device,
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

	return mapper.FileSystemRecord{
		Path:          d.path,
		BlockSize:     d.blockSize,
		FragmentSize:  d.blockSize,
		TotalBytes:    int64(sb.TotalBlocks) * d.blockSize,
		FreeBytes:     int64(sb.UnallocatedBlocks) * d.blockSize,
		AvailBytes:    int64(sb.UnallocatedBlocks) * d.blockSize,
		TotalInodes:   int64(sb.TotalInodes),
		FreeInodes:    int64(sb.UnallocatedInodes),
		AvailInodes:   int64(sb.UnallocatedInodes),
		MaxNameLen:    255,
		Timestamp:     time.Now().UTC().Format("2006-01-02 15:04:05"),
		PathSeparator: "/",
	}, nil
}

// dirent mirrors the teacher's vdecompiler.Dirent wire struct.
type dirent struct {
	Inode   uint32
	Size    uint16
	NameLen uint8
	Type    uint8
}

func (d *Driver) readDirents(inode *Inode) ([]dirent, []string, error) {
	data, err := d.readInodeData(inode)
	if err != nil {
		return nil, nil, err
	}

	var inodes []dirent
	var names []string
	r := bytes.NewReader(data)
	for {
		var de dirent
		if err := binary.Read(r, binary.LittleEndian, &de); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("reading directory entry: %w", err)
		}
		nameLen := int(de.Size) - 8
		if nameLen < 0 {
			break
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			break
		}
		name := mapper.RecodeUTF8(string(nameBuf[:de.NameLen]))
		if name == "" || de.Inode == 0 || name == "." || name == ".." {
			continue
		}
		inodes = append(inodes, de)
		names = append(names, name)
	}
	return inodes, names, nil
}

// readInodeData reads the full logical byte stream of inode's data
// fork into memory (sufficient for directory blocks; file data is
// never read this way, only mapped).
func (d *Driver) readInodeData(inode *Inode) ([]byte, error) {
	var buf bytes.Buffer
	collect := func(raw mapper.RawExtent) error {
		data, err := d.readRange(raw.Physical, raw.Length)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil
	}

	if inode.isInline() {
		return inlineData(inode), nil
	}
	if inode.isExtents() {
		if err := d.walkExtentTree(0, inode.blockData(), mapper.ExtentDirectory, collect); err != nil {
			return nil, err
		}
	} else {
		if err := d.walkIndirectBlocks(0, inode, mapper.ExtentDirectory, collect); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (d *Driver) readRange(physical, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := d.r.ReadAt(buf, physical); err != nil {
		return nil, fmt.Errorf("reading data range: %w", err)
	}
	return buf, nil
}

func inlineData(inode *Inode) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, inode.DirectPointer)
	_ = binary.Write(buf, binary.LittleEndian, inode.SinglyIndirect)
	_ = binary.Write(buf, binary.LittleEndian, inode.DoublyIndirect)
	_ = binary.Write(buf, binary.LittleEndian, inode.TriplyIndirect)
	data := buf.Bytes()
	if int(inode.SizeLower) < len(data) {
		data = data[:inode.SizeLower]
	}
	return data
}

func (inode *Inode) blockData() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, inode.DirectPointer)
	_ = binary.Write(buf, binary.LittleEndian, inode.SinglyIndirect)
	_ = binary.Write(buf, binary.LittleEndian, inode.DoublyIndirect)
	_ = binary.Write(buf, binary.LittleEndian, inode.TriplyIndirect)
	return buf.Bytes()
}

// WalkTree traverses the root directory, emitting one inode and one
// dentry for every encountered file, directory, or symlink, and its
// coalesced data-fork extents.
func (d *Driver) WalkTree(ctx context.Context, sink mapper.Sink) error {
	return d.walkDir(ctx, rootDirInode, "/", sink)
}

func (d *Driver) walkDir(ctx context.Context, ino int64, dirPath string, sink mapper.Sink) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if d.seen[ino] {
		return nil
	}
	d.seen[ino] = true

	inode, err := readInode(d.r, d.sb, d.bgdt, ino)
	if err != nil {
		return mapper.Wrap(mapper.ErrIO, "reading inode", err)
	}

	if err := d.emitInode(ino, dirPath, inode, sink); err != nil {
		return err
	}

	if !inode.isDir() {
		return nil
	}

	entries, names, err := d.readDirents(inode)
	if err != nil {
		return mapper.Wrap(mapper.ErrCorruptStructure, "reading directory", err)
	}

	for i, de := range entries {
		childIno := int64(de.Inode)
		childPath := path.Join(dirPath, names[i])

		if err := sink.InsertDentry(mapper.Dentry{DirIno: ino, Name: names[i], ChildIno: childIno}); err != nil {
			return mapper.Wrap(mapper.ErrStore, "inserting dentry", err)
		}

		child, err := readInode(d.r, d.sb, d.bgdt, childIno)
		if err != nil {
			return mapper.Wrap(mapper.ErrIO, "reading inode", err)
		}

		if child.isDir() {
			if err := d.walkDir(ctx, childIno, childPath, sink); err != nil {
				return err
			}
			continue
		}
		if d.seen[childIno] {
			continue
		}
		d.seen[childIno] = true
		if err := d.emitInode(childIno, childPath, child, sink); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) emitInode(ino int64, p string, inode *Inode, sink mapper.Sink) error {
	kind := mapper.InodeFile
	extentKind := mapper.ExtentFile
	switch {
	case inode.isDir():
		kind, extentKind = mapper.InodeDirectory, mapper.ExtentDirectory
	case inode.isSymlink():
		kind, extentKind = mapper.InodeSymlink, mapper.ExtentSymlink
	}

	atime, crtime, ctime, mtime := int64(inode.LastAccessTime), int64(inode.CreationTime), int64(inode.ModificationTime), int64(inode.ModificationTime)
	size := inode.size()
	if err := sink.InsertInode(mapper.Inode{
		Ino: ino, Kind: kind, Path: p,
		ATime: &atime, CrTime: &crtime, CTime: &ctime, MTime: &mtime, Size: &size,
	}); err != nil {
		return mapper.Wrap(mapper.ErrStore, "inserting inode", err)
	}

	if inode.isInline() || inode.size() == 0 {
		return nil
	}

	c := coalescer.New(func(e mapper.Extent) error {
		return sink.InsertExtent(e)
	})
	emit := func(raw mapper.RawExtent) error { return c.Feed(raw) }

	if inode.isExtents() {
		if err := d.walkExtentTree(ino, inode.blockData(), extentKind, emit); err != nil {
			return mapper.Wrap(mapper.ErrCorruptStructure, "walking extent tree", err)
		}
	} else {
		if err := d.walkIndirectBlocks(ino, inode, extentKind, emit); err != nil {
			return mapper.Wrap(mapper.ErrCorruptStructure, "walking indirect blocks", err)
		}
	}
	return mapper.Wrap(mapper.ErrStore, "flushing extents", c.Flush())
}

// WalkMetadata synthesizes the /$metadata subtree: one directory per
// allocation group holding its superblock copy, block/inode bitmaps,
// and inode table region, plus volume-wide aggregates.
func (d *Driver) WalkMetadata(ctx context.Context, sink mapper.Sink) error {
	groups := len(d.bgdt)
	desc := metadata.Descriptor{
		Groups:         groups,
		AGSize:         int64(d.sb.BlocksPerGroup) * d.blockSize,
		GroupFileOrder: []string{"superblock", "descriptor", "block_bitmap", "inode_bitmap", "inodes"},
		PerGroup:       make([]map[string][]metadata.Region, groups),
	}

	var superblocks, blockBitmaps, inodeBitmaps, inodeTables []metadata.Region
	has64 := d.sb.has64Bit()

	for i, bg := range d.bgdt {
		group := map[string][]metadata.Region{}

		if i == 0 || d.sb.FeatureRoCompat&0x0001 != 0 {
			sbRegion := metadata.Region{Physical: int64(i) * int64(d.sb.BlocksPerGroup) * d.blockSize, Length: 1024}
			group["superblock"] = []metadata.Region{sbRegion}
			superblocks = append(superblocks, sbRegion)
		}

		bbRegion := metadata.Region{Physical: bg.blockBitmapBlock(has64) * d.blockSize, Length: d.blockSize}
		group["block_bitmap"] = []metadata.Region{bbRegion}
		blockBitmaps = append(blockBitmaps, bbRegion)

		ibRegion := metadata.Region{Physical: bg.inodeBitmapBlock(has64) * d.blockSize, Length: d.blockSize}
		group["inode_bitmap"] = []metadata.Region{ibRegion}
		inodeBitmaps = append(inodeBitmaps, ibRegion)

		itLength := int64(d.sb.InodesPerGroup) * int64(d.sb.inodeSize())
		itRegion := metadata.Region{Physical: bg.inodeTableBlock(has64) * d.blockSize, Length: itLength}
		group["inodes"] = []metadata.Region{itRegion}
		inodeTables = append(inodeTables, itRegion)

		desc.PerGroup[i] = group
	}

	desc.Superblocks = superblocks
	desc.BlockBitmaps = blockBitmaps
	desc.InodeBitmaps = inodeBitmaps
	desc.Inodes = inodeTables

	if d.sb.hasJournal() && d.sb.JournalInode != 0 {
		jInode, err := readInode(d.r, d.sb, d.bgdt, int64(d.sb.JournalInode))
		if err == nil {
			var regions []metadata.Region
			collect := func(raw mapper.RawExtent) error {
				regions = append(regions, metadata.Region{Physical: raw.Physical, Length: raw.Length})
				return nil
			}
			if jInode.isExtents() {
				_ = d.walkExtentTree(int64(d.sb.JournalInode), jInode.blockData(), mapper.ExtentMetadata, collect)
			} else {
				_ = d.walkIndirectBlocks(int64(d.sb.JournalInode), jInode, mapper.ExtentMetadata, collect)
			}
			desc.Journal = regions
		}
	}

	return metadata.Synthesize(sink, desc)
}

// Close releases the underlying file handle.
func (d *Driver) Close() error {
	return d.f.Close()
}

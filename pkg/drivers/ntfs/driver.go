package ntfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/filemapper/filemapper/pkg/coalescer"
	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/metadata"
)

// rootMFTRecord is the well-known MFT record number of the volume's
// root directory.
const rootMFTRecord = 5

// Driver implements mapper.Driver for an NTFS volume. Unlike FAT,
// NTFS's own MFT reference number is a stable on-disk inode number, so
// this driver uses it directly rather than synthesizing one.
type Driver struct {
	f     *os.File
	b     *bootSector
	mftRuns []run
	seen  map[uint64]bool
	path  string
}

// Open reads the boot sector and the $MFT's own base record (always
// found directly at the boot sector's MFT start cluster) to learn the
// full $MFT data-run map, returning a ready-to-walk Driver.
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

	mftRec, err := readMFTRecord(f, b.clusterOffset(b.mftLCN), b.recordSize)
	if err != nil {
		f.Close()
		return nil, mapper.Wrap(mapper.ErrNotAFileSystem, "reading $MFT base record", err)
	}

	var runs []run
	for _, a := range attributes(mftRec) {
		if a.typ == attrData && a.nonResident {
			runs = a.runs
			break
		}
	}
	if runs == nil {
		f.Close()
		return nil, mapper.Wrap(mapper.ErrNotAFileSystem, "reading $MFT base record", fmt.Errorf("no $DATA runlist"))
	}

	return &Driver{f: f, b: b, mftRuns: runs, seen: make(map[uint64]bool), path: device}, nil
}

// UUID returns nil: this driver does not decode the $Volume system
// file's object-ID attribute, so no stable volume UUID is available.
func (d *Driver) UUID() uuid.UUID { return uuid.Nil }

// VolumeStats returns the fs_t row for the opened volume.
func (d *Driver) VolumeStats() (mapper.FileSystemRecord, error) {
	total := int64(d.b.totalSectors) * int64(d.b.bytesPerSector)
	return mapper.FileSystemRecord{
		Path:          d.path,
		BlockSize:     d.b.clusterSize(),
		FragmentSize:  d.b.clusterSize(),
		TotalBytes:    total,
		FreeBytes:     0,
		AvailBytes:    0,
		TotalInodes:   0,
		FreeInodes:    0,
		AvailInodes:   0,
		MaxNameLen:    255,
		Timestamp:     time.Now().UTC().Format("2006-01-02 15:04:05"),
		PathSeparator: "/",
	}, nil
}

// readRecordAt reads and fixes up the MFT record numbered n, locating
// it within the $MFT's own (possibly fragmented) data-run map.
func (d *Driver) readRecordAt(n uint64) (*mftRecord, error) {
	streamOff := int64(n) * d.b.recordSize
	phys, ok := runlistPhysicalOffset(d.mftRuns, d.b.clusterSize(), streamOff)
	if !ok {
		return nil, fmt.Errorf("MFT record %d not mapped", n)
	}
	rec, err := readMFTRecord(d.f, phys, d.b.recordSize)
	if err != nil {
		return nil, err
	}
	if !rec.inUse() {
		return nil, fmt.Errorf("MFT record %d is not in use", n)
	}
	return rec, nil
}

func runlistPhysicalOffset(runs []run, clusterSize int64, streamOff int64) (int64, bool) {
	vcnWanted := streamOff / clusterSize
	within := streamOff % clusterSize
	for _, r := range runs {
		if r.sparse {
			continue
		}
		if vcnWanted >= r.vcn && vcnWanted < r.vcn+r.length {
			return r.lcn*clusterSize + (vcnWanted-r.vcn)*clusterSize + within, true
		}
	}
	return 0, false
}

// WalkTree traverses the root directory's $I30 index, emitting one
// inode and one dentry for every non-DOS-aliased file, directory, or
// reparse point it names.
func (d *Driver) WalkTree(ctx context.Context, sink mapper.Sink) error {
	if err := sink.InsertInode(mapper.Inode{Ino: rootMFTRecord, Kind: mapper.InodeDirectory, Path: "/"}); err != nil {
		return mapper.Wrap(mapper.ErrStore, "inserting root inode", err)
	}
	return d.walkDir(ctx, rootMFTRecord, "", sink)
}

func (d *Driver) walkDir(ctx context.Context, dirIno uint64, dirPath string, sink mapper.Sink) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if d.seen[dirIno] {
		return nil
	}
	d.seen[dirIno] = true

	rec, err := d.readRecordAt(dirIno)
	if err != nil {
		return mapper.Wrap(mapper.ErrIO, "reading MFT record", err)
	}

	entries, err := d.readDirIndex(rec)
	if err != nil {
		return mapper.Wrap(mapper.ErrCorruptStructure, "reading directory index", err)
	}

	for _, e := range entries {
		if e.name.nameType == fileNameDOS {
			continue // 8.3-only alias, the matching Win32 name carries the real entry
		}
		if e.name.name == "." || e.name.name == ".." || e.name.name == "" {
			continue
		}
		childIno := e.mftRef & 0x0000FFFFFFFFFFFF
		childPath := path.Join(dirPath, e.name.name)

		isDir := e.name.attrs&fileAttrDirectory != 0
		kind, extentKind := mapper.InodeFile, mapper.ExtentFile
		if isDir {
			kind, extentKind = mapper.InodeDirectory, mapper.ExtentDirectory
		}

		if err := sink.InsertDentry(mapper.Dentry{DirIno: int64(dirIno), Name: e.name.name, ChildIno: int64(childIno)}); err != nil {
			return mapper.Wrap(mapper.ErrStore, "inserting dentry", err)
		}

		if isDir {
			if d.seen[childIno] {
				continue
			}
			if err := d.emitPlaceholder(childIno, childPath, kind, sink); err != nil {
				return err
			}
			if err := d.walkDir(ctx, childIno, childPath, sink); err != nil {
				return err
			}
			continue
		}

		if d.seen[childIno] {
			continue
		}
		d.seen[childIno] = true
		if err := d.emitFile(childIno, childPath, kind, extentKind, e.name, sink); err != nil {
			return err
		}
	}
	return nil
}

// emitPlaceholder inserts a directory's own inode row ahead of
// recursing into it, reading its record for the timestamps of its
// first non-DOS $FILE_NAME attribute. The row carries no size.
func (d *Driver) emitPlaceholder(ino uint64, p string, kind mapper.InodeKind, sink mapper.Sink) error {
	rec, err := d.readRecordAt(ino)
	if err != nil {
		return mapper.Wrap(mapper.ErrIO, "reading MFT record", err)
	}
	var crt, mt, ct, at int64
	for _, a := range attributes(rec) {
		if a.typ == attrFileName {
			if fn, ok := decodeFileName(a.value); ok && fn.nameType != fileNameDOS {
				crt, mt, ct, at = fn.crTime.Unix(), fn.mTime.Unix(), fn.cTime.Unix(), fn.aTime.Unix()
				break
			}
		}
	}
	return mapper.Wrap(mapper.ErrStore, "inserting inode", sink.InsertInode(mapper.Inode{
		Ino: int64(ino), Kind: kind, Path: p,
		ATime: &at, CrTime: &crt, CTime: &ct, MTime: &mt,
	}))
}

func (d *Driver) emitFile(ino uint64, p string, kind mapper.InodeKind, extentKind mapper.ExtentKind, fn fileNameAttr, sink mapper.Sink) error {
	crt, mt, ct, at := fn.crTime.Unix(), fn.mTime.Unix(), fn.cTime.Unix(), fn.aTime.Unix()
	size := int64(fn.realSize)
	if err := sink.InsertInode(mapper.Inode{
		Ino: int64(ino), Kind: kind, Path: p,
		ATime: &at, CrTime: &crt, CTime: &ct, MTime: &mt, Size: &size,
	}); err != nil {
		return mapper.Wrap(mapper.ErrStore, "inserting inode", err)
	}

	rec, err := d.readRecordAt(ino)
	if err != nil {
		return mapper.Wrap(mapper.ErrIO, "reading MFT record", err)
	}

	co := coalescer.New(func(e mapper.Extent) error { return sink.InsertExtent(e) })
	for _, a := range attributes(rec) {
		if a.typ != attrData || a.name != "" {
			continue // only the unnamed $DATA stream backs the primary file content
		}
		if !a.nonResident {
			continue // resident data lives inside the MFT record itself, not as a device extent
		}
		for _, r := range a.runs {
			if r.sparse {
				continue
			}
			logical := r.vcn * d.b.clusterSize()
			raw := mapper.RawExtent{
				Ino:      int64(ino),
				Physical: r.lcn * d.b.clusterSize(),
				Logical:  &logical,
				Length:   r.length * d.b.clusterSize(),
				Kind:     extentKind,
			}
			if err := co.Feed(raw); err != nil {
				return mapper.Wrap(mapper.ErrStore, "merging extents", err)
			}
		}
	}
	return mapper.Wrap(mapper.ErrStore, "flushing extents", co.Flush())
}

// readDirIndex decodes a directory's full $I30 entry set: the inline
// entries in $INDEX_ROOT, plus every entry found by flat-scanning
// $INDEX_ALLOCATION's INDX buffers when the directory is too large for
// $INDEX_ROOT alone.
func (d *Driver) readDirIndex(rec *mftRecord) ([]indexEntry, error) {
	var entries []indexEntry
	var indexRecordSize int64
	var allocRuns []run

	for _, a := range attributes(rec) {
		switch a.typ {
		case attrIndexRoot:
			if len(a.value) >= 12 {
				indexRecordSize = int64(uint32FromLE(a.value[8:12]))
			}
			entries = append(entries, indexRootEntries(a.value)...)
		case attrIndexAlloc:
			allocRuns = a.runs
		}
	}

	if allocRuns != nil && indexRecordSize > 0 {
		data, err := materializeRuns(d.f, d.b.clusterSize(), allocRuns)
		if err != nil {
			return nil, err
		}
		entries = append(entries, indexAllocationEntries(data, indexRecordSize)...)
	}
	return entries, nil
}

func uint32FromLE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// materializeRuns reads every non-sparse run's bytes into one
// contiguous buffer sized to the runlist's logical extent, leaving
// sparse spans zeroed.
func materializeRuns(r readerAt, clusterSize int64, runs []run) ([]byte, error) {
	var total int64
	for _, rn := range runs {
		if end := (rn.vcn + rn.length) * clusterSize; end > total {
			total = end
		}
	}
	buf := make([]byte, total)
	for _, rn := range runs {
		if rn.sparse {
			continue
		}
		n := rn.length * clusterSize
		if _, err := r.ReadAt(buf[rn.vcn*clusterSize:rn.vcn*clusterSize+n], rn.lcn*clusterSize); err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
	}
	return buf, nil
}

// WalkMetadata synthesizes the /$metadata subtree: the boot sector and
// the $MFT's own extent map. No free-space file is synthesized: this
// driver does not read $Bitmap.
func (d *Driver) WalkMetadata(ctx context.Context, sink mapper.Sink) error {
	desc := metadata.Descriptor{
		HiddenFileOrder: []string{"boot_sector", "mft"},
		HiddenFiles: map[string][]metadata.Region{
			"boot_sector": {{Physical: 0, Length: 512}},
		},
	}

	var mftRegions []metadata.Region
	for _, r := range d.mftRuns {
		if r.sparse {
			continue
		}
		mftRegions = append(mftRegions, metadata.Region{
			Physical: r.lcn * d.b.clusterSize(),
			Length:   r.length * d.b.clusterSize(),
		})
	}
	desc.HiddenFiles["mft"] = mftRegions

	return metadata.Synthesize(sink, desc)
}

// Close releases the underlying file handle.
func (d *Driver) Close() error {
	return d.f.Close()
}

package generic

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/filemapper/filemapper/pkg/coalescer"
	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/metadata"
)

// Driver implements mapper.Driver over a live, mounted directory tree,
// rather than a raw block device: it walks the tree with the standard
// library and asks the kernel for each file's block map, so it works
// on any file system the kernel supports but cannot synthesize
// metadata files, since it never touches on-disk structures directly.
type Driver struct {
	root      string
	rootDev   uint64
	dirInoAt  map[string]int64
	seen      map[uint64]bool
	rootIno   int64
	extents   ExtentSource
}

// Open stats root (which must already be a mounted directory, not a
// device node) and returns a ready-to-walk Driver.
func Open(root string) (*Driver, error) {
	fi, err := os.Lstat(root)
	if err != nil {
		return nil, mapper.Wrap(mapper.ErrIO, "statting root", err)
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, mapper.Wrap(mapper.ErrNotAFileSystem, "statting root", fmt.Errorf("no syscall.Stat_t for %s", root))
	}
	if !fi.IsDir() {
		return nil, mapper.Wrap(mapper.ErrNotAFileSystem, "root is not a directory", fmt.Errorf("%s is not a directory", root))
	}

	return &Driver{
		root:     root,
		rootDev:  uint64(st.Dev),
		rootIno:  int64(st.Ino),
		dirInoAt: map[string]int64{root: int64(st.Ino)},
		seen:     map[uint64]bool{},
		extents:  kernelFiemapSource{},
	}, nil
}

// UUID returns nil: a live mounted tree carries no single discoverable
// file system UUID through this driver's stat-only view.
func (d *Driver) UUID() uuid.UUID { return uuid.Nil }

// VolumeStats reports the statvfs-derived fs_t row for root's mount.
func (d *Driver) VolumeStats() (mapper.FileSystemRecord, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(d.root, &st); err != nil {
		return mapper.FileSystemRecord{}, mapper.Wrap(mapper.ErrIO, "statfs", err)
	}
	blockSize := int64(st.Bsize)
	return mapper.FileSystemRecord{
		Path:          d.root,
		BlockSize:     blockSize,
		FragmentSize:  blockSize,
		TotalBytes:    int64(st.Blocks) * blockSize,
		FreeBytes:     int64(st.Bfree) * blockSize,
		AvailBytes:    int64(st.Bavail) * blockSize,
		TotalInodes:   int64(st.Files),
		FreeInodes:    int64(st.Ffree),
		AvailInodes:   int64(st.Ffree),
		MaxNameLen:    int64(st.Namelen),
		Timestamp:     time.Now().UTC().Format("2006-01-02 15:04:05"),
		PathSeparator: "/",
	}, nil
}

// WalkTree walks root with the standard library's directory walker
// (the Go analogue of nftw's FTW_PHYS|FTW_MOUNT), skipping anything
// that is neither a regular file nor a directory and refusing to cross
// into a different mounted file system, exactly as the original
// fiemap-based mapper does.
func (d *Driver) WalkTree(ctx context.Context, sink mapper.Sink) error {
	if err := sink.InsertInode(mapper.Inode{Ino: d.rootIno, Kind: mapper.InodeDirectory, Path: "/"}); err != nil {
		return mapper.Wrap(mapper.ErrStore, "inserting root inode", err)
	}
	if err := d.emitExtents(d.rootIno, d.root, mapper.ExtentDirectory, sink); err != nil {
		return err
	}

	return filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entry: skip it, matching nftw's tolerance of stat failures
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == d.root {
			return nil
		}

		fi, err := os.Lstat(p)
		if err != nil {
			return nil
		}
		st, ok := fi.Sys().(*syscall.Stat_t)
		if !ok {
			return nil
		}

		if entry.IsDir() && uint64(st.Dev) != d.rootDev {
			return filepath.SkipDir // do not cross into another mounted file system
		}
		if !entry.Type().IsRegular() && !entry.IsDir() {
			return nil // symlinks, devices, sockets and the like carry no block map
		}

		ino := int64(st.Ino)
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return nil
		}
		relPath := "/" + filepath.ToSlash(rel)

		parentIno, ok := d.dirInoAt[filepath.Dir(p)]
		if !ok {
			parentIno = d.rootIno
		}
		if err := sink.InsertDentry(mapper.Dentry{DirIno: parentIno, Name: entry.Name(), ChildIno: ino}); err != nil {
			return mapper.Wrap(mapper.ErrStore, "inserting dentry", err)
		}

		if entry.IsDir() {
			d.dirInoAt[p] = ino
		}
		if d.seen[uint64(st.Ino)] {
			return nil
		}
		d.seen[uint64(st.Ino)] = true

		kind, extentKind := mapper.InodeFile, mapper.ExtentFile
		if entry.IsDir() {
			kind, extentKind = mapper.InodeDirectory, mapper.ExtentDirectory
		}
		atime, mtime := statTimes(st)
		size := fi.Size()
		if err := sink.InsertInode(mapper.Inode{
			Ino: ino, Kind: kind, Path: relPath,
			ATime: &atime, MTime: &mtime, Size: &size,
		}); err != nil {
			return mapper.Wrap(mapper.ErrStore, "inserting inode", err)
		}

		return d.emitExtents(ino, p, extentKind, sink)
	})
}

func (d *Driver) emitExtents(ino int64, path string, kind mapper.ExtentKind, sink mapper.Sink) error {
	extents, err := d.extents.Extents(path)
	if err != nil {
		return nil // many file systems refuse FIEMAP on directories or special files; skip silently
	}

	co := coalescer.New(func(e mapper.Extent) error { return sink.InsertExtent(e) })
	for _, e := range extents {
		if e.flags&fiemapExtentDataInline != 0 {
			continue // embedded in metadata, no device-relative block to record
		}
		logical := int64(e.logical)
		raw := mapper.RawExtent{
			Ino:       ino,
			Physical:  int64(e.physical),
			Logical:   &logical,
			Length:    int64(e.length),
			Kind:      kind,
			Unwritten: e.flags&fiemapExtentUnwritten != 0,
		}
		if err := co.Feed(raw); err != nil {
			return mapper.Wrap(mapper.ErrStore, "merging extents", err)
		}
	}
	return mapper.Wrap(mapper.ErrStore, "flushing extents", co.Flush())
}

// WalkMetadata writes only the empty /$metadata skeleton ($metadata,
// groups and hidden_files directories) with no files or extents under
// it, since this driver never reads the underlying file system's own
// superblock or allocation structures.
func (d *Driver) WalkMetadata(ctx context.Context, sink mapper.Sink) error {
	return metadata.Synthesize(sink, metadata.Descriptor{})
}

// Close is a no-op: Driver holds no open handles between calls.
func (d *Driver) Close() error { return nil }

func statTimes(st *syscall.Stat_t) (atime, mtime int64) {
	return st.Atim.Sec, st.Mtim.Sec
}

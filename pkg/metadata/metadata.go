// Package metadata synthesizes the virtual /$metadata tree documenting
// where each file-system-wide metadata object lives on disk (§4.4). It
// is driven entirely by a Descriptor an FS driver builds from its own
// on-disk structures; nothing here knows about ext, xfs, fat, or ntfs.
package metadata

import (
	"fmt"

	"github.com/filemapper/filemapper/pkg/mapper"
	"github.com/filemapper/filemapper/pkg/rangemap"
)

// Fixed synthetic inode numbers, assigned the same way for every FS
// type so that two mappings of different volumes of the same FS
// family produce identical synthetic identifiers.
const (
	InoRoot         int64 = -1
	InoGroupsDir    int64 = -2
	InoHiddenDir    int64 = -3
	InoSuperblocks  int64 = -4
	InoBlockBitmaps int64 = -5
	InoInodeBitmaps int64 = -6
	InoInodes       int64 = -7
	InoFreespace    int64 = -8
	InoJournal      int64 = -9

	firstDescendingIno int64 = -100
)

// Region is one physical byte range a synthetic file owns.
type Region struct {
	Physical int64
	Length   int64
}

// Descriptor is what an FS driver supplies to Synthesize.
type Descriptor struct {
	Groups int
	// AGSize is the allocation-group size in bytes. Synthesize does not
	// read it: coalesce sizes each range bitmap from the largest
	// physical offset + length among the regions it is given.
	AGSize int64

	// GroupFileOrder controls which per-group synthetic file names are
	// considered, and in what order they appear under groups/<ag>/.
	GroupFileOrder []string
	// PerGroup[g][name] holds the regions backing that per-group file;
	// an absent or empty entry omits the file for that group (e.g. a
	// btree feature not present on this volume).
	PerGroup []map[string][]Region

	// HiddenFileOrder/HiddenFiles describe per-FS singleton files
	// living under hidden_files/ (badblocks, quota, resize, replica, a
	// second journal copy, ...).
	HiddenFileOrder []string
	HiddenFiles     map[string][]Region

	Superblocks  []Region
	BlockBitmaps []Region
	InodeBitmaps []Region
	Inodes       []Region
	Freespace    []Region
	Journal      []Region
}

// treeNodeNames lists the per-group file names that represent b-tree
// internal/leaf blocks rather than flat metadata regions (§4.4's XFS
// btree list); everything else in GroupFileOrder is plain metadata.
var treeNodeNames = map[string]bool{
	"bnobt": true, "cntbt": true, "inobt": true,
	"finobt": true, "rmapbt": true, "refcountbt": true,
}

// Synthesize walks d and emits the full /$metadata subtree to sink: one
// InjectMetadata call per synthetic inode/dentry pair, and one
// InsertExtent call per coalesced region.
func Synthesize(sink mapper.Sink, d Descriptor) error {
	next := firstDescendingIno

	if err := sink.InjectMetadata(0, "$metadata", InoRoot, mapper.InodeDirectory); err != nil {
		return err
	}
	if err := sink.InjectMetadata(InoRoot, "groups", InoGroupsDir, mapper.InodeDirectory); err != nil {
		return err
	}
	if err := sink.InjectMetadata(InoRoot, "hidden_files", InoHiddenDir, mapper.InodeDirectory); err != nil {
		return err
	}

	volumeFiles := []struct {
		name    string
		ino     int64
		regions []Region
		kind    mapper.ExtentKind
	}{
		{"superblocks", InoSuperblocks, d.Superblocks, mapper.ExtentMetadata},
		{"block_bitmaps", InoBlockBitmaps, d.BlockBitmaps, mapper.ExtentMetadata},
		{"inode_bitmaps", InoInodeBitmaps, d.InodeBitmaps, mapper.ExtentMetadata},
		{"inodes", InoInodes, d.Inodes, mapper.ExtentMetadata},
		{"freespace", InoFreespace, d.Freespace, mapper.ExtentFreespace},
		{"journal", InoJournal, d.Journal, mapper.ExtentMetadata},
	}
	for _, f := range volumeFiles {
		if len(f.regions) == 0 {
			continue
		}
		if err := emitFile(sink, InoRoot, f.name, f.ino, f.regions, f.kind); err != nil {
			return err
		}
	}

	for _, name := range d.HiddenFileOrder {
		regions := d.HiddenFiles[name]
		if len(regions) == 0 {
			continue
		}
		ino := next
		next--
		if err := emitFile(sink, InoHiddenDir, name, ino, regions, mapper.ExtentMetadata); err != nil {
			return err
		}
	}

	for ag := 0; ag < d.Groups; ag++ {
		groupIno := next
		next--

		groupName := fmt.Sprintf("%04d", ag)
		if err := sink.InjectMetadata(InoGroupsDir, groupName, groupIno, mapper.InodeDirectory); err != nil {
			return err
		}

		var group map[string][]Region
		if ag < len(d.PerGroup) {
			group = d.PerGroup[ag]
		}

		for _, name := range d.GroupFileOrder {
			regions := group[name]
			if len(regions) == 0 {
				continue
			}
			ino := next
			next--

			kind := mapper.ExtentMetadata
			if treeNodeNames[name] {
				kind = mapper.ExtentTreeNode
			}
			if err := emitFile(sink, groupIno, name, ino, regions, kind); err != nil {
				return err
			}
		}
	}

	return nil
}

func emitFile(sink mapper.Sink, parent int64, name string, ino int64, regions []Region, kind mapper.ExtentKind) error {
	if err := sink.InjectMetadata(parent, name, ino, mapper.InodeMetadata); err != nil {
		return err
	}
	for _, r := range coalesce(regions) {
		ext := mapper.Extent{
			Ino:      ino,
			Physical: r.Physical,
			Length:   r.Length,
			Kind:     kind,
		}
		if err := sink.InsertExtent(ext); err != nil {
			return err
		}
	}
	return nil
}

// coalesce merges overlapping or physically-adjacent regions via a
// throwaway range bitmap, per §4.4's "coalesced via a per-AG range
// bitmap into aggregate extents" rule.
func coalesce(regions []Region) []Region {
	if len(regions) == 0 {
		return nil
	}

	ceiling := int64(0)
	for _, r := range regions {
		if end := r.Physical + r.Length; end > ceiling {
			ceiling = end
		}
	}

	bitmap := rangemap.New(1, []int64{ceiling}, 1)
	for _, r := range regions {
		bitmap.Set(0, r.Physical, r.Length, rangemap.InUse)
	}

	var out []Region
	bitmap.Iterate(0, func(start, length int64, tag rangemap.Tag) bool {
		if tag == rangemap.InUse {
			out = append(out, Region{Physical: start, Length: length})
		}
		return true
	})
	return out
}

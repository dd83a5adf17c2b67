package metadata

import (
	"testing"

	"github.com/filemapper/filemapper/pkg/mapper"
)

type fakeSink struct {
	inodes  map[int64]mapper.InodeKind
	dentry  []mapper.Dentry
	extents []mapper.Extent
}

func newFakeSink() *fakeSink {
	return &fakeSink{inodes: make(map[int64]mapper.InodeKind)}
}

func (f *fakeSink) InsertInode(i mapper.Inode) error { return nil }
func (f *fakeSink) InsertDentry(d mapper.Dentry) error {
	f.dentry = append(f.dentry, d)
	return nil
}
func (f *fakeSink) InsertExtent(e mapper.Extent) error {
	f.extents = append(f.extents, e)
	return nil
}
func (f *fakeSink) InjectMetadata(parent int64, name string, ino int64, kind mapper.InodeKind) error {
	f.inodes[ino] = kind
	if parent != 0 || name != "$metadata" {
		f.dentry = append(f.dentry, mapper.Dentry{DirIno: parent, Name: name, ChildIno: ino})
	}
	return nil
}

func TestSynthesizeCreatesFixedSkeleton(t *testing.T) {
	sink := newFakeSink()
	d := Descriptor{Groups: 0}

	if err := Synthesize(sink, d); err != nil {
		t.Fatal(err)
	}

	for _, ino := range []int64{InoRoot, InoGroupsDir, InoHiddenDir} {
		if _, ok := sink.inodes[ino]; !ok {
			t.Errorf("expected synthetic inode %d to be injected", ino)
		}
	}
}

func TestSynthesizeOmitsEmptyVolumeFiles(t *testing.T) {
	sink := newFakeSink()
	d := Descriptor{Groups: 0}

	if err := Synthesize(sink, d); err != nil {
		t.Fatal(err)
	}

	if _, ok := sink.inodes[InoJournal]; ok {
		t.Errorf("journal has no regions and should not have been injected")
	}
}

func TestSynthesizeGroupsGetDescendingInoAndDirectories(t *testing.T) {
	sink := newFakeSink()
	d := Descriptor{
		Groups:         2,
		AGSize:         1 << 20,
		GroupFileOrder: []string{"superblock", "inobt"},
		PerGroup: []map[string][]Region{
			{"superblock": {{Physical: 0, Length: 1024}}},
			{"superblock": {{Physical: 2048, Length: 1024}}, "inobt": {{Physical: 4096, Length: 4096}}},
		},
	}

	if err := Synthesize(sink, d); err != nil {
		t.Fatal(err)
	}

	seen := map[int64]bool{}
	for ino := range sink.inodes {
		if ino < 0 {
			if seen[ino] {
				t.Fatalf("synthetic inode %d reused", ino)
			}
			seen[ino] = true
		}
	}

	var groupInos []int64
	for _, de := range sink.dentry {
		if de.DirIno == InoGroupsDir {
			groupInos = append(groupInos, de.ChildIno)
			if sink.inodes[de.ChildIno] != mapper.InodeDirectory {
				t.Errorf("group %q should be injected as a directory", de.Name)
			}
		}
	}
	if len(groupInos) != 2 || groupInos[0] > firstDescendingIno || groupInos[1] >= groupInos[0] {
		t.Errorf("expected two group directories with descending synthetic inodes, got %v", groupInos)
	}

	foundTreeNode := false
	for _, e := range sink.extents {
		if e.Kind == mapper.ExtentTreeNode {
			foundTreeNode = true
		}
	}
	if !foundTreeNode {
		t.Errorf("expected inobt extent to be tagged ExtentTreeNode")
	}
}

func TestSynthesizeCoalescesAdjacentRegions(t *testing.T) {
	sink := newFakeSink()
	d := Descriptor{
		Superblocks: []Region{
			{Physical: 0, Length: 512},
			{Physical: 512, Length: 512},
			{Physical: 2048, Length: 512},
		},
	}

	if err := Synthesize(sink, d); err != nil {
		t.Fatal(err)
	}

	if len(sink.extents) != 2 {
		t.Fatalf("expected the two contiguous regions to coalesce into one extent (2 total), got %d", len(sink.extents))
	}
}

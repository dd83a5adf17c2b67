package generic

import (
	"testing"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// fakeExtentSource returns a canned extent map per path, standing in
// for a real FS_IOC_FIEMAP ioctl.
type fakeExtentSource map[string][]fiemapExtent

func (f fakeExtentSource) Extents(path string) ([]fiemapExtent, error) {
	return f[path], nil
}

func TestEmitExtentsCoalescesAndSkipsInline(t *testing.T) {
	d := &Driver{extents: fakeExtentSource{
		"/f": {
			{logical: 0, physical: 4096, length: 4096},
			{logical: 4096, physical: 8192, length: 4096, flags: fiemapExtentLast},
			{logical: 8192, physical: 99999, length: 10, flags: fiemapExtentDataInline},
		},
	}}

	var got []mapper.Extent
	sink := &fakeSink{onExtent: func(e mapper.Extent) error {
		got = append(got, e)
		return nil
	}}

	if err := d.emitExtents(7, "/f", mapper.ExtentFile, sink); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the two adjacent extents to merge into one, got %d", len(got))
	}
	if got[0].Length != 8192 {
		t.Errorf("merged length: got %d, want 8192", got[0].Length)
	}
}

type fakeSink struct {
	onExtent func(mapper.Extent) error
}

func (s *fakeSink) InsertInode(mapper.Inode) error   { return nil }
func (s *fakeSink) InsertDentry(mapper.Dentry) error { return nil }
func (s *fakeSink) InsertExtent(e mapper.Extent) error {
	if s.onExtent != nil {
		return s.onExtent(e)
	}
	return nil
}
func (s *fakeSink) InjectMetadata(parent int64, name string, ino int64, kind mapper.InodeKind) error {
	return nil
}

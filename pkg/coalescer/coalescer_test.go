package coalescer

import (
	"testing"

	"github.com/filemapper/filemapper/pkg/mapper"
)

func off(v int64) *int64 { return &v }

func TestCoalescerMergesContiguousRuns(t *testing.T) {

	var got []mapper.Extent
	c := New(func(e mapper.Extent) error {
		got = append(got, e)
		return nil
	})

	if err := c.Feed(mapper.RawExtent{Ino: 5, Physical: 0, Logical: off(0), Length: 4096, Kind: mapper.ExtentFile}); err != nil {
		t.Fatal(err)
	}
	if err := c.Feed(mapper.RawExtent{Ino: 5, Physical: 4096, Logical: off(4096), Length: 4096, Kind: mapper.ExtentFile}); err != nil {
		t.Fatal(err)
	}
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("expected one merged extent, got %d", len(got))
	}
	if got[0].Length != 8192 {
		t.Errorf("expected merged length 8192, got %d", got[0].Length)
	}
	if got[0].Physical != 0 {
		t.Errorf("expected merged physical offset 0, got %d", got[0].Physical)
	}

}

func TestCoalescerDoesNotMergeAcrossHole(t *testing.T) {

	var got []mapper.Extent
	c := New(func(e mapper.Extent) error {
		got = append(got, e)
		return nil
	})

	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: 0, Logical: off(0), Length: 4096, Kind: mapper.ExtentFile})
	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: 8192, Logical: off(1 << 20), Length: 4096, Kind: mapper.ExtentFile})
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected two extents either side of the hole, got %d", len(got))
	}

}

func TestCoalescerNeverMergesDataInline(t *testing.T) {

	var got []mapper.Extent
	c := New(func(e mapper.Extent) error {
		got = append(got, e)
		return nil
	})

	flags := uint32(mapper.FlagDataInline)
	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: 0, Logical: off(0), Length: 60, Flags: flags, Kind: mapper.ExtentFile})
	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: 60, Logical: off(60), Length: 60, Flags: flags, Kind: mapper.ExtentFile})
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("data-inline extents must never merge, got %d rows", len(got))
	}

}

func TestCoalescerRespectsLengthCeiling(t *testing.T) {

	var got []mapper.Extent
	c := New(func(e mapper.Extent) error {
		got = append(got, e)
		return nil
	})

	half := int64(mapper.MaxExtentLength/2 + 1)
	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: 0, Logical: off(0), Length: half, Kind: mapper.ExtentFile})
	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: half, Logical: off(half), Length: half, Kind: mapper.ExtentFile})
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected the ceiling to force a split into two extents, got %d", len(got))
	}

}

func TestCoalescerSplitsOnStateChange(t *testing.T) {

	var got []mapper.Extent
	c := New(func(e mapper.Extent) error {
		got = append(got, e)
		return nil
	})

	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: 0, Logical: off(0), Length: 4096, Kind: mapper.ExtentFile})
	_ = c.Feed(mapper.RawExtent{Ino: 1, Physical: 4096, Logical: off(4096), Length: 4096, Kind: mapper.ExtentFile, Unwritten: true})
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected unwritten-state change to break the merge, got %d", len(got))
	}

}

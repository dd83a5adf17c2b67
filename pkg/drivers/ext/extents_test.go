package ext

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// memDevice is a trivial io.ReaderAt backed by an in-memory block map,
// used so extent/indirect-block walking tests don't need a real file.
type memDevice struct {
	blockSize int64
	blocks    map[int64][]byte
}

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	block := off / m.blockSize
	data, ok := m.blocks[block]
	if !ok {
		data = make([]byte, m.blockSize)
	}
	n := copy(p, data)
	return n, nil
}

func newTestDriver(blockSize int64) (*Driver, *memDevice) {
	dev := &memDevice{blockSize: blockSize, blocks: map[int64][]byte{}}
	d := &Driver{r: dev, blockSize: blockSize}
	return d, dev
}

func leafExtentTreeBlock(entries []ext4Extent) []byte {
	buf := new(bytes.Buffer)
	hdr := ext4ExtentHeader{Magic: extentHeaderMagic, Entries: uint16(len(entries)), Max: 4, Depth: 0}
	binary.Write(buf, binary.LittleEndian, hdr)
	for _, e := range entries {
		binary.Write(buf, binary.LittleEndian, e)
	}
	return buf.Bytes()
}

func TestWalkExtentTreeSingleLeaf(t *testing.T) {
	d, _ := newTestDriver(4096)

	data := leafExtentTreeBlock([]ext4Extent{
		{Block: 0, Len: 4, Lo: 100, Hi: 0},
	})

	var got []mapper.RawExtent
	err := d.walkExtentTree(7, data, mapper.ExtentFile, func(r mapper.RawExtent) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one raw extent, got %d", len(got))
	}
	if got[0].Physical != 100*4096 {
		t.Errorf("expected physical offset %d, got %d", 100*4096, got[0].Physical)
	}
	if got[0].Length != 4*4096 {
		t.Errorf("expected length %d, got %d", 4*4096, got[0].Length)
	}
	if got[0].Unwritten {
		t.Errorf("a length under 32768 blocks should not be flagged unwritten")
	}
}

func TestWalkExtentTreeUnwrittenFlag(t *testing.T) {
	d, _ := newTestDriver(4096)

	data := leafExtentTreeBlock([]ext4Extent{
		{Block: 0, Len: 32768 + 10, Lo: 5, Hi: 0},
	})

	var got []mapper.RawExtent
	err := d.walkExtentTree(7, data, mapper.ExtentFile, func(r mapper.RawExtent) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].Unwritten {
		t.Errorf("a length encoded above 32768 should be decoded as an unwritten extent")
	}
	if got[0].Length != 10*4096 {
		t.Errorf("expected the unwritten length bias to be subtracted, got %d", got[0].Length)
	}
}

func TestWalkExtentTreeRejectsBadMagic(t *testing.T) {
	d, _ := newTestDriver(4096)
	data := make([]byte, 12)

	err := d.walkExtentTree(7, data, mapper.ExtentFile, func(r mapper.RawExtent) error { return nil })
	if err == nil {
		t.Fatal("expected an error for a block with no extent header magic")
	}
}

func TestWalkIndirectBlocksDirectPointers(t *testing.T) {
	d, _ := newTestDriver(4096)

	inode := &Inode{}
	inode.DirectPointer[0] = 10
	inode.DirectPointer[1] = 11
	inode.DirectPointer[2] = 0 // hole

	var got []mapper.RawExtent
	err := d.walkIndirectBlocks(3, inode, mapper.ExtentFile, func(r mapper.RawExtent) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 populated direct pointers to be emitted, got %d", len(got))
	}
	if *got[0].Logical != 0 || *got[1].Logical != 4096 {
		t.Errorf("expected the two populated pointers at logical offsets 0 and 4096")
	}
}

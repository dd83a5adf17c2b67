package ntfs

import "testing"

func TestDecodeRunlistSingleRun(t *testing.T) {
	// header 0x21: 1-byte length, 2-byte offset; length=16, LCN delta=+1000.
	data := []byte{0x21, 16, 0xE8, 0x03, 0x00}
	runs := decodeRunlist(data, 0)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].length != 16 {
		t.Errorf("length: got %d, want 16", runs[0].length)
	}
	if runs[0].lcn != 1000 {
		t.Errorf("lcn: got %d, want 1000", runs[0].lcn)
	}
	if runs[0].sparse {
		t.Errorf("expected a non-sparse run")
	}
}

func TestDecodeRunlistSparseThenMapped(t *testing.T) {
	// First run: sparse (offset field size 0), length=5.
	// Second run: length=10, LCN delta=+200 from an implicit base of 0.
	data := []byte{
		0x01, 5, // header 0x01: length=1 byte, offset=0 bytes (sparse)
		0x21, 10, 0xC8, 0x00, // header 0x21: length=1 byte, offset=2 bytes, delta=200
	}
	runs := decodeRunlist(data, 0)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if !runs[0].sparse {
		t.Errorf("expected first run to be sparse")
	}
	if runs[1].vcn != 5 {
		t.Errorf("second run vcn: got %d, want 5 (after the 5-cluster hole)", runs[1].vcn)
	}
	if runs[1].lcn != 200 {
		t.Errorf("second run lcn: got %d, want 200", runs[1].lcn)
	}
}

func TestReadIntLENegativeDelta(t *testing.T) {
	// -1 encoded as a single two's-complement byte.
	got := readIntLE([]byte{0xFF})
	if got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}

func TestRunlistPhysicalOffset(t *testing.T) {
	runs := []run{{vcn: 0, lcn: 100, length: 4}, {vcn: 4, lcn: 0, length: 2, sparse: true}, {vcn: 6, lcn: 300, length: 10}}
	const clusterSize = 4096

	phys, ok := runlistPhysicalOffset(runs, clusterSize, 2*clusterSize+10)
	if !ok {
		t.Fatal("expected an offset within the first run")
	}
	if want := 102*clusterSize + 10; phys != int64(want) {
		t.Errorf("got %d, want %d", phys, want)
	}

	_, ok = runlistPhysicalOffset(runs, clusterSize, 4*clusterSize)
	if ok {
		t.Errorf("expected no mapping inside a sparse run")
	}
}

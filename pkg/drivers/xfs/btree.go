package xfs

import (
	"encoding/binary"
	"fmt"

	"github.com/filemapper/filemapper/pkg/metadata"
)

// walkAGBTree descends a short-form AG btree from its root block,
// returning one metadata.Region per block visited (node and leaf
// alike) so the caller can hand the whole tree's footprint to the
// metadata synthesizer. Node blocks carry a key array followed by a
// uint32 child-pointer array; bno/cnt/inode btrees all share that
// shape and only differ in leaf record size, which a region-footprint
// walk never needs to interpret.
func walkAGBTree(r readerAt, g geometry, ag int64, rootBlock uint32, wantMagic uint32) ([]metadata.Region, error) {
	var regions []metadata.Region
	var visit func(blk uint32, depth int) error
	visit = func(blk uint32, depth int) error {
		if depth > 32 {
			return fmt.Errorf("AG %d btree: depth exceeded, likely cycle", ag)
		}
		off := g.blockOffset(ag, blk)
		buf := make([]byte, g.blockSize)
		if _, err := r.ReadAt(buf, off); err != nil {
			return fmt.Errorf("reading AG %d btree block %d: %w", ag, blk, err)
		}
		regions = append(regions, metadata.Region{Physical: off, Length: g.blockSize})

		magic := binary.BigEndian.Uint32(buf[0:4])
		if magic != wantMagic {
			return fmt.Errorf("AG %d btree block %d: bad magic", ag, blk)
		}
		level := binary.BigEndian.Uint16(buf[4:6])
		numRecs := int(binary.BigEndian.Uint16(buf[6:8]))
		const nodeHeaderSize = 16

		if level == 0 {
			return nil
		}

		ptrOff := nodeHeaderSize + numRecs*4
		for i := 0; i < numRecs; i++ {
			o := ptrOff + i*4
			if o+4 > len(buf) {
				break
			}
			child := binary.BigEndian.Uint32(buf[o : o+4])
			if err := visit(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(rootBlock, 0); err != nil {
		return nil, err
	}
	return regions, nil
}

package xfs

import (
	"encoding/binary"
	"fmt"
)

const inodeCoreSize = 100

// extentRecord is one decoded data-fork extent: fileOffset and
// startBlock are in filesystem blocks, blockCount in blocks.
type extentRecord struct {
	fileOffset uint64
	startBlock uint64
	blockCount uint64
	unwritten  bool
}

// decodeExtent unpacks one 16-byte big-endian BMBT extent record. The
// 128-bit field is split as blockcount[0:21), startblock[21:73),
// fileoffset[73:127), unwritten flag at bit 127; decoded here as two
// uint64 halves rather than through a 128-bit integer type, since a
// read-only unpack needs only shifts and masks across the lo/hi
// boundary.
func decodeExtent(raw []byte) extentRecord {
	hi := binary.BigEndian.Uint64(raw[0:8])
	lo := binary.BigEndian.Uint64(raw[8:16])

	blockCount := lo & (1<<21 - 1)
	startBlock := (lo >> 21) | ((hi & 0x1FF) << 43)
	fileOffset := (hi >> 9) & (1<<54 - 1)
	unwritten := hi>>63&1 != 0

	return extentRecord{fileOffset: fileOffset, startBlock: startBlock, blockCount: blockCount, unwritten: unwritten}
}

// inode wraps the decoded core plus the raw fork data that follows it,
// enough to dispatch on Format and walk the data fork.
type inode struct {
	core     inodeCore
	forkData []byte
}

func readInode(r readerAt, g geometry, absIno uint64) (*inode, error) {
	ag, agino := g.splitInode(absIno)
	off := g.inodeOffset(ag, agino)

	buf := make([]byte, g.inodeSize)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", absIno, err)
	}

	var core inodeCore
	if err := binary.Read(bytesReader(buf[:inodeCoreSize]), binary.BigEndian, &core); err != nil {
		return nil, fmt.Errorf("decoding inode %d: %w", absIno, err)
	}
	if core.Magic != inodeMagic {
		return nil, fmt.Errorf("inode %d: bad magic", absIno)
	}

	return &inode{core: core, forkData: buf[inodeCoreSize:]}, nil
}

func (n *inode) isDir() bool  { return n.core.Mode&0xF000 == 0x4000 }
func (n *inode) isLink() bool { return n.core.Mode&0xF000 == 0xA000 }
func (n *inode) size() int64  { return n.core.Size }

// dataFork returns the portion of forkData belonging to the data fork,
// excluding any attribute fork that shares the literal area when
// ForkOff is nonzero.
func (n *inode) dataFork() []byte {
	if n.core.ForkOff == 0 {
		return n.forkData
	}
	end := int(n.core.ForkOff) * 8
	if end > len(n.forkData) {
		end = len(n.forkData)
	}
	return n.forkData[:end]
}

// extents decodes every data-fork extent record for an Extents-format
// inode.
func (n *inode) extents() ([]extentRecord, error) {
	data := n.dataFork()
	count := int(n.core.NExtents)
	if count*16 > len(data) {
		return nil, fmt.Errorf("inode: extent count %d exceeds literal area", count)
	}
	recs := make([]extentRecord, 0, count)
	for i := 0; i < count; i++ {
		recs = append(recs, decodeExtent(data[i*16:i*16+16]))
	}
	return recs, nil
}

// btreeRoot returns the root block pointer of a BTree-format data
// fork, whose literal area holds a short-form root: a node header
// followed by parallel key/pointer arrays.
func (n *inode) btreeRoot() ([]uint64, error) {
	data := n.dataFork()
	if len(data) < 4 {
		return nil, fmt.Errorf("inode: btree root too small")
	}
	numRecs := int(binary.BigEndian.Uint16(data[2:4]))
	ptrOff := 4 + numRecs*8
	ptrs := make([]uint64, 0, numRecs)
	for i := 0; i < numRecs; i++ {
		o := ptrOff + i*8
		if o+8 > len(data) {
			break
		}
		ptrs = append(ptrs, binary.BigEndian.Uint64(data[o:o+8]))
	}
	return ptrs, nil
}

type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// walkBMBTBlock descends one on-disk BMBT block (the data fork's
// indirection tree past the inline root), collecting leaf extent
// records. BMBT node/leaf blocks use 64-bit sibling pointers, unlike
// the 32-bit AG btrees, since a file's extents can reference blocks
// anywhere in the filesystem rather than just within one AG.
func walkBMBTBlock(r readerAt, blockSize int64, blockNum uint64, depth int, out *[]extentRecord) error {
	if depth > 32 {
		return fmt.Errorf("bmap btree: depth exceeded, likely cycle")
	}
	buf := make([]byte, blockSize)
	if _, err := r.ReadAt(buf, int64(blockNum)*blockSize); err != nil {
		return fmt.Errorf("reading bmap btree block %d: %w", blockNum, err)
	}

	level := binary.BigEndian.Uint16(buf[4:6])
	numRecs := int(binary.BigEndian.Uint16(buf[6:8]))
	const bmbtHeaderSize = 24 // magic(4) level(2) numrecs(2) leftsib(8) rightsib(8)

	if level == 0 {
		for i := 0; i < numRecs; i++ {
			o := bmbtHeaderSize + i*16
			if o+16 > len(buf) {
				break
			}
			*out = append(*out, decodeExtent(buf[o:o+16]))
		}
		return nil
	}

	ptrOff := bmbtHeaderSize + numRecs*8
	for i := 0; i < numRecs; i++ {
		o := ptrOff + i*8
		if o+8 > len(buf) {
			break
		}
		child := binary.BigEndian.Uint64(buf[o : o+8])
		if err := walkBMBTBlock(r, blockSize, child, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// dataForkExtents returns every data-fork extent for n, reading through
// the on-disk bmap btree when the fork format requires it.
func (n *inode) dataForkExtents(r readerAt, blockSize int64) ([]extentRecord, error) {
	switch n.core.Format {
	case inodeFormatExtents:
		return n.extents()
	case inodeFormatBTree:
		ptrs, err := n.btreeRoot()
		if err != nil {
			return nil, err
		}
		var out []extentRecord
		for _, p := range ptrs {
			if err := walkBMBTBlock(r, blockSize, p, 0, &out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

// readForkBytes materializes the full logical byte stream of n's data
// fork, for directories (shortform is read directly from the literal
// area instead) and symlink targets.
func readForkBytes(r readerAt, blockSize int64, n *inode) ([]byte, error) {
	if n.core.Format == inodeFormatLocal {
		return n.dataFork(), nil
	}
	extents, err := n.dataForkExtents(r, blockSize)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, n.size())
	for _, e := range extents {
		if e.unwritten {
			continue
		}
		data := make([]byte, e.blockCount*uint64(blockSize))
		if _, err := r.ReadAt(data, int64(e.startBlock)*blockSize); err != nil {
			return nil, fmt.Errorf("reading fork data: %w", err)
		}
		buf = append(buf, data...)
	}
	if int64(len(buf)) > n.size() {
		buf = buf[:n.size()]
	}
	return buf, nil
}

// Package ntfs implements mapper.Driver for NTFS volumes: the boot
// sector and MFT record layout, attribute/runlist decoding, and
// directory enumeration through $INDEX_ROOT and $INDEX_ALLOCATION.
package ntfs

import (
	"encoding/binary"
	"fmt"
)

type bootSector struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	totalSectors      uint64
	mftLCN            uint64
	mftMirrLCN        uint64
	recordSize        int64
	indexRecordSize   int64
	serial            uint64
}

func readBootSector(r readerAt) (*bootSector, error) {
	buf := make([]byte, 88)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("reading boot sector: %w", err)
	}
	if string(buf[3:7]) != "NTFS" {
		return nil, fmt.Errorf("not an NTFS file system: bad OEM ID")
	}

	b := &bootSector{
		bytesPerSector:    binary.LittleEndian.Uint16(buf[11:13]),
		sectorsPerCluster: buf[13],
		totalSectors:      binary.LittleEndian.Uint64(buf[40:48]),
		mftLCN:            binary.LittleEndian.Uint64(buf[48:56]),
		mftMirrLCN:        binary.LittleEndian.Uint64(buf[56:64]),
		serial:            binary.LittleEndian.Uint64(buf[72:80]),
	}
	if b.bytesPerSector == 0 || b.sectorsPerCluster == 0 {
		return nil, fmt.Errorf("not an NTFS file system: implausible BPB")
	}
	clusterSize := int64(b.bytesPerSector) * int64(b.sectorsPerCluster)

	b.recordSize = clusterOrPow2Size(int8(buf[64]), clusterSize)
	b.indexRecordSize = clusterOrPow2Size(int8(buf[68]), clusterSize)
	return b, nil
}

// clusterOrPow2Size decodes the MFT/index record size byte: positive
// values count clusters, negative values encode log2(bytes).
func clusterOrPow2Size(b int8, clusterSize int64) int64 {
	if b > 0 {
		return int64(b) * clusterSize
	}
	return 1 << uint(-b)
}

func (b *bootSector) clusterSize() int64 {
	return int64(b.bytesPerSector) * int64(b.sectorsPerCluster)
}

func (b *bootSector) clusterOffset(lcn uint64) int64 {
	return int64(lcn) * b.clusterSize()
}

type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

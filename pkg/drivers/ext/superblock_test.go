package ext

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildSuperblockImage returns a byte buffer containing a minimal,
// validly-signed superblock at offset 1024 with a default 4 KiB-block
// geometry (block size, blocks and inodes per group, inode size, total
// blocks) and every other field zeroed, then adjusted by fn.
func buildSuperblockImage(t *testing.T, fn func(sb *Superblock)) []byte {
	t.Helper()

	sb := &Superblock{
		Signature:      signature,
		BlockSize:      2, // 1024 << 2 = 4096
		BlocksPerGroup: 8192,
		InodesPerGroup: 2048,
		InodeSize:      256,
		TotalBlocks:    16384,
	}
	if fn != nil {
		fn(sb)
	}

	buf := new(bytes.Buffer)
	buf.Write(make([]byte, superblockOffset))
	if err := binary.Write(buf, binary.LittleEndian, sb); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadSuperblockValidatesSignature(t *testing.T) {
	img := buildSuperblockImage(t, nil)
	sb, err := readSuperblock(bytes.NewReader(img))
	if err != nil {
		t.Fatal(err)
	}
	if sb.Signature != signature {
		t.Errorf("expected signature 0x%x, got 0x%x", signature, sb.Signature)
	}
	if sb.blockSize() != 4096 {
		t.Errorf("expected block size 4096, got %d", sb.blockSize())
	}
}

func TestReadSuperblockRejectsBadSignature(t *testing.T) {
	img := buildSuperblockImage(t, func(sb *Superblock) { sb.Signature = 0x1234 })
	if _, err := readSuperblock(bytes.NewReader(img)); err == nil {
		t.Fatal("expected an error for a bad superblock signature")
	}
}

func TestFeatureDispatch(t *testing.T) {
	ext2 := &Superblock{}
	if ext2.hasJournal() || ext2.hasExtents() {
		t.Errorf("a superblock with no feature flags set should report as plain ext2")
	}

	ext3 := &Superblock{FeatureCompat: 0x0004}
	if !ext3.hasJournal() {
		t.Errorf("expected the journal feature compat bit to be detected")
	}

	ext4 := &Superblock{FeatureIncompat: featureIncompatExtents | featureIncompat64Bit}
	if !ext4.hasExtents() || !ext4.has64Bit() {
		t.Errorf("expected both the extents and 64bit incompat bits to be detected")
	}
}

func TestInodeSizeFallsBackToDefault(t *testing.T) {
	sb := &Superblock{}
	if sb.inodeSize() != defaultInodeSize {
		t.Errorf("expected default inode size %d for a zero InodeSize field, got %d", defaultInodeSize, sb.inodeSize())
	}
	sb.InodeSize = 256
	if sb.inodeSize() != 256 {
		t.Errorf("expected configured inode size 256, got %d", sb.inodeSize())
	}
}

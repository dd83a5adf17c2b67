package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filemapper/filemapper/pkg/mapper"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Prepare())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPrepareCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	var appID int
	err := s.db.QueryRow("PRAGMA application_id").Scan(&appID)
	require.NoError(t, err)
	assert.Equal(t, applicationID, appID)
}

func TestInsertInodeIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Begin())

	size := int64(100)
	require.NoError(t, s.InsertInode(mapper.Inode{Ino: 5, Kind: mapper.InodeFile, Path: "/a", Size: &size}))

	bigger := int64(200)
	require.NoError(t, s.InsertInode(mapper.Inode{Ino: 5, Kind: mapper.InodeFile, Size: &bigger}))

	var count int
	row := s.tx.QueryRow(`SELECT COUNT(*) FROM inode_t WHERE ino = 5`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestInjectMetadataInsertsInodeAndDentry(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Begin())

	require.NoError(t, s.InjectMetadata(0, "$metadata", -1, mapper.InodeDirectory))
	require.NoError(t, s.InjectMetadata(-1, "superblocks", -2, mapper.InodeMetadata))

	var dirIno, childIno int64
	var name string
	row := s.tx.QueryRow(`SELECT dir_ino, name, name_ino FROM dir_t WHERE name_ino = -2`)
	require.NoError(t, row.Scan(&dirIno, &name, &childIno))
	assert.Equal(t, int64(-1), dirIno)
	assert.Equal(t, "superblocks", name)
}

func TestCacheOverviewBucketsExtents(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Begin())

	require.NoError(t, s.InsertInode(mapper.Inode{Ino: 1, Kind: mapper.InodeFile, Path: "/f"}))
	require.NoError(t, s.CollectFSStats(mapper.FileSystemRecord{Path: "/dev/x", TotalBytes: 65536}))
	require.NoError(t, s.InsertExtent(mapper.Extent{Ino: 1, Physical: 0, Length: 4096, Kind: mapper.ExtentFile}))
	require.NoError(t, s.Commit())

	require.NoError(t, s.CacheOverview(16))

	var files int
	row := s.db.QueryRow(`SELECT files FROM overview_t WHERE cell_no = 0`)
	require.NoError(t, row.Scan(&files))
	assert.Equal(t, 1, files)
}

func TestCalcInodeStatsComputesTravelScore(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Begin())

	require.NoError(t, s.InsertInode(mapper.Inode{Ino: 1, Kind: mapper.InodeFile, Path: "/f"}))
	l0 := int64(0)
	l1 := int64(4096)
	require.NoError(t, s.InsertExtent(mapper.Extent{Ino: 1, Physical: 0, Logical: &l0, Length: 4096, Kind: mapper.ExtentFile}))
	require.NoError(t, s.InsertExtent(mapper.Extent{Ino: 1, Physical: 1 << 20, Logical: &l1, Length: 4096, Kind: mapper.ExtentFile}))
	require.NoError(t, s.Commit())

	require.NoError(t, s.CalcInodeStats())

	var nrExtents int
	var travelScore float64
	row := s.db.QueryRow(`SELECT nr_extents, travel_score FROM inode_t WHERE ino = 1`)
	require.NoError(t, row.Scan(&nrExtents, &travelScore))
	assert.Equal(t, 2, nrExtents)
	assert.Greater(t, travelScore, 1.0)
}

func TestFaultTrackerSticksAfterFirstStoreError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Begin())

	require.NoError(t, s.InsertInode(mapper.Inode{Ino: 1, Kind: mapper.InodeFile, Path: "/dup"}))

	err := s.InsertInode(mapper.Inode{Ino: 2, Kind: mapper.InodeFile, Path: "/dup"})
	assert.Error(t, err, "duplicate paths must be rejected")
	assert.True(t, s.Fault().StoreTainted())

	err2 := s.InsertInode(mapper.Inode{Ino: 3, Kind: mapper.InodeFile, Path: "/other"})
	assert.NoError(t, err2, "once tainted, further inserts become no-ops rather than erroring again")
}

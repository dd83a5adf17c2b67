// Package store persists the mapper's record stream to a SQLite
// database, indexes it, and computes the derived overview histograms
// and per-inode travel scores (§4.5, §6).
package store

import (
	"database/sql"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// applicationID identifies a filemapper database via PRAGMA
// application_id, so downstream consumers can recognise one without
// opening it through this package.
const applicationID = 61270

const schema = `
CREATE TABLE fs_t (
	path TEXT PRIMARY KEY,
	block_size INTEGER,
	frag_size INTEGER,
	total_bytes INTEGER,
	free_bytes INTEGER,
	avail_bytes INTEGER,
	total_inodes INTEGER,
	free_inodes INTEGER,
	avail_inodes INTEGER,
	max_len INTEGER,
	timestamp TEXT,
	finished INTEGER,
	path_separator TEXT
);

CREATE TABLE inode_type_t (
	id INTEGER PRIMARY KEY,
	code TEXT
);
INSERT INTO inode_type_t (id, code) VALUES (0, 'f'), (1, 'd'), (2, 'm'), (3, 's');

CREATE TABLE inode_t (
	ino INTEGER PRIMARY KEY,
	type INTEGER REFERENCES inode_type_t(id),
	nr_extents INTEGER,
	travel_score REAL,
	atime INTEGER,
	crtime INTEGER,
	ctime INTEGER,
	mtime INTEGER,
	size INTEGER
);

CREATE TABLE dir_t (
	dir_ino INTEGER REFERENCES inode_t(ino),
	name TEXT,
	name_ino INTEGER REFERENCES inode_t(ino)
);

CREATE TABLE path_t (
	path TEXT PRIMARY KEY,
	ino INTEGER REFERENCES inode_t(ino)
);

CREATE TABLE extent_type_t (
	id INTEGER PRIMARY KEY,
	code TEXT
);
INSERT INTO extent_type_t (id, code) VALUES (0, 'f'), (1, 'd'), (2, 'e'), (3, 'm'), (4, 'x'), (5, 's');

CREATE TABLE extent_t (
	ino INTEGER REFERENCES inode_t(ino),
	p_off INTEGER,
	l_off INTEGER,
	flags INTEGER,
	length INTEGER,
	type INTEGER REFERENCES extent_type_t(id),
	p_end INTEGER
);

CREATE TABLE overview_t (
	length INTEGER,
	cell_no INTEGER,
	files INTEGER,
	dirs INTEGER,
	mappings INTEGER,
	metadata INTEGER,
	xattrs INTEGER,
	symlinks INTEGER,
	PRIMARY KEY (length, cell_no)
);

CREATE VIEW path_extent_v AS
	SELECT path_t.path AS path, extent_t.* FROM extent_t JOIN path_t ON extent_t.ino = path_t.ino;

CREATE VIEW path_inode_v AS
	SELECT path_t.path AS path, inode_t.* FROM inode_t JOIN path_t ON inode_t.ino = path_t.ino;

CREATE VIEW dentry_t AS
	SELECT dir_t.dir_ino AS dir_ino, dir_t.name AS name, dir_t.name_ino AS child_ino FROM dir_t;
`

// extentKindID maps mapper.ExtentKind to its row in extent_type_t.
// extent_type_t seeds rows 0-5 only; freespace extents fall through to
// the default and are stored with id 6, which has no seeded row.
func extentKindID(k mapper.ExtentKind) int {
	switch k {
	case mapper.ExtentFile:
		return 0
	case mapper.ExtentDirectory:
		return 1
	case mapper.ExtentTreeNode:
		return 2
	case mapper.ExtentMetadata:
		return 3
	case mapper.ExtentXattr:
		return 4
	case mapper.ExtentSymlink:
		return 5
	default:
		return 6
	}
}

func inodeKindID(k mapper.InodeKind) int {
	switch k {
	case mapper.InodeFile:
		return 0
	case mapper.InodeDirectory:
		return 1
	case mapper.InodeMetadata:
		return 2
	case mapper.InodeSymlink:
		return 3
	default:
		return 4
	}
}

// Store is the record sink described in §4.5. It satisfies
// mapper.Sink.
type Store struct {
	db     *sql.DB
	tx     *sql.Tx
	fault  mapper.FaultTracker
	pathOf map[int64]string
}

// Open connects to (or creates) the database file at path. It does not
// apply pragmas or create the schema; call Prepare for that.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, mapper.Wrap(mapper.ErrStore, "opening database", err)
	}
	return &Store{db: db, pathOf: make(map[int64]string)}, nil
}

// Prepare applies the operational pragmas and (re)creates the schema,
// dropping any pre-existing tables first.
func (s *Store) Prepare() error {
	if s.fault.StoreTainted() {
		return nil
	}

	pragmas := []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA locking_mode = EXCLUSIVE",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA page_size = 65536",
		fmt.Sprintf("PRAGMA application_id = %d", applicationID),
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			s.fault.FailStore(err)
			return mapper.Wrap(mapper.ErrStore, "applying pragmas", err)
		}
	}

	for _, table := range []string{"fs_t", "inode_type_t", "inode_t", "dir_t", "path_t", "extent_type_t", "extent_t", "overview_t"} {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			s.fault.FailStore(err)
			return mapper.Wrap(mapper.ErrStore, "dropping prior schema", err)
		}
	}
	for _, view := range []string{"path_extent_v", "path_inode_v", "dentry_t"} {
		if _, err := s.db.Exec("DROP VIEW IF EXISTS " + view); err != nil {
			s.fault.FailStore(err)
			return mapper.Wrap(mapper.ErrStore, "dropping prior schema", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "creating schema", err)
	}
	return nil
}

// Begin opens the single transaction inserts occur within.
func (s *Store) Begin() error {
	if s.fault.StoreTainted() {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "beginning transaction", err)
	}
	s.tx = tx
	return nil
}

// Commit closes the write transaction started by Begin.
func (s *Store) Commit() error {
	if s.fault.StoreTainted() || s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "committing transaction", err)
	}
	return nil
}

func (s *Store) exec(query string, args ...interface{}) error {
	if s.fault.StoreTainted() {
		return nil
	}
	var err error
	if s.tx != nil {
		_, err = s.tx.Exec(query, args...)
	} else {
		_, err = s.db.Exec(query, args...)
	}
	if err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "writing record", err)
	}
	return nil
}

// InsertInode upserts one inode row, keyed by identifier.
func (s *Store) InsertInode(i mapper.Inode) error {
	if err := s.exec(
		`INSERT OR REPLACE INTO inode_t (ino, type, atime, crtime, ctime, mtime, size) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.Ino, inodeKindID(i.Kind), i.ATime, i.CrTime, i.CTime, i.MTime, i.Size,
	); err != nil {
		return err
	}
	if i.Path != "" {
		s.pathOf[i.Ino] = i.Path
		return s.exec(`INSERT INTO path_t (path, ino) VALUES (?, ?)`, i.Path, i.Ino)
	}
	return nil
}

// InsertDentry appends one directory-entry row.
func (s *Store) InsertDentry(d mapper.Dentry) error {
	return s.exec(`INSERT INTO dir_t (dir_ino, name, name_ino) VALUES (?, ?, ?)`, d.DirIno, d.Name, d.ChildIno)
}

// InsertExtent appends one extent row.
func (s *Store) InsertExtent(e mapper.Extent) error {
	return s.exec(
		`INSERT INTO extent_t (ino, p_off, l_off, flags, length, type, p_end) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Ino, e.Physical, e.Logical, e.Flags, e.Length, extentKindID(e.Kind), e.End(),
	)
}

// InjectMetadata registers a synthetic metadata inode and its dentry
// under parent in a single call, as required by §4.5.
func (s *Store) InjectMetadata(parent int64, name string, ino int64, kind mapper.InodeKind) error {
	if err := s.InsertInode(mapper.Inode{Ino: ino, Kind: kind}); err != nil {
		return err
	}
	if parent == 0 {
		return nil
	}
	return s.InsertDentry(mapper.Dentry{DirIno: parent, Name: name, ChildIno: ino})
}

// CollectFSStats writes the fs_t row for a newly-opened volume, with
// finished left false.
func (s *Store) CollectFSStats(fsr mapper.FileSystemRecord) error {
	return s.exec(
		`INSERT INTO fs_t (path, block_size, frag_size, total_bytes, free_bytes, avail_bytes, total_inodes, free_inodes, avail_inodes, max_len, timestamp, finished, path_separator)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		fsr.Path, fsr.BlockSize, fsr.FragmentSize, fsr.TotalBytes, fsr.FreeBytes, fsr.AvailBytes,
		fsr.TotalInodes, fsr.FreeInodes, fsr.AvailInodes, fsr.MaxNameLen, fsr.Timestamp, fsr.PathSeparator,
	)
}

// FinalizeFSStats marks the fs_t row complete, bumping total_bytes up
// to cover the furthest extent seen if the recorded total undershoots
// it (§3's fs_t invariant).
func (s *Store) FinalizeFSStats(path string, maxExtentEnd int64) error {
	if err := s.exec(`UPDATE fs_t SET total_bytes = MAX(total_bytes, ?) WHERE path = ?`, maxExtentEnd+1, path); err != nil {
		return err
	}
	return s.exec(`UPDATE fs_t SET finished = 1 WHERE path = ?`, path)
}

// IndexDB creates the indices named in §4.5 and runs the foreign-key
// integrity check.
func (s *Store) IndexDB() error {
	indices := []string{
		`CREATE INDEX idx_inode_t_ino ON inode_t(ino)`,
		`CREATE INDEX idx_path_t_path ON path_t(path)`,
		`CREATE INDEX idx_dir_t_dir_ino ON dir_t(dir_ino)`,
		`CREATE INDEX idx_extent_t_p_off ON extent_t(p_off)`,
		`CREATE INDEX idx_extent_t_l_off ON extent_t(l_off)`,
		`CREATE INDEX idx_extent_t_ino ON extent_t(ino)`,
		`CREATE INDEX idx_overview_t_length_cell ON overview_t(length, cell_no)`,
	}
	for _, idx := range indices {
		if err := s.exec(idx); err != nil {
			return err
		}
	}
	if s.fault.StoreTainted() {
		return nil
	}

	rows, err := s.db.Query(`PRAGMA foreign_key_check`)
	if err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "checking referential integrity", err)
	}
	defer rows.Close()
	if rows.Next() {
		err := fmt.Errorf("foreign key integrity check failed")
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "checking referential integrity", err)
	}
	return nil
}

// CacheOverview computes one overview_t row per cell in [0, length),
// bucketing every extent by the cells its physical range intersects.
func (s *Store) CacheOverview(length int64) error {
	if s.fault.StoreTainted() {
		return nil
	}

	var totalBytes int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(total_bytes), 0) FROM fs_t`).Scan(&totalBytes); err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "caching overview", err)
	}
	if totalBytes == 0 || length == 0 {
		return nil
	}
	bytesPerCell := int64(math.Ceil(float64(totalBytes) / float64(length)))

	cells := make([]mapper.OverviewCell, length)
	for i := range cells {
		cells[i].Length = length
		cells[i].CellNo = int64(i)
	}

	rows, err := s.db.Query(`SELECT p_off, length, type FROM extent_t`)
	if err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "caching overview", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pOff, extLength int64
		var typeID int
		if err := rows.Scan(&pOff, &extLength, &typeID); err != nil {
			s.fault.FailStore(err)
			return mapper.Wrap(mapper.ErrStore, "caching overview", err)
		}
		kind := extentKindFromID(typeID)
		firstCell := pOff / bytesPerCell
		lastCell := (pOff + extLength - 1) / bytesPerCell
		for c := firstCell; c <= lastCell && c < length; c++ {
			cells[c].Add(kind)
		}
	}

	for _, c := range cells {
		if err := s.exec(
			`INSERT INTO overview_t (length, cell_no, files, dirs, mappings, metadata, xattrs, symlinks) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Length, c.CellNo, c.Files, c.Dirs, c.Mappings, c.Metadata, c.Xattrs, c.Symlinks,
		); err != nil {
			return err
		}
	}
	return nil
}

func extentKindFromID(id int) mapper.ExtentKind {
	switch id {
	case 0:
		return mapper.ExtentFile
	case 1:
		return mapper.ExtentDirectory
	case 2:
		return mapper.ExtentTreeNode
	case 3:
		return mapper.ExtentMetadata
	case 4:
		return mapper.ExtentXattr
	case 5:
		return mapper.ExtentSymlink
	default:
		return mapper.ExtentFreespace
	}
}

// CalcInodeStats joins each inode's same-kind extents ordered by
// logical offset, then writes back its extent count and travel score:
// the ratio of summed physical distance to summed logical distance
// between consecutive extents.
func (s *Store) CalcInodeStats() error {
	if s.fault.StoreTainted() {
		return nil
	}

	rows, err := s.db.Query(`SELECT DISTINCT ino FROM extent_t WHERE l_off IS NOT NULL ORDER BY ino`)
	if err != nil {
		s.fault.FailStore(err)
		return mapper.Wrap(mapper.ErrStore, "calculating inode statistics", err)
	}
	var inos []int64
	for rows.Next() {
		var ino int64
		if err := rows.Scan(&ino); err != nil {
			rows.Close()
			s.fault.FailStore(err)
			return mapper.Wrap(mapper.ErrStore, "calculating inode statistics", err)
		}
		inos = append(inos, ino)
	}
	rows.Close()

	for _, ino := range inos {
		extents, err := s.db.Query(
			`SELECT e.p_off, e.l_off FROM extent_t e JOIN inode_t i ON i.ino = e.ino
			 WHERE e.ino = ? AND e.l_off IS NOT NULL
			   AND e.type = CASE i.type WHEN 0 THEN 0 WHEN 1 THEN 1 WHEN 2 THEN 3 WHEN 3 THEN 5 ELSE -1 END
			 ORDER BY e.l_off`, ino,
		)
		if err != nil {
			s.fault.FailStore(err)
			return mapper.Wrap(mapper.ErrStore, "calculating inode statistics", err)
		}

		var count int64
		var physDist, logDist float64
		var prevP, prevL int64
		haveP := false

		for extents.Next() {
			var p, l int64
			if err := extents.Scan(&p, &l); err != nil {
				extents.Close()
				s.fault.FailStore(err)
				return mapper.Wrap(mapper.ErrStore, "calculating inode statistics", err)
			}
			count++
			if haveP {
				physDist += math.Abs(float64(p - prevP))
				logDist += math.Abs(float64(l - prevL))
			}
			prevP, prevL = p, l
			haveP = true
		}
		extents.Close()

		travelScore := 0.0
		if logDist > 0 {
			travelScore = physDist / logDist
		}

		if err := s.exec(`UPDATE inode_t SET nr_extents = ?, travel_score = ? WHERE ino = ?`, count, travelScore, ino); err != nil {
			return err
		}
	}
	return nil
}

// Fault exposes the store's sticky error tracker so the CLI can fold it
// into the process-wide FaultTracker.
func (s *Store) Fault() *mapper.FaultTracker { return &s.fault }

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

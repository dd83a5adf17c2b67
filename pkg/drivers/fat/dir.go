package fat

import (
	"encoding/binary"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// dirEntry is one decoded 8.3 entry, with its long name reassembled
// from any preceding VFAT LFN entries.
type dirEntry struct {
	name         string
	attr         uint8
	firstCluster uint32
	size         uint32
	createTime   time.Time
	writeTime    time.Time
	accessDate   time.Time
}

func (e dirEntry) isDir() bool    { return e.attr&attrDir != 0 }
func (e dirEntry) isVolume() bool { return e.attr&attrVolumeID != 0 }

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// lfnFragment is one VFAT long-name entry's 13 UTF-16 code units,
// keyed by its sequence number (1-based, descending order on disk).
type lfnFragment struct {
	seq   int
	units []byte
}

// parseDirBlock decodes every raw on-disk directory entry in block
// (one cluster, or the FAT12/16 root directory region) into dirEntry
// values, assembling any long names from their preceding LFN runs.
func parseDirBlock(block []byte) []dirEntry {
	var entries []dirEntry
	var pending []lfnFragment

	flush := func(shortName string) string {
		if len(pending) == 0 {
			return shortName
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
		var raw []byte
		for _, f := range pending {
			raw = append(raw, f.units...)
		}
		pending = nil
		name, err := utf16le.Bytes(raw)
		if err != nil {
			return shortName
		}
		return strings.TrimRight(strings.TrimRight(string(name), "\x00"), "￿")
	}

	for off := 0; off+dirEntrySize <= len(block); off += dirEntrySize {
		raw := block[off : off+dirEntrySize]
		if raw[0] == 0x00 {
			break // no more entries ever follow in this directory
		}
		if raw[0] == 0xE5 {
			pending = nil
			continue // deleted entry
		}
		attr := raw[11]
		if attr&attrLongName == attrLongName {
			pending = append(pending, lfnFragment{
				seq:   int(raw[0] &^ 0x40),
				units: lfnUnits(raw),
			})
			continue
		}

		shortName := decodeShortName(raw)
		name := flush(shortName)

		e := dirEntry{
			name:         name,
			attr:         attr,
			firstCluster: uint32(binary.LittleEndian.Uint16(raw[26:28])) | uint32(binary.LittleEndian.Uint16(raw[20:22]))<<16,
			size:         binary.LittleEndian.Uint32(raw[28:32]),
			createTime:   decodeTimestamp(binary.LittleEndian.Uint16(raw[16:18]), binary.LittleEndian.Uint16(raw[14:16])),
			writeTime:    decodeTimestamp(binary.LittleEndian.Uint16(raw[24:26]), binary.LittleEndian.Uint16(raw[22:24])),
			accessDate:   decodeTimestamp(binary.LittleEndian.Uint16(raw[18:20]), 0),
		}
		if e.name == "." || e.name == ".." || e.name == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// lfnUnits collects the three UTF-16LE name fragments of one VFAT LFN
// entry (5 + 6 + 2 code units) into a contiguous byte run.
func lfnUnits(raw []byte) []byte {
	var units []byte
	units = append(units, raw[1:11]...)
	units = append(units, raw[14:26]...)
	units = append(units, raw[28:32]...)
	return units
}

func decodeShortName(raw []byte) string {
	name := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func decodeTimestamp(date, clock uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}
	year := int(date>>9&0x7F) + 1980
	month := int(date >> 5 & 0xF)
	day := int(date & 0x1F)
	hour := int(clock >> 11 & 0x1F)
	min := int(clock >> 5 & 0x3F)
	sec := int(clock&0x1F) * 2
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

func extentKindFor(e dirEntry) (mapper.InodeKind, mapper.ExtentKind) {
	switch {
	case e.isDir():
		return mapper.InodeDirectory, mapper.ExtentDirectory
	case e.isVolume():
		return mapper.InodeMetadata, mapper.ExtentMetadata
	default:
		return mapper.InodeFile, mapper.ExtentFile
	}
}

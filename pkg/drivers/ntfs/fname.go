package ntfs

import (
	"encoding/binary"
	"time"

	"golang.org/x/text/encoding/unicode"
)

var utf16leDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

func utf16ToString(b []byte) string {
	s, err := utf16leDecoder.Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}

// fileNameAttr is one decoded $FILE_NAME attribute value: the parent
// directory reference, timestamps, size, and the name itself.
type fileNameAttr struct {
	parentRef                     uint64
	crTime, mTime, cTime, aTime   time.Time
	allocSize, realSize           uint64
	attrs                         uint32
	nameType                      uint8
	name                          string
}

// parentMFTRecord returns the parent directory's MFT record number,
// masking off the high 16-bit sequence number from the reference.
func (f fileNameAttr) parentMFTRecord() uint64 { return f.parentRef & 0x0000FFFFFFFFFFFF }

func decodeFileName(value []byte) (fileNameAttr, bool) {
	if len(value) < 66 {
		return fileNameAttr{}, false
	}
	f := fileNameAttr{
		parentRef: binary.LittleEndian.Uint64(value[0:8]),
		crTime:    decodeFiletime(binary.LittleEndian.Uint64(value[8:16])),
		mTime:     decodeFiletime(binary.LittleEndian.Uint64(value[16:24])),
		cTime:     decodeFiletime(binary.LittleEndian.Uint64(value[24:32])),
		aTime:     decodeFiletime(binary.LittleEndian.Uint64(value[32:40])),
		allocSize: binary.LittleEndian.Uint64(value[40:48]),
		realSize:  binary.LittleEndian.Uint64(value[48:56]),
		attrs:     binary.LittleEndian.Uint32(value[56:60]),
		nameType:  value[65],
	}
	nameLen := int(value[64])
	nameStart := 66
	if nameStart+nameLen*2 > len(value) {
		return fileNameAttr{}, false
	}
	f.name = utf16ToString(value[nameStart : nameStart+nameLen*2])
	return f, true
}

// ntfsEpoch is 1601-01-01 00:00:00 UTC, the origin of NTFS FILETIME
// values.
var ntfsEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

func decodeFiletime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return ntfsEpoch.Add(time.Duration(v) * 100 * time.Nanosecond)
}

const (
	fileAttrDirectory  = 0x10000000 // set on the $FILE_NAME of a directory (synthesized by NTFS, not FILE_ATTRIBUTE_DIRECTORY)
	fileAttrReparse    = 0x400
)

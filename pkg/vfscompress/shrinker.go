package vfscompress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// readFullPage reads exactly pageSize bytes at off, tolerating the
// io.EOF an io.ReaderAt may legitimately return alongside a full read
// at end of file.
func readFullPage(f File, buf []byte, off int64) error {
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// Shrink offline-converts a whole database file between an
// uncompressed and/or compressed-with-codec state, page by page. An
// empty toCodec produces a pristine (fully decompressed) output file;
// otherwise it names the target codec.
func Shrink(f File, fileSize, pageSize int64, toCodec string) error {
	if pageSize <= 0 {
		return mapper.Wrap(mapper.ErrCorrupt, "shrinking database", fmt.Errorf("invalid page size %d", pageSize))
	}

	page0 := make([]byte, pageSize)
	if err := readFullPage(f, page0, 0); err != nil {
		return mapper.Wrap(mapper.ErrIO, "reading page 0", err)
	}

	sourceCodec, sourceCompressed := detectCodec(page0[:fileHeaderSize])
	if !sourceCompressed && !bytes.Equal(page0[:fileHeaderSize], []byte(sqliteMagic)) {
		return mapper.Wrap(mapper.ErrNotADatabase, "shrinking database", fmt.Errorf("unrecognized file header"))
	}
	btreeStart := BTreeRegionStart(page0)

	var targetCodec Codec
	if toCodec != "" {
		c, err := Find(toCodec)
		if err != nil {
			return err
		}
		targetCodec = c
	}

	numPages := fileSize / pageSize
	if fileSize%pageSize != 0 {
		numPages++
	}

	for i := int64(0); i < numPages; i++ {
		off := i * pageSize
		if i == 0 {
			if err := rewriteHeaderPage(f, page0, toCodec); err != nil {
				return err
			}
			continue
		}

		page := make([]byte, pageSize)
		if err := readFullPage(f, page, off); err != nil {
			return mapper.Wrap(mapper.ErrIO, "reading page", err)
		}

		framed := sourceCompressed && page[0] == frameMagic0 && page[1] == frameMagic1
		switch {
		case framed:
			if err := convertFramedPage(f, page, off, pageSize, i, sourceCodec, toCodec, targetCodec); err != nil {
				return err
			}
		case i >= btreeStart:
			if err := convertPlainBTreePage(f, page, off, pageSize, i, toCodec, targetCodec); err != nil {
				return err
			}
		default:
			if _, err := f.WriteAt(page, off); err != nil {
				return mapper.Wrap(mapper.ErrIO, "writing page", err)
			}
		}
	}

	return nil
}

func rewriteHeaderPage(f File, page0 []byte, toCodec string) error {
	buf := append([]byte(nil), page0...)
	if toCodec == "" {
		copy(buf, []byte(sqliteMagic))
	} else {
		copy(buf, customHeader(toCodec))
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return mapper.Wrap(mapper.ErrIO, "writing page 0", err)
	}
	return nil
}

// convertFramedPage handles a page that was already compressed under
// sourceCodec: pass it through untouched if the target codec matches,
// otherwise decompress and re-evaluate against the target.
func convertFramedPage(f File, page []byte, off, pageSize, pageNum int64, sourceCodec Codec, toCodec string, targetCodec Codec) error {
	compLen := int(binary.BigEndian.Uint16(page[2:4]))
	framePage := int64(binary.BigEndian.Uint32(page[4:8]))
	if framePage != pageNum || frameHeaderSize+compLen > len(page) {
		return mapper.Wrap(mapper.ErrCorrupt, "converting page", fmt.Errorf("page %d: framing mismatch", pageNum))
	}

	if toCodec == sourceCodec.Name {
		_, err := f.WriteAt(page, off)
		if err != nil {
			return mapper.Wrap(mapper.ErrIO, "writing page", err)
		}
		return nil
	}

	raw, err := sourceCodec.Decompress(page[frameHeaderSize : frameHeaderSize+compLen])
	if err != nil {
		return mapper.Wrap(mapper.ErrCorrupt, "decompressing page", err)
	}
	plain := make([]byte, pageSize)
	copy(plain, raw)

	return writeConvertedPage(f, plain, off, pageSize, pageNum, toCodec, targetCodec)
}

// convertPlainBTreePage handles an unframed b-tree page: the source
// left it uncompressed (pristine input, or a prior incompressible
// page), so there is nothing to decompress before re-evaluating
// against the target.
func convertPlainBTreePage(f File, page []byte, off, pageSize, pageNum int64, toCodec string, targetCodec Codec) error {
	return writeConvertedPage(f, page, off, pageSize, pageNum, toCodec, targetCodec)
}

func writeConvertedPage(f File, plain []byte, off, pageSize, pageNum int64, toCodec string, targetCodec Codec) error {
	if toCodec == "" {
		if _, err := f.WriteAt(plain, off); err != nil {
			return mapper.Wrap(mapper.ErrIO, "writing page", err)
		}
		return nil
	}

	compressed := targetCodec.Compress(plain, int(pageSize)-frameHeaderSize)
	if compressed == nil {
		if _, err := f.WriteAt(plain, off); err != nil {
			return mapper.Wrap(mapper.ErrIO, "writing page", err)
		}
		return nil
	}

	frame := make([]byte, frameHeaderSize+len(compressed))
	frame[0], frame[1] = frameMagic0, frameMagic1
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(compressed)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(pageNum))
	copy(frame[frameHeaderSize:], compressed)

	if err := f.Truncate(off + int64(len(frame))); err != nil {
		return mapper.Wrap(mapper.ErrIO, "truncating output", err)
	}
	if _, err := f.WriteAt(frame, off); err != nil {
		return mapper.Wrap(mapper.ErrIO, "writing page", err)
	}
	if err := f.Truncate(off + pageSize); err != nil {
		return mapper.Wrap(mapper.ErrIO, "truncating output", err)
	}
	return nil
}

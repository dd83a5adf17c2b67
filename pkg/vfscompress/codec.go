// Package vfscompress implements the compression-VFS core: a
// compressor registry, a database sniffer, a page-level read/write
// shim, and an offline shrinker utility.
package vfscompress

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/filemapper/filemapper/pkg/mapper"
)

// Codec is a registered compressor's one-shot byte-buffer façade. Name
// is also the 4-byte code embedded in the file header
// ("SQLite <CODEC> v.3").
type Codec struct {
	Name string

	// Compress returns the compressed payload, or nil if it would not
	// fit within dstCap ("incompressible within cap").
	Compress func(src []byte, dstCap int) []byte

	// Decompress returns the decompressed payload, or an error if the
	// codec rejects the input as corrupt.
	Decompress func(src []byte) ([]byte, error)
}

var registry []Codec

func register(c Codec) { registry = append(registry, c) }

func init() {
	register(gzipCodec())
	register(lz4Codec("LZ4D", false))
	register(lz4Codec("LZ4H", true))
	register(lzmaCodec())
	register(bzip2Codec())
}

// Find returns the named codec, or the default (first-registered,
// GZIP) when name is empty.
func Find(name string) (Codec, error) {
	if name == "" {
		return registry[0], nil
	}
	for _, c := range registry {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Codec{}, mapper.Wrap(mapper.ErrNotFound, "looking up codec", fmt.Errorf("unknown codec %q", name))
}

// detectCodec returns the registered codec whose custom header matches
// the given file header, for callers (the shrinker) that must identify
// an existing file's codec rather than assume one.
func detectCodec(header []byte) (Codec, bool) {
	for _, c := range registry {
		if bytes.Equal(header, customHeader(c.Name)) {
			return c, true
		}
	}
	return Codec{}, false
}

// List returns the comma-separated names of every registered codec.
func List() string {
	names := make([]string, len(registry))
	for i, c := range registry {
		names[i] = c.Name
	}
	return strings.Join(names, ",")
}

func gzipCodec() Codec {
	return Codec{
		Name: "GZIP",
		Compress: func(src []byte, dstCap int) []byte {
			var buf bytes.Buffer
			w, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
			if _, err := w.Write(src); err != nil {
				return nil
			}
			if err := w.Close(); err != nil {
				return nil
			}
			if buf.Len() > dstCap {
				return nil
			}
			return buf.Bytes()
		},
		Decompress: func(src []byte) ([]byte, error) {
			r, err := gzip.NewReader(bytes.NewReader(src))
			if err != nil {
				return nil, fmt.Errorf("gzip: %w", err)
			}
			defer r.Close()
			out, err := ioutil.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("gzip: %w", err)
			}
			return out, nil
		},
	}
}

// lz4Codec builds both the LZ4D (default speed) and LZ4H (high
// compression) registry entries, grounded on the same pierrec/lz4/v4
// stack the pack's disk-image libraries use.
func lz4Codec(name string, highCompression bool) Codec {
	return Codec{
		Name: name,
		Compress: func(src []byte, dstCap int) []byte {
			var buf bytes.Buffer
			w := lz4.NewWriter(&buf)
			if highCompression {
				_ = w.Apply(lz4.CompressionLevelOption(lz4.Level9))
			}
			if _, err := w.Write(src); err != nil {
				return nil
			}
			if err := w.Close(); err != nil {
				return nil
			}
			if buf.Len() > dstCap {
				return nil
			}
			return buf.Bytes()
		},
		Decompress: func(src []byte) ([]byte, error) {
			r := lz4.NewReader(bytes.NewReader(src))
			out, err := ioutil.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return out, nil
		},
	}
}

func lzmaCodec() Codec {
	return Codec{
		Name: "LZMA",
		Compress: func(src []byte, dstCap int) []byte {
			var buf bytes.Buffer
			w, err := lzma.NewWriter(&buf)
			if err != nil {
				return nil
			}
			if _, err := w.Write(src); err != nil {
				return nil
			}
			if err := w.Close(); err != nil {
				return nil
			}
			if buf.Len() > dstCap {
				return nil
			}
			return buf.Bytes()
		},
		Decompress: func(src []byte) ([]byte, error) {
			r, err := lzma.NewReader(bytes.NewReader(src))
			if err != nil {
				return nil, fmt.Errorf("lzma: %w", err)
			}
			out, err := ioutil.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("lzma: %w", err)
			}
			return out, nil
		},
	}
}

// bzip2Codec takes its encoder from dsnet/compress, since the standard
// library's compress/bzip2 is decode-only.
func bzip2Codec() Codec {
	return Codec{
		Name: "BZ2A",
		Compress: func(src []byte, dstCap int) []byte {
			var buf bytes.Buffer
			w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
			if err != nil {
				return nil
			}
			if _, err := w.Write(src); err != nil {
				return nil
			}
			if err := w.Close(); err != nil {
				return nil
			}
			if buf.Len() > dstCap {
				return nil
			}
			return buf.Bytes()
		},
		Decompress: func(src []byte) ([]byte, error) {
			r, err := bzip2.NewReader(bytes.NewReader(src), nil)
			if err != nil {
				return nil, fmt.Errorf("bz2a: %w", err)
			}
			defer r.Close()
			out, err := ioutil.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("bz2a: %w", err)
			}
			return out, nil
		},
	}
}

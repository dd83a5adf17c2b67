// Package coalescer merges raw, per-run extent records from a file
// system driver into maximal canonical extents (§4.2).
package coalescer

import "github.com/filemapper/filemapper/pkg/mapper"

// EmitFunc receives one coalesced extent. Returning an error aborts the
// feed/flush call that produced it.
type EmitFunc func(mapper.Extent) error

// Coalescer merges a stream of mapper.RawExtent values for a single
// (inode, fork) into maximal mapper.Extent rows. Create a new Coalescer
// per (inode, fork); the driver is expected to Flush and discard it
// whenever it moves to a different inode or a different fork of the
// same inode.
type Coalescer struct {
	emit EmitFunc
	tail *mapper.RawExtent
}

// New returns a Coalescer that calls emit for every flushed extent.
func New(emit EmitFunc) *Coalescer {
	return &Coalescer{emit: emit}
}

// mergeable reports whether b may be merged onto the end of a, per the
// merge rule in §4.2: adjacent physically and logically, identical
// state (flags + unwritten), never across data-inline extents, and
// never past the length ceiling.
func mergeable(a, b mapper.RawExtent) bool {
	if mapper.FlagDataInline.Has(a.Flags) || mapper.FlagDataInline.Has(b.Flags) {
		return false
	}
	if a.Flags != b.Flags || a.Unwritten != b.Unwritten || a.Kind != b.Kind {
		return false
	}
	if a.Physical+a.Length != b.Physical {
		return false
	}
	if (a.Logical == nil) != (b.Logical == nil) {
		return false
	}
	if a.Logical != nil && *a.Logical+a.Length != *b.Logical {
		return false
	}
	if a.Length+b.Length > mapper.MaxExtentLength {
		return false
	}
	return true
}

// Feed consumes one raw extent. It returns without emitting anything if
// the extent merges onto the current tail; otherwise it flushes the
// current tail (if any) and starts a new one.
func (c *Coalescer) Feed(raw mapper.RawExtent) error {

	if c.tail != nil && mergeable(*c.tail, raw) {
		c.tail.Length += raw.Length
		return nil
	}

	if err := c.flushTail(); err != nil {
		return err
	}

	tail := raw
	c.tail = &tail
	return nil
}

func (c *Coalescer) flushTail() error {
	if c.tail == nil {
		return nil
	}
	t := *c.tail
	c.tail = nil

	ext := mapper.Extent{
		Ino:      t.Ino,
		Physical: t.Physical,
		Logical:  t.Logical,
		Length:   t.Length,
		Flags:    t.Flags,
		Kind:     t.Kind,
	}
	if err := ext.Validate(); err != nil {
		return err
	}
	return c.emit(ext)
}

// Flush emits the current tail, if any, and resets the Coalescer so it
// can be reused for the next (inode, fork) pair.
func (c *Coalescer) Flush() error {
	return c.flushTail()
}

// Package rangemap implements the per-allocation-group range-coded
// bitmap used to track which physical blocks a synthetic metadata file
// owns (§4.3). It models an interval map over [0, size) as an ordered
// slice of breakpoints, each carrying the tag that applies from that
// offset up to the next breakpoint.
package rangemap

import "sort"

// Tag is the value an interval in a Map carries.
type Tag int

const (
	Unused Tag = iota
	InUse
	OutOfRange
)

type breakpoint struct {
	offset int64
	tag    Tag
}

// Map is one group's interval map. The zero value is not usable; call
// New.
type Map struct {
	points []breakpoint
}

// Group holds the interval maps for every allocation group of a volume.
type Group struct {
	maps []*Map
}

// New creates one ordered interval map per group. sizes[i] is the
// address-space size of group i before the multiplier is applied; every
// map is seeded with the two required sentinels.
func New(groups int, sizes []int64, multiplier int64) *Group {
	g := &Group{maps: make([]*Map, groups)}
	for i := 0; i < groups; i++ {
		ceiling := sizes[i] * multiplier
		g.maps[i] = &Map{
			points: []breakpoint{
				{offset: 0, tag: Unused},
				{offset: ceiling, tag: OutOfRange},
			},
		}
	}
	return g
}

// Set updates [start, start+length) to tag within group, merging with
// identically-tagged neighbors and splitting existing intervals as
// needed.
func (g *Group) Set(group int, start, length int64, tag Tag) {
	g.maps[group].set(start, length, tag)
}

// Test returns the tag covering offset within group.
func (g *Group) Test(group int, offset int64) Tag {
	return g.maps[group].test(offset)
}

// Iterate yields contiguous (start, length, tag) runs for group in
// ascending order, stopping early if callback returns false.
func (g *Group) Iterate(group int, callback func(start, length int64, tag Tag) bool) {
	g.maps[group].iterate(callback)
}

// Destroy releases a Group's maps.
func (g *Group) Destroy() {
	g.maps = nil
}

// indexAtOrBefore returns the index of the breakpoint that is the
// greatest one with offset <= x.
func (m *Map) indexAtOrBefore(x int64) int {
	i := sort.Search(len(m.points), func(i int) bool {
		return m.points[i].offset > x
	})
	return i - 1
}

func (m *Map) test(offset int64) Tag {
	i := m.indexAtOrBefore(offset)
	if i < 0 {
		return Unused
	}
	return m.points[i].tag
}

// set implements the nine structural cases from §4.3: the interval
// [start, end) is replaced with one breakpoint carrying tag, any
// breakpoints strictly inside it are removed, a boundary breakpoint is
// reinserted at end if the interval didn't already end exactly on one,
// and the result is merged with an identically-tagged predecessor or
// successor.
func (m *Map) set(start, length int64, tag Tag) {
	if length <= 0 {
		return
	}
	end := start + length

	startIdx := m.indexAtOrBefore(start)
	tagAtEnd := m.points[m.indexAtOrBefore(end)].tag

	lo := startIdx
	if m.points[lo].offset < start {
		lo++
	}

	hi := sort.Search(len(m.points), func(i int) bool {
		return m.points[i].offset >= end
	})

	newPoints := make([]breakpoint, 0, len(m.points)-(hi-lo)+2)
	newPoints = append(newPoints, m.points[:lo]...)

	if len(newPoints) == 0 || newPoints[len(newPoints)-1].tag != tag || newPoints[len(newPoints)-1].offset != start {
		if len(newPoints) > 0 && newPoints[len(newPoints)-1].offset == start {
			newPoints[len(newPoints)-1].tag = tag
		} else {
			newPoints = append(newPoints, breakpoint{offset: start, tag: tag})
		}
	}

	if hi >= len(m.points) || m.points[hi].offset != end {
		newPoints = append(newPoints, breakpoint{offset: end, tag: tagAtEnd})
	}

	newPoints = append(newPoints, m.points[hi:]...)

	m.points = dedupe(newPoints)
}

// dedupe collapses consecutive breakpoints carrying the same tag, so
// the invariant "consecutive keys with identical tags never coexist"
// holds after every set().
func dedupe(points []breakpoint) []breakpoint {
	out := points[:0]
	for _, p := range points {
		if len(out) > 0 && out[len(out)-1].tag == p.tag {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (m *Map) iterate(callback func(start, length int64, tag Tag) bool) {
	for i := 0; i < len(m.points)-1; i++ {
		start := m.points[i].offset
		length := m.points[i+1].offset - start
		if !callback(start, length, m.points[i].tag) {
			return
		}
	}
}

// Package debuginfo holds the run-length encoded maps that tie decompiled
// text back to bytecode offsets, in both directions.
package debuginfo

// RangeDebugInfo is a run-length encoding of same-valued integer ranges.
// Run i covers Lengths[i] consecutive units that all map to Values[i];
// the sum of Lengths is the total length of the encoded domain.
type RangeDebugInfo[T comparable] struct {
	Lengths []int `cbor:"1,keyasint"`
	Values  []T   `cbor:"2,keyasint"`
}

// Len returns the total number of units covered.
func (r RangeDebugInfo[T]) Len() int {
	n := 0
	for _, l := range r.Lengths {
		n += l
	}
	return n
}

// Lookup returns the value of the unit at pos.
func (r RangeDebugInfo[T]) Lookup(pos int) (T, bool) {
	var zero T
	if pos < 0 {
		return zero, false
	}
	start := 0
	for i, l := range r.Lengths {
		if pos < start+l {
			return r.Values[i], true
		}
		start += l
	}
	return zero, false
}

// Each calls fn for every run in order.
func (r RangeDebugInfo[T]) Each(fn func(start, length int, v T)) {
	start := 0
	for i, l := range r.Lengths {
		fn(start, l, r.Values[i])
		start += l
	}
}

// Find returns the start and length of the first run holding v.
func (r RangeDebugInfo[T]) Find(v T) (start, length int, ok bool) {
	pos := 0
	for i, l := range r.Lengths {
		if r.Values[i] == v {
			return pos, l, true
		}
		pos += l
	}
	return 0, 0, false
}

// MarkedRangeSet is the mutable builder behind RangeDebugInfo: a flat
// array of per-unit values, compressed lazily when read.
type MarkedRangeSet[T comparable] struct {
	units []T
	unset T

	dirty      bool
	compressed RangeDebugInfo[T]
}

// NewMarkedRangeSet creates a set of length units, all holding unset.
func NewMarkedRangeSet[T comparable](length int, unset T) *MarkedRangeSet[T] {
	units := make([]T, length)
	for i := range units {
		units[i] = unset
	}
	return &MarkedRangeSet[T]{units: units, unset: unset, dirty: true}
}

// Len returns the number of units.
func (m *MarkedRangeSet[T]) Len() int { return len(m.units) }

// Grow extends the set to at least length units.
func (m *MarkedRangeSet[T]) Grow(length int) {
	for len(m.units) < length {
		m.units = append(m.units, m.unset)
		m.dirty = true
	}
}

// Mark assigns v to every unit in [start, end). The range is clipped to
// the set; later marks override earlier ones.
func (m *MarkedRangeSet[T]) Mark(start, end int, v T) {
	start = max(start, 0)
	end = min(end, len(m.units))
	for i := start; i < end; i++ {
		if m.units[i] != v {
			m.units[i] = v
			m.dirty = true
		}
	}
}

// At returns the value of one unit.
func (m *MarkedRangeSet[T]) At(pos int) T {
	if pos < 0 || pos >= len(m.units) {
		return m.unset
	}
	return m.units[pos]
}

// Ranges returns the run-length form, recomputing it only after a mutation.
func (m *MarkedRangeSet[T]) Ranges() RangeDebugInfo[T] {
	if !m.dirty {
		return m.compressed
	}
	var out RangeDebugInfo[T]
	for i := 0; i < len(m.units); {
		j := i + 1
		for j < len(m.units) && m.units[j] == m.units[i] {
			j++
		}
		out.Lengths = append(out.Lengths, j-i)
		out.Values = append(out.Values, m.units[i])
		i = j
	}
	m.compressed = out
	m.dirty = false
	return out
}

// Position is a location in rendered text: 0-based line, 0-based rune column.
type Position struct {
	Line   int32 `cbor:"1,keyasint"`
	Column int32 `cbor:"2,keyasint"`
}

// NoPosition marks bytes that map to no rendered text.
var NoPosition = Position{Line: -1, Column: -1}

// NoOffset marks columns that map to no bytecode.
const NoOffset int32 = -1

// Less orders positions in reading order.
func (p Position) Less(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Column < q.Column
}

// ScriptDebugInfo couples the two maps produced for one decompiled script.
type ScriptDebugInfo struct {
	// Lines[l] maps the columns of line l to the byte offset of the
	// innermost node rendered there.
	Lines []RangeDebugInfo[int32] `cbor:"1,keyasint"`

	// Offsets maps each script byte to the text position of the innermost
	// node whose own range covers it.
	Offsets RangeDebugInfo[Position] `cbor:"2,keyasint"`
}

// OffsetAt returns the byte offset rendered at (line, column).
func (d *ScriptDebugInfo) OffsetAt(line, column int) (int, bool) {
	if line < 0 || line >= len(d.Lines) {
		return 0, false
	}
	v, ok := d.Lines[line].Lookup(column)
	if !ok || v == NoOffset {
		return 0, false
	}
	return int(v), true
}

// PositionOf returns the text position that byte offset maps to.
func (d *ScriptDebugInfo) PositionOf(offset int) (Position, bool) {
	p, ok := d.Offsets.Lookup(offset)
	if !ok || p == NoPosition {
		return Position{}, false
	}
	return p, true
}

// LinesForOffset returns every line on which offset is rendered, ascending.
// A debugger uses this to place a breakpoint set on a bytecode offset.
func (d *ScriptDebugInfo) LinesForOffset(offset int) []int {
	var lines []int
	for l, r := range d.Lines {
		if _, _, ok := r.Find(int32(offset)); ok {
			lines = append(lines, l)
		}
	}
	return lines
}

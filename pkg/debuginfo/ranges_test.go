package debuginfo

import (
	"reflect"
	"testing"
)

func TestMarkedRangeSetCompress(t *testing.T) {
	m := NewMarkedRangeSet[int32](10, NoOffset)
	m.Mark(2, 5, 7)
	m.Mark(5, 6, 9)

	got := m.Ranges()
	wantLengths := []int{2, 3, 1, 4}
	wantValues := []int32{-1, 7, 9, -1}
	if !reflect.DeepEqual(got.Lengths, wantLengths) {
		t.Errorf("Lengths = %v, want %v", got.Lengths, wantLengths)
	}
	if !reflect.DeepEqual(got.Values, wantValues) {
		t.Errorf("Values = %v, want %v", got.Values, wantValues)
	}
	if got.Len() != 10 {
		t.Errorf("Len() = %d, want 10", got.Len())
	}
}

func TestMarkedRangeSetOverrideAndClip(t *testing.T) {
	m := NewMarkedRangeSet[int32](6, NoOffset)
	m.Mark(-3, 100, 1)
	m.Mark(1, 3, 2)

	got := m.Ranges()
	if !reflect.DeepEqual(got.Values, []int32{1, 2, 1}) {
		t.Errorf("Values = %v", got.Values)
	}
	if !reflect.DeepEqual(got.Lengths, []int{1, 2, 3}) {
		t.Errorf("Lengths = %v", got.Lengths)
	}
}

func TestMarkedRangeSetDirtyFlag(t *testing.T) {
	m := NewMarkedRangeSet[int32](4, 0)
	first := m.Ranges()
	if len(first.Lengths) != 1 {
		t.Fatalf("fresh set = %+v, want one run", first)
	}

	// Marking with the value already present does not invalidate.
	m.Mark(0, 4, 0)
	if m.dirty {
		t.Error("no-op mark set the dirty flag")
	}

	m.Mark(3, 4, 5)
	if !m.dirty {
		t.Error("mark did not set the dirty flag")
	}
	if got := m.Ranges(); len(got.Lengths) != 2 {
		t.Errorf("after mark = %+v, want two runs", got)
	}
}

func TestRangeLookup(t *testing.T) {
	r := RangeDebugInfo[int32]{Lengths: []int{2, 3}, Values: []int32{10, 20}}

	tests := []struct {
		pos  int
		want int32
		ok   bool
	}{
		{0, 10, true},
		{1, 10, true},
		{2, 20, true},
		{4, 20, true},
		{5, 0, false},
		{-1, 0, false},
	}
	for _, tt := range tests {
		got, ok := r.Lookup(tt.pos)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%d) = %d, %v; want %d, %v", tt.pos, got, ok, tt.want, tt.ok)
		}
	}

	start, length, ok := r.Find(20)
	if !ok || start != 2 || length != 3 {
		t.Errorf("Find(20) = %d, %d, %v", start, length, ok)
	}
}

func TestScriptDebugInfoLookups(t *testing.T) {
	d := &ScriptDebugInfo{
		Lines: []RangeDebugInfo[int32]{
			{Lengths: []int{4, 6}, Values: []int32{NoOffset, 12}},
			{Lengths: []int{3}, Values: []int32{12}},
		},
		Offsets: RangeDebugInfo[Position]{
			Lengths: []int{12, 5},
			Values:  []Position{NoPosition, {Line: 0, Column: 4}},
		},
	}

	if off, ok := d.OffsetAt(0, 5); !ok || off != 12 {
		t.Errorf("OffsetAt(0,5) = %d, %v", off, ok)
	}
	if _, ok := d.OffsetAt(0, 1); ok {
		t.Error("OffsetAt over unmapped columns should fail")
	}
	if p, ok := d.PositionOf(14); !ok || p != (Position{0, 4}) {
		t.Errorf("PositionOf(14) = %+v, %v", p, ok)
	}
	if _, ok := d.PositionOf(3); ok {
		t.Error("PositionOf unmapped byte should fail")
	}
	if lines := d.LinesForOffset(12); !reflect.DeepEqual(lines, []int{0, 1}) {
		t.Errorf("LinesForOffset(12) = %v", lines)
	}
}

func TestWireRoundTrip(t *testing.T) {
	d := &ScriptDebugInfo{
		Lines:   []RangeDebugInfo[int32]{{Lengths: []int{3}, Values: []int32{0}}},
		Offsets: RangeDebugInfo[Position]{Lengths: []int{2}, Values: []Position{{1, 2}}},
	}
	data, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !reflect.DeepEqual(data, again) {
		t.Error("canonical encoding is not deterministic")
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Errorf("Unmarshal = %+v, want %+v", got, d)
	}
}

func TestUnmarshalRejectsBadRuns(t *testing.T) {
	bad := &ScriptDebugInfo{
		Offsets: RangeDebugInfo[Position]{Lengths: []int{0}, Values: []Position{{0, 0}}},
	}
	data, err := Marshal(bad)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Error("Unmarshal accepted a zero-length run")
	}
}

package decompiler

import (
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/unscript/pkg/debuginfo"
)

func TestBuildDebugInfo_Assign(t *testing.T) {
	res := decompile(t, scriptAssign())
	d := res.Debug

	if len(d.Lines) != 2 {
		t.Fatalf("len(Lines) = %d, want 2", len(d.Lines))
	}
	if d.Offsets.Len() != 28 {
		t.Errorf("Offsets.Len() = %d, want 28", d.Offsets.Len())
	}

	positions := []struct {
		offset int
		want   debuginfo.Position
		ok     bool
	}{
		{0, debuginfo.Position{}, false}, // calc wrapper was spliced away
		{6, debuginfo.Position{Line: 0, Column: 10}, true},
		{11, debuginfo.Position{Line: 0, Column: 14}, true},
		{16, debuginfo.Position{Line: 0, Column: 10}, true},
		{17, debuginfo.Position{Line: 0, Column: 0}, true},
		{22, debuginfo.Position{Line: 1, Column: 0}, true},
		{27, debuginfo.Position{Line: 1, Column: 0}, true},
	}
	for _, tt := range positions {
		got, ok := d.PositionOf(tt.offset)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("PositionOf(%d) = %+v, %v, want %+v, %v", tt.offset, got, ok, tt.want, tt.ok)
		}
	}

	offsets := []struct {
		line, col int
		want      int
		ok        bool
	}{
		{0, 0, 17, true},
		{0, 8, 17, true},
		{0, 10, 6, true},
		{0, 12, 16, true},
		{0, 14, 11, true},
		{0, 15, 17, true},
		{0, 16, 0, false},
		{1, 3, 22, true},
		{2, 0, 0, false},
	}
	for _, tt := range offsets {
		got, ok := d.OffsetAt(tt.line, tt.col)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("OffsetAt(%d, %d) = %d, %v, want %d, %v", tt.line, tt.col, got, ok, tt.want, tt.ok)
		}
	}

	if got := d.LinesForOffset(22); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("LinesForOffset(22) = %v, want [1]", got)
	}
}

func TestBuildDebugInfo_RoundTrip(t *testing.T) {
	scripts := map[string][]byte{
		"assign":       scriptAssign(),
		"if":           scriptIf(),
		"while":        scriptWhile(),
		"switch":       scriptSwitch(),
		"lazy":         scriptLazyAnd(),
		"if else":      scriptIfElse(),
		"loop break":   scriptLoopBreak(),
		"nested and":   scriptNestedAnd(),
		"fallthrough":  scriptSwitchFallthrough(),
		"early return": scriptEarlyReturn(),
	}
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			res := decompile(t, script)
			d := res.Debug
			checkRuns(t, "Offsets", d.Offsets, len(script))
			lines := strings.SplitAfter(res.Text, "\n")
			for i, l := range d.Lines {
				checkRuns(t, "Lines", l, len(strings.TrimSuffix(lines[i], "\n")))
			}
			marked := 0
			for off := range script {
				pos, ok := d.PositionOf(off)
				if !ok {
					continue
				}
				marked++
				back, ok := d.OffsetAt(int(pos.Line), int(pos.Column))
				if !ok {
					t.Errorf("offset %d -> %+v maps back to nothing", off, pos)
					continue
				}
				if again, _ := d.PositionOf(back); again != pos {
					t.Errorf("offset %d -> %+v -> %d -> %+v", off, pos, back, again)
				}
			}
			if marked == 0 {
				t.Error("no byte is mapped")
			}
		})
	}
}

// checkRuns verifies that spans tile [0, want) in order: every run is
// non-empty, runs follow each other without overlap, and neighbours hold
// different values.
func checkRuns[T comparable](t *testing.T, what string, r debuginfo.RangeDebugInfo[T], want int) {
	t.Helper()
	if len(r.Lengths) != len(r.Values) {
		t.Fatalf("%s: %d lengths, %d values", what, len(r.Lengths), len(r.Values))
	}
	next := 0
	r.Each(func(start, length int, v T) {
		if start != next {
			t.Errorf("%s: run at %d, want %d", what, start, next)
		}
		if length <= 0 {
			t.Errorf("%s: run at %d has length %d", what, start, length)
		}
		next = start + length
	})
	if next != want {
		t.Errorf("%s: runs cover %d units, want %d", what, next, want)
	}
	for i := 1; i < len(r.Values); i++ {
		if r.Values[i] == r.Values[i-1] {
			t.Errorf("%s: runs %d and %d both hold %v", what, i-1, i, r.Values[i])
		}
	}
}

func TestBuildDebugInfo_LinesCoverText(t *testing.T) {
	res := decompile(t, scriptLoopBreak())
	lines := 0
	for _, c := range res.Text {
		if c == '\n' {
			lines++
		}
	}
	if len(res.Debug.Lines) != lines {
		t.Errorf("len(Lines) = %d, want %d", len(res.Debug.Lines), lines)
	}

	// "        break;" is the jump at 36.
	if off, ok := res.Debug.OffsetAt(2, 8); !ok || off != 36 {
		t.Errorf("OffsetAt(2, 8) = %d, %v, want 36, true", off, ok)
	}
	// Indentation maps to nothing.
	if _, ok := res.Debug.OffsetAt(2, 0); ok {
		t.Error("OffsetAt(2, 0) mapped, want unmapped indentation")
	}
}

func TestBuildDebugInfo_Wire(t *testing.T) {
	d := decompile(t, scriptIfElse()).Debug
	data, err := debuginfo.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := debuginfo.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Errorf("Unmarshal(Marshal(d)) = %+v, want %+v", got, d)
	}
}

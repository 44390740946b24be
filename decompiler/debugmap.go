package decompiler

import (
	"github.com/chazu/unscript/pkg/debuginfo"
)

// BuildDebugInfo derives both debug maps from the text spans the writer
// recorded. Nodes are marked in pre-order so the innermost node wins.
func (t *Tree) BuildDebugInfo(lineLens []int32) *debuginfo.ScriptDebugInfo {
	bytes := debuginfo.NewMarkedRangeSet(len(t.script), debuginfo.NoPosition)
	lines := make([]*debuginfo.MarkedRangeSet[int32], len(lineLens))
	for i, l := range lineLens {
		lines[i] = debuginfo.NewMarkedRangeSet(int(l), debuginfo.NoOffset)
	}

	t.Walk(t.Root, func(id NodeID) bool {
		n := &t.nodes[id]
		if !n.Own.Valid() || !n.Text.Valid() {
			return true
		}
		bytes.Mark(n.Own.Start, n.Own.End, n.Text.Start)

		off := int32(n.Own.Start)
		start, end := n.Text.Start, n.Text.End
		for l := start.Line; l <= end.Line && int(l) < len(lines); l++ {
			from, to := 0, lines[l].Len()
			if l == start.Line {
				from = int(start.Column)
			}
			if l == end.Line {
				to = int(end.Column)
			}
			lines[l].Mark(from, to, off)
		}
		return true
	})

	info := &debuginfo.ScriptDebugInfo{
		Lines:   make([]debuginfo.RangeDebugInfo[int32], len(lines)),
		Offsets: bytes.Ranges(),
	}
	for i, l := range lines {
		info.Lines[i] = l.Ranges()
	}
	return info
}

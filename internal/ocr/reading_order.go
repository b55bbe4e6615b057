package ocr

import (
	"sort"
	"strings"
)

// AssignReadingOrder sorts blocks into natural reading order and stamps
// their ReadingOrder indices. Ordering is two-phase: blocks are first
// clustered into lines scanning top to bottom (a block joins the current
// line when its vertical extent overlaps the line's by at least half of the
// shorter of the two), then lines are emitted top to bottom with blocks
// left to right inside each line, ties broken by left coordinate then top
// coordinate. Clustering first keeps the order consistent even when boxes
// overlap in a chain that a single pairwise comparator cannot order.
func AssignReadingOrder(blocks []TextBlock) []TextBlock {
	if len(blocks) == 0 {
		return blocks
	}

	seeded := make([]TextBlock, len(blocks))
	copy(seeded, blocks)
	sort.SliceStable(seeded, func(i, j int) bool {
		a, b := seeded[i], seeded[j]
		if a.Box.Y != b.Box.Y {
			return a.Box.Y < b.Box.Y
		}
		return a.Box.X < b.Box.X
	})

	var lines []textLine
	for _, b := range seeded {
		if n := len(lines); n > 0 && lines[n-1].admits(b.Box) {
			lines[n-1].add(b)
			continue
		}
		lines = append(lines, newTextLine(b))
	}

	ordered := make([]TextBlock, 0, len(blocks))
	for _, line := range lines {
		sort.SliceStable(line.blocks, func(i, j int) bool {
			a, b := line.blocks[i], line.blocks[j]
			if a.Box.X != b.Box.X {
				return a.Box.X < b.Box.X
			}
			return a.Box.Y < b.Box.Y
		})
		ordered = append(ordered, line.blocks...)
	}

	for i := range ordered {
		ordered[i].ReadingOrder = i
	}
	return ordered
}

// textLine is a cluster of blocks occupying one vertical band of the page.
// top and bottom track the union of the member boxes' extents.
type textLine struct {
	top, bottom int
	blocks      []TextBlock
}

func newTextLine(b TextBlock) textLine {
	return textLine{
		top:    b.Box.Y,
		bottom: b.Box.Y + b.Box.Height,
		blocks: []TextBlock{b},
	}
}

// admits reports whether the box belongs to this line: its vertical extent
// must overlap the line's by at least half of the shorter of the two.
func (l *textLine) admits(box BoundingBox) bool {
	top := max(l.top, box.Y)
	bottom := min(l.bottom, box.Y+box.Height)
	overlap := bottom - top
	if overlap <= 0 {
		return false
	}
	return overlap*2 >= min(l.bottom-l.top, box.Height)
}

func (l *textLine) add(b TextBlock) {
	l.blocks = append(l.blocks, b)
	l.top = min(l.top, b.Box.Y)
	l.bottom = max(l.bottom, b.Box.Y+b.Box.Height)
}

// JoinBlocks linearizes ordered blocks into plain text, one block per line.
func JoinBlocks(blocks []TextBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if text := strings.TrimSpace(b.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

package dom

// Range is a pair of boundary points.
type Range struct {
	StartNode   *Node
	StartOffset int
	EndNode     *Node
	EndOffset   int
}

// NewRange builds a range the way a browser does with setStart followed by
// setEnd: when the end point lies before the start point the range collapses
// onto the end point.
func NewRange(start *Node, startOffset int, end *Node, endOffset int) Range {
	r := Range{StartNode: start, StartOffset: startOffset, EndNode: start, EndOffset: startOffset}
	if pointBefore(end, endOffset, start, startOffset) {
		return Range{StartNode: end, StartOffset: endOffset, EndNode: end, EndOffset: endOffset}
	}
	r.EndNode, r.EndOffset = end, endOffset
	return r
}

// Collapsed reports whether start and end are the same point.
func (r Range) Collapsed() bool {
	return r.StartNode == r.EndNode && r.StartOffset == r.EndOffset
}

func pointBefore(a *Node, ao int, b *Node, bo int) bool {
	if a == b {
		return ao < bo
	}
	return Precedes(a, b)
}

// Selection holds at most one range, like the browser selection API.
type Selection struct {
	doc   *Document
	rng   Range
	valid bool
}

// Range returns the current range.
func (s *Selection) Range() (Range, bool) { return s.rng, s.valid }

// Anchor returns the anchor point.
func (s *Selection) Anchor() (*Node, int) { return s.rng.StartNode, s.rng.StartOffset }

// Focus returns the focus point.
func (s *Selection) Focus() (*Node, int) { return s.rng.EndNode, s.rng.EndOffset }

// IsCollapsed reports whether there is no range or the range is collapsed.
func (s *Selection) IsCollapsed() bool { return !s.valid || s.rng.Collapsed() }

// RemoveAllRanges clears the selection and dispatches "selectionchange".
func (s *Selection) RemoveAllRanges() {
	if !s.valid {
		return
	}
	s.rng, s.valid = Range{}, false
	s.changed()
}

// AddRange replaces the selection with r and dispatches "selectionchange".
func (s *Selection) AddRange(r Range) {
	s.rng, s.valid = r, true
	s.changed()
}

func (s *Selection) changed() {
	s.doc.root.invokeChain(&Event{Kind: EventSelectionChange, Trusted: true, Target: s.doc.root})
}

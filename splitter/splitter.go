package splitter

// Splitter partitions text into ordered segments no larger than a target size
// wherever a boundary allows it.
type Splitter struct {
	boundaries []Boundary
}

// New creates a Splitter that tries boundaries in order. With no arguments it
// uses DefaultBoundaries.
func New(boundaries ...Boundary) *Splitter {
	if len(boundaries) == 0 {
		boundaries = DefaultBoundaries()
	}
	return &Splitter{boundaries: boundaries}
}

var defaultSplitter = New()

// Split partitions text with the default boundary cascade.
func Split(text string, target int) []string {
	return defaultSplitter.Split(text, target)
}

// TargetSize returns the segment size for splitting a unit of size bytes:
// half the unit, but never below minSegment.
func TargetSize(size, minSegment int64) int64 {
	return max(size/2, minSegment)
}

type span struct {
	start, end int
}

// Split partitions text into segments of at most target bytes.
//
// Pieces larger than target are refined with the next boundary in the
// cascade; a piece that no boundary can break is kept whole and may exceed
// target. Pieces are then packed greedily into segments. The result never
// contains an empty segment and its concatenation equals text.
func (s *Splitter) Split(text string, target int) []string {
	if text == "" {
		return nil
	}
	if target <= 0 || len(text) <= target {
		return []string{text}
	}

	pieces := s.refine(nil, text, 0, target, 0)

	var segments []string
	cur := span{}
	for _, p := range pieces {
		if cur.end > cur.start && p.end-cur.start > target {
			segments = append(segments, text[cur.start:cur.end])
			cur = span{start: p.start, end: p.start}
		}
		cur.end = p.end
	}
	if cur.end > cur.start {
		segments = append(segments, text[cur.start:cur.end])
	}
	return segments
}

// refine appends the spans of text, which starts at offset, broken down with
// boundaries from level onward until each fits target or no boundary is left.
func (s *Splitter) refine(out []span, text string, offset, target, level int) []span {
	if len(text) <= target || level >= len(s.boundaries) {
		return append(out, span{start: offset, end: offset + len(text)})
	}
	pos := offset
	for _, piece := range s.boundaries[level].Pieces(text) {
		if len(piece) > target {
			out = s.refine(out, piece, pos, target, level+1)
		} else {
			out = append(out, span{start: pos, end: pos + len(piece)})
		}
		pos += len(piece)
	}
	return out
}

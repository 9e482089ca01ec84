package collator

// Span is the half-open range [Start, End) of access unit positions.
type Span struct {
	Start, End int
}

// ReverseSpans splits a run of access units at reversible points. points[i]
// reports whether unit i is one. Spans come back last first; units ahead of
// the first reversible point belong to no span.
func ReverseSpans(points []bool) []Span {
	var spans []Span
	for i, point := range points {
		switch {
		case point:
			spans = append(spans, Span{Start: i, End: i + 1})
		case len(spans) > 0:
			spans[len(spans)-1].End = i + 1
		}
	}

	for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
		spans[i], spans[j] = spans[j], spans[i]
	}
	return spans
}

// ReverseGroups splits access units at reversible points for reverse play.
// Groups come back last first, each still in forward order, with the first
// unit of every group marked as a reverse group start. Units ahead of the
// first reversible point cannot start a group and are released.
func ReverseGroups(units []AccessUnit) [][]AccessUnit {
	points := make([]bool, len(units))
	for i, u := range units {
		points[i] = u.ReversiblePoint
	}

	spans := ReverseSpans(points)
	if len(spans) == 0 {
		for _, u := range units {
			u.Release()
		}
		return nil
	}
	first := spans[len(spans)-1].Start
	for _, u := range units[:first] {
		u.Release()
	}

	groups := make([][]AccessUnit, 0, len(spans))
	for _, span := range spans {
		units[span.Start].Frame.Value().Metadata.ReverseGroupStart = true
		groups = append(groups, units[span.Start:span.End:span.End])
	}
	return groups
}

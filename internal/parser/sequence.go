package parser

// sequenceGenerator hands out monotonically increasing decode indices.
// A continuation of the picture in progress undoes the last index and draws
// it again, so every slice of one picture shares a decode index.
type sequenceGenerator struct {
	next    int
	issued  bool
	lastOut int
}

func newSequenceGenerator() *sequenceGenerator {
	return &sequenceGenerator{lastOut: InvalidIndex}
}

// Next returns the next decode index.
func (g *sequenceGenerator) Next() int {
	v := g.next
	g.next++
	g.issued = true
	g.lastOut = v
	return v
}

// UndoLast returns the last index to the generator. It is a no-op when
// nothing has been issued since the previous undo.
func (g *sequenceGenerator) UndoLast() {
	if !g.issued {
		return
	}
	g.next--
	g.issued = false
	g.lastOut = g.next - 1
	if g.lastOut < 0 {
		g.lastOut = InvalidIndex
	}
}

// Reuse draws the last index again.
func (g *sequenceGenerator) Reuse() int {
	if g.next == 0 {
		return g.Next()
	}
	g.UndoLast()
	return g.Next()
}

// Last returns the most recently issued index, or InvalidIndex.
func (g *sequenceGenerator) Last() int {
	return g.lastOut
}

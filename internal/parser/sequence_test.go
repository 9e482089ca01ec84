package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceGenerator(t *testing.T) {
	g := newSequenceGenerator()
	assert.Equal(t, InvalidIndex, g.Last())

	assert.Equal(t, 0, g.Next())
	assert.Equal(t, 1, g.Next())
	assert.Equal(t, 1, g.Reuse(), "continuations share the last index")
	assert.Equal(t, 1, g.Last())

	g.UndoLast()
	assert.Equal(t, 0, g.Last())
	g.UndoLast()
	assert.Equal(t, 0, g.Last(), "a second undo is a no-op")
	assert.Equal(t, 1, g.Next())
}

func TestSequenceGenerator_ReuseOnFresh(t *testing.T) {
	g := newSequenceGenerator()
	assert.Equal(t, 0, g.Reuse())
	assert.Equal(t, 1, g.Next())
}

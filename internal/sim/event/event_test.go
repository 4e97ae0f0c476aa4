package event

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asch/ssdsim/internal/sim/id"
)

func TestPopIfDueOrdersByExpiryThenID(t *testing.T) {
	m := New()
	m.Push(10, id.ObjectID(2))
	m.Push(5, id.ObjectID(1))
	m.Push(5, id.ObjectID(0))
	m.Push(20, id.ObjectID(3))

	due := m.PopIfDue(10)
	assert.Len(t, due, 3)
	assert.Equal(t, id.ObjectID(0), due[0].Object)
	assert.Equal(t, id.ObjectID(1), due[1].Object)
	assert.Equal(t, id.ObjectID(2), due[2].Object)

	assert.False(t, m.Empty())
	next, ok := m.Peek()
	assert.True(t, ok)
	assert.Equal(t, id.ObjectID(3), next.Object)
}

func TestPopIfDueEmpty(t *testing.T) {
	m := New()
	assert.True(t, m.Empty())
	assert.Empty(t, m.PopIfDue(1000))

	_, ok := m.Peek()
	assert.False(t, ok)
}

func TestPopIfDueDrainsExactlyDueEvents(t *testing.T) {
	m := New()
	m.Push(1, id.ObjectID(1))
	m.Push(2, id.ObjectID(2))
	m.Push(3, id.ObjectID(3))

	assert.Len(t, m.PopIfDue(2), 2)
	assert.False(t, m.Empty())
	assert.Len(t, m.PopIfDue(3), 1)
	assert.True(t, m.Empty())
}

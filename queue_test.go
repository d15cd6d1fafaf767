package mlcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue(t *testing.T) {
	q := newQueue[int](2)

	assert.True(t, q.Enqueue(1))
	assert.True(t, q.Enqueue(2))
	assert.False(t, q.Enqueue(3))
	assert.Equal(t, 2, q.Len())

	v, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, q.Enqueue(3))
	v, _ = q.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = q.Dequeue()
	assert.Equal(t, 3, v)

	_, ok = q.Dequeue()
	assert.False(t, ok)

	q.Enqueue(4)
	q.Clear()
	assert.Equal(t, 0, q.Len())
}

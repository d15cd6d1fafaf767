package mlcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopbackBus(t *testing.T) {
	bus := NewLoopbackBus()
	a, b, c := bus.Open(), bus.Open(), bus.Open()

	f := NewFrame(OpcQNN)
	f.ID = 0x585
	assert.NoError(t, a.WriteFrame(f))

	assert.False(t, a.Available())
	_, err := a.ReadFrame()
	assert.ErrorIs(t, err, ErrNoFrame)

	for _, ep := range []*LoopbackEndpoint{b, c} {
		assert.True(t, ep.Available())
		got, err := ep.ReadFrame()
		assert.NoError(t, err)
		assert.Equal(t, f.Payload(), got.Payload())
		assert.Equal(t, uint32(0x585), got.ID)
		assert.False(t, got.Time.IsZero())
	}

	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.WriteFrame(f), ErrClosed)
	_, err = c.ReadFrame()
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, a.WriteFrame(f))
	assert.True(t, b.Available())
	assert.False(t, c.Available())

	assert.NoError(t, bus.Close())
	assert.ErrorIs(t, b.WriteFrame(f), ErrClosed)

	// frames received before close can still be read
	_, err = b.ReadFrame()
	assert.NoError(t, err)
	_, err = b.ReadFrame()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoopbackEndpoint_dropsWhenFull(t *testing.T) {
	bus := NewLoopbackBus()
	a, b := bus.Open(), bus.Open()

	for i := 0; i < loopbackQueueSize+2; i++ {
		assert.NoError(t, a.WriteFrame(NewFrame(OpcQNN)))
	}
	assert.Equal(t, uint64(2), b.Dropped())
	assert.Equal(t, uint64(0), a.Dropped())
}

func TestLoopbackBus_openAfterClose(t *testing.T) {
	bus := NewLoopbackBus()
	assert.NoError(t, bus.Close())

	ep := bus.Open()
	assert.ErrorIs(t, ep.WriteFrame(NewFrame(OpcQNN)), ErrClosed)
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenStorm_invalidLayout(t *testing.T) {
	s, err := OpenStorm(filepath.Join(t.TempDir(), "node.db"), Layout{MaxEvents: 0})
	assert.EqualError(t, err, "layout must allow at least one event")
	assert.Nil(t, s)
}

func TestStorm_persistsConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	layout := Layout{MaxEvents: 4, NumEVs: 2, NumNVs: 4}

	s, err := OpenStorm(path, layout)
	if !assert.NoError(t, err) {
		return
	}
	assert.NoError(t, s.SetNodeNumber(1234))
	assert.NoError(t, s.SetCANID(17))
	assert.NoError(t, s.SetFLiM(true))
	assert.NoError(t, s.WriteNV(2, 0x55))

	assert.NoError(t, s.WriteEvent(0, 300, 1))
	assert.NoError(t, s.WriteEV(0, 1, 7))
	assert.NoError(t, s.UpdateIndexEntry(0))

	assert.NoError(t, s.WriteEvent(2, 0, 99))
	assert.NoError(t, s.UpdateIndexEntry(2))

	assert.NoError(t, s.WriteEvent(1, 400, 2))
	assert.NoError(t, s.ClearEvent(1))
	assert.NoError(t, s.Close())

	s, err = OpenStorm(path, layout)
	if !assert.NoError(t, err) {
		return
	}
	defer s.Close()

	assert.Equal(t, uint16(1234), s.NodeNumber())
	assert.Equal(t, uint8(17), s.CANID())
	assert.True(t, s.FLiM())

	nv, err := s.ReadNV(2)
	assert.NoError(t, err)
	assert.Equal(t, uint8(0x55), nv)

	slot, ok := s.FindEvent(300, 1)
	assert.True(t, ok)
	assert.Equal(t, uint8(0), slot)
	ev, err := s.ReadEV(0, 1)
	assert.NoError(t, err)
	assert.Equal(t, uint8(7), ev)

	slot, ok = s.FindEvent(0, 99)
	assert.True(t, ok)
	assert.Equal(t, uint8(2), slot)

	assert.False(t, s.IsSlotUsed(1))
	_, ok = s.FindEvent(400, 2)
	assert.False(t, ok)
}

func TestStorm_ClearAllEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	layout := Layout{MaxEvents: 2, NumEVs: 1}

	s, err := OpenStorm(path, layout)
	if !assert.NoError(t, err) {
		return
	}
	assert.NoError(t, s.WriteEvent(0, 1, 1))
	assert.NoError(t, s.WriteEvent(1, 1, 2))
	assert.NoError(t, s.RebuildIndex())
	assert.NoError(t, s.ClearAllEvents())
	assert.NoError(t, s.Close())

	s, err = OpenStorm(path, layout)
	if !assert.NoError(t, err) {
		return
	}
	defer s.Close()

	assert.False(t, s.IsSlotUsed(0))
	assert.False(t, s.IsSlotUsed(1))
}

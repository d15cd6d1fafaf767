// Package store contains node configuration stores: node identity, node variables and learned event table.
package store

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNVIndex is returned for node variable index outside 1..NumNVs
	ErrNVIndex = errors.New("node variable index out of range")
	// ErrEventIndex is returned for event table slot outside 0..MaxEvents-1
	ErrEventIndex = errors.New("event index out of range")
	// ErrEVIndex is returned for event variable index outside 1..NumEVs
	ErrEVIndex = errors.New("event variable index out of range")
)

// Layout is size of configuration storage.
type Layout struct {
	MaxEvents uint8 `yaml:"max_events"`
	NumEVs    uint8 `yaml:"evs_per_event"`
	NumNVs    uint8 `yaml:"nvs"`
}

// Validate checks that layout is usable.
func (l Layout) Validate() error {
	if l.MaxEvents == 0 {
		return errors.New("layout must allow at least one event")
	}
	if l.MaxEvents == 255 {
		return errors.New("layout allows up to 254 events")
	}
	return nil
}

type eventKey struct {
	nn uint16
	en uint16
}

type eventSlot struct {
	used bool
	key  eventKey
	evs  []uint8
}

// Memory is configuration store that keeps everything in memory. It is also used as cache by persistent stores.
type Memory struct {
	mu     sync.RWMutex
	layout Layout

	nodeNumber uint16
	canID      uint8
	flim       bool

	nvs    []uint8
	events []eventSlot

	// index is derived lookup table from event key to slot. It is refreshed with UpdateIndexEntry and RebuildIndex.
	index   map[eventKey]uint8
	indexed []bool
}

// NewMemory creates new empty in-memory store.
func NewMemory(layout Layout) *Memory {
	m := &Memory{
		layout:  layout,
		nvs:     make([]uint8, layout.NumNVs),
		events:  make([]eventSlot, layout.MaxEvents),
		index:   make(map[eventKey]uint8, layout.MaxEvents),
		indexed: make([]bool, layout.MaxEvents),
	}
	for i := range m.events {
		m.events[i].evs = make([]uint8, layout.NumEVs)
	}
	return m
}

// Layout returns store layout.
func (m *Memory) Layout() Layout {
	return m.layout
}

func (m *Memory) NodeNumber() uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodeNumber
}

func (m *Memory) SetNodeNumber(nn uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeNumber = nn
	return nil
}

func (m *Memory) CANID() uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canID
}

func (m *Memory) SetCANID(canID uint8) error {
	if canID > 127 {
		return fmt.Errorf("invalid CANID: %v", canID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canID = canID
	return nil
}

func (m *Memory) FLiM() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flim
}

func (m *Memory) SetFLiM(isFLiM bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flim = isFLiM
	return nil
}

func (m *Memory) NumNVs() uint8 {
	return m.layout.NumNVs
}

func (m *Memory) ReadNV(index uint8) (uint8, error) {
	if index < 1 || index > m.layout.NumNVs {
		return 0, ErrNVIndex
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nvs[index-1], nil
}

func (m *Memory) WriteNV(index uint8, value uint8) error {
	if index < 1 || index > m.layout.NumNVs {
		return ErrNVIndex
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nvs[index-1] = value
	return nil
}

func (m *Memory) MaxEvents() uint8 {
	return m.layout.MaxEvents
}

func (m *Memory) NumEVs() uint8 {
	return m.layout.NumEVs
}

// FindEvent returns slot of event with given key using derived index.
func (m *Memory) FindEvent(nn uint16, en uint16) (uint8, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	index, ok := m.index[eventKey{nn: nn, en: en}]
	return index, ok
}

// FindFreeSlot returns lowest unused event table slot.
func (m *Memory) FindFreeSlot() (uint8, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.events {
		if !m.events[i].used {
			return uint8(i), true
		}
	}
	return 0, false
}

func (m *Memory) IsSlotUsed(index uint8) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(index) >= len(m.indexed) {
		return false
	}
	return m.indexed[index]
}

func (m *Memory) ReadEvent(index uint8) (uint16, uint16, error) {
	if index >= m.layout.MaxEvents {
		return 0, 0, ErrEventIndex
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot := m.events[index]
	return slot.key.nn, slot.key.en, nil
}

func (m *Memory) WriteEvent(index uint8, nn uint16, en uint16) error {
	if index >= m.layout.MaxEvents {
		return ErrEventIndex
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[index].used = true
	m.events[index].key = eventKey{nn: nn, en: en}
	return nil
}

func (m *Memory) ReadEV(index uint8, evIndex uint8) (uint8, error) {
	if index >= m.layout.MaxEvents {
		return 0, ErrEventIndex
	}
	if evIndex < 1 || evIndex > m.layout.NumEVs {
		return 0, ErrEVIndex
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[index].evs[evIndex-1], nil
}

func (m *Memory) WriteEV(index uint8, evIndex uint8, value uint8) error {
	if index >= m.layout.MaxEvents {
		return ErrEventIndex
	}
	if evIndex < 1 || evIndex > m.layout.NumEVs {
		return ErrEVIndex
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[index].evs[evIndex-1] = value
	return nil
}

func (m *Memory) ClearEvent(index uint8) error {
	if index >= m.layout.MaxEvents {
		return ErrEventIndex
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearSlot(index)
	return nil
}

func (m *Memory) clearSlot(index uint8) {
	slot := &m.events[index]
	slot.used = false
	slot.key = eventKey{}
	for i := range slot.evs {
		slot.evs[i] = 0
	}
}

func (m *Memory) ClearAllEvents() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		m.clearSlot(uint8(i))
	}
	m.rebuildIndex()
	return nil
}

func (m *Memory) UpdateIndexEntry(index uint8) error {
	if index >= m.layout.MaxEvents {
		return ErrEventIndex
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, i := range m.index {
		if i == index {
			delete(m.index, k)
		}
	}
	slot := m.events[index]
	m.indexed[index] = slot.used
	if slot.used {
		m.index[slot.key] = index
	}
	return nil
}

func (m *Memory) RebuildIndex() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildIndex()
	return nil
}

func (m *Memory) rebuildIndex() {
	m.index = make(map[eventKey]uint8, len(m.events))
	for i, slot := range m.events {
		m.indexed[i] = slot.used
		if slot.used {
			m.index[slot.key] = uint8(i)
		}
	}
}

package store

import (
	"errors"
	"fmt"

	"github.com/asdine/storm/v3"
)

const identityID = 1

type identityRecord struct {
	ID         int `storm:"id"`
	NodeNumber uint16
	CANID      uint8
	FLiM       bool
}

type nvRecord struct {
	Index int `storm:"id"` // 1..NumNVs
	Value uint8
}

type eventRecord struct {
	ID          int `storm:"id"` // slot + 1
	NodeNumber  uint16
	EventNumber uint16
	EVs         []uint8
}

// Storm is persistent store backed by storm (bolt) database file. All reads are served from in-memory cache that is
// loaded when database is opened and every write is written through to database.
type Storm struct {
	*Memory
	db *storm.DB
}

// OpenStorm opens (or creates) database file and loads node configuration from it.
func OpenStorm(path string, layout Layout) (*Storm, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}
	for _, t := range []interface{}{&identityRecord{}, &nvRecord{}, &eventRecord{}} {
		if err := db.Init(t); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init store database: %w", err)
		}
	}

	s := &Storm{Memory: NewMemory(layout), db: db}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storm) load() error {
	var identity identityRecord
	err := s.db.One("ID", identityID, &identity)
	if err != nil && !errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("failed to load node identity: %w", err)
	}
	s.Memory.nodeNumber = identity.NodeNumber
	s.Memory.canID = identity.CANID
	s.Memory.flim = identity.FLiM

	var nvs []nvRecord
	if err := s.db.All(&nvs); err != nil {
		return fmt.Errorf("failed to load node variables: %w", err)
	}
	for _, nv := range nvs {
		if nv.Index < 1 || nv.Index > len(s.Memory.nvs) {
			continue // layout has shrunk
		}
		s.Memory.nvs[nv.Index-1] = nv.Value
	}

	var events []eventRecord
	if err := s.db.All(&events); err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	for _, e := range events {
		slot := e.ID - 1
		if slot < 0 || slot >= len(s.Memory.events) {
			continue
		}
		s.Memory.events[slot].used = true
		s.Memory.events[slot].key = eventKey{nn: e.NodeNumber, en: e.EventNumber}
		copy(s.Memory.events[slot].evs, e.EVs)
	}
	return s.Memory.RebuildIndex()
}

// Close closes database file.
func (s *Storm) Close() error {
	return s.db.Close()
}

func (s *Storm) saveIdentity() error {
	s.Memory.mu.RLock()
	r := identityRecord{
		ID:         identityID,
		NodeNumber: s.Memory.nodeNumber,
		CANID:      s.Memory.canID,
		FLiM:       s.Memory.flim,
	}
	s.Memory.mu.RUnlock()
	if err := s.db.Save(&r); err != nil {
		return fmt.Errorf("failed to save node identity: %w", err)
	}
	return nil
}

func (s *Storm) saveEvent(index uint8) error {
	s.Memory.mu.RLock()
	slot := s.Memory.events[index]
	r := eventRecord{
		ID:          int(index) + 1,
		NodeNumber:  slot.key.nn,
		EventNumber: slot.key.en,
		EVs:         append([]uint8{}, slot.evs...),
	}
	s.Memory.mu.RUnlock()

	if !slot.used {
		err := s.db.DeleteStruct(&r)
		if err != nil && !errors.Is(err, storm.ErrNotFound) {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	}
	if err := s.db.Save(&r); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *Storm) SetNodeNumber(nn uint16) error {
	if err := s.Memory.SetNodeNumber(nn); err != nil {
		return err
	}
	return s.saveIdentity()
}

func (s *Storm) SetCANID(canID uint8) error {
	if err := s.Memory.SetCANID(canID); err != nil {
		return err
	}
	return s.saveIdentity()
}

func (s *Storm) SetFLiM(isFLiM bool) error {
	if err := s.Memory.SetFLiM(isFLiM); err != nil {
		return err
	}
	return s.saveIdentity()
}

func (s *Storm) WriteNV(index uint8, value uint8) error {
	if err := s.Memory.WriteNV(index, value); err != nil {
		return err
	}
	if err := s.db.Save(&nvRecord{Index: int(index), Value: value}); err != nil {
		return fmt.Errorf("failed to save node variable: %w", err)
	}
	return nil
}

func (s *Storm) WriteEvent(index uint8, nn uint16, en uint16) error {
	if err := s.Memory.WriteEvent(index, nn, en); err != nil {
		return err
	}
	return s.saveEvent(index)
}

func (s *Storm) WriteEV(index uint8, evIndex uint8, value uint8) error {
	if err := s.Memory.WriteEV(index, evIndex, value); err != nil {
		return err
	}
	return s.saveEvent(index)
}

func (s *Storm) ClearEvent(index uint8) error {
	if err := s.Memory.ClearEvent(index); err != nil {
		return err
	}
	return s.saveEvent(index)
}

func (s *Storm) ClearAllEvents() error {
	if err := s.Memory.ClearAllEvents(); err != nil {
		return err
	}
	if err := s.db.Drop(&eventRecord{}); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	if err := s.db.Init(&eventRecord{}); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	return nil
}

package services

import (
	"sync"
	"time"

	"github.com/geotrack/tracker/internal/models"
)

// ChangeType classifies a store mutation
type ChangeType string

const (
	ChangePut    ChangeType = "put"
	ChangeUpdate ChangeType = "update"
	ChangeRemove ChangeType = "remove"
	ChangeClear  ChangeType = "clear"
)

// StoreChange describes one store mutation. Record is a copy and is nil
// for remove/clear.
type StoreChange struct {
	Type     ChangeType
	DeviceID string
	Record   *models.DeviceRecord
}

// StoreListener receives store change notifications
type StoreListener func(StoreChange)

// DevicePatch is a shallow merge into an existing record. Nil fields are
// left untouched. There is deliberately no DeviceID field: the key is
// immutable once a record exists.
type DevicePatch struct {
	Name         *string
	Type         *string
	Coordinates  *models.Coordinates
	LocationName *string
	LastUpdate   *time.Time
	OfflineAt    *time.Time
	Trail        []models.TrailPoint
}

// DeviceStore is the canonical deviceId → DeviceRecord mapping. List
// order is insertion order. All reads return copies; mutation happens
// only through Put/Upsert/Remove/Clear.
type DeviceStore struct {
	mu        sync.RWMutex
	records   map[string]*models.DeviceRecord
	order     []string
	listeners map[int]StoreListener
	nextSub   int
}

// NewDeviceStore creates an empty store
func NewDeviceStore() *DeviceStore {
	return &DeviceStore{
		records:   make(map[string]*models.DeviceRecord),
		listeners: make(map[int]StoreListener),
	}
}

// Put inserts or replaces a full record. This is the only path that can
// create a record: registration and device-list fetches go through here,
// bare location events never do.
func (s *DeviceStore) Put(rec *models.DeviceRecord) {
	if rec == nil || rec.DeviceID == "" {
		return
	}

	s.mu.Lock()
	_, exists := s.records[rec.DeviceID]
	s.records[rec.DeviceID] = rec.Clone()
	if !exists {
		s.order = append(s.order, rec.DeviceID)
	}
	s.mu.Unlock()

	change := ChangePut
	if exists {
		change = ChangeUpdate
	}
	s.notify(StoreChange{Type: change, DeviceID: rec.DeviceID, Record: rec.Clone()})
}

// Upsert shallow-merges the patch into an existing record and returns a
// copy of the result, or nil when the device is unknown.
func (s *DeviceStore) Upsert(deviceID string, patch DevicePatch) *models.DeviceRecord {
	s.mu.Lock()
	rec, ok := s.records[deviceID]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.Type != nil {
		rec.Type = *patch.Type
	}
	if patch.Coordinates != nil {
		rec.Coordinates = *patch.Coordinates
	}
	if patch.LocationName != nil {
		rec.LocationName = *patch.LocationName
	}
	if patch.LastUpdate != nil {
		rec.LastUpdate = *patch.LastUpdate
	}
	if patch.OfflineAt != nil {
		rec.OfflineAt = *patch.OfflineAt
	}
	if patch.Trail != nil {
		rec.Trail = make([]models.TrailPoint, len(patch.Trail))
		copy(rec.Trail, patch.Trail)
	}
	out := rec.Clone()
	s.mu.Unlock()

	s.notify(StoreChange{Type: ChangeUpdate, DeviceID: deviceID, Record: out.Clone()})
	return out
}

// Remove deletes a record and reports whether it existed
func (s *DeviceStore) Remove(deviceID string) bool {
	s.mu.Lock()
	_, ok := s.records[deviceID]
	if ok {
		delete(s.records, deviceID)
		for i, id := range s.order {
			if id == deviceID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok {
		s.notify(StoreChange{Type: ChangeRemove, DeviceID: deviceID})
	}
	return ok
}

// Clear empties the store; invoked on logout
func (s *DeviceStore) Clear() {
	s.mu.Lock()
	s.records = make(map[string]*models.DeviceRecord)
	s.order = nil
	s.mu.Unlock()

	s.notify(StoreChange{Type: ChangeClear})
}

// Get returns a copy of a record
func (s *DeviceStore) Get(deviceID string) (*models.DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[deviceID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns copies of all records in insertion order
func (s *DeviceStore) List() []*models.DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DeviceRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// IDs returns all device ids in insertion order
func (s *DeviceStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of records
func (s *DeviceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Subscribe registers a change listener and returns an unsubscribe func.
// Listeners are called after the mutation, outside the store lock.
func (s *DeviceStore) Subscribe(fn StoreListener) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *DeviceStore) notify(change StoreChange) {
	s.mu.RLock()
	fns := make([]StoreListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

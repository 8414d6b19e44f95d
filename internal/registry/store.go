package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrFull is returned by Acquire when every slot is taken.
var ErrFull = errors.New("registry: all slots in use")

// Instance describes one registered producer.
type Instance struct {
	Slot         int    `json:"slot"`
	Name         string `json:"name"`
	RegisteredAt int64  `json:"registered_at"` // unix nanos
	LastDrainAt  int64  `json:"last_drain_at"` // unix nanos, 0 if never drained
	Entries      uint64 `json:"entries"`       // entries replayed so far
}

// Store is the registration set: a fixed number of slots, each either
// free or held by one Instance. Slots are handed out lowest first so
// slot numbers stay small and stable for the lifetime of a producer.
type Store struct {
	mu        sync.RWMutex
	instances []*Instance
	live      int
	now       func() time.Time
}

// NewStore creates a store with capacity slots. now stamps registration
// and drain times.
func NewStore(capacity int, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		instances: make([]*Instance, capacity),
		now:       now,
	}
}

// Acquire claims the lowest free slot for name.
func (s *Store) Acquire(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slot, inst := range s.instances {
		if inst != nil {
			continue
		}
		s.instances[slot] = &Instance{
			Slot:         slot,
			Name:         name,
			RegisteredAt: s.now().UnixNano(),
		}
		s.live++
		return slot, nil
	}
	return -1, errors.Wrapf(ErrFull, "%d of %d slots in use", s.live, len(s.instances))
}

// Release frees slot. Releasing a free slot is a no-op.
func (s *Store) Release(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.instances) || s.instances[slot] == nil {
		return
	}
	s.instances[slot] = nil
	s.live--
}

// Touch records that entries were replayed for slot.
func (s *Store) Touch(slot int, entries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.instances) {
		return
	}
	if inst := s.instances[slot]; inst != nil {
		inst.LastDrainAt = s.now().UnixNano()
		inst.Entries += uint64(entries)
	}
}

// Get returns a copy of the instance in slot.
func (s *Store) Get(slot int) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if slot < 0 || slot >= len(s.instances) || s.instances[slot] == nil {
		return Instance{}, false
	}
	return *s.instances[slot], true
}

// List returns copies of all live instances ordered by slot.
func (s *Store) List() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Instance, 0, s.live)
	for _, inst := range s.instances {
		if inst != nil {
			list = append(list, *inst)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Slot < list[j].Slot })
	return list
}

// Len returns the number of live instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Cap returns the slot capacity.
func (s *Store) Cap() int {
	return len(s.instances)
}

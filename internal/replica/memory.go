package replica

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store implementation. It backs tests and the
// no-database mode. A single RWMutex gives the one-writer/many-readers
// semantics; every read hands out deep copies so callers never alias
// internal state.
type MemoryStore struct {
	mu sync.RWMutex

	vehicles map[string]*Vehicle
	lines    map[int64]*Line
	stops    map[int64]*Stop
	travels  map[int64]*Travel
	binding  *Binding

	nextTravelID      int64
	nextProvisionalID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles:          make(map[string]*Vehicle),
		lines:             make(map[int64]*Line),
		stops:             make(map[int64]*Stop),
		travels:           make(map[int64]*Travel),
		nextTravelID:      1,
		nextProvisionalID: -1,
	}
}

func copyVehicle(v *Vehicle) *Vehicle {
	c := *v
	if v.LineID != nil {
		id := *v.LineID
		c.LineID = &id
	}
	return &c
}

func copyLine(l *Line) *Line {
	c := *l
	c.StopIDs = append([]int64(nil), l.StopIDs...)
	return &c
}

func copyStop(s *Stop) *Stop {
	c := *s
	c.LineIDs = append([]int64(nil), s.LineIDs...)
	return &c
}

func copyTravel(t *Travel) *Travel {
	c := *t
	if t.LineID != nil {
		id := *t.LineID
		c.LineID = &id
	}
	if t.EndStopID != nil {
		id := *t.EndStopID
		c.EndStopID = &id
	}
	return &c
}

func (m *MemoryStore) Vehicle(ctx context.Context, mac string) (*Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[mac]
	if !ok {
		return nil, ErrNotFound
	}
	return copyVehicle(v), nil
}

func (m *MemoryStore) Vehicles(ctx context.Context) ([]*Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, copyVehicle(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out, nil
}

func (m *MemoryStore) SaveVehicle(ctx context.Context, v *Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.MAC] = copyVehicle(v)
	return nil
}

func (m *MemoryStore) Line(ctx context.Context, id int64) (*Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLine(l), nil
}

func (m *MemoryStore) Lines(ctx context.Context) ([]*Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Line, 0, len(m.lines))
	for _, l := range m.lines {
		out = append(out, copyLine(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveLine(ctx context.Context, l *Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[l.ID] = copyLine(l)
	return nil
}

func (m *MemoryStore) NewLocalLine(ctx context.Context, name string) (*Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &Line{ID: m.nextProvisionalID, Name: name}
	m.nextProvisionalID--
	m.lines[l.ID] = l
	return copyLine(l), nil
}

func (m *MemoryStore) RekeyLine(ctx context.Context, oldID, newID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[oldID]
	if !ok {
		return ErrNotFound
	}
	if existing, exists := m.lines[newID]; exists && newID != oldID {
		// The server already knows this line under newID: fold the
		// provisional record into it instead of colliding.
		for _, sid := range l.StopIDs {
			if !containsID(existing.StopIDs, sid) {
				existing.StopIDs = append(existing.StopIDs, sid)
			}
		}
		existing.Synced = true
		delete(m.lines, oldID)
	} else {
		delete(m.lines, oldID)
		l.ID = newID
		l.Synced = true
		m.lines[newID] = l
	}
	for _, v := range m.vehicles {
		if v.LineID != nil && *v.LineID == oldID {
			id := newID
			v.LineID = &id
		}
	}
	for _, s := range m.stops {
		s.LineIDs = rewriteID(s.LineIDs, oldID, newID)
	}
	for _, t := range m.travels {
		if t.LineID != nil && *t.LineID == oldID {
			id := newID
			t.LineID = &id
		}
	}
	return nil
}

func (m *MemoryStore) Stop(ctx context.Context, id int64) (*Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStop(s), nil
}

func (m *MemoryStore) Stops(ctx context.Context) ([]*Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Stop, 0, len(m.stops))
	for _, s := range m.stops {
		out = append(out, copyStop(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveStop(ctx context.Context, s *Stop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[s.ID] = copyStop(s)
	return nil
}

func (m *MemoryStore) NewLocalStop(ctx context.Context, lat, lon float64) (*Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Stop{ID: m.nextProvisionalID, Lat: lat, Lon: lon}
	m.nextProvisionalID--
	m.stops[s.ID] = s
	return copyStop(s), nil
}

func (m *MemoryStore) RekeyStop(ctx context.Context, oldID, newID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stops[oldID]
	if !ok {
		return ErrNotFound
	}
	if existing, exists := m.stops[newID]; exists && newID != oldID {
		// Server-side dedup can hand back an id we already hold (the remote
		// tolerance is tighter than the local one); fold the provisional
		// record into the known stop.
		for _, lid := range s.LineIDs {
			if !containsID(existing.LineIDs, lid) {
				existing.LineIDs = append(existing.LineIDs, lid)
			}
		}
		existing.Synced = true
		delete(m.stops, oldID)
	} else {
		delete(m.stops, oldID)
		s.ID = newID
		s.Synced = true
		m.stops[newID] = s
	}
	for _, l := range m.lines {
		l.StopIDs = rewriteID(l.StopIDs, oldID, newID)
	}
	for _, t := range m.travels {
		if t.StartStopID == oldID {
			t.StartStopID = newID
		}
		if t.EndStopID != nil && *t.EndStopID == oldID {
			id := newID
			t.EndStopID = &id
		}
	}
	return nil
}

func (m *MemoryStore) LinkLineStop(ctx context.Context, lineID, stopID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[lineID]
	if !ok {
		return fmt.Errorf("replica: link line %d: %w", lineID, ErrNotFound)
	}
	s, ok := m.stops[stopID]
	if !ok {
		return fmt.Errorf("replica: link stop %d: %w", stopID, ErrNotFound)
	}
	if !containsID(l.StopIDs, stopID) {
		l.StopIDs = append(l.StopIDs, stopID)
	}
	if !containsID(s.LineIDs, lineID) {
		s.LineIDs = append(s.LineIDs, lineID)
	}
	return nil
}

func (m *MemoryStore) OpenTravel(ctx context.Context) (*Travel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.travels {
		if t.Open() {
			return copyTravel(t), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Travel(ctx context.Context, id int64) (*Travel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.travels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTravel(t), nil
}

func (m *MemoryStore) BeginTravel(ctx context.Context, t *Travel, v *Vehicle) (*Travel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.travels {
		if existing.Open() {
			return nil, fmt.Errorf("replica: travel %d already open", existing.ID)
		}
	}
	nt := copyTravel(t)
	nt.ID = m.nextTravelID
	m.nextTravelID++
	m.travels[nt.ID] = nt
	m.vehicles[v.MAC] = copyVehicle(v)
	m.binding = &Binding{NetworkMAC: v.MAC, TravelID: nt.ID}
	return copyTravel(nt), nil
}

func (m *MemoryStore) SaveTravel(ctx context.Context, t *Travel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.travels[t.ID]; !ok {
		return ErrNotFound
	}
	m.travels[t.ID] = copyTravel(t)
	return nil
}

func (m *MemoryStore) CloseTravel(ctx context.Context, t *Travel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.travels[t.ID]; !ok {
		return ErrNotFound
	}
	m.travels[t.ID] = copyTravel(t)
	m.binding = nil
	return nil
}

func (m *MemoryStore) CompletedUnsynced(ctx context.Context) ([]*Travel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Travel
	for _, t := range m.travels {
		if !t.Open() && !t.Synced {
			out = append(out, copyTravel(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PruneTravels(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, t := range m.travels {
		if !t.Open() && t.Synced && t.StartedAt.Before(olderThan) {
			delete(m.travels, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Binding(ctx context.Context) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.binding == nil {
		return nil, nil
	}
	b := *m.binding
	return &b, nil
}

func (m *MemoryStore) ClearBinding(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binding = nil
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// rewriteID maps old to new in a reference list, collapsing the duplicate
// that appears when the list already held both ids.
func rewriteID(ids []int64, oldID, newID int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == oldID {
			id = newID
		}
		if !containsID(out, id) {
			out = append(out, id)
		}
	}
	return out
}

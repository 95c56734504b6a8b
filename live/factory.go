package live

import (
	"sort"
	"sync"
	"time"

	"dworekgo/database"
	"dworekgo/util"
)

// Factory is a live lab. Its balances only change while holding its lock, and
// the lock is never held while acquiring a user lock.
type Factory struct {
	id string

	mu        sync.Mutex
	record    database.Factory
	pings     map[string]time.Time
	destroyed bool
}

func newFactory(record database.Factory) *Factory {
	return &Factory{
		id:     record.ID,
		record: record,
		pings:  map[string]time.Time{},
	}
}

func (f *Factory) ID() string {
	return f.id
}

func (f *Factory) Record() database.Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record
}

func (f *Factory) Location() util.Coordinate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.Location
}

func (f *Factory) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// VisibleTo reports whether the viewer can see this lab: their own team's labs
// always, pinged labs until the ping ends, anything else only within sight.
func (f *Factory) VisibleTo(v Viewer, now time.Time, sight float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visibleLocked(v, now, sight)
}

func (f *Factory) visibleLocked(v Viewer, now time.Time, sight float64) bool {
	if f.destroyed {
		return false
	}
	if v.TeamID == "" || v.TeamID == f.record.TeamID {
		return true
	}
	if until, ok := f.pings[v.UserID]; ok && now.Before(until) {
		return true
	}
	return v.HasLocation && v.Location.Distance(f.record.Location) <= sight
}

func (f *Factory) ping(userID string, until time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.pings[userID]; !ok || current.Before(until) {
		f.pings[userID] = until
	}
}

// PingedUntil returns when the viewer's ping on this lab ends.
func (f *Factory) PingedUntil(userID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.pings[userID]
	return until, ok
}

type FactoryManager struct {
	factories *util.MutexMap[string, *Factory]
}

func newFactoryManager() *FactoryManager {
	return &FactoryManager{factories: util.NewMutexMap[string, *Factory]()}
}

func (m *FactoryManager) Get(id string) (*Factory, bool) {
	return m.factories.Get(id)
}

// All returns every lab of the game sorted by ID.
func (m *FactoryManager) All() []*Factory {
	factories := m.factories.Values()
	sort.Slice(factories, func(i, j int) bool { return factories[i].id < factories[j].id })
	return factories
}

func (m *FactoryManager) Count() int {
	return m.factories.Length()
}

func (m *FactoryManager) add(f *Factory) {
	m.factories.Set(f.id, f)
}

func (m *FactoryManager) remove(id string) {
	m.factories.Delete(id)
}

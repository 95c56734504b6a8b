package database

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// MemoryBackend keeps every record in process memory. It can be seeded from a
// YAML fixture and writes a snapshot back on Close when one is configured.
type MemoryBackend struct {
	mu        sync.RWMutex
	sessions  map[string]Session // by token
	users     map[string]User
	games     map[string]Game
	teams     map[string]Team
	gameUsers map[string]GameUser
	factories map[string]Factory

	snapshot string
	accesses atomic.Int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions:  map[string]Session{},
		users:     map[string]User{},
		games:     map[string]Game{},
		teams:     map[string]Team{},
		gameUsers: map[string]GameUser{},
		factories: map[string]Factory{},
	}
}

// Accesses returns how many store operations have been served.
func (m *MemoryBackend) Accesses() int64 {
	return m.accesses.Load()
}

func (m *MemoryBackend) Seed(f *Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range f.Sessions {
		m.sessions[s.Token] = s
	}
	for _, u := range f.Users {
		m.users[u.ID] = u
	}
	for _, g := range f.Games {
		m.games[g.ID] = g
	}
	for _, t := range f.Teams {
		m.teams[t.ID] = t
	}
	for _, gu := range f.GameUsers {
		m.gameUsers[gu.ID] = gu
	}
	for _, fa := range f.Factories {
		m.factories[fa.ID] = fa
	}
}

// Snapshot returns the current contents as a fixture, sorted by ID.
func (m *MemoryBackend) Snapshot() *Fixture {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f := &Fixture{}
	for _, s := range m.sessions {
		f.Sessions = append(f.Sessions, s)
	}
	for _, u := range m.users {
		f.Users = append(f.Users, u)
	}
	for _, g := range m.games {
		f.Games = append(f.Games, g)
	}
	for _, t := range m.teams {
		f.Teams = append(f.Teams, t)
	}
	for _, gu := range m.gameUsers {
		f.GameUsers = append(f.GameUsers, gu)
	}
	for _, fa := range m.factories {
		f.Factories = append(f.Factories, fa)
	}
	f.sort()
	return f
}

func (m *MemoryBackend) SessionByToken(ctx context.Context, token string) (*Session, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[token]; ok {
		return &s, nil
	}
	return nil, errors.Wrap(ErrNotFound, "session")
}

func (m *MemoryBackend) User(ctx context.Context, id string) (*User, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "user %s", id)
}

func (m *MemoryBackend) Game(ctx context.Context, id string) (*Game, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.games[id]; ok {
		return &g, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "game %s", id)
}

func (m *MemoryBackend) SetGameStage(ctx context.Context, id string, stage GameStage) error {
	m.accesses.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "game %s", id)
	}
	g.Stage = stage
	m.games[id] = g
	return nil
}

func (m *MemoryBackend) Teams(ctx context.Context, gameID string) ([]Team, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	teams := []Team{}
	for _, t := range m.teams {
		if t.GameID == gameID {
			teams = append(teams, t)
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (m *MemoryBackend) GameUsers(ctx context.Context, gameID string) ([]GameUser, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := []GameUser{}
	for _, gu := range m.gameUsers {
		if gu.GameID == gameID {
			users = append(users, gu)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemoryBackend) GameUser(ctx context.Context, gameID string, userID string) (*GameUser, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, gu := range m.gameUsers {
		if gu.GameID == gameID && gu.UserID == userID {
			return &gu, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "user %s in game %s", userID, gameID)
}

func (m *MemoryBackend) Factory(ctx context.Context, id string) (*Factory, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.factories[id]; ok {
		return &f, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "factory %s", id)
}

func (m *MemoryBackend) Factories(ctx context.Context, gameID string) ([]Factory, error) {
	m.accesses.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	factories := []Factory{}
	for _, f := range m.factories {
		if f.GameID == gameID {
			factories = append(factories, f)
		}
	}
	sort.Slice(factories, func(i, j int) bool { return factories[i].ID < factories[j].ID })
	return factories, nil
}

func (m *MemoryBackend) Commit(ctx context.Context, changes Changes) error {
	m.accesses.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before touching anything.
	for _, gu := range changes.Users {
		if _, ok := m.gameUsers[gu.ID]; !ok {
			return errors.Wrapf(ErrNotFound, "game user %s", gu.ID)
		}
	}
	for _, f := range changes.Factories {
		if _, ok := m.factories[f.ID]; !ok {
			return errors.Wrapf(ErrNotFound, "factory %s", f.ID)
		}
	}
	for _, f := range changes.Created {
		if _, ok := m.factories[f.ID]; ok {
			return errors.Errorf("factory %s already exists", f.ID)
		}
	}
	for _, id := range changes.Deleted {
		if _, ok := m.factories[id]; !ok {
			return errors.Wrapf(ErrNotFound, "factory %s", id)
		}
	}

	for _, gu := range changes.Users {
		m.gameUsers[gu.ID] = gu
	}
	for _, f := range changes.Factories {
		m.factories[f.ID] = f
	}
	for _, f := range changes.Created {
		m.factories[f.ID] = f
	}
	for _, id := range changes.Deleted {
		delete(m.factories, id)
	}
	return nil
}

func (m *MemoryBackend) Close(ctx context.Context) error {
	if m.snapshot == "" {
		return nil
	}
	return SaveFixture(m.snapshot, m.Snapshot())
}

package live

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"dworekgo/database"
	"dworekgo/mutexloader"
	"dworekgo/util"
)

// Location is the last position a user reported.
type Location struct {
	util.Coordinate
	Accuracy         float64
	AltitudeAccuracy float64
	Time             time.Time
}

// Viewer is a point-in-time copy of what decides what a user can see and reach.
type Viewer struct {
	UserID      string
	TeamID      string
	Location    Location
	HasLocation bool
}

// User is the in-memory membership of one user in a live game. Balances are
// only changed while holding the user's lock.
type User struct {
	userID string

	mu          sync.Mutex
	record      database.GameUser
	location    Location
	hasLocation bool
}

func newUser(record database.GameUser) *User {
	return &User{userID: record.UserID, record: record}
}

func (u *User) UserID() string {
	return u.userID
}

func (u *User) Record() database.GameUser {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.record
}

func (u *User) TeamID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.record.TeamID
}

func (u *User) IsPlayer() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.record.IsPlayer()
}

func (u *User) IsSpecial() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.record.IsSpecial
}

func (u *User) SetLocation(loc Location) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.location = loc
	u.hasLocation = true
}

func (u *User) Location() (Location, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.location, u.hasLocation
}

func (u *User) Viewer() Viewer {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.viewerLocked()
}

func (u *User) viewerLocked() Viewer {
	return Viewer{
		UserID:      u.record.UserID,
		TeamID:      u.record.TeamID,
		Location:    u.location,
		HasLocation: u.hasLocation,
	}
}

// Recent reports whether the viewer has a location no older than freshness.
func (v Viewer) Recent(now time.Time, freshness time.Duration) bool {
	return v.HasLocation && now.Sub(v.Location.Time) <= freshness
}

// HasRecentLocation must be called without holding the user's lock.
func (u *User) HasRecentLocation(now time.Time, freshness time.Duration) bool {
	return u.Viewer().Recent(now, freshness)
}

// UserManager holds the members of a game that have been loaded so far.
type UserManager struct {
	game   *Game
	users  *util.MutexMap[string, *User]
	loader *mutexloader.Loader[*User]
}

func newUserManager(g *Game) *UserManager {
	return &UserManager{
		game:   g,
		users:  util.NewMutexMap[string, *User](),
		loader: mutexloader.New[*User]("users:" + g.ID),
	}
}

// User returns the live membership of userID, loading it on first use.
// Users that never joined the game get ErrNotJoined.
func (m *UserManager) User(ctx context.Context, userID string) (*User, error) {
	if u, ok := m.users.Get(userID); ok {
		return u, nil
	}

	return m.loader.Wait(ctx, userID, func() (*User, error) {
		if u, ok := m.users.Get(userID); ok {
			return u, nil
		}

		loadCtx, cancel := context.WithTimeout(context.Background(), m.game.registry.loadTimeout)
		defer cancel()
		record, err := m.game.store.GameUser(loadCtx, m.game.ID, userID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotJoined
		} else if err != nil {
			return nil, err
		}

		u, _ := m.users.LoadOrStore(userID, newUser(*record))
		return u, nil
	})
}

// Loaded returns every member loaded so far, sorted by user ID.
func (m *UserManager) Loaded() []*User {
	users := m.users.Values()
	sort.Slice(users, func(i, j int) bool { return users[i].UserID() < users[j].UserID() })
	return users
}

// Members returns every member of the game, loading those not yet in memory.
func (m *UserManager) Members(ctx context.Context) ([]*User, error) {
	records, err := m.game.store.GameUsers(ctx, m.game.ID)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		m.users.LoadOrStore(record.UserID, newUser(record))
	}
	return m.Loaded(), nil
}

// snapshot returns a viewer copy of every loaded member. Each user's lock is
// taken on its own, so callers must not hold any user lock.
func (m *UserManager) snapshot() []Viewer {
	users := m.Loaded()
	viewers := make([]Viewer, 0, len(users))
	for _, u := range users {
		viewers = append(viewers, u.Viewer())
	}
	return viewers
}

// lockUsers locks each distinct user in user ID order and returns the unlock.
func lockUsers(users ...*User) func() {
	seen := map[*User]bool{}
	ordered := make([]*User, 0, len(users))
	for _, u := range users {
		if !seen[u] {
			seen[u] = true
			ordered = append(ordered, u)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UserID() < ordered[j].UserID() })

	for _, u := range ordered {
		u.mu.Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].mu.Unlock()
		}
	}
}

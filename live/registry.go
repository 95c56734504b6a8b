// Package live holds the in-memory state of running games: one Game per game
// ID per process, with its members, labs and shops.
package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"dworekgo/core"
	"dworekgo/database"
	"dworekgo/eventlogger"
	"dworekgo/mutexloader"
	"dworekgo/util"

	"github.com/apex/log"
)

// TickObserver is told about every completed game tick.
type TickObserver func(g *Game, result TickResult)

type Registry struct {
	store  database.Store
	config *core.GameConfig
	events *eventlogger.EventLogger
	log    *log.Entry

	games  *util.MutexMap[string, *Game]
	loader *mutexloader.Loader[*Game]

	loadTimeout time.Duration
	observer    TickObserver

	// Clock returns the current time. Tests replace it.
	Clock func() time.Time
}

func NewRegistry(store database.Store, config *core.ServerConfig, events *eventlogger.EventLogger) *Registry {
	timeout := config.HandlerTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		store:       store,
		config:      &config.Game,
		events:      events,
		games:       util.NewMutexMap[string, *Game](),
		loader:      mutexloader.New[*Game]("games"),
		loadTimeout: timeout,
		Clock:       time.Now,
		log: log.WithFields(log.Fields{
			"name":    "GameRegistry",
			"modName": "GameRegistry",
		}),
	}
}

// SetTickObserver must be called before any game is loaded.
func (r *Registry) SetTickObserver(fn TickObserver) {
	r.observer = fn
}

func (r *Registry) Config() *core.GameConfig {
	return r.config
}

func (r *Registry) now() time.Time {
	return r.Clock()
}

// Game returns the live game, loading it once no matter how many callers ask
// at the same time.
func (r *Registry) Game(ctx context.Context, id string) (*Game, error) {
	if g, ok := r.games.Get(id); ok {
		return g, nil
	}

	return r.loader.Wait(ctx, id, func() (*Game, error) {
		if g, ok := r.games.Get(id); ok {
			return g, nil
		}

		loadCtx, cancel := context.WithTimeout(context.Background(), r.loadTimeout)
		defer cancel()
		g, err := r.load(loadCtx, id)
		if err != nil {
			return nil, err
		}

		actual, loaded := r.games.LoadOrStore(id, g)
		if !loaded {
			r.log.Infof("Loaded game %s (%s) with %d lab(s)", g.ID, g.Name(), g.Factories.Count())
			if g.Stage() == database.GAME_STAGE_RUNNING {
				g.startTicker()
			}
		}
		return actual, nil
	})
}

func (r *Registry) load(ctx context.Context, id string) (*Game, error) {
	record, err := r.store.Game(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrGameNotFound
	} else if err != nil {
		return nil, err
	}

	teams, err := r.store.Teams(ctx, id)
	if err != nil {
		return nil, err
	}
	factories, err := r.store.Factories(ctx, id)
	if err != nil {
		return nil, err
	}

	g := newGame(r, *record, teams)
	for _, f := range factories {
		g.Factories.add(newFactory(f))
	}
	return g, nil
}

// Factory finds the live lab with the given ID and the game it belongs to.
func (r *Registry) Factory(ctx context.Context, id string) (*Game, *Factory, error) {
	for _, g := range r.games.Values() {
		if f, ok := g.Factories.Get(id); ok {
			return g, f, nil
		}
	}

	record, err := r.store.Factory(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrFactoryNotFound
	} else if err != nil {
		return nil, nil, err
	}

	g, err := r.Game(ctx, record.GameID)
	if err != nil {
		return nil, nil, err
	}
	f, ok := g.Factories.Get(id)
	if !ok {
		return nil, nil, ErrFactoryNotFound
	}
	return g, f, nil
}

// Shop finds an open shop by token among the loaded games.
func (r *Registry) Shop(token string) (*Game, Shop, bool) {
	now := r.now()
	for _, g := range r.games.Values() {
		if s, ok := g.Shops.Get(token, now); ok {
			return g, s, true
		}
	}
	return nil, Shop{}, false
}

func (r *Registry) Loaded(id string) bool {
	_, ok := r.games.Get(id)
	return ok
}

// Evict drops a game from memory. The next request loads it again.
func (r *Registry) Evict(id string) {
	if g, ok := r.games.Pop(id); ok {
		g.stopTicker()
		r.log.Infof("Evicted game %s", id)
	}
}

// Games returns the loaded games sorted by ID.
func (r *Registry) Games() []*Game {
	games := r.games.Values()
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })
	return games
}

func (r *Registry) Close() {
	for _, g := range r.games.Values() {
		g.stopTicker()
	}
	r.games.Clear()
}

func (r *Registry) event(eventType string, gameID string, who string, format string, args ...interface{}) {
	r.events.Log(eventlogger.NewLoggedEvent(eventType, gameID, who, fmt.Sprintf(format, args...)))
}

package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dworekgo/core"
	"dworekgo/database"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

type Game struct {
	ID string

	registry *Registry
	store    database.Store
	config   *core.GameConfig
	log      *log.Entry

	mu     sync.RWMutex
	record database.Game
	teams  []database.Team

	Users     *UserManager
	Factories *FactoryManager
	Shops     *ShopManager

	// Serialises lab placement so spacing checks see every earlier build.
	buildMu sync.Mutex

	// Bumped by every committed user change, so quotes derived from team
	// money can tell whether they are still current.
	moneyVersion atomic.Uint64

	specialMu   sync.Mutex
	lastSpecial map[string]time.Time

	tickerMu sync.Mutex
	stopTick chan struct{}
}

func newGame(r *Registry, record database.Game, teams []database.Team) *Game {
	g := &Game{
		ID:          record.ID,
		registry:    r,
		store:       r.store,
		config:      r.config,
		record:      record,
		teams:       teams,
		lastSpecial: map[string]time.Time{},
		log: log.WithFields(log.Fields{
			"name":    fmt.Sprintf("Game (%s)", record.ID),
			"modName": "Game",
		}),
	}
	g.Users = newUserManager(g)
	g.Factories = newFactoryManager()
	g.Shops = newShopManager(g)
	return g
}

func (g *Game) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.record.Name
}

func (g *Game) Stage() database.GameStage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.record.Stage
}

func (g *Game) Record() database.Game {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.record
}

func (g *Game) Config() *core.GameConfig {
	return g.config
}

func (g *Game) Teams() []database.Team {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]database.Team(nil), g.teams...)
}

func (g *Game) Team(id string) (database.Team, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.teams {
		if t.ID == id {
			return t, true
		}
	}
	return database.Team{}, false
}

func (g *Game) HasManagePermission(user *database.User) bool {
	record := g.Record()
	return record.HasManagePermission(user)
}

func (g *Game) now() time.Time {
	return g.registry.now()
}

func (g *Game) running() error {
	if g.Stage() != database.GAME_STAGE_RUNNING {
		return ErrGameNotRunning
	}
	return nil
}

func (g *Game) commit(ctx context.Context, changes database.Changes) error {
	if err := g.store.Commit(ctx, changes); err != nil {
		return errors.Wrapf(err, "commit for game %s", g.ID)
	}
	if len(changes.Users) > 0 {
		g.moneyVersion.Add(1)
	}
	return nil
}

func (g *Game) event(eventType string, who string, format string, args ...interface{}) {
	g.registry.event(eventType, g.ID, who, format, args...)
}

// SetStage moves the game to another stage and persists it. Running games
// tick; finished games are evicted from the registry.
func (g *Game) SetStage(ctx context.Context, stage database.GameStage) error {
	g.mu.Lock()
	if g.record.Stage == stage {
		g.mu.Unlock()
		return ErrStageUnchanged
	}
	if err := g.store.SetGameStage(ctx, g.ID, stage); err != nil {
		g.mu.Unlock()
		return errors.Wrapf(err, "set stage of game %s", g.ID)
	}
	g.record.Stage = stage
	g.mu.Unlock()

	g.log.Infof("Stage changed to %s", stage)
	g.event("stageChanged", "-", "stage changed to %s", stage)

	switch stage {
	case database.GAME_STAGE_RUNNING:
		g.startTicker()
	case database.GAME_STAGE_FINISHED:
		g.registry.Evict(g.ID)
	default:
		g.stopTicker()
	}
	return nil
}

// TeamMoney sums the money of every member of a team, preferring the live
// balance of members already in memory.
func (g *Game) TeamMoney(ctx context.Context, teamID string) (int64, error) {
	standings, err := g.Standings(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range standings {
		if s.Team.ID == teamID {
			return s.Money, nil
		}
	}
	return 0, nil
}

type Standing struct {
	Team      database.Team
	Money     int64
	Goods     int64
	Factories int
}

// Standings returns the per-team totals, richest team first.
func (g *Game) Standings(ctx context.Context) ([]Standing, error) {
	records, err := g.store.GameUsers(ctx, g.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "members of game %s", g.ID)
	}

	byTeam := map[string]*Standing{}
	var standings []*Standing
	for _, t := range g.Teams() {
		s := &Standing{Team: t}
		byTeam[t.ID] = s
		standings = append(standings, s)
	}

	for _, record := range records {
		if u, ok := g.Users.users.Get(record.UserID); ok {
			record = u.Record()
		}
		if s, ok := byTeam[record.TeamID]; ok {
			s.Money += record.Money
			s.Goods += record.In + record.Out
		}
	}
	for _, f := range g.Factories.All() {
		if s, ok := byTeam[f.Record().TeamID]; ok {
			s.Factories++
		}
	}

	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Money > standings[j].Money })
	result := make([]Standing, len(standings))
	for i, s := range standings {
		result[i] = *s
	}
	return result, nil
}

type TickResult struct {
	Produced int64
	Opened   []Shop
	Closed   []Shop
}

// Tick runs one round of production and shop rotation.
func (g *Game) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var result TickResult
	if err := g.running(); err != nil {
		return result, err
	}

	for _, f := range g.Factories.All() {
		produced, err := g.produce(ctx, f)
		if err != nil {
			return result, err
		}
		result.Produced += produced
	}

	var candidates []string
	freshness := g.config.LocationFreshness()
	for _, u := range g.Users.Loaded() {
		v := u.Viewer()
		if v.TeamID != "" && v.Recent(now, freshness) {
			candidates = append(candidates, v.UserID)
		}
	}
	result.Opened, result.Closed = g.Shops.rotate(now, candidates)
	for _, s := range result.Opened {
		g.event("shopOpened", s.UserID, "shop %s opened, in %d out %d", s.Token, s.InPrice, s.OutPrice)
	}
	return result, nil
}

func (g *Game) produce(ctx context.Context, f *Factory) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed || f.record.In <= 0 {
		return 0, nil
	}

	amount := int64(f.record.Level) * g.config.Production_Per_Level
	if amount > f.record.In {
		amount = f.record.In
	}
	if amount <= 0 {
		return 0, nil
	}

	updated := f.record
	updated.In -= amount
	updated.Out += amount
	if err := g.commit(ctx, database.Changes{Factories: []database.Factory{updated}}); err != nil {
		return 0, err
	}
	f.record = updated
	return amount, nil
}

func (g *Game) startTicker() {
	interval := g.config.TickInterval()
	if interval <= 0 {
		return
	}

	g.tickerMu.Lock()
	defer g.tickerMu.Unlock()
	if g.stopTick != nil {
		return
	}
	stop := make(chan struct{})
	g.stopTick = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), g.registry.loadTimeout)
				result, err := g.Tick(ctx, g.now())
				cancel()
				if err != nil {
					g.log.Errorf("Tick failed: %s", err)
					continue
				}
				if g.registry.observer != nil {
					g.registry.observer(g, result)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (g *Game) stopTicker() {
	g.tickerMu.Lock()
	defer g.tickerMu.Unlock()
	if g.stopTick != nil {
		close(g.stopTick)
		g.stopTick = nil
	}
}

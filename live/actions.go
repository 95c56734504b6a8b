package live

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"dworekgo/core"
	"dworekgo/database"
	"dworekgo/util"

	"github.com/google/uuid"
)

const maxFactoryName = 64

// LevelCost is the price of upgrading a lab from level to level+1.
func (g *Game) LevelCost(level int) int64 {
	if level < 1 {
		level = 1
	}
	cost := float64(g.config.Level_Cost_Base) * math.Pow(g.config.Level_Cost_Multiplier, float64(level-1))
	return int64(math.Round(cost))
}

// DefenceCost is the price of upgrade index for a lab at level.
func (g *Game) DefenceCost(index int, level int) (cost int64, defence int64, ok bool) {
	upgrades := g.config.Defence_Upgrades
	if index < 0 || index >= len(upgrades) {
		return 0, 0, false
	}
	if level < 1 {
		level = 1
	}
	return upgrades[index].Cost * int64(level), upgrades[index].Defence, true
}

// reachable checks that the viewer may act on a lab at location.
func (g *Game) reachable(v Viewer, location util.Coordinate, now time.Time) error {
	if v.TeamID == "" {
		return ErrNotPlayer
	}
	if !v.Recent(now, g.config.LocationFreshness()) {
		return ErrNoRecentLocation
	}
	if v.Location.Distance(location) > g.config.Action_Range {
		return ErrOutOfRange
	}
	return nil
}

// BuildFactory places a new lab at the user's current location.
func (g *Game) BuildFactory(ctx context.Context, u *User, name string) (*Factory, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxFactoryName {
		return nil, ErrInvalidName
	}
	if err := g.running(); err != nil {
		return nil, err
	}

	g.buildMu.Lock()
	defer g.buildMu.Unlock()
	u.mu.Lock()
	defer u.mu.Unlock()

	now := g.now()
	v := u.viewerLocked()
	if v.TeamID == "" {
		return nil, ErrNotPlayer
	}
	if !v.Recent(now, g.config.LocationFreshness()) {
		return nil, ErrNoRecentLocation
	}
	if u.record.Money < g.config.Factory_Cost {
		return nil, ErrNotEnoughMoney
	}
	for _, f := range g.Factories.All() {
		if f.Location().Distance(v.Location.Coordinate) < g.config.Factory_Interspace {
			return nil, ErrFactoryCloseBy
		}
	}

	record := database.Factory{
		ID:         uuid.NewString(),
		GameID:     g.ID,
		Name:       name,
		TeamID:     v.TeamID,
		CreatorID:  v.UserID,
		Location:   v.Location.Coordinate,
		Level:      1,
		CreateDate: now,
	}
	user := u.record
	user.Money -= g.config.Factory_Cost

	err := g.commit(ctx, database.Changes{
		Users:   []database.GameUser{user},
		Created: []database.Factory{record},
	})
	if err != nil {
		return nil, err
	}

	u.record = user
	f := newFactory(record)
	g.Factories.add(f)
	g.event("factoryBuilt", v.UserID, "built lab %s (%s) for team %s", record.Name, record.ID, record.TeamID)
	return f, nil
}

// resolveAmount applies the "all" flag against balance and checks the bounds.
func resolveAmount(amount int64, all bool, balance int64) (int64, error) {
	if all {
		amount = balance
		if amount <= 0 {
			return 0, ErrNotEnoughGoods
		}
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if amount > balance {
		return 0, ErrNotEnoughGoods
	}
	return amount, nil
}

// Deposit moves in-goods from the user into the lab.
func (g *Game) Deposit(ctx context.Context, u *User, f *Factory, amount int64, all bool) (int64, error) {
	if err := g.running(); err != nil {
		return 0, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return 0, ErrFactoryNotFound
	}
	v := u.viewerLocked()
	if err := g.reachable(v, f.record.Location, g.now()); err != nil {
		return 0, err
	}
	if v.TeamID != f.record.TeamID {
		return 0, ErrNotTeam
	}
	amount, err := resolveAmount(amount, all, u.record.In)
	if err != nil {
		return 0, err
	}

	user, factory := u.record, f.record
	user.In -= amount
	factory.In += amount
	err = g.commit(ctx, database.Changes{
		Users:     []database.GameUser{user},
		Factories: []database.Factory{factory},
	})
	if err != nil {
		return 0, err
	}
	u.record, f.record = user, factory
	g.event("deposit", v.UserID, "deposited %d into lab %s", amount, f.id)
	return amount, nil
}

// Withdraw moves out-goods from the lab to the user.
func (g *Game) Withdraw(ctx context.Context, u *User, f *Factory, amount int64, all bool) (int64, error) {
	if err := g.running(); err != nil {
		return 0, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return 0, ErrFactoryNotFound
	}
	v := u.viewerLocked()
	if err := g.reachable(v, f.record.Location, g.now()); err != nil {
		return 0, err
	}
	if v.TeamID != f.record.TeamID {
		return 0, ErrNotTeam
	}
	amount, err := resolveAmount(amount, all, f.record.Out)
	if err != nil {
		return 0, err
	}

	user, factory := u.record, f.record
	factory.Out -= amount
	user.Out += amount
	err = g.commit(ctx, database.Changes{
		Users:     []database.GameUser{user},
		Factories: []database.Factory{factory},
	})
	if err != nil {
		return 0, err
	}
	u.record, f.record = user, factory
	g.event("withdraw", v.UserID, "withdrew %d from lab %s", amount, f.id)
	return amount, nil
}

// BuyDefence buys upgrade index for the lab. cost and defence are what the
// client was shown; a mismatch means the offer is stale.
func (g *Game) BuyDefence(ctx context.Context, u *User, f *Factory, index int, cost int64, defence int64) error {
	if err := g.running(); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return ErrFactoryNotFound
	}
	v := u.viewerLocked()
	if err := g.reachable(v, f.record.Location, g.now()); err != nil {
		return err
	}
	if v.TeamID != f.record.TeamID {
		return ErrNotTeam
	}
	actualCost, actualDefence, ok := g.DefenceCost(index, f.record.Level)
	if !ok || actualCost != cost || actualDefence != defence {
		return ErrPricesChanged
	}
	if u.record.Money < actualCost {
		return ErrNotEnoughMoney
	}

	user, factory := u.record, f.record
	user.Money -= actualCost
	factory.Defence += actualDefence
	err := g.commit(ctx, database.Changes{
		Users:     []database.GameUser{user},
		Factories: []database.Factory{factory},
	})
	if err != nil {
		return err
	}
	u.record, f.record = user, factory
	g.event("defenceBought", v.UserID, "bought %d defence for lab %s", actualDefence, f.id)
	return nil
}

// BuyLevel upgrades the lab to level, which must be exactly one above its
// current level, for cost.
func (g *Game) BuyLevel(ctx context.Context, u *User, f *Factory, level int, cost int64) error {
	if err := g.running(); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return ErrFactoryNotFound
	}
	v := u.viewerLocked()
	if err := g.reachable(v, f.record.Location, g.now()); err != nil {
		return err
	}
	if v.TeamID != f.record.TeamID {
		return ErrNotTeam
	}
	if f.record.Level >= g.config.Factory_Max_Level {
		return ErrMaxLevel
	}
	actualCost := g.LevelCost(f.record.Level)
	if level != f.record.Level+1 || cost != actualCost {
		return ErrPricesChanged
	}
	if u.record.Money < actualCost {
		return ErrNotEnoughMoney
	}

	user, factory := u.record, f.record
	user.Money -= actualCost
	factory.Level = level
	err := g.commit(ctx, database.Changes{
		Users:     []database.GameUser{user},
		Factories: []database.Factory{factory},
	})
	if err != nil {
		return err
	}
	u.record, f.record = user, factory
	g.event("levelBought", v.UserID, "upgraded lab %s to level %d", f.id, level)
	return nil
}

// ConquerValue is attackers in range minus defenders in range minus the lab's
// defence. An attack only succeeds when it is positive.
func (g *Game) ConquerValue(attackerTeam string, f *Factory, now time.Time) int64 {
	viewers := g.Users.snapshot()
	f.mu.Lock()
	defer f.mu.Unlock()
	return g.conquerValueLocked(attackerTeam, viewers, f, now)
}

func (g *Game) conquerValueLocked(attackerTeam string, viewers []Viewer, f *Factory, now time.Time) int64 {
	var attackers, defenders int64
	for _, v := range viewers {
		if !v.Recent(now, g.config.LocationFreshness()) {
			continue
		}
		if v.Location.Distance(f.record.Location) > g.config.Action_Range {
			continue
		}
		switch v.TeamID {
		case attackerTeam:
			attackers++
		case f.record.TeamID:
			defenders++
		}
	}
	return attackers - defenders - f.record.Defence
}

type AttackResult struct {
	Factory      database.Factory
	PreviousTeam string
	Conquer      int64
}

// Attack conquers the lab for the attacker's team.
func (g *Game) Attack(ctx context.Context, u *User, f *Factory) (AttackResult, error) {
	var result AttackResult
	if err := g.running(); err != nil {
		return result, err
	}

	// Snapshot every member first; no user lock is held below.
	now := g.now()
	attacker := u.Viewer()
	viewers := g.Users.snapshot()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return result, ErrFactoryNotFound
	}
	if err := g.reachable(attacker, f.record.Location, now); err != nil {
		return result, err
	}
	if attacker.TeamID == f.record.TeamID {
		return result, ErrOwnTeam
	}
	conquer := g.conquerValueLocked(attacker.TeamID, viewers, f, now)
	if conquer <= 0 {
		return result, ErrNotConquerable
	}

	factory := f.record
	factory.TeamID = attacker.TeamID
	factory.Defence = 0
	if err := g.commit(ctx, database.Changes{Factories: []database.Factory{factory}}); err != nil {
		return result, err
	}

	result = AttackResult{Factory: factory, PreviousTeam: f.record.TeamID, Conquer: conquer}
	f.record = factory
	g.event("factoryConquered", attacker.UserID, "lab %s conquered from team %s by team %s",
		f.id, result.PreviousTeam, attacker.TeamID)
	return result, nil
}

type DestroyResult struct {
	Factory    database.Factory
	Recipients []string
}

// Destroy removes a lab. With keepContents its goods are split evenly over
// the live members of the receiving team, the remainder going to the actor
// when the actor is one of them. u is nil for managers outside the game.
func (g *Game) Destroy(ctx context.Context, u *User, account *database.User, f *Factory, keepContents bool) (DestroyResult, error) {
	var result DestroyResult
	now := g.now()
	manager := g.HasManagePermission(account)

	actor := Viewer{UserID: account.ID}
	if u != nil {
		actor = u.Viewer()
	}
	record := f.Record()
	if !manager {
		if actor.TeamID == "" {
			return result, ErrNotPlayer
		}
		if actor.TeamID != record.TeamID {
			return result, ErrNoPermission
		}
		if keepContents {
			if err := g.reachable(actor, record.Location, now); err != nil {
				return result, err
			}
		}
	}

	receiving := actor.TeamID
	if receiving == "" {
		receiving = record.TeamID
	}
	var recipients []*User
	if keepContents {
		for _, member := range g.Users.Loaded() {
			if member.TeamID() == receiving {
				recipients = append(recipients, member)
			}
		}
	}

	unlock := lockUsers(recipients...)
	defer unlock()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return result, ErrFactoryNotFound
	}
	if !manager && f.record.TeamID != actor.TeamID {
		return result, ErrNoPermission
	}

	// Recipients are locked and sorted by ID from here on.
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].userID < recipients[j].userID })
	updated := make([]database.GameUser, len(recipients))
	if n := int64(len(recipients)); n > 0 {
		inShare, outShare := f.record.In/n, f.record.Out/n
		inRest, outRest := f.record.In%n, f.record.Out%n

		remainderTo := 0
		for i, r := range recipients {
			if r.userID == actor.UserID {
				remainderTo = i
			}
		}
		for i, r := range recipients {
			updated[i] = r.record
			updated[i].In += inShare
			updated[i].Out += outShare
			if i == remainderTo {
				updated[i].In += inRest
				updated[i].Out += outRest
			}
		}
	}

	err := g.commit(ctx, database.Changes{
		Users:   updated,
		Deleted: []string{f.id},
	})
	if err != nil {
		return result, err
	}

	for i, r := range recipients {
		r.record = updated[i]
		result.Recipients = append(result.Recipients, r.userID)
	}
	result.Factory = f.record
	f.destroyed = true
	g.Factories.remove(f.id)
	g.event("factoryDestroyed", actor.UserID, "destroyed lab %s (kept contents: %t)", f.id, keepContents)
	return result, nil
}

// PingTierPrice is a ping tier with the price it currently costs a team.
type PingTierPrice struct {
	core.PingTier
	Cost int64
}

func (t PingTierPrice) price(teamMoney int64) int64 {
	scaled := int64(math.Ceil(float64(teamMoney) * t.Price_Percent))
	if scaled < t.Price {
		return t.Price
	}
	return scaled
}

// PingTier returns the configured tier with the given ID.
func (g *Game) PingTier(id int) (tier PingTierPrice, ok bool) {
	for _, t := range g.config.Ping_Tiers {
		if t.ID == id {
			return PingTierPrice{PingTier: t}, true
		}
	}
	return tier, false
}

// PingTiers prices every configured tier for a team holding teamMoney.
func (g *Game) PingTiers(teamMoney int64) []PingTierPrice {
	tiers := make([]PingTierPrice, 0, len(g.config.Ping_Tiers))
	for _, t := range g.config.Ping_Tiers {
		tier := PingTierPrice{PingTier: t}
		tier.Cost = tier.price(teamMoney)
		tiers = append(tiers, tier)
	}
	return tiers
}

// PingPrice is max(base price, teamMoney * percentage).
func (g *Game) PingPrice(ctx context.Context, tierID int, teamID string) (int64, error) {
	tier, ok := g.PingTier(tierID)
	if !ok {
		return 0, ErrPricesChanged
	}
	money, err := g.TeamMoney(ctx, teamID)
	if err != nil {
		return 0, err
	}
	tier.Cost = tier.price(money)
	return tier.Cost, nil
}

type PingResult struct {
	Tier     PingTierPrice
	Revealed []database.Factory
	Until    time.Time
}

// pingQuote is a tier priced against team money at a known money version.
type pingQuote struct {
	tier    PingTierPrice
	version uint64
}

func (g *Game) quotePing(ctx context.Context, tierID int, teamID string) (pingQuote, error) {
	q := pingQuote{version: g.moneyVersion.Load()}
	price, err := g.PingPrice(ctx, tierID, teamID)
	if err != nil {
		return q, err
	}
	q.tier, _ = g.PingTier(tierID)
	q.tier.Cost = price
	return q, nil
}

// BuyPing reveals up to the tier's maximum of the nearest enemy labs the user
// can't see yet, within the tier's range, for the tier's duration.
func (g *Game) BuyPing(ctx context.Context, u *User, tierID int, cost int64) (PingResult, error) {
	if err := g.running(); err != nil {
		return PingResult{}, err
	}
	if u.TeamID() == "" {
		return PingResult{}, ErrNotPlayer
	}
	q, err := g.quotePing(ctx, tierID, u.TeamID())
	if err != nil {
		return PingResult{}, err
	}
	return g.buyPing(ctx, u, q, cost)
}

func (g *Game) buyPing(ctx context.Context, u *User, q pingQuote, cost int64) (PingResult, error) {
	var result PingResult
	tier, price := q.tier, q.tier.Cost
	if price != cost {
		return result, ErrPricesChanged
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// Any committed user change since the quote may have moved team money.
	if g.moneyVersion.Load() != q.version {
		return result, ErrPricesChanged
	}

	now := g.now()
	v := u.viewerLocked()
	if !v.Recent(now, g.config.LocationFreshness()) {
		return result, ErrNoRecentLocation
	}
	if u.record.Money < price {
		return result, ErrNotEnoughMoney
	}

	type candidate struct {
		f        *Factory
		distance float64
	}
	var candidates []candidate
	for _, f := range g.Factories.All() {
		f.mu.Lock()
		if !f.destroyed && f.record.TeamID != v.TeamID && !f.visibleLocked(v, now, g.config.Visibility_Range) {
			if d := v.Location.Distance(f.record.Location); d <= tier.Range {
				candidates = append(candidates, candidate{f, d})
			}
		}
		f.mu.Unlock()
	}
	if len(candidates) == 0 {
		return result, ErrNoPingTargets
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if tier.Max > 0 && len(candidates) > tier.Max {
		candidates = candidates[:tier.Max]
	}

	user := u.record
	user.Money -= price
	if err := g.commit(ctx, database.Changes{Users: []database.GameUser{user}}); err != nil {
		return result, err
	}
	u.record = user

	result.Tier = tier
	result.Until = now.Add(time.Duration(tier.Duration) * time.Second)
	for _, c := range candidates {
		c.f.ping(v.UserID, result.Until)
		result.Revealed = append(result.Revealed, c.f.Record())
	}
	g.event("pingBought", v.UserID, "ping %s revealed %d lab(s)", tier.Name, len(result.Revealed))
	return result, nil
}

// shopFor checks that the shop is open and its keeper is within reach of v.
func (g *Game) shopFor(ctx context.Context, token string, v Viewer, price int64, priceOf func(Shop) int64) (Shop, error) {
	now := g.now()
	shop, ok := g.Shops.Get(token, now)
	if !ok {
		return shop, ErrShopGone
	}
	if priceOf(shop) != price {
		return shop, ErrPricesChanged
	}
	keeper, err := g.Users.User(ctx, shop.UserID)
	if err != nil {
		return shop, err
	}
	kv := keeper.Viewer()
	if !kv.Recent(now, g.config.LocationFreshness()) {
		return shop, ErrShopGone
	}
	if v.TeamID == "" {
		return shop, ErrNotPlayer
	}
	if !v.Recent(now, g.config.LocationFreshness()) {
		return shop, ErrNoRecentLocation
	}
	if v.Location.Distance(kv.Location.Coordinate) > g.config.Shop_Range {
		return shop, ErrOutOfRange
	}
	return shop, nil
}

// Trade is a committed shop exchange of Amount goods for Total money.
type Trade struct {
	Amount int64
	Total  int64
}

// ShopBuyIn trades the user's money for in-goods at the shop's price.
func (g *Game) ShopBuyIn(ctx context.Context, u *User, token string, amount int64, all bool, price int64) (Trade, error) {
	if err := g.running(); err != nil {
		return Trade{}, err
	}
	if price <= 0 {
		return Trade{}, ErrPricesChanged
	}
	shop, err := g.shopFor(ctx, token, u.Viewer(), price, func(s Shop) int64 { return s.InPrice })
	if err != nil {
		return Trade{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if all {
		amount = u.record.Money / shop.InPrice
		if amount <= 0 {
			return Trade{}, ErrNotEnoughMoney
		}
	}
	if amount <= 0 {
		return Trade{}, ErrInvalidAmount
	}
	if amount > u.record.Money/shop.InPrice {
		return Trade{}, ErrNotEnoughMoney
	}
	total := amount * shop.InPrice

	user := u.record
	user.Money -= total
	user.In += amount
	if err := g.commit(ctx, database.Changes{Users: []database.GameUser{user}}); err != nil {
		return Trade{}, err
	}
	u.record = user
	g.event("shopBuyIn", u.userID, "bought %d in-goods for %d at shop %s", amount, total, shop.Token)
	return Trade{Amount: amount, Total: total}, nil
}

// ShopSellOut trades the user's out-goods for money at the shop's price.
func (g *Game) ShopSellOut(ctx context.Context, u *User, token string, amount int64, all bool, price int64) (Trade, error) {
	if err := g.running(); err != nil {
		return Trade{}, err
	}
	if price <= 0 {
		return Trade{}, ErrPricesChanged
	}
	shop, err := g.shopFor(ctx, token, u.Viewer(), price, func(s Shop) int64 { return s.OutPrice })
	if err != nil {
		return Trade{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	amount, err = resolveAmount(amount, all, u.record.Out)
	if err != nil {
		return Trade{}, err
	}

	if amount > (math.MaxInt64-u.record.Money)/shop.OutPrice {
		return Trade{}, ErrInvalidAmount
	}
	total := amount * shop.OutPrice

	user := u.record
	user.Out -= amount
	user.Money += total
	if err := g.commit(ctx, database.Changes{Users: []database.GameUser{user}}); err != nil {
		return Trade{}, err
	}
	u.record = user
	g.event("shopSellOut", u.userID, "sold %d out-goods for %d at shop %s", amount, total, shop.Token)
	return Trade{Amount: amount, Total: total}, nil
}

const SpecialReveal = "reveal"

// SpecialReveal pings every enemy lab for the special user.
func (g *Game) SpecialReveal(ctx context.Context, u *User) ([]database.Factory, time.Time, error) {
	if err := g.running(); err != nil {
		return nil, time.Time{}, err
	}
	if !u.IsSpecial() {
		return nil, time.Time{}, ErrNotSpecial
	}
	v := u.Viewer()
	if v.TeamID == "" {
		return nil, time.Time{}, ErrNotPlayer
	}

	now := g.now()
	cooldown := time.Duration(g.config.Special_Cooldown) * time.Second
	g.specialMu.Lock()
	if last, ok := g.lastSpecial[v.UserID]; ok && now.Sub(last) < cooldown {
		g.specialMu.Unlock()
		return nil, time.Time{}, ErrCooldown
	}
	g.lastSpecial[v.UserID] = now
	g.specialMu.Unlock()

	until := now.Add(time.Duration(g.config.Special_Reveal_Duration) * time.Second)
	var revealed []database.Factory
	for _, f := range g.Factories.All() {
		record := f.Record()
		if record.TeamID == v.TeamID {
			continue
		}
		f.ping(v.UserID, until)
		revealed = append(revealed, record)
	}
	g.event("specialReveal", v.UserID, "revealed %d lab(s)", len(revealed))
	return revealed, until, nil
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dworekgo/live"
	"dworekgo/protocol"
	"dworekgo/util"
)

// amountFields reads {amount, all}. amount is only required without all.
func amountFields(p protocol.Payload) (int64, bool, error) {
	if p.OptBool("all") {
		return 0, true, nil
	}
	amount, err := p.Int("amount")
	return amount, false, err
}

func displayName(tx *transaction) string {
	if s := tx.conn.Session(); s.User != nil && s.User.Name != "" {
		return s.User.Name
	}
	return tx.conn.Session().UserID
}

// factoryData renders a lab from the point of view of v.
func (h *Handlers) factoryData(g *live.Game, f *live.Factory, v live.Viewer, now time.Time) protocol.Payload {
	record := f.Record()
	config := g.Config()

	data := factorySummary(record)
	data["creator"] = record.CreatorID
	if v.HasLocation {
		data["distance"] = util.FormatDistance(v.Location.Distance(record.Location))
	}

	switch {
	case v.TeamID == "":
		data["in"] = record.In
		data["out"] = record.Out
		data["defence"] = record.Defence
	case v.TeamID == record.TeamID:
		data["in"] = record.In
		data["out"] = record.Out
		data["defence"] = record.Defence
		data["inText"] = util.FormatGoods(record.In)
		data["outText"] = util.FormatGoods(record.Out)
		if record.Level < config.Factory_Max_Level {
			cost := g.LevelCost(record.Level)
			data["nextLevel"] = protocol.Payload{
				"level":    record.Level + 1,
				"cost":     cost,
				"costText": util.FormatMoney(cost),
			}
		}
		upgrades := []protocol.Payload{}
		for i := range config.Defence_Upgrades {
			cost, defence, _ := g.DefenceCost(i, record.Level)
			upgrades = append(upgrades, protocol.Payload{
				"index":    i,
				"cost":     cost,
				"defence":  defence,
				"costText": util.FormatMoney(cost),
			})
		}
		data["defenceUpgrades"] = upgrades
	default:
		data["conquer"] = g.ConquerValue(v.TeamID, f, now)
	}

	if until, ok := f.PingedUntil(v.UserID); ok && now.Before(until) {
		data["pingedFor"] = util.FormatDuration(until.Sub(now))
	}

	return protocol.Payload{
		"factory": record.ID,
		"game":    g.ID,
		"data":    data,
	}
}

// pushFactoryData sends the lab to every online member who can see it.
func (h *Handlers) pushFactoryData(g *live.Game, f *live.Factory) {
	now := h.games.Clock()
	sight := g.Config().Visibility_Range
	for _, u := range g.Users.Loaded() {
		if !h.proc.UserOnline(u.UserID()) {
			continue
		}
		v := u.Viewer()
		if !f.VisibleTo(v, now, sight) {
			continue
		}
		h.proc.SendPacketUser(v.UserID, protocol.FACTORY_DATA, h.factoryData(g, f, v, now))
	}
}

// afterFactoryChange refreshes the actor's game data and every observer's view
// of the lab.
func (h *Handlers) afterFactoryChange(ctx context.Context, g *live.Game, f *live.Factory, actor string) {
	h.pushGameData(ctx, g, actor)
	h.pushFactoryData(g, f)
}

func (h *Handlers) handleFactoryBuild(tx *transaction) error {
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}
	name, err := tx.payload().String("name")
	if err != nil {
		return err
	}

	s, g, u, err := tx.member(gameID)
	if err != nil {
		return err
	}
	f, err := g.BuildFactory(tx.ctx, u, name)
	if err != nil {
		return err
	}

	tx.responded.Store(true)
	tx.reply(protocol.FACTORY_BUILD_RESPONSE, protocol.Payload{"game": g.ID, "factory": f.ID()})

	record := f.Record()
	h.afterFactoryChange(tx.ctx, g, f, s.UserID)
	h.notifyTeam(tx.ctx, g, record.TeamID, s.UserID,
		fmt.Sprintf("%s built lab %s", displayName(tx), record.Name))
	return nil
}

func (h *Handlers) handleFactoryData(tx *transaction) error {
	factoryID, err := tx.payload().String("factory")
	if err != nil {
		return err
	}
	_, g, f, u, err := tx.factoryMember(factoryID)
	if err != nil {
		return err
	}

	now := h.games.Clock()
	v := u.Viewer()
	if !f.VisibleTo(v, now, g.Config().Visibility_Range) {
		return live.ErrNotVisible
	}
	tx.responded.Store(true)
	tx.reply(protocol.FACTORY_DATA, h.factoryData(g, f, v, now))
	return nil
}

func (h *Handlers) handleFactoryDeposit(tx *transaction) error {
	factoryID, err := tx.payload().String("factory")
	if err != nil {
		return err
	}
	amount, all, err := amountFields(tx.payload())
	if err != nil {
		return err
	}

	s, g, f, u, err := tx.factoryMember(factoryID)
	if err != nil {
		return err
	}
	moved, err := g.Deposit(tx.ctx, u, f, amount, all)
	if err != nil {
		return err
	}
	tx.succeed("Deposited %s", util.FormatGoods(moved))
	h.afterFactoryChange(tx.ctx, g, f, s.UserID)
	return nil
}

func (h *Handlers) handleFactoryWithdraw(tx *transaction) error {
	factoryID, err := tx.payload().String("factory")
	if err != nil {
		return err
	}
	amount, all, err := amountFields(tx.payload())
	if err != nil {
		return err
	}

	s, g, f, u, err := tx.factoryMember(factoryID)
	if err != nil {
		return err
	}
	moved, err := g.Withdraw(tx.ctx, u, f, amount, all)
	if err != nil {
		return err
	}
	tx.succeed("Withdrew %s", util.FormatGoods(moved))
	h.afterFactoryChange(tx.ctx, g, f, s.UserID)
	return nil
}

func (h *Handlers) handleDefenceBuy(tx *transaction) error {
	factoryID, err := tx.payload().String("factory")
	if err != nil {
		return err
	}
	index, err := tx.payload().Int("index")
	if err != nil {
		return err
	}
	cost, err := tx.payload().Int("cost")
	if err != nil {
		return err
	}
	defence, err := tx.payload().Int("defence")
	if err != nil {
		return err
	}

	s, g, f, u, err := tx.factoryMember(factoryID)
	if err != nil {
		return err
	}
	if err := g.BuyDefence(tx.ctx, u, f, int(index), cost, defence); err != nil {
		return err
	}
	tx.succeed("Defence upgraded by %d", defence)
	h.afterFactoryChange(tx.ctx, g, f, s.UserID)
	return nil
}

func (h *Handlers) handleLevelBuy(tx *transaction) error {
	factoryID, err := tx.payload().String("factory")
	if err != nil {
		return err
	}
	level, err := tx.payload().Int("level")
	if err != nil {
		return err
	}
	cost, err := tx.payload().Int("cost")
	if err != nil {
		return err
	}

	s, g, f, u, err := tx.factoryMember(factoryID)
	if err != nil {
		return err
	}
	if err := g.BuyLevel(tx.ctx, u, f, int(level), cost); err != nil {
		return err
	}
	tx.succeed("Lab upgraded to level %d", level)
	h.afterFactoryChange(tx.ctx, g, f, s.UserID)
	return nil
}

func (h *Handlers) handleFactoryAttack(tx *transaction) error {
	factoryID, err := tx.payload().String("factory")
	if err != nil {
		return err
	}

	s, g, f, u, err := tx.factoryMember(factoryID)
	if err != nil {
		return err
	}
	result, err := g.Attack(tx.ctx, u, f)
	if err != nil {
		return err
	}
	tx.succeed("You conquered %s", result.Factory.Name)
	h.afterFactoryChange(tx.ctx, g, f, s.UserID)

	h.notifyTeam(tx.ctx, g, result.Factory.TeamID, s.UserID,
		fmt.Sprintf("%s conquered lab %s", displayName(tx), result.Factory.Name))
	h.notifyTeam(tx.ctx, g, result.PreviousTeam, "",
		fmt.Sprintf("Your lab %s was conquered", result.Factory.Name))
	return nil
}

func (h *Handlers) handleFactoryDestroy(tx *transaction) error {
	factoryID, err := tx.payload().String("factory")
	if err != nil {
		return err
	}
	keepContents := tx.payload().OptBool("keepContents")

	s, err := tx.session()
	if err != nil {
		return err
	}
	g, f, err := h.games.Factory(tx.ctx, factoryID)
	if err != nil {
		return err
	}
	u, err := g.Users.User(tx.ctx, s.UserID)
	if errors.Is(err, live.ErrNotJoined) && g.HasManagePermission(s.User) {
		u, err = nil, nil
	}
	if err != nil {
		return err
	}

	result, err := g.Destroy(tx.ctx, u, s.User, f, keepContents)
	if err != nil {
		return err
	}
	tx.succeed("Lab %s destroyed", result.Factory.Name)

	members, err := g.Users.Members(tx.ctx)
	if err != nil {
		tx.log.WithError(err).Warn("Unable to notify members of the destroyed lab")
		return nil
	}
	destroyed := protocol.Payload{
		"factory": result.Factory.ID,
		"game":    g.ID,
		"name":    result.Factory.Name,
	}
	for _, m := range members {
		h.proc.SendPacketUser(m.UserID(), protocol.FACTORY_DESTROYED, destroyed)
	}
	refresh := append([]string{s.UserID}, result.Recipients...)
	seen := map[string]bool{}
	for _, userID := range refresh {
		if !seen[userID] {
			seen[userID] = true
			h.pushGameData(tx.ctx, g, userID)
		}
	}
	return nil
}

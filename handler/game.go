package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"dworekgo/broadcast"
	"dworekgo/database"
	"dworekgo/live"
	"dworekgo/protocol"

	"golang.org/x/sync/errgroup"
)

const fanOutTimeout = 5 * time.Second

// gameRecord reads a game straight from the store, mapping a missing game to
// its user-facing error.
func (h *Handlers) gameRecord(ctx context.Context, id string) (*database.Game, error) {
	record, err := h.store.Game(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, live.ErrGameNotFound
	}
	return record, err
}

func (h *Handlers) handleStageChange(tx *transaction) error {
	s, err := tx.session()
	if err != nil {
		return err
	}
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}
	stage, err := tx.payload().Int("stage")
	if err != nil {
		return err
	}
	if stage != int64(database.GAME_STAGE_RUNNING) && stage != int64(database.GAME_STAGE_FINISHED) {
		return &protocol.FieldError{Field: "stage", Reason: "must be 1 or 2"}
	}

	var g *live.Game
	var members []database.GameUser
	group, ctx := errgroup.WithContext(tx.ctx)
	group.Go(func() (err error) {
		g, err = h.games.Game(ctx, gameID)
		return err
	})
	group.Go(func() (err error) {
		members, err = h.store.GameUsers(ctx, gameID)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}

	if !g.HasManagePermission(s.User) {
		return live.ErrNoPermission
	}
	name := g.Name()
	if err := g.SetStage(tx.ctx, database.GameStage(stage)); err != nil {
		return err
	}
	tx.responded.Store(true)

	joined := map[string]bool{}
	for _, m := range members {
		joined[m.UserID] = true
	}
	for _, c := range h.proc.Connections() {
		session := c.Session()
		if !session.Valid {
			continue
		}
		_ = c.Send(protocol.GAME_STAGE_CHANGED, protocol.Payload{
			"game":     gameID,
			"gameName": name,
			"stage":    stage,
			"joined":   joined[session.UserID],
		})
	}
	return nil
}

func (h *Handlers) handleBroadcastRequest(tx *transaction) error {
	s, err := tx.session()
	if err != nil {
		return err
	}
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}
	message, err := tx.payload().String("message")
	if err != nil {
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return &protocol.FieldError{Field: "message", Reason: "must not be empty"}
	}

	var record *database.Game
	var members []database.GameUser
	group, ctx := errgroup.WithContext(tx.ctx)
	group.Go(func() (err error) {
		record, err = h.gameRecord(ctx, gameID)
		return err
	})
	group.Go(func() (err error) {
		members, err = h.store.GameUsers(ctx, gameID)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}
	if !record.HasManagePermission(s.User) {
		return live.ErrNoPermission
	}

	recipients := make([]string, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, m.UserID)
	}
	b := broadcast.Broadcast{Message: message, GameID: record.ID, GameName: record.Name}
	online, queued := h.broadcasts.Publish(b, recipients, h.proc)
	h.event("broadcast", gameID, s.UserID, "broadcast to %d online and %d offline user(s): %s", online, queued, message)
	tx.succeed("Message broadcast to %d user(s)", online+queued)
	return nil
}

func (h *Handlers) handleLocationUpdate(tx *transaction) error {
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}
	body, err := tx.payload().Object("location")
	if err != nil {
		return err
	}
	location, err := parseLocation(body)
	if err != nil {
		return err
	}

	_, _, u, err := tx.member(gameID)
	if err != nil {
		return err
	}
	location.Time = h.games.Clock()
	u.SetLocation(location)
	return nil
}

func parseLocation(body protocol.Payload) (live.Location, error) {
	var loc live.Location
	var err error
	if loc.Latitude, err = body.Float("latitude"); err != nil {
		return loc, err
	}
	if loc.Longitude, err = body.Float("longitude"); err != nil {
		return loc, err
	}
	if body.Has("altitude") {
		if loc.Altitude, err = body.Float("altitude"); err != nil {
			return loc, err
		}
	}
	if body.Has("accuracy") {
		if loc.Accuracy, err = body.Float("accuracy"); err != nil {
			return loc, err
		}
	}
	if body.Has("altitudeAccuracy") {
		if loc.AltitudeAccuracy, err = body.Float("altitudeAccuracy"); err != nil {
			return loc, err
		}
	}
	if !loc.Valid() {
		return loc, &protocol.FieldError{Field: "location", Reason: "is out of range"}
	}
	return loc, nil
}

func (h *Handlers) handleGameInfo(tx *transaction) error {
	s, err := tx.session()
	if err != nil {
		return err
	}
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}

	g, err := h.games.Game(tx.ctx, gameID)
	if err != nil {
		return err
	}
	info := protocol.Payload{
		"game":    g.ID,
		"name":    g.Name(),
		"stage":   int(g.Stage()),
		"joined":  false,
		"player":  false,
		"special": false,
		"manager": g.HasManagePermission(s.User),
		"team":    nil,
	}

	u, err := g.Users.User(tx.ctx, s.UserID)
	if err != nil && !errors.Is(err, live.ErrNotJoined) {
		return err
	}
	if u != nil {
		record := u.Record()
		info["joined"] = true
		info["player"] = record.IsPlayer()
		info["special"] = record.IsSpecial
		if team, ok := g.Team(record.TeamID); ok {
			info["team"] = teamPayload(team)
		}
	}

	tx.responded.Store(true)
	tx.reply(protocol.GAME_INFO, info)
	return nil
}

func (h *Handlers) handleGameData(tx *transaction) error {
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}
	_, g, u, err := tx.member(gameID)
	if err != nil {
		return err
	}

	data, err := h.gameData(tx.ctx, g, u)
	if err != nil {
		return err
	}
	tx.responded.Store(true)
	tx.reply(protocol.GAME_DATA, data)
	return nil
}

// gameData renders everything the user currently knows about the game.
func (h *Handlers) gameData(ctx context.Context, g *live.Game, u *live.User) (protocol.Payload, error) {
	standings, err := g.Standings(ctx)
	if err != nil {
		return nil, err
	}

	now := h.games.Clock()
	v := u.Viewer()
	var visible []database.Factory
	for _, f := range g.Factories.All() {
		if f.VisibleTo(v, now, g.Config().Visibility_Range) {
			visible = append(visible, f.Record())
		}
	}

	shops := []protocol.Payload{}
	for _, s := range g.Shops.Open(now) {
		shops = append(shops, shopPayload(s, now))
	}

	tiers := []protocol.Payload{}
	standingList := make([]protocol.Payload, 0, len(standings))
	for _, s := range standings {
		standingList = append(standingList, standingPayload(s))
		if v.TeamID != "" && s.Team.ID == v.TeamID {
			for _, t := range g.PingTiers(s.Money) {
				tiers = append(tiers, pingTierPayload(t))
			}
		}
	}

	return protocol.Payload{
		"game":      g.ID,
		"balance":   balancePayload(u.Record()),
		"factories": factorySummaries(visible),
		"shops":     shops,
		"pingTiers": tiers,
		"standings": standingList,
	}, nil
}

// pushGameData sends fresh GAME_DATA to every open connection of the user.
func (h *Handlers) pushGameData(ctx context.Context, g *live.Game, userID string) {
	if !h.proc.UserOnline(userID) {
		return
	}
	u, err := g.Users.User(ctx, userID)
	if err != nil {
		h.log.WithError(err).Warnf("Unable to load %s for game data", userID)
		return
	}
	data, err := h.gameData(ctx, g, u)
	if err != nil {
		h.log.WithError(err).Warnf("Unable to render game data for %s", userID)
		return
	}
	h.proc.SendPacketUser(userID, protocol.GAME_DATA, data)
}

// notifyTeam toasts every online member of a team except the user in skip.
func (h *Handlers) notifyTeam(ctx context.Context, g *live.Game, teamID string, skip string, message string) {
	members, err := g.Users.Members(ctx)
	if err != nil {
		h.log.WithError(err).Warnf("Unable to list members of game %s", g.ID)
		return
	}
	payload := messagePayload(message, false, false)
	for _, m := range members {
		if m.UserID() == skip || m.TeamID() != teamID {
			continue
		}
		h.proc.SendPacketUser(m.UserID(), protocol.MESSAGE_RESPONSE, payload)
	}
}

func (h *Handlers) handleSpecialAction(tx *transaction) error {
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}
	action, err := tx.payload().String("action")
	if err != nil {
		return err
	}
	if action != live.SpecialReveal {
		return live.ErrUnknownAction
	}

	s, g, u, err := tx.member(gameID)
	if err != nil {
		return err
	}
	revealed, until, err := g.SpecialReveal(tx.ctx, u)
	if err != nil {
		return err
	}
	tx.succeed("Revealed %d lab(s) until %s", len(revealed), until.Format("15:04:05"))
	h.pushGameData(tx.ctx, g, s.UserID)
	return nil
}

func (h *Handlers) handlePingBuy(tx *transaction) error {
	gameID, err := tx.payload().String("game")
	if err != nil {
		return err
	}
	tierID, err := tx.payload().Int("pingId")
	if err != nil {
		return err
	}
	cost, err := tx.payload().Int("cost")
	if err != nil {
		return err
	}

	s, g, u, err := tx.member(gameID)
	if err != nil {
		return err
	}
	result, err := g.BuyPing(tx.ctx, u, int(tierID), cost)
	if err != nil {
		return err
	}
	tx.succeed("%s ping revealed %d lab(s)", result.Tier.Name, len(result.Revealed))
	h.pushGameData(tx.ctx, g, s.UserID)
	return nil
}

// onTick pushes shop changes to the members of the game.
func (h *Handlers) onTick(g *live.Game, result live.TickResult) {
	if len(result.Opened) == 0 && len(result.Closed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), fanOutTimeout)
	defer cancel()

	for _, s := range result.Opened {
		h.proc.SendPacketUser(s.UserID, protocol.MESSAGE_RESPONSE,
			messagePayload("You are now a shop, stay where you are so others can trade with you", false, true))
	}

	members, err := g.Users.Members(ctx)
	if err != nil {
		h.log.WithError(err).Warnf("Unable to list members of game %s", g.ID)
		return
	}
	for _, m := range members {
		h.pushGameData(ctx, g, m.UserID())
	}
}

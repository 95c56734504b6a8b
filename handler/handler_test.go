package handler_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"dworekgo/broadcast"
	"dworekgo/database"
	"dworekgo/handler"
	"dworekgo/live"
	"dworekgo/processor"
	"dworekgo/protocol"
	"dworekgo/session"
	"dworekgo/test"
	"dworekgo/util"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.SetHandler(log.HandlerFunc(func(*log.Entry) error { return nil }))
	os.Exit(m.Run())
}

type server struct {
	proc       *processor.Processor
	store      *database.MemoryBackend
	games      *live.Registry
	broadcasts *broadcast.Queue
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWith(t, nil)
}

// newServerWith lets wrap intercept the store the handlers talk to. The live
// registry keeps the plain memory store.
func newServerWith(t *testing.T, wrap func(database.Store) database.Store) *server {
	t.Helper()
	conf := test.Config()
	store := test.NewStore()
	s := &server{
		proc:       processor.New(conf, nil),
		store:      store,
		games:      live.NewRegistry(store, conf, nil),
		broadcasts: broadcast.NewQueue(),
	}
	var handlerStore database.Store = store
	if wrap != nil {
		handlerStore = wrap(store)
	}
	validator := session.NewValidator(handlerStore, session.NewMemoryCache(), conf)
	h := handler.New(s.proc, validator, s.broadcasts, s.games, handlerStore, nil)
	require.NoError(t, h.Register())

	t.Cleanup(func() {
		_ = s.proc.Shutdown()
		s.games.Close()
	})
	return s
}

// login connects and authenticates userID.
func (s *server) login(t *testing.T, userID string) *test.TestConnection {
	t.Helper()
	c := test.Connect(s.proc, userID)
	c.Authenticate(t, userID)
	return c
}

// locate reports a position. Location updates get no reply, so the following
// packets of the same connection are the only ordering guarantee.
func locate(c *test.TestConnection, at util.Coordinate) {
	c.Send(protocol.LOCATION_UPDATE, protocol.Payload{"game": test.GameID, "location": test.Location(at)})
}

// awaitMessage skips packets until a MESSAGE_RESPONSE arrives and returns it.
func awaitMessage(t *testing.T, c *test.TestConnection) protocol.Payload {
	t.Helper()
	return c.Await(t, protocol.MESSAGE_RESPONSE)
}

// outcome waits for the answer to a build request: the built lab, or the
// rejection message.
func outcome(t *testing.T, c *test.TestConnection) (string, string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p := c.ReceiveMaybe()
		if p == nil {
			continue
		}
		switch {
		case p.Type == protocol.FACTORY_BUILD_RESPONSE:
			return p.Payload["factory"].(string), ""
		case p.Type == protocol.MESSAGE_RESPONSE && p.Payload["error"] == true:
			return "", p.Payload["message"].(string)
		}
	}
	require.FailNow(t, "no build outcome")
	return "", ""
}

func (s *server) factory(t *testing.T, id string) database.Factory {
	t.Helper()
	for _, f := range s.store.Snapshot().Factories {
		if f.ID == id {
			return f
		}
	}
	require.FailNow(t, "lab not stored", id)
	return database.Factory{}
}

func (s *server) gameUser(t *testing.T, userID string) database.GameUser {
	t.Helper()
	u, err := s.store.GameUser(context.Background(), test.GameID, userID)
	require.NoError(t, err)
	return *u
}

func TestAuth_EmptyToken(t *testing.T) {
	s := newServer(t)
	c := test.Connect(s.proc, "client")
	before := s.store.Accesses()

	c.Send(protocol.AUTH_REQUEST, protocol.Payload{"session": ""})
	payload := c.Expect(t, protocol.AUTH_RESPONSE)
	assert.Equal(t, false, payload["loggedIn"])
	assert.NotContains(t, payload, "valid")
	assert.Equal(t, before, s.store.Accesses())

	c.Send(protocol.AUTH_REQUEST, protocol.Payload{})
	payload = c.Expect(t, protocol.AUTH_RESPONSE)
	assert.Equal(t, false, payload["loggedIn"])
	assert.Equal(t, before, s.store.Accesses())
}

func TestAuth_InvalidTokens(t *testing.T) {
	s := newServer(t)
	c := test.Connect(s.proc, "client")

	for _, token := range []string{test.ExpiredToken, "zz" + test.Token(test.Alice)[2:], "0123456789abcdef0123456789abcdef"} {
		c.Send(protocol.AUTH_REQUEST, protocol.Payload{"session": token})
		payload := c.Expect(t, protocol.AUTH_RESPONSE)
		assert.Equal(t, true, payload["loggedIn"], token)
		assert.Equal(t, false, payload["valid"], token)
	}

	c.Send(protocol.GAME_DATA_REQUEST, protocol.Payload{"game": test.GameID})
	c.ExpectError(t, "not authenticated")
}

func TestAuth_Success(t *testing.T) {
	s := newServer(t)
	c := test.Connect(s.proc, "client")

	c.Send(protocol.AUTH_REQUEST, protocol.Payload{"session": "  " + "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF" + " "})
	payload := c.Expect(t, protocol.AUTH_RESPONSE)
	assert.Equal(t, true, payload["valid"])
	user, ok := payload["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, test.Admin, user["id"])
	assert.Equal(t, true, user["isAdmin"])
	assert.True(t, s.proc.UserOnline(test.Admin))
	c.ExpectNone(t)
}

type unreachableGameStore struct {
	database.Store
	gameID string
}

func (s unreachableGameStore) Game(ctx context.Context, id string) (*database.Game, error) {
	if id == s.gameID {
		return nil, errors.New("connection reset by peer")
	}
	return s.Store.Game(ctx, id)
}

func TestAuth_WhitespaceToken(t *testing.T) {
	s := newServer(t)
	c := test.Connect(s.proc, "anonymous")
	before := s.store.Accesses()

	c.Send(protocol.AUTH_REQUEST, protocol.Payload{"session": " \t "})
	response := c.Expect(t, protocol.AUTH_RESPONSE)
	assert.Equal(t, false, response["loggedIn"])
	assert.NotContains(t, response, "valid")
	assert.Equal(t, before, s.store.Accesses())
}

func TestAuth_QueuedBroadcastGameLookupFails(t *testing.T) {
	s := newServerWith(t, func(store database.Store) database.Store {
		return unreachableGameStore{Store: store, gameID: "archived"}
	})
	first := s.broadcasts.Queue(broadcast.Broadcast{Message: "Lab fair today", GameID: test.GameID}, test.Bob)
	lost := s.broadcasts.Queue(broadcast.Broadcast{Message: "Old news", GameID: "archived"}, test.Bob)
	last := s.broadcasts.Queue(broadcast.Broadcast{Message: "Final hour!", GameID: test.GameID}, test.Bob)

	bob := s.login(t, test.Bob)
	delivered := bob.Expect(t, protocol.BROADCAST_MESSAGE)
	assert.Equal(t, first.UID, delivered["uid"])
	assert.Equal(t, test.GameName, delivered["gameName"])
	delivered = bob.Expect(t, protocol.BROADCAST_MESSAGE)
	assert.Equal(t, last.UID, delivered["uid"])
	bob.ExpectNone(t)

	pending := s.broadcasts.Get(test.Bob)
	require.Len(t, pending, 3)
	uids := []string{}
	for _, b := range pending {
		uids = append(uids, b.UID)
	}
	assert.Contains(t, uids, lost.UID)
}

func TestHandlers_NotAuthenticated(t *testing.T) {
	s := newServer(t)
	c := test.Connect(s.proc, "client")

	c.Send(protocol.FACTORY_BUILD_REQUEST, protocol.Payload{"game": test.GameID, "name": "Lab"})
	c.ExpectError(t, "not authenticated")

	// Authentication comes before payload validation.
	c.Send(protocol.FACTORY_DEPOSIT, protocol.Payload{})
	c.ExpectError(t, "not authenticated")

	// Location updates fail silently.
	locate(c, test.Home)
	c.ExpectNone(t)
}

func TestHandlers_Malformed(t *testing.T) {
	s := newServer(t)
	c := s.login(t, test.Alice)
	before := s.store.Accesses()

	c.Send(protocol.FACTORY_DEPOSIT, protocol.Payload{"amount": 5})
	c.ExpectError(t, "invalid request")
	c.Send(protocol.FACTORY_DEPOSIT, protocol.Payload{"factory": test.FactoryRed, "amount": 1.5})
	c.ExpectError(t, "invalid request")
	c.Send(protocol.GAME_STAGE_CHANGE, protocol.Payload{"game": test.GameID, "stage": 0})
	c.ExpectError(t, "invalid request")
	c.Send(protocol.PING_BUY, protocol.Payload{"game": test.GameID, "pingId": "one", "cost": 100})
	c.ExpectError(t, "invalid request")

	assert.Equal(t, before, s.store.Accesses())
}

func TestHandlers_UnknownTypeDropped(t *testing.T) {
	s := newServer(t)
	c := s.login(t, test.Alice)

	c.SendRaw([]byte(`{"type":99,"game":"game1"}`))
	c.SendRaw([]byte(`not json`))
	c.ExpectNone(t)

	c.Send(protocol.GAME_INFO_REQUEST, protocol.Payload{"game": test.GameID})
	payload := c.Expect(t, protocol.GAME_INFO)
	assert.Equal(t, true, payload["joined"])
}

func TestHandlers_GameInfo(t *testing.T) {
	s := newServer(t)

	alice := s.login(t, test.Alice)
	alice.Send(protocol.GAME_INFO_REQUEST, protocol.Payload{"game": test.GameID})
	info := alice.Expect(t, protocol.GAME_INFO)
	assert.Equal(t, test.GameName, info["name"])
	assert.EqualValues(t, database.GAME_STAGE_RUNNING, info["stage"])
	assert.Equal(t, true, info["player"])
	assert.Equal(t, false, info["special"])
	assert.Equal(t, false, info["manager"])
	team := info["team"].(map[string]interface{})
	assert.Equal(t, test.TeamRed, team["id"])

	eve := s.login(t, test.Eve)
	eve.Send(protocol.GAME_INFO_REQUEST, protocol.Payload{"game": test.GameID})
	info = eve.Expect(t, protocol.GAME_INFO)
	assert.Equal(t, false, info["joined"])
	assert.Nil(t, info["team"])

	eve.Send(protocol.GAME_INFO_REQUEST, protocol.Payload{"game": "missing"})
	eve.ExpectError(t, "this game does not exist")

	eve.Send(protocol.GAME_DATA_REQUEST, protocol.Payload{"game": test.GameID})
	eve.ExpectError(t, "you are not part of this game")
}

func TestHandlers_GameData(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	locate(alice, test.Home)

	alice.Send(protocol.GAME_DATA_REQUEST, protocol.Payload{"game": test.GameID})
	data := alice.Expect(t, protocol.GAME_DATA)

	balance := data["balance"].(map[string]interface{})
	assert.EqualValues(t, test.StartMoney, balance["money"])

	// Both labs are within sight of Home.
	factories := data["factories"].([]interface{})
	assert.Len(t, factories, 2)
	assert.Len(t, data["pingTiers"], len(test.Config().Game.Ping_Tiers))
	assert.Len(t, data["standings"], 2)
}

// Two players build at the same time, 10 m apart; only one lab may stand.
func TestHandlers_BuildSpacing(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	carol := s.login(t, test.Carol)

	first := test.Home.Offset(0, 500)
	second := test.Home.Offset(0, 510)
	locate(alice, first)
	locate(carol, second)
	alice.Send(protocol.FACTORY_BUILD_REQUEST, protocol.Payload{"game": test.GameID, "name": "Alpha"})
	carol.Send(protocol.FACTORY_BUILD_REQUEST, protocol.Payload{"game": test.GameID, "name": "Beta"})

	builtA, rejectedA := outcome(t, alice)
	builtC, rejectedC := outcome(t, carol)

	built := []string{}
	rejected := []string{}
	for _, b := range []string{builtA, builtC} {
		if b != "" {
			built = append(built, b)
		}
	}
	for _, r := range []string{rejectedA, rejectedC} {
		if r != "" {
			rejected = append(rejected, r)
		}
	}
	require.Len(t, built, 1)
	require.Equal(t, []string{"lab close by"}, rejected)
	assert.Len(t, s.store.Snapshot().Factories, 3)
	s.factory(t, built[0])
}

func TestHandlers_BuildRejections(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)

	alice.Send(protocol.FACTORY_BUILD_REQUEST, protocol.Payload{"game": test.GameID, "name": "Alpha"})
	payload := alice.ExpectError(t, "your location is unknown, wait for a GPS fix")
	assert.Equal(t, true, payload["dialog"])
	assert.Equal(t, false, payload["toast"])

	locate(alice, test.Home.Offset(10, 0))
	alice.Send(protocol.FACTORY_BUILD_REQUEST, protocol.Payload{"game": test.GameID, "name": "Alpha"})
	alice.ExpectError(t, "lab close by")

	alice.Send(protocol.FACTORY_BUILD_REQUEST, protocol.Payload{"game": test.GameID, "name": "   "})
	alice.ExpectError(t, "invalid lab name")

	assert.EqualValues(t, test.StartMoney, s.gameUser(t, test.Alice).Money)
}

func TestHandlers_WithdrawTooMuch(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	locate(alice, test.Home)

	alice.Send(protocol.FACTORY_WITHDRAW, protocol.Payload{"factory": test.FactoryRed, "amount": 51})
	alice.ExpectError(t, "not enough goods")
	alice.ExpectNone(t)

	assert.EqualValues(t, 50, s.factory(t, test.FactoryRed).Out)
	assert.EqualValues(t, 0, s.gameUser(t, test.Alice).Out)

	alice.Send(protocol.FACTORY_WITHDRAW, protocol.Payload{"factory": test.FactoryRed, "all": true})
	msg := awaitMessage(t, alice)
	assert.Equal(t, false, msg["error"])
	assert.EqualValues(t, 0, s.factory(t, test.FactoryRed).Out)
	assert.EqualValues(t, 50, s.gameUser(t, test.Alice).Out)
}

func TestHandlers_Deposit(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	locate(alice, test.Home)

	alice.Send(protocol.FACTORY_DEPOSIT, protocol.Payload{"factory": test.FactoryRed, "amount": 40})
	msg := alice.Expect(t, protocol.MESSAGE_RESPONSE)
	assert.Equal(t, false, msg["error"])
	assert.Equal(t, true, msg["toast"])

	// The actor gets fresh game data and the lab's new state.
	alice.Await(t, protocol.GAME_DATA)
	data := alice.Await(t, protocol.FACTORY_DATA)
	assert.Equal(t, test.FactoryRed, data["factory"])

	assert.EqualValues(t, 45, s.factory(t, test.FactoryRed).In)
	assert.EqualValues(t, test.StartIn-40, s.gameUser(t, test.Alice).In)

	alice.Flush()
	alice.Send(protocol.FACTORY_DEPOSIT, protocol.Payload{"factory": test.FactoryBlue, "amount": 1})
	alice.ExpectError(t, "this lab belongs to another team")
	alice.Send(protocol.FACTORY_DEPOSIT, protocol.Payload{"factory": "missing", "amount": 1})
	alice.ExpectError(t, "this lab does not exist")
}

func TestHandlers_DefenceBuyStalePrice(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	locate(alice, test.Home)

	alice.Send(protocol.FACTORY_DEFENCE_BUY, protocol.Payload{
		"factory": test.FactoryRed, "index": 99, "cost": 250, "defence": 1,
	})
	payload := alice.ExpectError(t, "prices have changed")
	assert.Equal(t, true, payload["dialog"])

	alice.Send(protocol.FACTORY_DEFENCE_BUY, protocol.Payload{
		"factory": test.FactoryRed, "index": 0, "cost": 249, "defence": 1,
	})
	alice.ExpectError(t, "prices have changed")

	assert.EqualValues(t, test.StartMoney, s.gameUser(t, test.Alice).Money)
	assert.EqualValues(t, 0, s.factory(t, test.FactoryRed).Defence)

	alice.Send(protocol.FACTORY_DEFENCE_BUY, protocol.Payload{
		"factory": test.FactoryRed, "index": 0, "cost": 250, "defence": 1,
	})
	msg := alice.Expect(t, protocol.MESSAGE_RESPONSE)
	assert.Equal(t, false, msg["error"])
	assert.EqualValues(t, test.StartMoney-250, s.gameUser(t, test.Alice).Money)
	assert.EqualValues(t, 1, s.factory(t, test.FactoryRed).Defence)
}

func TestHandlers_FactoryData(t *testing.T) {
	s := newServer(t)
	carol := s.login(t, test.Carol)

	carol.Send(protocol.FACTORY_DATA_REQUEST, protocol.Payload{"factory": test.FactoryRed})
	carol.ExpectError(t, "you can't see this lab")

	locate(carol, test.Home.Offset(5, 0))
	carol.Send(protocol.FACTORY_DATA_REQUEST, protocol.Payload{"factory": test.FactoryRed})
	payload := carol.Expect(t, protocol.FACTORY_DATA)
	data := payload["data"].(map[string]interface{})
	assert.Equal(t, test.TeamRed, data["team"])
	assert.EqualValues(t, 1, data["conquer"])
	assert.NotContains(t, data, "in")

	carol.Send(protocol.FACTORY_DATA_REQUEST, protocol.Payload{"factory": test.FactoryBlue})
	payload = carol.Expect(t, protocol.FACTORY_DATA)
	data = payload["data"].(map[string]interface{})
	assert.EqualValues(t, 10, data["in"])
	assert.Contains(t, data, "nextLevel")
	assert.Len(t, data["defenceUpgrades"], len(test.Config().Game.Defence_Upgrades))
}

func TestHandlers_Attack(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	carol := s.login(t, test.Carol)
	dave := s.login(t, test.Dave)

	locate(carol, test.Home.Offset(5, 0))
	locate(dave, test.Home.Offset(-5, 0))
	dave.Send(protocol.GAME_INFO_REQUEST, protocol.Payload{"game": test.GameID})
	dave.Expect(t, protocol.GAME_INFO)

	carol.Send(protocol.FACTORY_ATTACK, protocol.Payload{"factory": test.FactoryBlue})
	carol.ExpectError(t, "you can't attack your own lab")

	carol.Send(protocol.FACTORY_ATTACK, protocol.Payload{"factory": test.FactoryRed})
	msg := awaitMessage(t, carol)
	assert.Equal(t, false, msg["error"])
	assert.Equal(t, test.TeamBlue, s.factory(t, test.FactoryRed).TeamID)

	notice := awaitMessage(t, alice)
	assert.Equal(t, "Your lab Red lab was conquered", notice["message"])
}

func TestHandlers_Destroy(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	carol := s.login(t, test.Carol)
	locate(carol, test.Home)

	carol.Send(protocol.FACTORY_DESTROY, protocol.Payload{"factory": test.FactoryRed, "keepContents": true})
	carol.ExpectError(t, "you don't have permission to do this")

	admin := s.login(t, test.Admin)
	admin.Send(protocol.FACTORY_DESTROY, protocol.Payload{"factory": test.FactoryRed})
	msg := admin.Expect(t, protocol.MESSAGE_RESPONSE)
	assert.Equal(t, false, msg["error"])

	destroyed := alice.Await(t, protocol.FACTORY_DESTROYED)
	assert.Equal(t, test.FactoryRed, destroyed["factory"])
	assert.Equal(t, "Red lab", destroyed["name"])
	assert.Len(t, s.store.Snapshot().Factories, 1)

	admin.Send(protocol.FACTORY_DESTROY, protocol.Payload{"factory": test.FactoryRed})
	admin.ExpectError(t, "this lab does not exist")
}

func TestHandlers_StageChange(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	admin := s.login(t, test.Admin)

	alice.Send(protocol.GAME_STAGE_CHANGE, protocol.Payload{"game": test.GameID, "stage": 2})
	alice.ExpectError(t, "you don't have permission to do this")

	admin.Send(protocol.GAME_STAGE_CHANGE, protocol.Payload{"game": test.GameID, "stage": 1})
	admin.ExpectError(t, "the game is already in this stage")

	admin.Send(protocol.GAME_STAGE_CHANGE, protocol.Payload{"game": test.GameID, "stage": 2})
	changed := admin.Expect(t, protocol.GAME_STAGE_CHANGED)
	assert.Equal(t, false, changed["joined"])
	assert.EqualValues(t, 2, changed["stage"])
	assert.Equal(t, test.GameName, changed["gameName"])

	changed = alice.Expect(t, protocol.GAME_STAGE_CHANGED)
	assert.Equal(t, true, changed["joined"])

	record, err := s.store.Game(context.Background(), test.GameID)
	require.NoError(t, err)
	assert.Equal(t, database.GAME_STAGE_FINISHED, record.Stage)
	assert.False(t, s.games.Loaded(test.GameID))

	alice.Send(protocol.FACTORY_WITHDRAW, protocol.Payload{"factory": test.FactoryRed, "amount": 1})
	alice.ExpectError(t, "the game is not running")
}

// A broadcast reaches online members live and waits in the queue for the
// others until they resolve it.
func TestHandlers_Broadcast(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	admin := s.login(t, test.Admin)

	alice.Send(protocol.BROADCAST_MESSAGE_REQUEST, protocol.Payload{"game": test.GameID, "message": "hi"})
	alice.ExpectError(t, "you don't have permission to do this")

	admin.Send(protocol.BROADCAST_MESSAGE_REQUEST, protocol.Payload{"game": test.GameID, "message": "Final hour!"})
	msg := admin.Expect(t, protocol.MESSAGE_RESPONSE)
	assert.Equal(t, false, msg["error"])

	delivered := alice.Expect(t, protocol.BROADCAST_MESSAGE)
	assert.Equal(t, "Final hour!", delivered["message"])
	assert.Equal(t, test.GameName, delivered["gameName"])
	alice.ExpectNone(t)
	assert.False(t, s.broadcasts.Has(test.Alice))

	pending := s.broadcasts.Get(test.Bob)
	require.Len(t, pending, 1)
	assert.Equal(t, broadcast.DELIVERY_QUEUED, pending[0].Delivery)

	bob := s.login(t, test.Bob)
	queued := bob.Expect(t, protocol.BROADCAST_MESSAGE)
	assert.Equal(t, pending[0].UID, queued["uid"])
	assert.Equal(t, test.GameName, queued["gameName"])
	bob.ExpectNone(t)
	assert.Len(t, s.broadcasts.Get(test.Bob), 1)

	bob.Send(protocol.BROADCAST_RESOLVE, protocol.Payload{"token": pending[0].UID})
	bob.Send(protocol.BROADCAST_RESOLVE, protocol.Payload{"token": pending[0].UID})
	bob.Send(protocol.GAME_INFO_REQUEST, protocol.Payload{"game": test.GameID})
	bob.Expect(t, protocol.GAME_INFO)
	assert.False(t, s.broadcasts.Has(test.Bob))

	again := s.login(t, test.Bob)
	again.ExpectNone(t)
}

func TestHandlers_PingBuy(t *testing.T) {
	s := newServer(t)
	carol := s.login(t, test.Carol)
	locate(carol, test.Home.Offset(400, 0))

	carol.Send(protocol.GAME_DATA_REQUEST, protocol.Payload{"game": test.GameID})
	data := carol.Expect(t, protocol.GAME_DATA)
	// The nearest tier does not reach the red lab 400 m away.
	tiers := data["pingTiers"].([]interface{})
	require.GreaterOrEqual(t, len(tiers), 2)
	tier := tiers[1].(map[string]interface{})

	carol.Send(protocol.PING_BUY, protocol.Payload{"game": test.GameID, "pingId": tier["id"], "cost": 1})
	carol.ExpectError(t, "prices have changed")
	assert.EqualValues(t, test.StartMoney, s.gameUser(t, test.Carol).Money)

	carol.Send(protocol.PING_BUY, protocol.Payload{"game": test.GameID, "pingId": tier["id"], "cost": tier["cost"]})
	msg := carol.Expect(t, protocol.MESSAGE_RESPONSE)
	assert.Equal(t, false, msg["error"], msg["message"])

	data = carol.Await(t, protocol.GAME_DATA)
	assert.Len(t, data["factories"], 2)

	cost := tier["cost"].(float64)
	assert.EqualValues(t, test.StartMoney-int64(cost), s.gameUser(t, test.Carol).Money)
}

func TestHandlers_SpecialAction(t *testing.T) {
	s := newServer(t)
	carol := s.login(t, test.Carol)
	dave := s.login(t, test.Dave)
	locate(carol, test.Home.Offset(5000, 0))
	locate(dave, test.Home.Offset(5000, 0))

	carol.Send(protocol.SPECIAL_ACTION_EXECUTE, protocol.Payload{"game": test.GameID, "action": "reveal"})
	carol.ExpectError(t, "only special players can do this")

	dave.Send(protocol.SPECIAL_ACTION_EXECUTE, protocol.Payload{"game": test.GameID, "action": "teleport"})
	dave.ExpectError(t, "unknown special action")

	dave.Send(protocol.SPECIAL_ACTION_EXECUTE, protocol.Payload{"game": test.GameID, "action": "reveal"})
	msg := dave.Expect(t, protocol.MESSAGE_RESPONSE)
	assert.Equal(t, false, msg["error"])

	dave.Send(protocol.SPECIAL_ACTION_EXECUTE, protocol.Payload{"game": test.GameID, "action": "reveal"})
	dave.ExpectError(t, "this action is not available yet")
}

func TestHandlers_Shop(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, test.Alice)
	bob := s.login(t, test.Bob)
	locate(alice, test.Home.Offset(100, 0))
	locate(bob, test.Home.Offset(105, 0))
	bob.Send(protocol.GAME_INFO_REQUEST, protocol.Payload{"game": test.GameID})
	bob.Expect(t, protocol.GAME_INFO)

	g, err := s.games.Game(context.Background(), test.GameID)
	require.NoError(t, err)
	shop := g.Shops.Add(live.Shop{UserID: test.Bob, InPrice: 4, OutPrice: 10, Until: time.Now().Add(time.Hour)})

	alice.Send(protocol.SHOP_BUY_IN, protocol.Payload{"shop": shop.Token, "amount": 10, "price": 5})
	alice.ExpectError(t, "prices have changed")

	alice.Send(protocol.SHOP_BUY_IN, protocol.Payload{"shop": shop.Token, "amount": 10, "price": 4})
	msg := alice.Expect(t, protocol.MESSAGE_RESPONSE)
	assert.Equal(t, false, msg["error"], msg["message"])
	assert.EqualValues(t, test.StartMoney-40, s.gameUser(t, test.Alice).Money)
	assert.EqualValues(t, test.StartIn+10, s.gameUser(t, test.Alice).In)

	alice.Await(t, protocol.GAME_DATA)
	alice.Send(protocol.SHOP_SELL_OUT, protocol.Payload{"shop": shop.Token, "all": true, "price": 10})
	alice.ExpectError(t, "not enough goods")

	alice.Send(protocol.SHOP_SELL_OUT, protocol.Payload{"shop": "gone", "amount": 1, "price": 10})
	alice.ExpectError(t, "this shop is gone")
}

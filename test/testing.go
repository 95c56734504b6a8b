package test

import (
	"strings"
	"testing"
	"time"

	"dworekgo/core"
	"dworekgo/database"
	"dworekgo/net"
	"dworekgo/protocol"
	"dworekgo/util"

	"github.com/stretchr/testify/require"
)

const (
	GameID   = "game1"
	GameName = "Dworek"

	TeamRed  = "red"
	TeamBlue = "blue"

	Alice = "alice" // red
	Bob   = "bob"   // red
	Carol = "carol" // blue
	Dave  = "dave"  // blue, special
	Eve   = "eve"   // not in the game
	Admin = "admin" // owns the game, not a member

	FactoryRed  = "lab-red"
	FactoryBlue = "lab-blue"

	StartMoney = 5000
	StartIn    = 100
)

// Home is where the red lab stands. The blue lab is 20 m north of it.
var Home = util.Coordinate{Latitude: 52.0907, Longitude: 5.1214}

// Token returns the session token of a fixture user.
func Token(userID string) string {
	switch userID {
	case Alice:
		return strings.Repeat("a", 32)
	case Bob:
		return strings.Repeat("b", 32)
	case Carol:
		return strings.Repeat("c", 32)
	case Dave:
		return strings.Repeat("d", 32)
	case Eve:
		return strings.Repeat("e", 32)
	case Admin:
		return strings.Repeat("f", 32)
	}
	return ""
}

// ExpiredToken belongs to Alice but its session has expired.
var ExpiredToken = strings.Repeat("0a", 16)

func Fixture(now time.Time) *database.Fixture {
	f := &database.Fixture{
		Users: []database.User{
			{ID: Alice, Name: "Alice"},
			{ID: Bob, Name: "Bob"},
			{ID: Carol, Name: "Carol"},
			{ID: Dave, Name: "Dave"},
			{ID: Eve, Name: "Eve"},
			{ID: Admin, Name: "Admin", IsAdmin: true},
		},
		Games: []database.Game{
			{ID: GameID, Name: GameName, Stage: database.GAME_STAGE_RUNNING, OwnerID: Admin},
		},
		Teams: []database.Team{
			{ID: TeamRed, GameID: GameID, Name: "Red", Color: "#ff0000"},
			{ID: TeamBlue, GameID: GameID, Name: "Blue", Color: "#0000ff"},
		},
		Factories: []database.Factory{
			{ID: FactoryRed, GameID: GameID, Name: "Red lab", TeamID: TeamRed, CreatorID: Alice,
				Location: Home, Level: 1, In: 5, Out: 50, CreateDate: now},
			{ID: FactoryBlue, GameID: GameID, Name: "Blue lab", TeamID: TeamBlue, CreatorID: Carol,
				Location: Home.Offset(20, 0), Level: 1, In: 10, Out: 10, CreateDate: now},
		},
	}

	members := []struct {
		user    string
		team    string
		special bool
	}{
		{Alice, TeamRed, false},
		{Bob, TeamRed, false},
		{Carol, TeamBlue, false},
		{Dave, TeamBlue, true},
	}
	for _, m := range members {
		f.GameUsers = append(f.GameUsers, database.GameUser{
			ID: GameID + ":" + m.user, GameID: GameID, UserID: m.user, TeamID: m.team,
			IsSpecial: m.special, Money: StartMoney, In: StartIn,
		})
	}

	for _, u := range f.Users {
		f.Sessions = append(f.Sessions, database.Session{
			ID: "session-" + u.ID, Token: Token(u.ID), UserID: u.ID,
			CreateDate: now, ExpireDate: now.Add(24 * time.Hour),
		})
	}
	f.Sessions = append(f.Sessions, database.Session{
		ID: "session-expired", Token: ExpiredToken, UserID: Alice,
		CreateDate: now.Add(-48 * time.Hour), ExpireDate: now.Add(-24 * time.Hour),
	})
	return f
}

// NewStore returns a memory backend seeded with Fixture.
func NewStore() *database.MemoryBackend {
	store := database.NewMemoryBackend()
	store.Seed(Fixture(time.Now()))
	return store
}

// Config is the default configuration with background ticking disabled and
// short timeouts.
func Config() *core.ServerConfig {
	conf := core.DefaultConfig()
	conf.Server.Bind = "127.0.0.1:0"
	conf.Server.Handler_Timeout = 2
	conf.Server.Keepalive = 0
	conf.Game.Tick_Interval = 0
	return conf
}

// TestConnection is a client connected to a server through an in-process
// transport.
type TestConnection struct {
	*net.Client
	messages chan protocol.Packet
	name     string
	Timeout  int
}

// Connect attaches a new client to server and returns it.
func Connect(server net.Server, name string) *TestConnection {
	local, remote := net.Pipe()
	c := &TestConnection{
		messages: make(chan protocol.Packet, 200),
		name:     name,
		Timeout:  201,
	}
	c.Client = net.NewClient(local, c, 200, 0)
	server.HandleConnect(remote)
	return c
}

// ReceiveMessage implements net.MessageHandler.
func (c *TestConnection) ReceiveMessage(msg []byte) {
	packet, err := protocol.Decode(msg)
	if err != nil {
		panic("test connection " + c.name + " received an undecodable frame: " + err.Error())
	}
	c.messages <- packet
}

func (c *TestConnection) Terminate(err error) { /* not needed */ }

func (c *TestConnection) Send(t protocol.Type, payload protocol.Payload) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		panic(err)
	}
	c.SendRaw(frame)
}

func (c *TestConnection) SendRaw(frame []byte) {
	if err := c.SendMessage(frame); err != nil {
		panic(err)
	}
}

func (c *TestConnection) ReceiveMaybe() *protocol.Packet {
	select {
	case p := <-c.messages:
		return &p
	case <-time.After(time.Duration(c.Timeout) * time.Millisecond):
		return nil
	}
}

func (c *TestConnection) Receive() protocol.Packet {
	p := c.ReceiveMaybe()
	if p == nil {
		panic("No message received!")
	}
	return *p
}

// Expect receives the next packet and requires it to be of type t.
func (c *TestConnection) Expect(tb testing.TB, t protocol.Type) protocol.Payload {
	tb.Helper()
	p := c.ReceiveMaybe()
	require.NotNil(tb, p, "no packet received for connection %s, expected %s", c.name, t)
	require.Equal(tb, t, p.Type, "connection %s: unexpected packet %v", c.name, p.Payload)
	return p.Payload
}

// Await skips packets until one of type t arrives.
func (c *TestConnection) Await(tb testing.TB, t protocol.Type) protocol.Payload {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p := c.ReceiveMaybe(); p != nil && p.Type == t {
			return p.Payload
		}
	}
	require.FailNow(tb, "no packet of the expected type", "connection %s, expected %s", c.name, t)
	return nil
}

// ExpectError receives the next packet and requires it to be an error
// response carrying message.
func (c *TestConnection) ExpectError(tb testing.TB, message string) protocol.Payload {
	tb.Helper()
	payload := c.Expect(tb, protocol.MESSAGE_RESPONSE)
	require.Equal(tb, true, payload["error"], "connection %s: %v", c.name, payload)
	require.Equal(tb, message, payload["message"])
	return payload
}

func (c *TestConnection) ExpectNone(tb testing.TB) {
	tb.Helper()
	p := c.ReceiveMaybe()
	if p != nil {
		require.FailNow(tb, "unexpected packet", "connection %s received %s %v", c.name, p.Type, p.Payload)
	}
}

func (c *TestConnection) Flush() {
	for len(c.messages) > 0 {
		<-c.messages
	}
}

// Authenticate logs the connection in as userID and consumes the response.
func (c *TestConnection) Authenticate(tb testing.TB, userID string) {
	tb.Helper()
	c.Send(protocol.AUTH_REQUEST, protocol.Payload{"session": Token(userID)})
	payload := c.Expect(tb, protocol.AUTH_RESPONSE)
	require.Equal(tb, true, payload["valid"], "authentication of %s failed", userID)
}

// Location renders a LOCATION_UPDATE body.
func Location(c util.Coordinate) protocol.Payload {
	return protocol.Payload{
		"latitude":         c.Latitude,
		"longitude":        c.Longitude,
		"altitude":         c.Altitude,
		"accuracy":         5.0,
		"altitudeAccuracy": 10.0,
	}
}

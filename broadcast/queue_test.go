package broadcast

import (
	"os"
	"sync"
	"testing"

	"dworekgo/protocol"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.SetHandler(log.HandlerFunc(func(*log.Entry) error { return nil }))
	os.Exit(m.Run())
}

type fakeSender struct {
	mu     sync.Mutex
	online map[string]int
	sent   map[string][]protocol.Payload
}

func (s *fakeSender) SendPacketUser(userID string, t protocol.Type, payload protocol.Payload) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.online[userID]
	if n > 0 {
		s.sent[userID] = append(s.sent[userID], payload)
	}
	return n
}

func TestQueue_Resolve(t *testing.T) {
	q := NewQueue()
	first := q.Queue(Broadcast{Message: "hello", GameID: "g1"}, "u1")
	second := q.Queue(Broadcast{Message: "again", GameID: "g1"}, "u1")

	require.NotEmpty(t, first.UID)
	assert.NotEqual(t, first.UID, second.UID)
	assert.Equal(t, DELIVERY_QUEUED, first.Delivery)
	assert.True(t, q.Has("u1"))
	assert.False(t, q.Has("u2"))

	assert.True(t, q.Resolve("u1", first.UID))
	assert.False(t, q.Resolve("u1", first.UID))

	pending := q.Get("u1")
	require.Len(t, pending, 1)
	assert.Equal(t, second.UID, pending[0].UID)

	assert.Equal(t, 1, q.ResolveAll("u1"))
	assert.Equal(t, 0, q.ResolveAll("u1"))
	assert.False(t, q.Has("u1"))
}

func TestQueue_KeepsGivenUID(t *testing.T) {
	q := NewQueue()
	b := q.Queue(Broadcast{UID: "fixed", Message: "x"}, "u1")
	assert.Equal(t, "fixed", b.UID)
}

func TestQueue_GetIsSnapshot(t *testing.T) {
	q := NewQueue()
	q.Queue(Broadcast{Message: "x"}, "u1")

	snapshot := q.Get("u1")
	snapshot[0].Message = "changed"
	assert.Equal(t, "x", q.Get("u1")[0].Message)
}

func TestQueue_Publish(t *testing.T) {
	q := NewQueue()
	sender := &fakeSender{
		online: map[string]int{"online": 2},
		sent:   map[string][]protocol.Payload{},
	}

	live, queued := q.Publish(Broadcast{Message: "Game starts at noon", GameID: "g1", GameName: "Utrecht"},
		[]string{"online", "offline", "offline"}, sender)
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, queued)

	// Online users are never queued as well.
	assert.False(t, q.Has("online"))
	require.Len(t, sender.sent["online"], 1)

	pending := q.Get("offline")
	require.Len(t, pending, 1)
	assert.Equal(t, sender.sent["online"][0]["uid"], pending[0].UID)
	assert.Equal(t, "Utrecht", pending[0].GameName)
}

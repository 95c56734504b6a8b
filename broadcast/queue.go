package broadcast

import (
	"sync"
	"time"

	"dworekgo/protocol"

	"github.com/apex/log"
	"github.com/google/uuid"
)

type Delivery int

const (
	DELIVERY_LIVE Delivery = iota
	DELIVERY_QUEUED
)

type Broadcast struct {
	UID      string
	Message  string
	GameID   string
	GameName string
	Delivery Delivery
	Created  time.Time
}

// Payload renders the BROADCAST_MESSAGE body for this broadcast.
func (b Broadcast) Payload() protocol.Payload {
	return protocol.Payload{
		"uid":      b.UID,
		"message":  b.Message,
		"game":     b.GameID,
		"gameName": b.GameName,
	}
}

// Sender delivers packets to every open connection of a user and reports how
// many connections received it.
type Sender interface {
	SendPacketUser(userID string, t protocol.Type, payload protocol.Payload) int
}

// Queue holds broadcasts for users that were offline when they were sent.
// Entries stay until resolved; nothing expires on its own.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Broadcast
	log     *log.Entry
}

func NewQueue() *Queue {
	return &Queue{
		pending: map[string][]Broadcast{},
		log: log.WithFields(log.Fields{
			"name":    "BroadcastQueue",
			"modName": "BroadcastQueue",
		}),
	}
}

// Queue appends b to the user's pending list, assigning a UID when it has none.
func (q *Queue) Queue(b Broadcast, userID string) Broadcast {
	if b.UID == "" {
		b.UID = uuid.NewString()
	}
	if b.Created.IsZero() {
		b.Created = time.Now()
	}
	b.Delivery = DELIVERY_QUEUED

	q.mu.Lock()
	q.pending[userID] = append(q.pending[userID], b)
	q.mu.Unlock()
	return b
}

func (q *Queue) Has(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[userID]) > 0
}

// Get returns a copy of the user's pending broadcasts, oldest first.
func (q *Queue) Get(userID string) []Broadcast {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Broadcast(nil), q.pending[userID]...)
}

// Resolve removes a single broadcast. Resolving an unknown or already resolved
// UID is a no-op and returns false.
func (q *Queue) Resolve(userID string, uid string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.pending[userID]
	for i, b := range list {
		if b.UID != uid {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(q.pending, userID)
		} else {
			q.pending[userID] = list
		}
		return true
	}
	return false
}

// ResolveAll clears the user's pending list and returns how many were removed.
func (q *Queue) ResolveAll(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending[userID])
	delete(q.pending, userID)
	return n
}

// Publish delivers b to every recipient. Users with an open connection receive
// it live; everyone else gets it queued. No recipient gets both.
func (q *Queue) Publish(b Broadcast, recipients []string, sender Sender) (live int, queued int) {
	if b.UID == "" {
		b.UID = uuid.NewString()
	}
	if b.Created.IsZero() {
		b.Created = time.Now()
	}

	seen := map[string]bool{}
	for _, userID := range recipients {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		liveCopy := b
		liveCopy.Delivery = DELIVERY_LIVE
		if sender.SendPacketUser(userID, protocol.BROADCAST_MESSAGE, liveCopy.Payload()) > 0 {
			live++
			continue
		}
		q.Queue(b, userID)
		queued++
	}

	q.log.Infof("Broadcast %s for game %s: %d live, %d queued", b.UID, b.GameID, live, queued)
	return live, queued
}

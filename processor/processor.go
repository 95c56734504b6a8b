package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dworekgo/core"
	"dworekgo/net"
	"dworekgo/protocol"
	"dworekgo/util"

	"github.com/apex/log"
)

var ErrHandlerRegistered = errors.New("handler already registered")

// HandlerFunc handles one inbound packet. ctx carries the per-invocation deadline.
type HandlerFunc func(ctx context.Context, packet protocol.Packet, conn *Connection)

type ConnectionTracker struct {
	mu     sync.Mutex
	next   uint64
	unused []uint64
}

func (c *ConnectionTracker) alloc() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var id uint64
	if len(c.unused) != 0 {
		id, c.unused = c.unused[0], c.unused[1:]
		return id
	}
	c.next++
	return c.next
}

func (c *ConnectionTracker) free(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unused = append(c.unused, id)
}

// Processor owns every live connection, routes inbound packets to the handler
// registered for their type and offers the outbound send primitives.
type Processor struct {
	net.NetworkServer

	Tracker *ConnectionTracker
	config  *core.ServerConfig
	log     *log.Entry
	metrics *Metrics

	handlersMu sync.RWMutex
	handlers   map[protocol.Type]HandlerFunc

	connections *util.MutexMap[uint64, *Connection]
	usersMu     sync.RWMutex
	users       map[string]map[uint64]*Connection

	handlerTimeout time.Duration
	sendBufferSize int
}

func New(config *core.ServerConfig, metrics *Metrics) *Processor {
	p := &Processor{
		Tracker:        &ConnectionTracker{},
		config:         config,
		metrics:        metrics,
		handlers:       map[protocol.Type]HandlerFunc{},
		connections:    util.NewMutexMap[uint64, *Connection](),
		users:          map[string]map[uint64]*Connection{},
		handlerTimeout: config.HandlerTimeout(),
		sendBufferSize: config.Server.Send_Buffer_Size,
		log: log.WithFields(log.Fields{
			"name":    fmt.Sprintf("Processor (%s)", config.Server.Bind),
			"modName": "Processor",
		}),
	}
	if p.handlerTimeout <= 0 {
		p.handlerTimeout = 10 * time.Second
	}

	p.Handler = p
	p.Path = config.Server.Path
	p.AllowedOrigins = config.Server.Allowed_Origins
	p.KeepAlive = config.Keepalive()
	p.WriteTimeout = config.WriteTimeout()
	return p
}

// RegisterHandler binds fn to a packet type. A type can only be bound once.
func (p *Processor) RegisterHandler(t protocol.Type, fn HandlerFunc) error {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	if _, ok := p.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, t)
	}
	p.handlers[t] = fn
	return nil
}

// MustRegister is RegisterHandler for wiring at startup; it panics on conflict.
func (p *Processor) MustRegister(t protocol.Type, fn HandlerFunc) {
	if err := p.RegisterHandler(t, fn); err != nil {
		panic(err)
	}
}

func (p *Processor) handler(t protocol.Type) (HandlerFunc, bool) {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	fn, ok := p.handlers[t]
	return fn, ok
}

// Listen binds the configured address and serves connections in the
// background. It returns once binding has succeeded or failed.
func (p *Processor) Listen() error {
	errChan := make(chan error)
	go p.Start(p.config.Server.Bind, errChan)
	if err := <-errChan; err != nil {
		return err
	}
	p.log.Infof("Opened listening socket at %s%s", p.Addr(), p.Path)
	return nil
}

func (p *Processor) HandleConnect(tr net.Transport) {
	p.log.Debugf("Incoming connection from %s", tr.RemoteAddr())
	NewConnection(p, tr)
}

func (p *Processor) register(c *Connection) {
	p.connections.Set(c.id, c)
	if p.metrics != nil {
		p.metrics.Connections.Inc()
	}
}

func (p *Processor) remove(c *Connection) {
	p.usersMu.Lock()
	existing, ok := p.connections.Get(c.id)
	if ok && existing == c {
		p.connections.Delete(c.id)
		if s := c.Session(); s.Valid {
			p.unindexUser(s.UserID, c)
		}
	}
	p.usersMu.Unlock()
	if !ok || existing != c {
		return
	}

	p.Tracker.free(c.id)
	if p.metrics != nil {
		p.metrics.Connections.Dec()
	}
}

// unindexUser must be called with usersMu held. IDs are recycled, so only the
// entry that still points at c is removed.
func (p *Processor) unindexUser(userID string, c *Connection) {
	if conns, ok := p.users[userID]; ok {
		if conns[c.id] == c {
			delete(conns, c.id)
		}
		if len(conns) == 0 {
			delete(p.users, userID)
		}
	}
}

// Authenticate attaches session to conn, replacing any previous one. It is the
// only way a connection gains an identity.
func (p *Processor) Authenticate(conn *Connection, session Session) {
	p.usersMu.Lock()
	defer p.usersMu.Unlock()

	previous := conn.session.Swap(&session)
	if previous != nil && previous.Valid {
		p.unindexUser(previous.UserID, conn)
	}
	if !session.Valid {
		return
	}
	if existing, ok := p.connections.Get(conn.id); !ok || existing != conn {
		// Closed while validating; its ID may already belong to someone else.
		return
	}

	conns, ok := p.users[session.UserID]
	if !ok {
		conns = map[uint64]*Connection{}
		p.users[session.UserID] = conns
	}
	conns[conn.id] = conn
	conn.log.Debugf("Authenticated as %s", session.UserID)
}

// SendPacket writes a packet to exactly one connection.
func (p *Processor) SendPacket(conn *Connection, t protocol.Type, payload protocol.Payload) error {
	return conn.Send(t, payload)
}

// SendPacketUser delivers a packet to every open connection authenticated as
// userID and returns how many received it. Zero connections means the packet
// is dropped.
func (p *Processor) SendPacketUser(userID string, t protocol.Type, payload protocol.Payload) int {
	p.usersMu.RLock()
	targets := make([]*Connection, 0, len(p.users[userID]))
	for _, c := range p.users[userID] {
		targets = append(targets, c)
	}
	p.usersMu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(t, payload); err == nil {
			sent++
		}
	}
	return sent
}

// Broadcast sends a packet to every authenticated connection.
func (p *Processor) Broadcast(t protocol.Type, payload protocol.Payload) int {
	sent := 0
	for _, c := range p.connections.Values() {
		if !c.Authenticated() {
			continue
		}
		if err := c.Send(t, payload); err == nil {
			sent++
		}
	}
	return sent
}

func (p *Processor) UserOnline(userID string) bool {
	p.usersMu.RLock()
	defer p.usersMu.RUnlock()
	return len(p.users[userID]) > 0
}

// Connections returns a snapshot of every open connection.
func (p *Processor) Connections() []*Connection {
	return p.connections.Values()
}

// Shutdown stops accepting connections and closes the open ones.
func (p *Processor) Shutdown() error {
	err := p.NetworkServer.Shutdown()
	for _, c := range p.connections.Values() {
		c.Close()
	}
	return err
}

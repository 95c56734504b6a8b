package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"dworekgo/database"
	"dworekgo/net"
	"dworekgo/protocol"

	"github.com/apex/log"
)

// Session is the identity attached to a connection by the authentication
// handler. A zero Session means unauthenticated.
type Session struct {
	Valid  bool
	UserID string
	User   *database.User
}

// Connection is one client connection. Inbound packets are handled one at a
// time, in arrival order.
type Connection struct {
	id     uint64
	proc   *Processor
	client *net.Client
	log    *log.Entry

	session atomic.Pointer[Session]

	queue         [][]byte
	queueLock     sync.Mutex
	shouldProcess chan bool
	stopChan      chan bool
	closeOnce     sync.Once

	connected time.Time
}

func NewConnection(p *Processor, tr net.Transport) *Connection {
	c := &Connection{
		proc:          p,
		id:            p.Tracker.alloc(),
		shouldProcess: make(chan bool, 1),
		stopChan:      make(chan bool),
		connected:     time.Now(),
	}
	c.log = log.WithFields(log.Fields{
		"name":    fmt.Sprintf("Connection (%d)", c.id),
		"modName": "Connection",
	})

	c.client = net.NewClient(tr, c, p.sendBufferSize, p.KeepAlive)
	go c.queueLoop()

	p.register(c)
	select {
	case <-c.stopChan:
		// Lost before it was registered.
		p.remove(c)
	default:
	}
	return c
}

func (c *Connection) ID() uint64 {
	return c.id
}

// Session returns the attached session, or a zero Session before authentication.
func (c *Connection) Session() Session {
	if s := c.session.Load(); s != nil {
		return *s
	}
	return Session{}
}

func (c *Connection) Authenticated() bool {
	return c.Session().Valid
}

func (c *Connection) RemoteAddr() string {
	if c.client == nil {
		return ""
	}
	return c.client.RemoteAddr()
}

// Send encodes and queues a packet for this connection only.
func (c *Connection) Send(t protocol.Type, payload protocol.Payload) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		c.log.Errorf("Unable to encode %s: %s", t, err)
		return err
	}
	if c.client == nil {
		return net.ErrTransportClosed
	}
	if err := c.client.SendMessage(frame); err != nil {
		return err
	}
	if c.proc.metrics != nil {
		c.proc.metrics.PacketsSent.WithLabelValues(t.String()).Inc()
	}
	return nil
}

func (c *Connection) Close() {
	if c.client != nil {
		c.client.Close()
		return
	}
	c.Terminate(nil)
}

// ReceiveMessage implements net.MessageHandler.
func (c *Connection) ReceiveMessage(msg []byte) {
	c.queueLock.Lock()
	c.queue = append(c.queue, msg)
	c.queueLock.Unlock()

	select {
	case c.shouldProcess <- true:
	default:
	}
}

// Terminate implements net.MessageHandler.
func (c *Connection) Terminate(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.log.Debugf("Connection lost: %s", err)
		} else {
			c.log.Debug("Connection closed")
		}
		close(c.stopChan)
		c.proc.remove(c)
	})
}

func (c *Connection) nextMessage() ([]byte, bool) {
	c.queueLock.Lock()
	defer c.queueLock.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	return msg, true
}

func (c *Connection) queueLoop() {
	for {
		select {
		case <-c.shouldProcess:
			for {
				msg, ok := c.nextMessage()
				if !ok {
					break
				}
				c.dispatch(msg)

				select {
				case <-c.stopChan:
					return
				default:
				}
			}
		case <-c.stopChan:
			return
		}
	}
}

func (c *Connection) dispatch(msg []byte) {
	packet, err := protocol.Decode(msg)
	if err != nil {
		c.log.Warnf("Dropping undecodable message: %s", err)
		return
	}

	fn, ok := c.proc.handler(packet.Type)
	if !ok {
		c.log.Warnf("Dropping packet with unhandled type %s", packet.Type)
		if c.proc.metrics != nil {
			c.proc.metrics.PacketsDropped.Inc()
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.proc.handlerTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("packet", packet.Type.String()).
				Errorf("Handler panicked: %v\n%s", r, debug.Stack())
			if c.proc.metrics != nil {
				c.proc.metrics.HandlerPanics.Inc()
			}
		}
		if c.proc.metrics != nil {
			c.proc.metrics.HandlerDuration.WithLabelValues(packet.Type.String()).Observe(time.Since(start).Seconds())
		}
	}()

	if c.proc.metrics != nil {
		c.proc.metrics.PacketsReceived.WithLabelValues(packet.Type.String()).Inc()
	}
	fn(ctx, packet, c)
}

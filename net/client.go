package net

import (
	"errors"
	"sync"
	"time"
)

var ErrSendBufferFull = errors.New("send buffer full")

// MessageHandler is implemented by structures that accept messages from a
// client, such as a processor connection.
type MessageHandler interface {
	// Handles a message received from the client
	ReceiveMessage(msg []byte)

	Terminate(error)
}

// Client pumps messages between a transport and its handler. Reads and writes
// run on their own goroutines; outbound messages go through a bounded buffer
// so a slow peer never blocks the sender.
type Client struct {
	tr        Transport
	handler   MessageHandler
	send      chan []byte
	done      chan struct{}
	keepAlive time.Duration
	once      sync.Once
}

func NewClient(tr Transport, handler MessageHandler, bufferSize int, keepAlive time.Duration) *Client {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	client := &Client{
		tr:        tr,
		handler:   handler,
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		keepAlive: keepAlive,
	}
	go client.read()
	go client.write()
	return client
}

func (c *Client) read() {
	for {
		msg, err := c.tr.ReadMessage()
		if err != nil {
			c.disconnect(err)
			return
		}
		c.handler.ReceiveMessage(msg)
	}
}

func (c *Client) write() {
	var pings <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive * 9 / 10)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case msg := <-c.send:
			if err := c.tr.WriteMessage(msg); err != nil {
				c.disconnect(err)
				return
			}
		case <-pings:
			if err := c.tr.Ping(); err != nil {
				c.disconnect(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// SendMessage queues msg for writing. A full buffer disconnects the client
// rather than stalling the caller.
func (c *Client) SendMessage(msg []byte) error {
	if !c.Connected() {
		return ErrTransportClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.disconnect(ErrSendBufferFull)
		return ErrSendBufferFull
	}
}

func (c *Client) Close() {
	c.disconnect(nil)
}

func (c *Client) disconnect(err error) {
	c.once.Do(func() {
		close(c.done)
		c.tr.Close()
		c.handler.Terminate(err)
	})
}

func (c *Client) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return !c.tr.Closed()
	}
}

func (c *Client) RemoteAddr() string {
	return c.tr.RemoteAddr()
}

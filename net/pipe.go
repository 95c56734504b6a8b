package net

import "sync"

// pipeTransport is one end of an in-process transport pair.
type pipeTransport struct {
	name string
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once *sync.Once
	peer *pipeTransport
}

// Pipe returns two connected in-process transports. Closing either end closes
// both. Used by tests and tools that drive a server without a network.
func Pipe() (Transport, Transport) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeTransport{name: "pipe:a", in: b2a, out: a2b, done: done, once: once}
	b := &pipeTransport{name: "pipe:b", in: a2b, out: b2a, done: done, once: once}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeTransport) ReadMessage() ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		// Drain what was written before the close.
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, ErrTransportClosed
		}
	}
}

func (p *pipeTransport) WriteMessage(msg []byte) error {
	select {
	case <-p.done:
		return ErrTransportClosed
	default:
	}

	buf := append([]byte(nil), msg...)
	select {
	case p.out <- buf:
		return nil
	case <-p.done:
		return ErrTransportClosed
	}
}

func (p *pipeTransport) Ping() error {
	if p.Closed() {
		return ErrTransportClosed
	}
	return nil
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *pipeTransport) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *pipeTransport) RemoteAddr() string {
	return p.peer.name
}
